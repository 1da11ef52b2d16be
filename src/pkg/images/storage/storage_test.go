package storage_test

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twivo/twivo-media/src/pkg/images/storage"
)

func testArtifact(payload string) *storage.Artifact {
	return &storage.Artifact{
		Data:        []byte(payload),
		Width:       600,
		Height:      750,
		Orientation: "vertical",
	}
}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestShardPath(t *testing.T) {
	tests := []struct {
		owner string
		want  string
	}{
		{"abcdefgh", "media/ab/cdef/efgh"},
		{"user42", "media/us/er42/42"},
		{"abcde", "media/ab/cde/e"},
		{"abcd", "media/ab/cd/_"},
		{"ab", "media/ab/_/_"},
		{"a", "media/a/_/_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, storage.ShardPath(tt.owner), tt.owner)
	}
	assert.Equal(t, "media/ab/cdef/efgh/id-1.webp", storage.ObjectKey("abcdefgh", "id-1"))
}

func TestCheckOwner(t *testing.T) {
	assert.NoError(t, storage.CheckOwner("user_42-x"))
	for _, bad := range []string{"", "..", "a/b", "../../etc", "user 1", strings.Repeat("a", 129)} {
		assert.ErrorIs(t, storage.CheckOwner(bad), storage.ErrInvalidOwner, bad)
	}
}

func TestLocalFilesystemBackend(t *testing.T) {
	root := t.TempDir()
	backend, err := storage.NewLocalFilesystemBackend(root)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	metadata, err := backend.Store(ctx, "user1234", testArtifact("webp-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "user1234", metadata.Owner)
	assert.Equal(t, int64(len("webp-bytes")), metadata.Size)
	assert.Len(t, metadata.Hash, 64)
	assert.Equal(t, "media/us/er12/1234/"+metadata.ImageID+".webp", metadata.Key)

	onDisk, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(metadata.Key)))
	require.NoError(t, err)
	assert.Equal(t, "webp-bytes", string(onDisk))

	exists, err := backend.Exists(ctx, metadata.ImageID)
	require.NoError(t, err)
	assert.True(t, exists)

	reader, got, err := backend.Retrieve(ctx, metadata.ImageID)
	require.NoError(t, err)
	assert.Equal(t, "webp-bytes", readAll(t, reader))
	assert.Equal(t, metadata.Key, got.Key)

	images, err := backend.List(ctx, "user1234")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, metadata.ImageID, images[0].ImageID)

	others, err := backend.List(ctx, "someone")
	require.NoError(t, err)
	assert.Empty(t, others)

	require.NoError(t, backend.Remove(ctx, metadata.ImageID))

	exists, err = backend.Exists(ctx, metadata.ImageID)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(metadata.Key)))
	assert.True(t, os.IsNotExist(err))

	_, err = backend.GetMetadata(ctx, metadata.ImageID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, backend.Remove(ctx, metadata.ImageID), "removing twice is not an error")
}

func TestStoreKeepsArtifactsDistinct(t *testing.T) {
	backend, err := storage.NewLocalFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	first, err := backend.Store(ctx, "user1", testArtifact("same"))
	require.NoError(t, err)
	second, err := backend.Store(ctx, "user1", testArtifact("same"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ImageID, second.ImageID)
	assert.Equal(t, first.Hash, second.Hash)

	images, err := backend.List(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, images, 2)
}

func TestStoreRejectsInvalidOwner(t *testing.T) {
	root := t.TempDir()
	backend, err := storage.NewLocalFilesystemBackend(root)
	require.NoError(t, err)
	defer backend.Close()

	_, err = backend.Store(context.Background(), "../escape", testArtifact("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidOwner)

	_, statErr := os.Stat(filepath.Join(root, storage.MediaPrefix))
	assert.True(t, os.IsNotExist(statErr), "nothing may be written for a rejected owner")
}

func TestIndexSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	backend, err := storage.NewLocalFilesystemBackend(root)
	require.NoError(t, err)
	metadata, err := backend.Store(ctx, "user1", testArtifact("persisted"))
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	reopened, err := storage.NewLocalFilesystemBackend(root)
	require.NoError(t, err)
	defer reopened.Close()

	reader, _, err := reopened.Retrieve(ctx, metadata.ImageID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", readAll(t, reader))
}

func setupFakeS3(t *testing.T) storage.S3Config {
	t.Helper()
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	server := httptest.NewServer(faker.Server())
	t.Cleanup(server.Close)

	bucket := "twivo-media-test"
	require.NoError(t, backend.CreateBucket(bucket))
	return storage.S3Config{
		Endpoint:       strings.TrimPrefix(server.URL, "http://"),
		Region:         "us-east-1",
		Bucket:         bucket,
		Prefix:         "artifacts",
		AccessKey:      "test",
		SecretKey:      "test",
		Insecure:       true,
		ForcePathStyle: true,
	}
}

func TestS3Backend(t *testing.T) {
	cfg := setupFakeS3(t)
	backend, err := storage.NewS3Backend(cfg, filepath.Join(t.TempDir(), storage.IndexDirName))
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	metadata, err := backend.Store(ctx, "user1234", testArtifact("object-bytes"))
	require.NoError(t, err)

	reader, _, err := backend.Retrieve(ctx, metadata.ImageID)
	require.NoError(t, err)
	assert.Equal(t, "object-bytes", readAll(t, reader))

	blobs, err := storage.NewObjectBlobs(cfg)
	require.NoError(t, err)
	raw, err := blobs.Get(ctx, metadata.Key)
	require.NoError(t, err)
	assert.Equal(t, "object-bytes", readAll(t, raw))

	require.NoError(t, backend.Remove(ctx, metadata.ImageID))
	_, err = blobs.Get(ctx, metadata.Key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
