package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/twivo/twivo-media/src/pkg/utils"
)

const (
	IndexDirName = "images_badger"

	imagePrefix = "image/"
	ownerPrefix = "owner/"
)

var _ Backend = (*Registry)(nil)

// Registry indexes artifacts in badger and keeps their bytes in Blobs.
type Registry struct {
	blobs Blobs
	db    *badger.DB
	mu    sync.RWMutex
	now   func() time.Time
	newID func() string
}

// NewLocalFilesystemBackend stores artifacts under root using the shard
// layout, with the index kept next to them.
func NewLocalFilesystemBackend(root string) (*Registry, error) {
	blobs, blobsErr := NewLocalBlobs(root)
	if blobsErr != nil {
		return nil, blobsErr
	}
	return NewRegistry(blobs, filepath.Join(root, IndexDirName))
}

// NewS3Backend stores artifacts in a bucket and the index in indexDir.
func NewS3Backend(cfg S3Config, indexDir string) (*Registry, error) {
	blobs, blobsErr := NewObjectBlobs(cfg)
	if blobsErr != nil {
		return nil, blobsErr
	}
	return NewRegistry(blobs, indexDir)
}

func NewRegistry(blobs Blobs, indexDir string) (*Registry, error) {
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	opts := badger.DefaultOptions(indexDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Registry{
		blobs: blobs,
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}

func imageKey(imageID string) []byte {
	return []byte(imagePrefix + imageID)
}

func ownerKey(owner, imageID string) []byte {
	return []byte(ownerPrefix + owner + "/" + imageID)
}

// Store writes artifact under a fresh id. Nothing is indexed unless the bytes
// were written, and the bytes are removed again if indexing fails.
func (r *Registry) Store(ctx context.Context, owner string, artifact *Artifact) (*ImageMetadata, error) {
	if err := CheckOwner(owner); err != nil {
		return nil, err
	}
	if artifact == nil || len(artifact.Data) == 0 {
		return nil, errors.New("empty artifact")
	}

	imageID := r.newID()
	key := ObjectKey(owner, imageID)
	if err := r.blobs.Put(ctx, key, artifact.Data); err != nil {
		return nil, err
	}

	metadata := &ImageMetadata{
		ImageID:     imageID,
		Owner:       owner,
		Key:         key,
		Hash:        utils.Digest(artifact.Data),
		Size:        int64(len(artifact.Data)),
		Width:       artifact.Width,
		Height:      artifact.Height,
		Orientation: artifact.Orientation,
		UploadedAt:  r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	indexErr := r.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if err := txn.Set(imageKey(imageID), data); err != nil {
			return err
		}
		return txn.Set(ownerKey(owner, imageID), nil)
	})
	if indexErr != nil {
		return nil, errors.Join(indexErr, r.blobs.Delete(ctx, key))
	}
	return metadata, nil
}

func (r *Registry) Retrieve(ctx context.Context, imageID string) (io.ReadCloser, *ImageMetadata, error) {
	metadata, err := r.GetMetadata(ctx, imageID)
	if err != nil {
		return nil, nil, err
	}
	reader, err := r.blobs.Get(ctx, metadata.Key)
	if err != nil {
		return nil, nil, err
	}
	return reader, metadata, nil
}

func (r *Registry) Remove(ctx context.Context, imageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	metadata, err := r.lookup(imageID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	if err := r.blobs.Delete(ctx, metadata.Key); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(imageKey(imageID)); err != nil {
			return err
		}
		return txn.Delete(ownerKey(metadata.Owner, imageID))
	})
}

func (r *Registry) Exists(_ context.Context, imageID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exists bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(imageKey(imageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (r *Registry) GetMetadata(_ context.Context, imageID string) (*ImageMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(imageID)
}

func (r *Registry) lookup(imageID string) (*ImageMetadata, error) {
	var metadata ImageMetadata
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(imageKey(imageID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, imageID)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &metadata)
		})
	})
	if err != nil {
		return nil, err
	}
	return &metadata, nil
}

// List returns the artifacts of owner, newest first.
func (r *Registry) List(_ context.Context, owner string) ([]*ImageMetadata, error) {
	if err := CheckOwner(owner); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var images []*ImageMetadata
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(ownerPrefix + owner + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			imageID := string(it.Item().Key()[len(prefix):])
			item, err := txn.Get(imageKey(imageID))
			if err != nil {
				return err
			}
			var metadata ImageMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &metadata)
			}); err != nil {
				return err
			}
			images = append(images, &metadata)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(images, func(i, j int) bool {
		return images[i].UploadedAt.After(images[j].UploadedAt)
	})
	return images, nil
}

// Close closes the index.
func (r *Registry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
