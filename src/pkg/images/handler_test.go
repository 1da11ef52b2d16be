package images_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twivo/twivo-media/src/pkg/auth"
	"github.com/twivo/twivo-media/src/pkg/images"
	"github.com/twivo/twivo-media/src/pkg/images/storage"
)

// ownerGate admits every request as the owner named in the X-Owner header.
type ownerGate struct {
	mu      sync.Mutex
	actions []string
}

func (g *ownerGate) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.actions...)
}

func (g *ownerGate) Gate(w http.ResponseWriter, r *http.Request, action string) (string, bool) {
	g.mu.Lock()
	g.actions = append(g.actions, action)
	g.mu.Unlock()
	owner := r.Header.Get("X-Owner")
	if owner == "" {
		http.Error(w, "denied", http.StatusUnauthorized)
		return "", false
	}
	return owner, true
}

func setupCatalogue(t *testing.T) (*httptest.Server, storage.Backend, *ownerGate) {
	t.Helper()
	backend, err := storage.NewLocalFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	gate := &ownerGate{}
	handler, err := images.CreateHandler(backend, gate)
	require.NoError(t, err)

	mux := runtime.NewServeMux()
	require.NoError(t, handler.Register(mux, "/v1/images"))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, backend, gate
}

func do(t *testing.T, method, url, owner string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set("X-Owner", owner)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func store(t *testing.T, backend storage.Backend, owner, payload string) *storage.ImageMetadata {
	t.Helper()
	metadata, err := backend.Store(context.Background(), owner, &storage.Artifact{
		Data: []byte(payload), Width: 600, Height: 600, Orientation: "square",
	})
	require.NoError(t, err)
	return metadata
}

func TestCreateHandlerRequiresDependencies(t *testing.T) {
	_, err := images.CreateHandler(nil, &ownerGate{})
	assert.Error(t, err)

	backend, err := storage.NewLocalFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	defer backend.Close()
	_, err = images.CreateHandler(backend, nil)
	assert.Error(t, err)
}

func TestListLimit(t *testing.T) {
	srv, backend, _ := setupCatalogue(t)
	for i := 0; i < 3; i++ {
		store(t, backend, "alice", "bytes")
	}
	store(t, backend, "bob", "bytes")

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/images?limit=2", "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Images []storage.ImageMetadata `json:"images"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Images, 2)
	for _, img := range list.Images {
		assert.Equal(t, "alice", img.Owner)
	}

	for _, bad := range []string{"0", "501", "abc"} {
		resp, _ := do(t, http.MethodGet, srv.URL+"/v1/images?limit="+bad, "alice")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit=%s", bad)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	srv, _, _ := setupCatalogue(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/images", "carol")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"images":[]}`, string(body))
}

func TestReadAndDelete(t *testing.T) {
	srv, backend, gate := setupCatalogue(t)
	metadata := store(t, backend, "alice", "webp-bytes")
	url := srv.URL + "/v1/images/" + metadata.ImageID

	resp, body := do(t, http.MethodGet, url, "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
	assert.Equal(t, `"`+metadata.Hash+`"`, resp.Header.Get("ETag"))
	assert.Equal(t, "webp-bytes", string(body))

	resp, _ = do(t, http.MethodGet, url, "bob")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other owners see a 404")
	resp, _ = do(t, http.MethodDelete, url, "bob")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, url, "alice")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, url, "alice")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Contains(t, gate.seen(), auth.ActionReadImage)
	assert.Contains(t, gate.seen(), auth.ActionDeleteImage)
}

func TestReadRejectsMalformedID(t *testing.T) {
	srv, _, _ := setupCatalogue(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/images/not-a-uuid", "alice")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/images/"+uuid.NewString(), "alice")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateRefusalStopsRequest(t *testing.T) {
	srv, _, _ := setupCatalogue(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/images", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
