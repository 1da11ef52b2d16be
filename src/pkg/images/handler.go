package images

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	oapi "github.com/oapi-codegen/runtime"
	"github.com/twivo/twivo-media/src/pkg/auth"
	"github.com/twivo/twivo-media/src/pkg/images/storage"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Gate admits a catalogue request for action. On refusal it has already
// written the response and returns ok == false.
type Gate interface {
	Gate(w http.ResponseWriter, r *http.Request, action string) (owner string, ok bool)
}

type Handler struct {
	backend storage.Backend
	gate    Gate
}

func CreateHandler(backend storage.Backend, gate Gate) (*Handler, error) {
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	if gate == nil {
		return nil, errors.New("gate is required")
	}
	return &Handler{
		backend: backend,
		gate:    gate,
	}, nil
}

// Register adds the catalogue routes below prefix.
func (h *Handler) Register(mux *runtime.ServeMux, prefix string) error {
	if err := mux.HandlePath(http.MethodGet, prefix, h.Get); err != nil {
		return err
	}
	if err := mux.HandlePath(http.MethodGet, prefix+"/{imageId}", h.Read); err != nil {
		return err
	}
	return mux.HandlePath(http.MethodDelete, prefix+"/{imageId}", h.Delete)
}

type imageList struct {
	Images []*storage.ImageMetadata `json:"images"`
}

// Get lists the caller's images, newest first.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, ok := h.gate.Gate(w, r, auth.ActionListImages)
	if !ok {
		return
	}

	limit := DefaultListLimit
	if err := oapi.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		http.Error(w, "Invalid limit parameter: "+err.Error(), http.StatusBadRequest)
		return
	}
	if limit < 1 || limit > MaxListLimit {
		http.Error(w, "limit must be between 1 and "+strconv.Itoa(MaxListLimit), http.StatusBadRequest)
		return
	}

	images, listErr := h.backend.List(r.Context(), owner)
	if listErr != nil {
		slog.Error("Failed to list images", "owner", owner, "error", listErr)
		http.Error(w, "Failed to list images", http.StatusInternalServerError)
		return
	}
	if len(images) > limit {
		images = images[:limit]
	}
	if images == nil {
		images = []*storage.ImageMetadata{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(imageList{Images: images}); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// Read streams one of the caller's artifacts.
func (h *Handler) Read(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, ok := h.gate.Gate(w, r, auth.ActionReadImage)
	if !ok {
		return
	}
	imageID, idOK := bindImageID(w, pathParams)
	if !idOK {
		return
	}

	metadata, metaErr := h.backend.GetMetadata(r.Context(), imageID)
	if metaErr != nil || metadata.Owner != owner {
		writeLookupError(w, imageID, metaErr)
		return
	}

	reader, _, retrieveErr := h.backend.Retrieve(r.Context(), imageID)
	if retrieveErr != nil {
		writeLookupError(w, imageID, retrieveErr)
		return
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.Warn("Failed to close image", "image_id", imageID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Length", strconv.FormatInt(metadata.Size, 10))
	w.Header().Set("ETag", strconv.Quote(metadata.Hash))
	if _, err := io.Copy(w, reader); err != nil {
		slog.Debug("Failed to stream image", "image_id", imageID, "error", err)
	}
}

// Delete removes one of the caller's artifacts.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, ok := h.gate.Gate(w, r, auth.ActionDeleteImage)
	if !ok {
		return
	}
	imageID, idOK := bindImageID(w, pathParams)
	if !idOK {
		return
	}

	metadata, metaErr := h.backend.GetMetadata(r.Context(), imageID)
	if metaErr != nil || metadata.Owner != owner {
		writeLookupError(w, imageID, metaErr)
		return
	}

	if err := h.backend.Remove(r.Context(), imageID); err != nil {
		slog.Error("Failed to remove image", "image_id", imageID, "error", err)
		http.Error(w, "Failed to remove image", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bindImageID(w http.ResponseWriter, pathParams map[string]string) (string, bool) {
	var imageID string
	err := oapi.BindStyledParameterWithOptions("simple", "imageId", pathParams["imageId"], &imageID,
		oapi.BindStyledParameterOptions{ParamLocation: oapi.ParamLocationPath, Required: true})
	if err != nil {
		http.Error(w, "Invalid imageId parameter: "+err.Error(), http.StatusBadRequest)
		return "", false
	}
	if _, parseErr := uuid.Parse(imageID); parseErr != nil {
		http.Error(w, "Invalid imageId parameter", http.StatusBadRequest)
		return "", false
	}
	return imageID, true
}

// writeLookupError hides other owners' images behind the same 404 as absent
// ones.
func writeLookupError(w http.ResponseWriter, imageID string, err error) {
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}
	slog.Error("Failed to look up image", "image_id", imageID, "error", err)
	http.Error(w, "Failed to look up image", http.StatusInternalServerError)
}
