package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound     = errors.New("image not found")
	ErrInvalidOwner = errors.New("invalid owner id")
)

// Backend persists normalized artifacts and indexes them per owner.
type Backend interface {
	Store(ctx context.Context, owner string, artifact *Artifact) (*ImageMetadata, error)
	Retrieve(ctx context.Context, imageID string) (io.ReadCloser, *ImageMetadata, error)
	Remove(ctx context.Context, imageID string) error
	Exists(ctx context.Context, imageID string) (bool, error)
	GetMetadata(ctx context.Context, imageID string) (*ImageMetadata, error)
	List(ctx context.Context, owner string) ([]*ImageMetadata, error)
	Close() error
}

// Artifact is an encoded image ready to be written.
type Artifact struct {
	Data        []byte
	Width       int
	Height      int
	Orientation string
}

type ImageMetadata struct {
	ImageID     string    `json:"image_id"`
	Owner       string    `json:"owner"`
	Key         string    `json:"key"`
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Orientation string    `json:"orientation"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Blobs stores artifact bytes under slash separated keys.
type Blobs interface {
	// Put writes a new object and fails if key already exists.
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
