package storage

import (
	"fmt"
	"path"
	"regexp"
)

const (
	MediaPrefix   = "media"
	FileExtension = ".webp"
)

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// CheckOwner rejects owner ids that cannot be used as path components.
func CheckOwner(owner string) error {
	if !ownerPattern.MatchString(owner) {
		return fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}
	return nil
}

// ShardPath spreads owners over a three level directory tree built from the
// owner id: id[0:2], id[2:6] and id[4:]. Components missing for short ids are
// replaced with "_".
func ShardPath(owner string) string {
	return path.Join(MediaPrefix, segment(owner, 0, 2), segment(owner, 2, 6), segment(owner, 4, len(owner)))
}

// ObjectKey is the slash separated key of an artifact.
func ObjectKey(owner, imageID string) string {
	return path.Join(ShardPath(owner), imageID+FileExtension)
}

func segment(s string, from, to int) string {
	if to > len(s) {
		to = len(s)
	}
	if from >= to {
		return "_"
	}
	return s[from:to]
}
