// Package filestore keeps job artifacts (denoised WAVs, comparison plots)
// on local disk or in an S3-compatible bucket.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

var ErrInvalidName = errors.New("filestore: invalid artifact name")

// Store is implemented by Local and S3. Names are flat, slash-free file
// names. Implementations are safe for concurrent use.
type Store interface {
	// Put stores the content of r under name, replacing any previous object.
	Put(ctx context.Context, name string, r io.Reader) error
	// Open returns the content of name. A missing object yields an error
	// wrapping os.ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes name. Missing objects are not an error.
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// ValidateName rejects names that could escape the store root.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case path.Base(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// PutFile uploads the local file src under name.
func PutFile(ctx context.Context, s Store, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("filestore: open %s: %w", src, err)
	}
	defer f.Close()
	return s.Put(ctx, name, f)
}
