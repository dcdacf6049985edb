package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

// Local stores artifacts as files in a single directory.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := utils.MakeDir(abs); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root is the directory artifacts are written to.
func (l *Local) Root() string { return l.root }

// Path returns the filesystem path of name.
func (l *Local) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.root, name), nil
}

func (l *Local) Put(ctx context.Context, name string, r io.Reader) error {
	full, err := l.Path(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return utils.WriteFileAtomic(full, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	full, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", name, err)
	}
	return f, nil
}

func (l *Local) Delete(_ context.Context, name string) error {
	full, err := l.Path(name)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *Local) Exists(_ context.Context, name string) (bool, error) {
	full, err := l.Path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ Store = (*Local)(nil)
