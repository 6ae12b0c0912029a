package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"docuflow/internal/apperror"

	"github.com/spf13/afero"
)

// FSStore keeps blobs in an afero filesystem. References are paths relative
// to the filesystem root.
type FSStore struct {
	fs afero.Fs
}

func NewFSStore(fs afero.Fs) *FSStore {
	return &FSStore{fs: fs}
}

// NewLocalStore roots an FSStore at dir on the host filesystem.
func NewLocalStore(dir string) (*FSStore, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return NewFSStore(afero.NewBasePathFs(osFs, dir)), nil
}

func (s *FSStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	ref := path.Join("/", path.Base(name))
	f, err := s.fs.OpenFile(ref, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperror.Storage("store file", err)
	}
	if _, err := io.Copy(f, io.LimitReader(r, size)); err != nil {
		f.Close()
		_ = s.fs.Remove(ref)
		return "", apperror.Storage("store file", err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(ref)
		return "", apperror.Storage("store file", err)
	}
	return ref, nil
}

func (s *FSStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	f, err := s.fs.Open(path.Clean("/" + ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperror.NotFound("Archivo no encontrado")
		}
		return nil, apperror.Storage("open file", err)
	}
	return f, nil
}

// Delete is idempotent: a missing blob is not an error.
func (s *FSStore) Delete(ctx context.Context, ref string) error {
	err := s.fs.Remove(path.Clean("/" + ref))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperror.Storage("delete file", err)
	}
	return nil
}
