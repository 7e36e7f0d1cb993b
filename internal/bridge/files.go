package bridge

import (
	"context"
	"path/filepath"

	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/mmcdole/kiosk/internal/domain"
)

// FSReader reads host files through a core filesystem. Missing files surface
// as fs.ErrNotExist.
type FSReader struct {
	fs      core.ReadFS
	absPath bool // resolve relative paths against the working directory
}

var _ domain.FileReader = (*FSReader)(nil)

// NewFSReader wraps fsys.
func NewFSReader(fsys core.ReadFS) *FSReader {
	return &FSReader{fs: fsys}
}

// NewLocalReader reads from the real filesystem.
func NewLocalReader() *FSReader {
	return &FSReader{fs: billy.NewLocal(), absPath: true}
}

// ReadFile reads path.
func (r *FSReader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.absPath && !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return r.fs.ReadFile(filepath.ToSlash(path))
}
