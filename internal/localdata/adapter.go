// Package localdata reads a catalog and its cover art from a dataset
// directory on disk.
package localdata

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/mmcdole/kiosk/internal/manifest"
)

const (
	DefaultManifest = "games.json"
	imagesDir       = "imgs"
	imageExt        = ".jpg"
)

// Adapter implements the local dataset source.
type Adapter struct {
	files  domain.FileReader
	now    func() time.Time
	logger *slog.Logger
}

// New creates an adapter reading through files.
func New(files domain.FileReader, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		files:  files,
		now:    time.Now,
		logger: logger,
	}
}

// ReadCatalog loads <root>/<manifestName> fully into memory. An empty
// manifestName means games.json.
func (a *Adapter) ReadCatalog(ctx context.Context, root, manifestName string) (*domain.CatalogSnapshot, error) {
	if root == "" {
		return nil, domain.NewNotFound("local dataset path is not configured")
	}
	if manifestName == "" {
		manifestName = DefaultManifest
	}
	file := joinPath(root, manifestName)

	data, err := a.files.ReadFile(ctx, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewNotFound("local manifest %s not found", file)
		}
		return nil, err
	}

	snap, err := manifest.Decode(data, domain.SourceLocal, a.now())
	if err != nil {
		return nil, err
	}
	snap.Metadata.Origin = "local"

	a.logger.Debug("local catalog loaded", "path", file, "records", snap.Metadata.RecordCount)
	return snap, nil
}

// ImagePath returns where the cover for imageID lives under root.
func ImagePath(root, imageID string) string {
	return joinPath(root, imagesDir, imageID+imageExt)
}

// ReadImage reads <root>/imgs/<imageID>.jpg. A missing file is a definitive
// miss reported as (nil, nil), not an error.
func (a *Adapter) ReadImage(ctx context.Context, root, imageID string) (*domain.LocalImage, error) {
	if root == "" || !validImageID(imageID) {
		return nil, nil
	}
	file := ImagePath(root, imageID)

	data, err := a.files.ReadFile(ctx, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("local image missing", "path", file)
			return nil, nil
		}
		return nil, err
	}
	return &domain.LocalImage{Path: file, Data: data}, nil
}

// validImageID rejects ids that would escape the images directory.
func validImageID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// joinPath keeps forward slashes so host readers see one path format.
func joinPath(root string, elem ...string) string {
	root = strings.ReplaceAll(root, `\`, "/")
	return path.Join(append([]string{root}, elem...)...)
}
