// Package objectstore prepares the S3-compatible backing store for glance
// images. Implementations rely on streaming I/O only.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stackinit/internal/logx"
)

// Store is the S3-compatible backing store for glance images.
type Store interface {
	// EnsureBucket makes sure the image bucket exists, creating it if missing.
	EnsureBucket(ctx context.Context) error
	// SeedImage uploads one image under the given key.
	SeedImage(ctx context.Context, key string, r io.Reader, size int64) error
}

// seedExtensions are the image file types picked up from the seed directory.
var seedExtensions = map[string]bool{
	".img":   true,
	".qcow2": true,
	".raw":   true,
	".iso":   true,
}

// SeedImages walks dir and uploads every image file into the store under
// images/<filename>. A missing dir is not an error; an empty walk seeds
// nothing.
func SeedImages(ctx context.Context, store Store, dir string) error {
	log := logx.New("objectstore")

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !seedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open seed image %s: %w", path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		key := "images/" + filepath.Base(path)
		if err := store.SeedImage(ctx, key, f, info.Size()); err != nil {
			return fmt.Errorf("seed image %s: %w", key, err)
		}
		log.Info("image_seeded", map[string]any{"key": key, "size": info.Size()})
		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
