package imaging

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// FileMode is the permission of files written into a dataset.
const FileMode os.FileMode = 0o644

// Dimensions is the pixel size of an image.
type Dimensions struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`
}

// Store reads image dimensions and moves image bytes into a dataset layout.
//
// Dimensions are read from the image header only (image.DecodeConfig), so pixel data
// is never decoded. Results are cached by path; a Store is safe for concurrent use by
// multiple goroutines.
//
// # Example Usage
//
//	store := imaging.NewStore()
//	dims, err := store.Dimensions("/data/img1/000001.jpg")
//	if err != nil {
//	    return err
//	}
//	err = store.Copy("/data/img1/000001.jpg", "/out/images/train/000001.jpg")
type Store struct {
	mu   sync.RWMutex
	dims map[string]Dimensions
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		dims: make(map[string]Dimensions),
	}
}

// Dimensions returns the size of the image at path.
//
// The result is cached using the exact path string provided. Different paths to the
// same file result in separate cache entries.
//
// # Errors
//
//   - Returns error if the file does not exist or cannot be read
//   - Returns error if the file is not a PNG, JPEG, GIF, BMP, TIFF or WebP image
func (s *Store) Dimensions(path string) (Dimensions, error) {
	s.mu.RLock()
	if d, ok := s.dims[path]; ok {
		s.mu.RUnlock()
		return d, nil
	}
	s.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return Dimensions{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Dimensions{}, fmt.Errorf("failed to decode image header: %w", err)
	}

	d := Dimensions{Width: cfg.Width, Height: cfg.Height}
	s.mu.Lock()
	s.dims[path] = d
	s.mu.Unlock()

	return d, nil
}

// Evict removes a cached entry. If the path is not in the cache, this method does
// nothing.
func (s *Store) Evict(path string) {
	s.mu.Lock()
	delete(s.dims, path)
	s.mu.Unlock()
}

// Clear removes all cached entries.
func (s *Store) Clear() {
	s.mu.Lock()
	s.dims = make(map[string]Dimensions)
	s.mu.Unlock()
}

// Copy copies src to dst, replacing dst if it exists. The bytes are written to a
// temporary file next to dst and renamed into place, so dst is never left half
// written.
func (s *Store) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source image: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	tmpName := tmp.Name()
	// CreateTemp opens with 0600.
	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set destination mode: %w", err)
	}

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to copy image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush image: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to place image: %w", err)
	}
	return nil
}

// Move moves src to dst. When a rename is not possible, for example across file
// systems, the file is copied and the source removed.
func (s *Store) Move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to move image: %w", err)
	}

	if err := s.Copy(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("image copied but source not removed: %w", err)
	}
	return nil
}
