package image

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/manash/seedgraph/internal/security"
	"github.com/manash/seedgraph/pkg/models"
)

// Fetcher downloads an artifact by its server reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Saved describes one file written by a Saver.
type Saved struct {
	Ref   string
	Path  string
	Bytes int
}

// Size is the file size in human form, e.g. "412 kB".
func (s Saved) Size() string {
	return humanize.Bytes(uint64(s.Bytes))
}

// Saver downloads generated images from the server into a local directory.
type Saver struct {
	fetcher Fetcher
	dir     string
}

func NewSaver(fetcher Fetcher, dir string) *Saver {
	return &Saver{fetcher: fetcher, dir: dir}
}

// Save downloads ref and writes it under the output directory as name. An
// empty name keeps the server's file name, or gets a generated one when the
// reference has none. Names without an extension get one from the content.
func (s *Saver) Save(ctx context.Context, ref, name string) (Saved, error) {
	if ref == "" {
		return Saved{}, errors.New("no image url")
	}
	generated := false
	if name == "" {
		name = security.LocalName(ref)
		generated = filepath.Ext(name) == ""
	}
	if err := security.ValidateSavePath(name); err != nil {
		return Saved{}, fmt.Errorf("invalid output path %q: %w", name, err)
	}

	data, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		return Saved{}, fmt.Errorf("failed to download image: %w", err)
	}

	if generated || filepath.Ext(name) == "" {
		format, ok := FormatOf(data)
		if !ok {
			format = models.FormatPNG
		}
		if generated {
			name = GenerateFilename(0, format)
		} else {
			name += "." + format.String()
		}
	}

	path := filepath.Join(s.dir, name)
	if err := ensureDir(path); err != nil {
		return Saved{}, fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return Saved{}, fmt.Errorf("failed to write file: %w", err)
	}

	return Saved{Ref: ref, Path: path, Bytes: len(data)}, nil
}

// SaveAll saves every ref under its server file name and stops at the first
// failure.
func (s *Saver) SaveAll(ctx context.Context, refs []string) ([]Saved, error) {
	saved := make([]Saved, 0, len(refs))
	for i, ref := range refs {
		out, err := s.Save(ctx, ref, "")
		if err != nil {
			return saved, fmt.Errorf("failed to save image %d: %w", i+1, err)
		}
		saved = append(saved, out)
	}
	return saved, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// GenerateFilename names a local file when the caller has nothing better.
func GenerateFilename(index int, format models.OutputFormat) string {
	return GenerateFilenameWithTime(index, format, time.Now())
}

func GenerateFilenameWithTime(index int, format models.OutputFormat, t time.Time) string {
	if !format.IsValid() {
		format = models.FormatPNG
	}
	timestamp := t.Format("20060102-150405")
	if index > 0 {
		return fmt.Sprintf("seedgraph-%s-%d.%s", timestamp, index+1, format)
	}
	return fmt.Sprintf("seedgraph-%s.%s", timestamp, format)
}
