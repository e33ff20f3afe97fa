package display

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

// FileDriver writes the current frame to a directory, for panels that poll a
// file or for running without hardware.
type FileDriver struct {
	fs  afero.Fs
	dir string
}

func NewFileDriver(fs afero.Fs, dir string) *FileDriver {
	return &FileDriver{fs: fs, dir: dir}
}

type frameMeta struct {
	ImageID     string    `json:"image_id"`
	ContentType string    `json:"content_type"`
	IsError     bool      `json:"is_error"`
	Reason      string    `json:"reason,omitempty"`
	WrittenAt   time.Time `json:"written_at"`
}

// FramePath is where the current frame is written.
func (d *FileDriver) FramePath() string {
	return filepath.Join(d.dir, "current.frame")
}

func (d *FileDriver) MetaPath() string {
	return filepath.Join(d.dir, "current.json")
}

// Push replaces the current frame. The frame is written to a temporary file
// and renamed so readers never observe a partial image.
func (d *FileDriver) Push(ctx context.Context, artifact model.ImageArtifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create frame directory: %w", err)
	}

	if err := d.writeAtomic(d.FramePath(), artifact.Data); err != nil {
		return err
	}

	meta, err := json.Marshal(frameMeta{
		ImageID:     artifact.ID,
		ContentType: artifact.ContentType,
		IsError:     artifact.IsError,
		Reason:      artifact.Reason,
		WrittenAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode frame metadata: %w", err)
	}
	return d.writeAtomic(d.MetaPath(), meta)
}

func (d *FileDriver) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(d.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := d.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
