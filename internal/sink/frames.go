package sink

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/fusion.capture/internal/fsutil"
	"github.com/banshee-data/fusion.capture/internal/protocol"
	"github.com/banshee-data/fusion.capture/internal/security"
)

// Frame file naming defaults.
const (
	DefaultFramePrefix = "frame"
	DefaultFrameExt    = ".jpg"
)

// FrameDir stores each frame payload as <prefix>_<NNN><ext> in a directory.
// Files are written under a ".part" name and renamed into place, so a frame
// file is never observed half-written.
type FrameDir struct {
	fs     fsutil.FileSystem
	dir    string
	prefix string
	ext    string
}

// NewFrameDir creates dir if needed. prefix and ext are sanitised; empty
// values select the defaults.
func NewFrameDir(fs fsutil.FileSystem, dir, prefix, ext string) (*FrameDir, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}
	if prefix == "" {
		prefix = DefaultFramePrefix
	}
	if ext == "" {
		ext = DefaultFrameExt
	}
	return &FrameDir{
		fs:     fs,
		dir:    dir,
		prefix: security.SanitizeFilename(prefix),
		ext:    security.SanitizeExtension(ext),
	}, nil
}

// Name returns the file name used for sequence index seq.
func (d *FrameDir) Name(seq int) string {
	return fmt.Sprintf("%s_%03d%s", d.prefix, seq, d.ext)
}

// WriteFrame saves the payload and returns the file path.
func (d *FrameDir) WriteFrame(frame protocol.BinaryFrame) (string, error) {
	path := filepath.Join(d.dir, d.Name(frame.SequenceIndex))
	tmp := path + ".part"
	if err := d.fs.WriteFile(tmp, frame.Payload, 0644); err != nil {
		d.fs.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := d.fs.Rename(tmp, path); err != nil {
		d.fs.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return path, nil
}

// RemoveFrame deletes a file written by WriteFrame.
func (d *FrameDir) RemoveFrame(location string) error {
	return d.fs.Remove(location)
}
