package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrNoCamera = errors.New("no camera available")

// FileCamera serves a still image from disk as the camera stream. An empty
// Path behaves like a machine without a camera.
type FileCamera struct {
	Path string
}

func (c FileCamera) Acquire(_ context.Context) (Device, error) {
	if c.Path == "" {
		return nil, ErrNoCamera
	}
	frame, err := ReadImageFile(c.Path)
	if err != nil {
		return nil, err
	}
	return &fileDevice{frame: frame}, nil
}

type fileDevice struct {
	frame    Frame
	released bool
}

func (d *fileDevice) Snapshot(ctx context.Context) (Frame, error) {
	if d.released {
		return Frame{}, errors.New("device released")
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	return d.frame, nil
}

func (d *fileDevice) Release() error {
	d.released = true
	return nil
}

// ReadImageFile loads an image and sniffs its type from the content.
func ReadImageFile(path string) (Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("read image: %w", err)
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return Frame{}, fmt.Errorf("%s is not an image (%s)", filepath.Base(path), mtype.String())
	}
	return Frame{MIMEType: mtype.String(), Data: data}, nil
}

// LoadUpload reads a file for the upload step. A missing path yields nil.
func LoadUpload(path string) (*UploadFile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &UploadFile{
		Name:        filepath.Base(path),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}
