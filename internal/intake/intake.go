package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"mime"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/example/retina-screen/internal/screening"
)

// Source records how a file reached the intake.
type Source string

const (
	SourceDrop Source = "drop"
	SourcePick Source = "pick"
)

// File is an opaque handle to a user-selected file.
type File interface {
	Name() string
	MediaType() string
	Open() (io.ReadCloser, error)
}

// ProgressResetter is implemented by the owner of the progress reading.
type ProgressResetter interface {
	ResetProgress()
}

// Preview is a displayable rendition of the current candidate.
type Preview struct {
	DataURI string
	// Width and Height are zero when the payload header could not be decoded.
	Width  int
	Height int
}

// Intake holds the selected candidate and its preview.
type Intake struct {
	notifier screening.Notifier
	progress ProgressResetter
	logger   *zap.Logger

	mu         sync.RWMutex
	candidate  *screening.UploadCandidate
	preview    *Preview
	generation uint64
	ready      chan struct{}
}

// New constructs an empty intake. notifier and progress may be nil.
func New(notifier screening.Notifier, progress ProgressResetter, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{
		notifier: notifier,
		progress: progress,
		logger:   logger.Named("intake"),
	}
}

// AcceptDrop handles a file dropped onto the upload area.
func (in *Intake) AcceptDrop(f File) (*screening.UploadCandidate, error) {
	return in.accept(f, SourceDrop)
}

// AcceptPick handles a file chosen with the file picker.
func (in *Intake) AcceptPick(f File) (*screening.UploadCandidate, error) {
	return in.accept(f, SourcePick)
}

func (in *Intake) accept(f File, source Source) (*screening.UploadCandidate, error) {
	if f == nil {
		return nil, in.reject("", "", source)
	}
	if !IsImageType(f.MediaType()) {
		return nil, in.reject(f.Name(), f.MediaType(), source)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name(), err)
	}

	candidate := &screening.UploadCandidate{
		Name:      f.Name(),
		MediaType: f.MediaType(),
		Data:      data,
	}

	in.mu.Lock()
	in.generation++
	gen := in.generation
	in.candidate = candidate
	in.preview = nil
	ready := make(chan struct{})
	in.ready = ready
	in.mu.Unlock()

	in.logger.Info("candidate selected",
		zap.String("name", candidate.Name),
		zap.String("media_type", candidate.MediaType),
		zap.Int("size", candidate.Size()),
		zap.String("source", string(source)),
	)

	go in.decodePreview(gen, candidate, ready)
	return candidate, nil
}

func (in *Intake) reject(name, mediaType string, source Source) error {
	err := &screening.ValidationError{Name: name, MediaType: mediaType}
	in.logger.Warn("rejected file", zap.Error(err), zap.String("source", string(source)))
	if in.notifier != nil {
		in.notifier.Notify(screening.Notification{
			Kind:        screening.NotifyDestructive,
			Title:       "Invalid file type",
			Description: "Please upload an image file",
		})
	}
	return err
}

// decodePreview runs detached from accept; a result for a superseded candidate is dropped.
func (in *Intake) decodePreview(gen uint64, c *screening.UploadCandidate, ready chan struct{}) {
	defer close(ready)

	p := &Preview{DataURI: DataURI(c.MediaType, c.Data)}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(c.Data)); err == nil {
		p.Width, p.Height = cfg.Width, cfg.Height
	} else {
		in.logger.Debug("preview dimensions unavailable", zap.String("name", c.Name), zap.Error(err))
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.generation != gen {
		return
	}
	in.preview = p
}

// Clear discards the candidate and preview and resets progress.
func (in *Intake) Clear() {
	in.mu.Lock()
	in.generation++
	in.candidate = nil
	in.preview = nil
	in.ready = nil
	in.mu.Unlock()

	if in.progress != nil {
		in.progress.ResetProgress()
	}
}

// Candidate returns the current candidate or nil.
func (in *Intake) Candidate() *screening.UploadCandidate {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.candidate
}

// Preview returns the preview once decoded. ok is false while decoding or when nothing is selected.
func (in *Intake) Preview() (*Preview, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.preview, in.preview != nil
}

// WaitPreview blocks until the current candidate's preview is decoded.
func (in *Intake) WaitPreview(ctx context.Context) (*Preview, bool) {
	in.mu.RLock()
	ready := in.ready
	in.mu.RUnlock()
	if ready == nil {
		return nil, false
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, false
	}
	return in.Preview()
}

// IsImageType reports whether a declared media type is an image type.
func IsImageType(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/")
}

// DataURI encodes a payload as a base64 data URI.
func DataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
