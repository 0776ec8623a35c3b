package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/dispatcher"
)

// PreviewSaver downloads listing thumbnails into a blob store.
// A nil *PreviewSaver disables downloads.
type PreviewSaver struct {
	requester Requester
	blobs     car.BlobStore
	logger    *zap.Logger
}

// NewPreviewSaver builds a saver writing to blobs.
func NewPreviewSaver(requester Requester, blobs car.BlobStore, logger *zap.Logger) *PreviewSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreviewSaver{requester: requester, blobs: blobs, logger: logger}
}

// PreviewPath returns the blob path {source}_{id}/{filename} for an image URL.
func PreviewPath(src car.Source, id int64, imageURL string) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("parse preview url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("preview url %q has no file name", imageURL)
	}
	return fmt.Sprintf("%s_%d/%s", src, id, name), nil
}

// Save fetches imageURL and stores it, returning the stored location or "" when
// the preview could not be saved.
func (p *PreviewSaver) Save(ctx context.Context, src car.Source, id int64, imageURL string) string {
	if p == nil || imageURL == "" {
		return ""
	}
	logger := p.logger.With(zap.String("source", string(src)), zap.Int64("car_id", id))
	rel, err := PreviewPath(src, id, imageURL)
	if err != nil {
		logger.Debug("preview skipped", zap.Error(err))
		return ""
	}
	resp, err := p.requester.Do(ctx, dispatcher.Request{Method: http.MethodGet, URL: imageURL})
	if err != nil || !resp.OK() {
		logger.Warn("preview download failed", zap.String("url", imageURL), zap.Error(err))
		return ""
	}
	location, err := p.blobs.PutObject(ctx, rel, resp.ContentType(), bytes.NewReader(resp.Body))
	if err != nil {
		logger.Warn("preview write failed", zap.String("path", rel), zap.Error(err))
		return ""
	}
	return location
}
