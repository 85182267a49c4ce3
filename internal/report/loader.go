package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/url"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"
)

// ImageLoader resolves an image reference to decoded pixels.
type ImageLoader interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// RefLoader decodes data URIs in place and fetches http(s) references.
type RefLoader struct {
	rest *resty.Client
}

// NewRefLoader returns a loader whose remote fetches time out after timeout.
func NewRefLoader(timeout time.Duration) *RefLoader {
	rest := resty.New()
	if timeout > 0 {
		rest.SetTimeout(timeout)
	}
	return &RefLoader{rest: rest}
}

func (l *RefLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	if strings.HasPrefix(ref, "data:") {
		data, err := decodeDataURI(ref)
		if err != nil {
			return nil, err
		}
		return decode(data)
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("unsupported image reference %q", ref)
	}

	resp, err := l.rest.R().SetContext(ctx).Get(ref)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch %s: %s", ref, resp.Status())
	}
	return decode(resp.Body())
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func decodeDataURI(ref string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}
	if !strings.HasSuffix(header, ";base64") {
		return []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URI: %w", err)
	}
	return data, nil
}
