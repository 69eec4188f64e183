package controller

import (
	"context"
	"errors"
)

// Fetcher retrieves candidate screenshot bytes from a URL.
type Fetcher interface {
	FetchScreenshot(ctx context.Context, url string) ([]byte, error)
}

// FetchAndValidate fetches url and accepts the result only if it looks like
// a complete JPEG frame. This is the preload half of preload-then-swap: the
// caller keeps its previous frame on any error, so a transient capture gap
// never flashes a broken image.
func FetchAndValidate(ctx context.Context, f Fetcher, url string) ([]byte, error) {
	b, err := f.FetchScreenshot(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(b) < 4 {
		return nil, errors.New("frame too short")
	}
	if b[0] != 0xFF || b[1] != 0xD8 {
		return nil, errors.New("frame is not a jpeg")
	}
	return b, nil
}
