package report

import (
	"context"
	"image"

	"golang.org/x/sync/errgroup"
)

// LoadedImage is a settled image element. Err is set when loading finished with a failure.
type LoadedImage struct {
	Element ImageElement
	Image   image.Image
	Err     error
}

// AwaitImages loads every element concurrently and returns once all of them have settled.
// A failed load still counts as settled; only ctx cancellation aborts the barrier.
func AwaitImages(ctx context.Context, loader ImageLoader, elements []ImageElement) ([]LoadedImage, error) {
	loaded := make([]LoadedImage, len(elements))
	var g errgroup.Group
	for i, el := range elements {
		i, el := i, el
		g.Go(func() error {
			img, err := loader.Load(ctx, el.Ref)
			loaded[i] = LoadedImage{Element: el, Image: img, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return loaded, nil
}
