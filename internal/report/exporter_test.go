package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/retina-screen/internal/screening"
)

type stubLoader struct {
	delays   map[string]time.Duration
	failures map[string]error
	block    bool
	finished int32
}

func (l *stubLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	if l.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d := l.delays[ref]; d > 0 {
		time.Sleep(d)
	}
	defer atomic.AddInt32(&l.finished, 1)
	if err := l.failures[ref]; err != nil {
		return nil, err
	}
	return solid(40, 30, color.RGBA{R: 180, G: 40, B: 40, A: 255}), nil
}

type recordingRasterizer struct {
	inner          Rasterizer
	loader         *stubLoader
	mu             sync.Mutex
	calls          int
	settledAtCall  []int32
	imagesReceived []LoadedImage
}

func (r *recordingRasterizer) Rasterize(s *Surface, images []LoadedImage) (image.Image, error) {
	r.mu.Lock()
	r.calls++
	r.settledAtCall = append(r.settledAtCall, atomic.LoadInt32(&r.loader.finished))
	r.imagesReceived = images
	r.mu.Unlock()
	return r.inner.Rasterize(s, images)
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func testSurface(images ...ImageElement) *Surface {
	return NewSurface(&screening.AnalysisResult{
		Stage:    "Mild NPDR",
		Severity: screening.SeverityMild,
		Confidences: screening.Confidences{
			screening.SeverityNoDR:          61,
			screening.SeverityMild:          88,
			screening.SeverityModerate:      70,
			screening.SeveritySevere:        55,
			screening.SeverityProliferative: 52,
		},
		Findings:        []string{"Microaneurysms detected in superior temporal region"},
		Recommendations: []string{"Follow-up in 6-12 months", "Monitor blood glucose levels"},
		RiskFactors:     []string{"Duration of diabetes: 8 years", "Hypertension present"},
	}, time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), images...)
}

func countPages(pdf []byte) int {
	return strings.Count(string(pdf), "/Type /Page\n")
}

func TestExportWaitsForEveryImage(t *testing.T) {
	loader := &stubLoader{delays: map[string]time.Duration{"slow": 60 * time.Millisecond}}
	raster := &recordingRasterizer{inner: NewCanvasRasterizer(1), loader: loader}
	exporter := NewExporter(loader, raster, nil)

	doc, err := exporter.Export(context.Background(), testSurface(
		ImageElement{Label: "Uploaded Image", Ref: "slow"},
		ImageElement{Label: "Submitted Image", Ref: "fast"},
	))
	require.NoError(t, err)

	require.Equal(t, 1, raster.calls)
	require.Equal(t, []int32{2}, raster.settledAtCall)
	require.Len(t, raster.imagesReceived, 2)
	require.Equal(t, "Uploaded Image", raster.imagesReceived[0].Element.Label)

	require.Equal(t, FileName, doc.Name)
	require.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-")))
	require.Equal(t, 1, countPages(doc.Data))
	require.InDelta(t, 595.28, doc.PageWidth, 0.01)
	require.GreaterOrEqual(t, doc.PageHeight, 841.88)
	require.Equal(t, 800, doc.BitmapWidth)
}

func TestExportUnmountedSurfaceIsPreconditionError(t *testing.T) {
	loader := &stubLoader{}
	raster := &recordingRasterizer{inner: NewCanvasRasterizer(1), loader: loader}
	exporter := NewExporter(loader, raster, nil)

	doc, err := exporter.Export(context.Background(), nil)
	require.Nil(t, doc)
	var pre *screening.ExportPreconditionError
	require.True(t, errors.As(err, &pre))
	require.Zero(t, raster.calls)

	_, err = exporter.Export(context.Background(), &Surface{})
	require.True(t, errors.As(err, &pre))
}

func TestExportAbortsWhenImagesNeverSettle(t *testing.T) {
	loader := &stubLoader{block: true}
	raster := &recordingRasterizer{inner: NewCanvasRasterizer(1), loader: loader}
	exporter := NewExporter(loader, raster, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	doc, err := exporter.Export(ctx, testSurface(ImageElement{Ref: "never"}))
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, doc)
	require.Zero(t, raster.calls)
}

func TestExportRendersFailedImageAsPlaceholder(t *testing.T) {
	loader := &stubLoader{failures: map[string]error{"broken": errors.New("404 Not Found")}}
	exporter := NewExporter(loader, NewCanvasRasterizer(1), nil)

	doc, err := exporter.Export(context.Background(), testSurface(ImageElement{Label: "Uploaded Image", Ref: "broken"}))
	require.NoError(t, err)
	require.Equal(t, 1, countPages(doc.Data))
}

func TestExportProducesIndependentDocuments(t *testing.T) {
	loader := &stubLoader{}
	exporter := NewExporter(loader, NewCanvasRasterizer(1), nil)
	surface := testSurface(ImageElement{Ref: "a"})

	first, err := exporter.Export(context.Background(), surface)
	require.NoError(t, err)
	second, err := exporter.Export(context.Background(), surface)
	require.NoError(t, err)

	require.NotSame(t, first, second)
	first.Data[0] = 'X'
	require.Equal(t, byte('%'), second.Data[0])
}

func TestRasterizeUsesScale(t *testing.T) {
	img, err := NewCanvasRasterizer(3).Rasterize(testSurface(), nil)
	require.NoError(t, err)
	require.Equal(t, 2400, img.Bounds().Dx())

	_, err = NewCanvasRasterizer(3).Rasterize(&Surface{}, nil)
	var pre *screening.ExportPreconditionError
	require.True(t, errors.As(err, &pre))
}

func TestAssembleScalesTallBitmapWithoutCropping(t *testing.T) {
	doc, err := assemble(solid(100, 1000, color.White))
	require.NoError(t, err)
	require.InDelta(t, 595.28, doc.PageWidth, 0.01)
	require.InDelta(t, 5952.8, doc.PageHeight, 0.1)
	require.Equal(t, 1, countPages(doc.Data))
}

func TestAssembleKeepsA4ForShortBitmap(t *testing.T) {
	doc, err := assemble(solid(300, 100, color.White))
	require.NoError(t, err)
	require.InDelta(t, 841.89, doc.PageHeight, 0.01)
}

func TestDocumentSaveTo(t *testing.T) {
	doc := &Document{Name: FileName, Data: []byte("%PDF-1.3")}
	path, err := doc.SaveTo(t.TempDir())
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, FileName))
}

func TestRefLoaderDataURIAndHTTP(t *testing.T) {
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, solid(3, 2, color.Black)))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(encoded.Bytes())
	}))
	defer server.Close()

	loader := NewRefLoader(time.Second)
	ctx := context.Background()

	img, err := loader.Load(ctx, server.URL+"/eye.png")
	require.NoError(t, err)
	require.Equal(t, 3, img.Bounds().Dx())

	_, err = loader.Load(ctx, server.URL+"/missing.png")
	require.Error(t, err)

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(encoded.Bytes())
	img, err = loader.Load(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, 2, img.Bounds().Dy())

	_, err = loader.Load(ctx, "/placeholder-retina.png")
	require.Error(t, err)
}
