package report

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"github.com/example/retina-screen/internal/logging"
	"github.com/example/retina-screen/internal/screening"
)

// FileName is the name every exported report is saved under.
const FileName = "DR_Analysis_Report.pdf"

const bitmapName = "report"

// Document is an assembled single-page export.
type Document struct {
	Name         string
	Data         []byte
	PageWidth    float64
	PageHeight   float64
	BitmapWidth  int
	BitmapHeight int
}

// SaveTo writes the document into dir under its file name and returns the path.
func (d *Document) SaveTo(dir string) (string, error) {
	path := filepath.Join(dir, d.Name)
	if err := os.WriteFile(path, d.Data, 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", d.Name, err)
	}
	return path, nil
}

// Exporter turns a mounted report surface into a downloadable document.
type Exporter struct {
	loader ImageLoader
	raster Rasterizer
	logger *zap.Logger
}

// NewExporter constructs an Exporter.
func NewExporter(loader ImageLoader, raster Rasterizer, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{loader: loader, raster: raster, logger: logger.Named("exporter")}
}

// Export waits for every image on the surface, rasterizes it and embeds the bitmap in a
// single portrait page of standard width. Each call builds a fresh document.
func (e *Exporter) Export(ctx context.Context, surface *Surface) (*Document, error) {
	if !surface.Mounted() {
		err := &screening.ExportPreconditionError{Reason: "report surface is not mounted"}
		e.logger.Warn("export skipped", zap.Error(err))
		return nil, err
	}

	loaded, err := AwaitImages(ctx, e.loader, surface.Images)
	if err != nil {
		return nil, logging.NewOperationError("report.await_images", "", err)
	}
	for _, li := range loaded {
		if li.Err != nil {
			e.logger.Warn("report image failed to load", zap.String("label", li.Element.Label), zap.Error(li.Err))
		}
	}

	bitmap, err := e.raster.Rasterize(surface, loaded)
	if err != nil {
		return nil, logging.NewOperationError("report.rasterize", "", err)
	}

	doc, err := assemble(bitmap)
	if err != nil {
		return nil, logging.NewOperationError("report.assemble", "", err)
	}
	e.logger.Info("report exported",
		zap.Int("bitmap_width", doc.BitmapWidth),
		zap.Int("bitmap_height", doc.BitmapHeight),
		zap.Int("bytes", len(doc.Data)),
	)
	return doc, nil
}

// assemble places the bitmap at full page width; the page grows taller than A4 when the
// scaled bitmap needs it so nothing is cropped.
func assemble(bitmap image.Image) (*Document, error) {
	b := bitmap.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty bitmap")
	}

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, bitmap); err != nil {
		return nil, fmt.Errorf("encode bitmap: %w", err)
	}

	pdf := fpdf.New("P", "pt", "A4", "")
	pageWidth, pageHeight := pdf.GetPageSize()
	imageHeight := float64(b.Dy()) * pageWidth / float64(b.Dx())
	if imageHeight > pageHeight {
		pageHeight = imageHeight
	}

	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPageFormat("P", fpdf.SizeType{Wd: pageWidth, Ht: pageHeight})

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(bitmapName, opts, &encoded)
	pdf.ImageOptions(bitmapName, 0, 0, pageWidth, imageHeight, false, opts, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	return &Document{
		Name:         FileName,
		Data:         out.Bytes(),
		PageWidth:    pageWidth,
		PageHeight:   pageHeight,
		BitmapWidth:  b.Dx(),
		BitmapHeight: b.Dy(),
	}, nil
}
