package report

import (
	"time"

	"github.com/example/retina-screen/internal/screening"
)

const (
	Title      = "Diabetic Retinopathy Report"
	Disclaimer = "Disclaimer: AI-generated report for informational purposes only. Consult a healthcare provider."
	riskNote   = "Factors that may contribute to diabetic retinopathy progression"
)

// ImageElement is an image embedded in the report.
type ImageElement struct {
	Label string
	// Ref is an http(s) URL or a data URI.
	Ref string
}

// Surface is the fully rendered report that export captures.
type Surface struct {
	Result      *screening.AnalysisResult
	Images      []ImageElement
	GeneratedAt time.Time
}

// NewSurface builds a surface for a hydrated result.
func NewSurface(result *screening.AnalysisResult, generatedAt time.Time, images ...ImageElement) *Surface {
	return &Surface{Result: result, Images: images, GeneratedAt: generatedAt}
}

// Mounted reports whether the surface has content to capture.
func (s *Surface) Mounted() bool {
	return s != nil && s.Result != nil
}
