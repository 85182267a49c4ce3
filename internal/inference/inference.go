package inference

import (
	"context"

	"github.com/example/retina-screen/internal/screening"
)

// FieldName is the multipart field carrying the image bytes.
const FieldName = "file"

// Client exposes the remote screening model used by the submission flow.
type Client interface {
	Analyze(ctx context.Context, candidate *screening.UploadCandidate) (*screening.AnalysisResult, error)
}
