package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/retina-screen/internal/screening"
)

type predictResponse struct {
	Stage           string             `json:"stage"`
	Severity        string             `json:"severity"`
	Confidence      *float64           `json:"confidence"`
	Confidences     map[string]float64 `json:"confidences"`
	Findings        []string           `json:"findings"`
	Recommendations []string           `json:"recommendations"`
	RiskFactors     []string           `json:"riskFactors"`
	ImageURL        string             `json:"imageUrl"`
}

// HTTPClient submits candidates to the inference endpoint as multipart uploads.
type HTTPClient struct {
	rest     *resty.Client
	endpoint string
	logger   *zap.Logger
}

// NewHTTPClient returns a client posting to endpoint. A zero timeout means no client timeout.
func NewHTTPClient(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	rest := resty.New()
	if timeout > 0 {
		rest.SetTimeout(timeout)
	}
	return &HTTPClient{rest: rest, endpoint: endpoint, logger: logger.Named("inference")}
}

// Analyze uploads the candidate and parses the structured result.
// Every failure is returned as *screening.SubmissionError.
func (c *HTTPClient) Analyze(ctx context.Context, candidate *screening.UploadCandidate) (*screening.AnalysisResult, error) {
	if candidate == nil {
		return nil, &screening.SubmissionError{Err: screening.ErrNoCandidate}
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetMultipartField(FieldName, candidate.Name, candidate.MediaType, bytes.NewReader(candidate.Data)).
		SetHeader("Accept", "application/json").
		Post(c.endpoint)
	if err != nil {
		c.logger.Error("inference request failed", zap.Error(err), zap.String("endpoint", c.endpoint))
		return nil, &screening.SubmissionError{Err: err}
	}
	if !resp.IsSuccess() {
		c.logger.Error("inference returned non-success status",
			zap.Int("status", resp.StatusCode()),
			zap.String("endpoint", c.endpoint),
		)
		return nil, &screening.SubmissionError{
			StatusCode: resp.StatusCode(),
			Err:        errors.New(resp.Status()),
		}
	}

	var payload predictResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, &screening.SubmissionError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.Stage == "" {
		return nil, &screening.SubmissionError{StatusCode: resp.StatusCode(), Err: errors.New("response is missing stage")}
	}

	return c.toResult(payload), nil
}

func (c *HTTPClient) toResult(p predictResponse) *screening.AnalysisResult {
	severity := screening.Severity(p.Severity)
	if parsed, ok := screening.ParseSeverity(p.Severity); ok {
		severity = parsed
	}
	if !severity.Valid() {
		c.logger.Warn("inference returned an unknown severity", zap.String("severity", p.Severity))
	}

	result := &screening.AnalysisResult{
		Stage:           p.Stage,
		Severity:        severity,
		Confidence:      p.Confidence,
		Findings:        nonNil(p.Findings),
		Recommendations: nonNil(p.Recommendations),
		RiskFactors:     nonNil(p.RiskFactors),
		ImageURL:        p.ImageURL,
	}

	if p.Confidences != nil {
		result.Confidences = make(screening.Confidences, len(p.Confidences))
		for label, value := range p.Confidences {
			class, ok := screening.ParseSeverity(label)
			if !ok {
				c.logger.Debug("dropping confidence for unknown class", zap.String("class", label))
				continue
			}
			result.Confidences[class] = value
		}
	}
	return result
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
