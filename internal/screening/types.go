package screening

// UploadCandidate is an image selected for screening. It is replaced wholesale, never edited.
type UploadCandidate struct {
	Name      string
	MediaType string
	Data      []byte
}

// Size returns the payload length in bytes.
func (c *UploadCandidate) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Data)
}

// Confidences maps a severity class to a percentage in [0,100].
type Confidences map[Severity]float64

// Clone returns an independent copy.
func (c Confidences) Clone() Confidences {
	out := make(Confidences, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// AnalysisResult is the report payload handed from submission to the report view.
type AnalysisResult struct {
	Stage           string      `json:"stage"`
	Severity        Severity    `json:"severity"`
	Confidence      *float64    `json:"confidence,omitempty"`
	Confidences     Confidences `json:"confidences"`
	Findings        []string    `json:"findings"`
	Recommendations []string    `json:"recommendations"`
	RiskFactors     []string    `json:"riskFactors"`
	ImageURL        string      `json:"imageUrl,omitempty"`
}

// Clone returns a deep copy so hydration never touches the payload it was given.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Confidence != nil {
		v := *r.Confidence
		out.Confidence = &v
	}
	if r.Confidences != nil {
		out.Confidences = r.Confidences.Clone()
	}
	out.Findings = append([]string(nil), r.Findings...)
	out.Recommendations = append([]string(nil), r.Recommendations...)
	out.RiskFactors = append([]string(nil), r.RiskFactors...)
	return &out
}
