package screening

import (
	"image/color"
	"strings"
)

// Severity is one of the five fixed diabetic retinopathy stages.
type Severity string

const (
	SeverityNoDR          Severity = "No DR"
	SeverityMild          Severity = "Mild"
	SeverityModerate      Severity = "Moderate"
	SeveritySevere        Severity = "Severe"
	SeverityProliferative Severity = "Proliferative DR"
)

// SeverityClasses lists every class in display order.
var SeverityClasses = [...]Severity{
	SeverityNoDR,
	SeverityMild,
	SeverityModerate,
	SeveritySevere,
	SeverityProliferative,
}

var severityColors = map[Severity]color.RGBA{
	SeverityNoDR:          {R: 0x4a, G: 0xde, B: 0x80, A: 0xff},
	SeverityMild:          {R: 0xfa, G: 0xcc, B: 0x15, A: 0xff},
	SeverityModerate:      {R: 0xfb, G: 0x92, B: 0x3c, A: 0xff},
	SeveritySevere:        {R: 0xf8, G: 0x71, B: 0x71, A: 0xff},
	SeverityProliferative: {R: 0xdc, G: 0x26, B: 0x26, A: 0xff},
}

// the inference service reports lowercase labels; "normal" is its name for No DR
var severityAliases = map[string]Severity{
	"no dr":            SeverityNoDR,
	"normal":           SeverityNoDR,
	"mild":             SeverityMild,
	"moderate":         SeverityModerate,
	"severe":           SeveritySevere,
	"proliferative dr": SeverityProliferative,
	"proliferative":    SeverityProliferative,
}

// ParseSeverity resolves a label case-insensitively. ok is false for unknown labels.
func ParseSeverity(label string) (Severity, bool) {
	s, ok := severityAliases[strings.ToLower(strings.TrimSpace(label))]
	return s, ok
}

// Valid reports whether s is one of the fixed classes.
func (s Severity) Valid() bool {
	_, ok := severityColors[s]
	return ok
}

// Color returns the badge and bar color for s. Unknown classes use the No DR color.
func (s Severity) Color() color.RGBA {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return severityColors[SeverityNoDR]
}
