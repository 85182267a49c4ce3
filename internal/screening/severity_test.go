package screening

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"No DR":            SeverityNoDR,
		"normal":           SeverityNoDR,
		"mild":             SeverityMild,
		" Moderate ":       SeverityModerate,
		"SEVERE":           SeveritySevere,
		"proliferative dr": SeverityProliferative,
	}
	for label, want := range cases {
		got, ok := ParseSeverity(label)
		require.True(t, ok, label)
		require.Equal(t, want, got, label)
	}

	_, ok := ParseSeverity("unknown")
	require.False(t, ok)
}

func TestSeverityColorFallsBackToNoDR(t *testing.T) {
	require.Equal(t, SeverityNoDR.Color(), Severity("bogus").Color())
	require.NotEqual(t, SeverityNoDR.Color(), SeveritySevere.Color())
}

func TestAnalysisResultCloneIsDeep(t *testing.T) {
	top := 88.0
	r := &AnalysisResult{
		Stage:       "Mild NPDR",
		Confidence:  &top,
		Confidences: Confidences{SeverityMild: 88},
		Findings:    []string{"a"},
	}
	c := r.Clone()
	c.Confidences[SeverityNoDR] = 50
	c.Findings[0] = "b"
	*c.Confidence = 1

	require.Len(t, r.Confidences, 1)
	require.Equal(t, "a", r.Findings[0])
	require.Equal(t, 88.0, *r.Confidence)
}

func TestNotificationQueueDrain(t *testing.T) {
	var q NotificationQueue
	q.Notify(Notification{Kind: NotifyDestructive, Title: "Analysis Failed"})
	require.Len(t, q.Drain(), 1)
	require.Empty(t, q.Drain())
}

func TestSeverityValid(t *testing.T) {
	for _, s := range []Severity{SeverityNoDR, SeverityMild, SeverityModerate, SeveritySevere, SeverityProliferative} {
		require.True(t, s.Valid(), string(s))
	}
	require.False(t, Severity("normal").Valid())
	require.False(t, Severity("").Valid())
}
