package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/retina-screen/internal/auth"
	"github.com/example/retina-screen/internal/report"
	"github.com/example/retina-screen/internal/screening"
	"github.com/example/retina-screen/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubClient struct {
	result *screening.AnalysisResult
	err    error
}

func (s *stubClient) Analyze(ctx context.Context, candidate *screening.UploadCandidate) (*screening.AnalysisResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result.Clone(), nil
}

type stubReadiness struct{ err error }

func (s stubReadiness) Check(ctx context.Context) error { return s.err }

func newTestRouter(t *testing.T, client *stubClient, readiness ReadinessChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	exporter := report.NewExporter(report.NewRefLoader(time.Second), report.NewCanvasRasterizer(1), zap.NewNop())
	uc := usecase.NewScreeningUseCase(client, usecase.NewRedisCache(rdb), nil, exporter, zap.NewNop(), usecase.Settings{
		TickInterval: 10 * time.Millisecond,
	})

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, uc, auth.SubmissionGate(testJWTSecret, ""), Options{Readiness: readiness})
	return router
}

func defaultClient() *stubClient {
	return &stubClient{result: &screening.AnalysisResult{
		Stage:       "Moderate NPDR",
		Severity:    screening.SeverityModerate,
		Confidences: screening.Confidences{screening.SeverityModerate: 78, screening.SeverityMild: 40},
		Findings:    []string{"Hard exudates near the macula"},
		RiskFactors: []string{"HbA1c above target"},
	}}
}

func do(t *testing.T, router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body %q: %v", resp.Body.String(), err)
	}
	return body
}

func createSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	resp := do(t, router, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, resp.Code)
	}
	return decode(t, resp)["session_id"].(string)
}

func upload(t *testing.T, router *gin.Engine, sessionID, contentType string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := buildMultipartBody(t, contentType, payload)
	req := httptest.NewRequest(http.MethodPut, "/sessions/"+sessionID+"/image?via=drop", body)
	req.Header.Set("Content-Type", formType)
	return do(t, router, req)
}

func analyze(t *testing.T, router *gin.Engine, sessionID, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/analyze", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return do(t, router, req)
}

func TestUploadRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)

	resp := upload(t, router, id, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestUploadRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)

	resp := upload(t, router, id, "text/plain", []byte("hello"))
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}

	snap := decode(t, do(t, router, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil)))
	if snap["candidate"] != nil {
		t.Fatalf("expected no candidate, got %v", snap["candidate"])
	}
	notes := snap["notifications"].([]any)
	if len(notes) != 1 || notes[0].(map[string]any)["title"] != "Invalid file type" {
		t.Fatalf("unexpected notifications: %v", notes)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)

	req := httptest.NewRequest(http.MethodPut, "/sessions/"+id+"/image", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	if resp := do(t, router, req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/sessions/"+id+"/image?via=paste", nil)
	if resp := do(t, router, req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestScreeningFlowEndToEnd(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)

	if resp := upload(t, router, id, "image/png", pngPayload(t)); resp.Code != http.StatusOK {
		t.Fatalf("upload failed: %d %s", resp.Code, resp.Body.String())
	}

	resp := analyze(t, router, id, buildTestToken(t, "clinician-1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("analyze failed: %d %s", resp.Code, resp.Body.String())
	}
	next := decode(t, resp)["next"].(string)
	if !strings.HasPrefix(next, "/sessions/"+id+"/report?ticket=") {
		t.Fatalf("unexpected next path %q", next)
	}

	resp = do(t, router, httptest.NewRequest(http.MethodGet, next, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("report failed: %d %s", resp.Code, resp.Body.String())
	}
	body := decode(t, resp)
	if body["state"] != "ready" {
		t.Fatalf("unexpected state %v", body["state"])
	}
	confidences := body["result"].(map[string]any)["confidences"].(map[string]any)
	if len(confidences) != 5 {
		t.Fatalf("expected 5 confidences, got %v", confidences)
	}
	if confidences["Moderate"].(float64) != 78 {
		t.Fatalf("present confidence altered: %v", confidences["Moderate"])
	}

	resp = do(t, router, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/report.pdf", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("export failed: %d %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(resp.Header().Get("Content-Disposition"), report.FileName) {
		t.Fatalf("unexpected disposition %q", resp.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF-")) {
		t.Fatal("expected a PDF document")
	}

	// the hand-off is one-shot
	resp = do(t, router, httptest.NewRequest(http.MethodGet, next, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d on reload, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestAnalyzeRequiresPermission(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)
	upload(t, router, id, "image/png", pngPayload(t))

	if resp := analyze(t, router, id, ""); resp.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, resp.Code)
	}
}

func TestAnalyzeWithoutImage(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)

	if resp := analyze(t, router, id, buildTestToken(t, "clinician-1")); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestAnalyzeFailureIsBadGateway(t *testing.T) {
	client := &stubClient{err: &screening.SubmissionError{StatusCode: 500, Err: errors.New("500 Internal Server Error")}}
	router := newTestRouter(t, client, nil)
	id := createSession(t, router)
	upload(t, router, id, "image/png", pngPayload(t))

	resp := analyze(t, router, id, buildTestToken(t, "clinician-1"))
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.Code)
	}

	snap := decode(t, do(t, router, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil)))
	if snap["candidate"] == nil {
		t.Fatal("candidate should survive a failed submission")
	}
	if snap["busy"].(bool) {
		t.Fatal("busy flag should be cleared")
	}
}

func TestReportWithoutResultOffersWayBack(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)

	resp := do(t, router, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/report", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
	body := decode(t, resp)
	if body["error"] != "No analysis result found. Please upload an image first." {
		t.Fatalf("unexpected error %v", body["error"])
	}
	if body["next"] != "/sessions/"+id {
		t.Fatalf("unexpected next %v", body["next"])
	}
}

func TestExportWithoutReportIsConflict(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)

	resp := do(t, router, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/report.pdf", nil))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, resp.Code)
	}
}

func TestClearImage(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)
	id := createSession(t, router)
	upload(t, router, id, "image/png", pngPayload(t))

	resp := do(t, router, httptest.NewRequest(http.MethodDelete, "/sessions/"+id+"/image", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
	snap := decode(t, do(t, router, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil)))
	if snap["candidate"] != nil || snap["preview"] != nil {
		t.Fatalf("expected cleared intake, got %v", snap)
	}
}

func TestUnknownSession(t *testing.T) {
	router := newTestRouter(t, defaultClient(), nil)

	resp := do(t, router, httptest.NewRequest(http.MethodGet, "/sessions/nope", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestProbes(t *testing.T) {
	router := newTestRouter(t, defaultClient(), stubReadiness{err: errors.New("NOT_SERVING")})

	if resp := do(t, router, httptest.NewRequest(http.MethodGet, "/health", nil)); resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if resp := do(t, router, httptest.NewRequest(http.MethodGet, "/ready", nil)); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
	if resp := do(t, router, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil)); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
	if resp := do(t, router, httptest.NewRequest(http.MethodGet, "/metrics", nil)); resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func pngPayload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="fundus.png"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
