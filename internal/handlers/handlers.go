package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/retina-screen/internal/auth"
	"github.com/example/retina-screen/internal/hydrator"
	"github.com/example/retina-screen/internal/inference"
	"github.com/example/retina-screen/internal/intake"
	"github.com/example/retina-screen/internal/report"
	"github.com/example/retina-screen/internal/screening"
	"github.com/example/retina-screen/internal/usecase"
)

// MaxUploadSize is the default limit for an uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for part headers and boundaries around the file itself.
const multipartOverhead = 64 << 10

// ScreeningService is the workflow surface the handlers drive.
type ScreeningService interface {
	CreateSession(ctx context.Context) *usecase.Session
	Snapshot(sessionID string) (*usecase.Snapshot, error)
	AcceptImage(ctx context.Context, sessionID string, f intake.File, source intake.Source) (*screening.UploadCandidate, error)
	ClearImage(ctx context.Context, sessionID string) error
	Submit(ctx context.Context, sessionID string, permitted bool) (*usecase.Transition, error)
	OpenReport(ctx context.Context, sessionID, ticket string) (*usecase.ReportView, error)
	ExportReport(ctx context.Context, sessionID string) (*report.Document, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// ReadinessChecker reports whether a dependency can take traffic.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Options configures RegisterRoutes.
type Options struct {
	MaxUploadBytes int64
	// Readiness is optional; without it /ready always reports ok.
	Readiness ReadinessChecker
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ScreeningService, gate gin.HandlerFunc, opts Options) {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		if opts.Readiness != nil {
			if err := opts.Readiness.Check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	router.POST("/sessions", func(c *gin.Context) {
		s := svc.CreateSession(c.Request.Context())
		c.JSON(http.StatusCreated, gin.H{"session_id": s.ID, "next": sessionPath(s.ID)})
	})

	router.GET("/sessions/:id", func(c *gin.Context) {
		snap, err := svc.Snapshot(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	router.PUT("/sessions/:id/image", func(c *gin.Context) {
		source, ok := parseSource(c.Query("via"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "via must be drop or pick"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload+multipartOverhead)
		file, err := c.FormFile(inference.FieldName)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		candidate, err := svc.AcceptImage(c.Request.Context(), c.Param("id"), intake.FromMultipart(file), source)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"name":       candidate.Name,
			"media_type": candidate.MediaType,
			"size":       candidate.Size(),
		})
	})

	router.DELETE("/sessions/:id/image", func(c *gin.Context) {
		if err := svc.ClearImage(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.POST("/sessions/:id/analyze", gate, func(c *gin.Context) {
		permitted := auth.SubmissionPermitted(c.Request.Context())
		transition, err := svc.Submit(c.Request.Context(), c.Param("id"), permitted)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ticket": transition.Ticket,
			"next":   transition.Path,
			"result": transition.Result,
		})
	})

	router.GET("/sessions/:id/report", func(c *gin.Context) {
		id := c.Param("id")
		view, err := svc.OpenReport(c.Request.Context(), id, c.Query("ticket"))
		if err != nil {
			writeError(c, err)
			return
		}
		if view.State == hydrator.StateEmpty {
			c.JSON(http.StatusNotFound, gin.H{
				"state": view.State,
				"error": view.Missing.Error(),
				"next":  sessionPath(id),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"state":  view.State,
			"result": view.Result,
			"export": sessionPath(id) + "/report.pdf",
		})
	})

	router.GET("/sessions/:id/report.pdf", func(c *gin.Context) {
		doc, err := svc.ExportReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
		c.Data(http.StatusOK, "application/pdf", doc.Data)
	})
}

func parseSource(via string) (intake.Source, bool) {
	switch intake.Source(via) {
	case "", intake.SourcePick:
		return intake.SourcePick, true
	case intake.SourceDrop:
		return intake.SourceDrop, true
	}
	return "", false
}

func sessionPath(id string) string {
	return "/sessions/" + id
}

func writeError(c *gin.Context, err error) {
	var (
		validation *screening.ValidationError
		submission *screening.SubmissionError
		export     *screening.ExportPreconditionError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Invalid file type", "message": "Please upload an image file"})
	case errors.Is(err, usecase.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, screening.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, screening.ErrNoCandidate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, screening.ErrSubmissionNotPermitted):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &submission):
		body := gin.H{"error": "Analysis Failed"}
		if submission.StatusCode != 0 {
			body["upstream_status"] = submission.StatusCode
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.As(err, &export):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrAttemptLogDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "request ended before the report was ready"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
