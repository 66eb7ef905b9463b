// Package handler exposes the dashboard over HTTP with gin.
package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"facescan/internal/auth"
	"facescan/internal/cloudinary"
	"facescan/internal/detection"
	"facescan/internal/faceclient"
	"facescan/internal/history"
	"facescan/internal/httpmiddleware"
	"facescan/internal/metrics"
	"facescan/internal/navigation"
	"facescan/internal/queue"
	"facescan/internal/roster"
)

// Enroller registers a student's face with the recognition service.
type Enroller interface {
	Enroll(ctx context.Context, userID, image, name string) (*faceclient.EnrollResult, error)
}

// Options carries the token settings used by login, refresh and logout.
// LoginLimit is the number of logins a client IP may attempt per minute;
// 0 means unlimited.
type Options struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	LoginLimit int
}

// Deps are the collaborators of a Handler. Cloud and Enroller may be nil.
type Deps struct {
	Roster   *roster.Store
	History  *history.Store
	Detector detection.Detector
	Queue    queue.Queue
	Revoker  auth.Revoker
	Cloud    *cloudinary.Client
	Enroller Enroller
	Log      *zap.Logger
}

type Handler struct {
	opts     Options
	roster   *roster.Store
	history  *history.Store
	registry *detection.Registry
	queue    queue.Queue
	revoker  auth.Revoker
	cloud    *cloudinary.Client
	enroller Enroller
	log      *zap.Logger
	now      func() time.Time
	maxWait  time.Duration
}

// New creates a Handler. Each session gets its own detection machine
// whose completed results are published to the queue.
func New(opts Options, d Deps) *Handler {
	h := &Handler{
		opts:     opts,
		roster:   d.Roster,
		history:  d.History,
		queue:    d.Queue,
		revoker:  d.Revoker,
		cloud:    d.Cloud,
		enroller: d.Enroller,
		log:      d.Log,
		now:      time.Now,
		maxWait:  10 * time.Second,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.registry = detection.NewRegistry(d.Detector, h.recordDetection)
	h.registry.Clock = func() time.Time { return h.now() }
	return h
}

// Register mounts the /v1 routes on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1", auth.Sessions(h.opts.SigningKey, h.opts.Issuer, h.revoker))

	if h.opts.LoginLimit > 0 {
		v1.POST("/login", httpmiddleware.NewTokenBucket("login", h.opts.LoginLimit, h.opts.LoginLimit).GinMiddleware(), h.Login)
	} else {
		v1.POST("/login", h.Login)
	}
	v1.POST("/refresh", h.Refresh)
	v1.POST("/logout", h.Logout)
	v1.GET("/session", h.Session)
	v1.GET("/navigate", h.Navigate)

	home := v1.Group("", RequirePage(navigation.PathHome))
	home.GET("/layout", h.Layout)
	home.GET("/dashboard", h.Dashboard)

	students := v1.Group("/students", RequirePage(navigation.PathStudents))
	students.GET("", h.ListStudents)
	students.POST("", h.AddStudent)
	students.POST("/import", h.ImportStudents)

	hist := v1.Group("/history", RequirePage(navigation.PathHistory))
	hist.GET("", h.ListHistory)
	hist.GET("/stats", h.HistoryStats)
	hist.GET("/report", h.HistoryReport)

	det := v1.Group("/detection", RequirePage(navigation.PathDetection))
	det.GET("", h.DetectionState)
	det.POST("/image", h.SelectImage)
	det.POST("/detect", h.Detect)
	det.POST("/reset", h.ResetDetection)
}

// Close cancels every detection in flight.
func (h *Handler) Close() {
	h.registry.CloseAll()
}

// recordDetection turns a finished detection into a history entry and
// publishes it for the recorder.
func (h *Handler) recordDetection(sessionID, image string, r detection.Result) {
	metrics.Detections.WithLabelValues(string(r.Status)).Inc()

	e, ok := entryFromResult(h.photoRef(image), r)
	if !ok {
		return
	}
	msg, err := history.EncodeMessage(e)
	if err != nil {
		h.log.Error("encode detection", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.queue.Publish(ctx, msg); err != nil {
		h.log.Warn("queue publish failed", zap.String("session", sessionID), zap.Error(err))
	}
}

// photoRef returns what the history keeps of a detected image: hosted
// URLs as given, inline images uploaded to Cloudinary when configured,
// otherwise nothing.
func (h *Handler) photoRef(image string) string {
	if !cloudinary.IsDataURI(image) {
		return image
	}
	if h.cloud == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := h.cloud.UploadDataURI(ctx, image)
	if err != nil {
		h.log.Warn("detection photo upload failed", zap.Error(err))
		return ""
	}
	return res.SecureURL
}

func entryFromResult(photo string, r detection.Result) (history.Entry, bool) {
	if r.Timestamp == nil {
		return history.Entry{}, false
	}
	e := history.Entry{Timestamp: r.Timestamp.Format(history.TimestampLayout), PhotoURL: photo}
	switch r.Status {
	case detection.StatusMatch:
		if r.Student == nil {
			return history.Entry{}, false
		}
		name, nim, acc := r.Student.Name, r.Student.NIM, r.Accuracy
		e.Status = history.StatusMatch
		e.StudentName, e.StudentID, e.Accuracy = &name, &nim, &acc
	case detection.StatusNotFound:
		e.Status = history.StatusNotFound
	default:
		return history.Entry{}, false
	}
	return e, true
}
