// Package routes exposes the notification screen and the send worker over HTTP.
package routes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CyberwizD/expo-push/internal/background"
	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/internal/platform/memory"
	"github.com/CyberwizD/expo-push/internal/repository"
	"github.com/CyberwizD/expo-push/internal/screen"
	"github.com/CyberwizD/expo-push/pkg/metrics"
)

// TicketLookup returns the stored outcome of a send request.
type TicketLookup interface {
	Get(ctx context.Context, requestID string) (*repository.TicketStatus, error)
}

// Options selects which route groups are mounted. Nil fields leave their
// routes out.
type Options struct {
	Metrics  *metrics.Metrics
	Started  time.Time
	Logger   *slog.Logger
	Screen   *screen.Screen
	Device   *memory.Device
	Tasks    *background.Registry
	AppState *background.StateTracker
	Tickets  TicketLookup
}

type router struct {
	opts Options
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	r := &router{opts: opts}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(opts.Logger))

	engine.GET("/health", r.health)
	engine.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	if opts.Screen != nil {
		engine.GET("/notification", r.notification)
		engine.GET("/token", r.token)
		engine.GET("/channels", r.channels)
		engine.POST("/send", r.send)
		engine.POST("/clear", r.clear)
	}
	if opts.Tasks != nil {
		engine.POST("/background/:task", r.runTask)
	}
	if opts.AppState != nil {
		engine.PUT("/app-state", r.setAppState)
	}
	if opts.Device != nil {
		device := engine.Group("/device")
		device.POST("/received", r.deviceReceived)
		device.POST("/response", r.deviceResponse)
	}
	if opts.Tickets != nil {
		engine.GET("/tickets/:id", r.ticket)
	}
	return engine
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "data": data})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "message": err.Error()})
}

func (r *router) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "push service healthy",
		"meta": gin.H{
			"uptime_seconds": int(time.Since(r.opts.Started).Seconds()),
			"timestamp":      time.Now().UTC(),
		},
	})
}

type notificationView struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Data     map[string]interface{} `json:"data"`
	Source   string                 `json:"source,omitempty"`
	Seq      uint64                 `json:"seq,omitempty"`
	Received *time.Time             `json:"received_at,omitempty"`
}

func (r *router) notification(c *gin.Context) {
	s := r.opts.Screen
	view := notificationView{}
	if d, shown := s.Current(); shown {
		at := d.At
		view = notificationView{
			Title:    d.Content.Title,
			Body:     d.Content.Body,
			Data:     d.Content.Data,
			Source:   string(d.Source),
			Seq:      d.Seq,
			Received: &at,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"phase":   s.Phase(),
		"data":    view,
	})
}

func (r *router) token(c *gin.Context) {
	s := r.opts.Screen
	resp := gin.H{
		"success": true,
		"data":    models.PushToken{Token: s.Token(), Platform: r.platformName()},
	}
	if err := s.RegistrationError(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *router) platformName() string {
	if r.opts.Device != nil {
		return r.opts.Device.OS()
	}
	return ""
}

func (r *router) channels(c *gin.Context) {
	ok(c, "notification channels", r.opts.Screen.Channels())
}

type sendRequest struct {
	UseFCMv1 *bool `json:"use_fcm_v1"`
}

func (r *router) send(c *gin.Context) {
	var req sendRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		// An empty body keeps the current setting.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}
	if req.UseFCMv1 != nil {
		r.opts.Screen.SetForceFCMv1(*req.UseFCMv1)
	}

	results, err := r.opts.Screen.SendTest(c.Request.Context())
	switch {
	case errors.Is(err, screen.ErrNotMounted):
		fail(c, http.StatusConflict, err)
	case err != nil:
		fail(c, http.StatusBadGateway, err)
	default:
		ok(c, "test notification sent", results)
	}
}

func (r *router) clear(c *gin.Context) {
	if err := r.opts.Screen.Clear(); err != nil {
		fail(c, http.StatusConflict, err)
		return
	}
	ok(c, "notification cleared", nil)
}

func (r *router) runTask(c *gin.Context) {
	var body background.TaskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	err := r.opts.Tasks.Invoke(c.Request.Context(), c.Param("task"), body)
	switch {
	case errors.Is(err, background.ErrUnknownTask):
		fail(c, http.StatusNotFound, err)
	case err != nil:
		fail(c, http.StatusUnprocessableEntity, err)
	default:
		ok(c, "task completed", nil)
	}
}

type appStateRequest struct {
	State background.AppState `json:"state" binding:"required"`
}

func (r *router) setAppState(c *gin.Context) {
	var req appStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	switch req.State {
	case background.AppStateActive, background.AppStateInactive, background.AppStateBackground:
	default:
		fail(c, http.StatusBadRequest, errors.New("unknown app state"))
		return
	}
	r.opts.AppState.Set(req.State)
	ok(c, "app state updated", gin.H{"state": req.State})
}

func (r *router) deviceReceived(c *gin.Context) {
	var content models.Content
	if err := c.ShouldBindJSON(&content); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, "notification delivered", r.opts.Device.Deliver(content))
}

func (r *router) deviceResponse(c *gin.Context) {
	var content models.Content
	if err := c.ShouldBindJSON(&content); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ok(c, "notification tapped", r.opts.Device.Respond(content))
}

func (r *router) ticket(c *gin.Context) {
	row, err := r.opts.Tickets.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrTicketNotFound):
		fail(c, http.StatusNotFound, err)
	case err != nil:
		fail(c, http.StatusInternalServerError, err)
	default:
		ok(c, "ticket status", row)
	}
}
