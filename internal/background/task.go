// Package background runs named tasks the OS invokes outside the screen
// lifecycle, most importantly the handler for data-only notifications.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CyberwizD/expo-push/internal/models"
	"github.com/CyberwizD/expo-push/pkg/metrics"
)

var (
	ErrUnknownTask   = errors.New("background task is not defined")
	ErrTaskDuplicate = errors.New("background task already defined")
)

// TaskBody is what the OS hands to a task invocation.
type TaskBody struct {
	Data          map[string]interface{} `json:"data"`
	Error         string                 `json:"error,omitempty"`
	ExecutionInfo map[string]interface{} `json:"executionInfo,omitempty"`
}

type TaskFunc func(ctx context.Context, body TaskBody) error

// Registry maps task names to their functions. Invoke never lets a task
// failure or panic escape as anything but a logged error.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]TaskFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.New()
	}
	return &Registry{
		tasks:   map[string]TaskFunc{},
		logger:  logger,
		metrics: m,
	}
}

func (r *Registry) Define(name string, fn TaskFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrTaskDuplicate, name)
	}
	r.tasks[name] = fn
	r.logger.Info("background task registered", slog.String("task", name))
	return nil
}

func (r *Registry) Defined(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

func (r *Registry) Invoke(ctx context.Context, name string, body TaskBody) (err error) {
	r.mu.RLock()
	fn, ok := r.tasks[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	r.metrics.IncBackgroundRun()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", models.ErrBackgroundTask, rec)
		}
		if err != nil {
			r.metrics.IncBackgroundFailed()
			r.logger.Error("background task failed", slog.String("task", name), slog.Any("error", err))
		}
	}()

	return fn(ctx, body)
}
