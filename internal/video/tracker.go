// Package video tracks long-running video generation jobs and talks to the
// two generation providers.
package video

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job statuses reported by Poll.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
)

var (
	ErrPromptRequired = errors.New("Prompt is required")
	ErrNotConfigured  = errors.New("Google API key not configured. Add GOOGLE_API_KEY to .env")
	ErrJobNotFound    = errors.New("Operation not found")
	ErrJobExpired     = errors.New("Operation expired")
)

// GenerateRequest asks a provider to start one video.
type GenerateRequest struct {
	Prompt         string
	ReferenceImage string
	Model          string
}

// Operation is the provider-side state of one job.
type Operation struct {
	Name      string
	Done      bool
	VideoURIs []string
	Error     string

	// handle is the provider's own operation value, passed back on Refresh.
	handle any
}

// Generator starts and refreshes remote generation jobs.
type Generator interface {
	Available() bool
	Generate(ctx context.Context, req GenerateRequest) (*Operation, error)
	Refresh(ctx context.Context, op *Operation) (*Operation, error)
}

// PollResult is what a caller learns from one status check.
type PollResult struct {
	Status    string
	VideoURL  string
	VideoURIs []string
	Error     string
}

type job struct {
	op        *Operation
	createdAt time.Time
}

// Tracker owns the in-flight job map. Every insert, lookup and delete is
// done under mu; remote calls are made outside it.
type Tracker struct {
	generator    Generator
	defaultModel string
	ttl          time.Duration
	logger       *zap.Logger

	mu         sync.Mutex
	jobs       map[string]*job
	tombstones map[string]time.Time

	cron *cron.Cron
	now  func() time.Time
}

func NewTracker(generator Generator, defaultModel string, ttl time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		generator:    generator,
		defaultModel: defaultModel,
		ttl:          ttl,
		logger:       logger.Named("video"),
		jobs:         make(map[string]*job),
		tombstones:   make(map[string]time.Time),
		now:          time.Now,
	}
}

// Available reports whether the provider has credentials.
func (t *Tracker) Available() bool {
	return t.generator != nil && t.generator.Available()
}

// Start validates the request, starts the remote job and returns its id
// without waiting for it.
func (t *Tracker) Start(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrPromptRequired
	}
	if !t.Available() {
		return "", ErrNotConfigured
	}
	if req.Model == "" {
		req.Model = t.defaultModel
	}

	t.logger.Info("Starting video generation",
		zap.String("model", req.Model),
		zap.String("prompt", req.Prompt),
		zap.Bool("reference_image", req.ReferenceImage != ""))

	op, err := t.generator.Generate(ctx, req)
	if err != nil {
		t.logger.Error("Video generation failed to start", zap.Error(err))
		return "", err
	}

	id := op.Name
	if id == "" {
		id = "op_" + uuid.NewString()
	}

	t.mu.Lock()
	t.jobs[id] = &job{op: op, createdAt: t.now()}
	t.mu.Unlock()

	t.logger.Info("Video operation started", zap.String("operation_id", id))
	return id, nil
}

// Poll checks a job once. A finished job is removed, so a second poll of
// the same id reports ErrJobNotFound.
func (t *Tracker) Poll(ctx context.Context, id string) (*PollResult, error) {
	if !t.Available() {
		return nil, ErrNotConfigured
	}

	t.mu.Lock()
	j, ok := t.jobs[id]
	_, expired := t.tombstones[id]
	t.mu.Unlock()

	if !ok {
		if expired {
			return &PollResult{Status: StatusExpired}, ErrJobExpired
		}
		return nil, ErrJobNotFound
	}

	op, err := t.generator.Refresh(ctx, j.op)
	if err != nil {
		t.logger.Error("Video status check failed", zap.String("operation_id", id), zap.Error(err))
		return nil, err
	}

	if !op.Done {
		t.mu.Lock()
		if current, ok := t.jobs[id]; ok {
			current.op = op
		}
		t.mu.Unlock()
		return &PollResult{Status: StatusProcessing}, nil
	}

	// Only the poll that removes the job reports its outcome.
	t.mu.Lock()
	current, ok := t.jobs[id]
	if ok && current == j {
		delete(t.jobs, id)
	}
	_, expired = t.tombstones[id]
	t.mu.Unlock()

	if !ok || current != j {
		if expired {
			return &PollResult{Status: StatusExpired}, ErrJobExpired
		}
		return nil, ErrJobNotFound
	}

	if op.Error != "" {
		t.logger.Warn("Video operation failed", zap.String("operation_id", id), zap.String("error", op.Error))
		return &PollResult{Status: StatusFailed, Error: op.Error}, nil
	}

	result := &PollResult{Status: StatusCompleted, VideoURIs: op.VideoURIs}
	if len(op.VideoURIs) > 0 {
		result.VideoURL = op.VideoURIs[0]
	}
	t.logger.Info("Video operation completed", zap.String("operation_id", id), zap.String("video_url", result.VideoURL))
	return result, nil
}

// Pending reports the number of tracked jobs.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Sweep evicts jobs older than the TTL and forgets tombstones that have
// outlived theirs. It returns the number of evicted jobs.
func (t *Tracker) Sweep() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, until := range t.tombstones {
		if !now.Before(until) {
			delete(t.tombstones, id)
		}
	}

	evicted := 0
	for id, j := range t.jobs {
		if now.Sub(j.createdAt) >= t.ttl {
			delete(t.jobs, id)
			t.tombstones[id] = now.Add(t.ttl)
			evicted++
		}
	}
	if evicted > 0 {
		t.logger.Info("Evicted stale video operations", zap.Int("count", evicted))
	}
	return evicted
}

// StartSweeper runs Sweep on the given cron schedule until StopSweeper.
func (t *Tracker) StartSweeper(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { t.Sweep() }); err != nil {
		return err
	}
	t.cron = c
	c.Start()
	t.logger.Info("Video sweep scheduled", zap.String("schedule", schedule), zap.Duration("ttl", t.ttl))
	return nil
}

// StopSweeper stops the schedule and waits for a running sweep.
func (t *Tracker) StopSweeper() {
	if t.cron == nil {
		return
	}
	<-t.cron.Stop().Done()
}
