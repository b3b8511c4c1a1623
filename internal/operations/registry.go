// Package operations tracks long-running background jobs such as async
// document ingestion.
//
// Operations live in memory and, when a NATS connection is configured, every
// state change is published to <prefix>.<operation_id>.<state>:
//
//	ragd.operations.0b6c....running
//	ragd.operations.0b6c....completed
package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotFound is returned for an unknown or expired operation ID.
var ErrNotFound = errors.New("operation not found")

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Operation is a snapshot of one job.
type Operation struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	Params    any       `json:"params,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultRetention is how long finished operations stay queryable.
const DefaultRetention = time.Hour

// DefaultSubjectPrefix is the NATS subject prefix for lifecycle events.
const DefaultSubjectPrefix = "ragd.operations"

// Option configures a Registry.
type Option func(*Registry)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// Registry stores operations and publishes their transitions.
type Registry struct {
	nc        *nats.Conn
	prefix    string
	retention time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	ops    map[string]*Operation
	timers map[string]*time.Timer
	closed bool
}

// NewRegistry creates a Registry. nc may be nil, in which case no events are
// published.
func NewRegistry(nc *nats.Conn, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		nc:        nc,
		prefix:    DefaultSubjectPrefix,
		retention: DefaultRetention,
		logger:    logger,
		ops:       make(map[string]*Operation),
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a pending operation and returns its ID. The user and
// request IDs are taken from ctx when present.
func (r *Registry) Create(ctx context.Context, kind string, params any) string {
	now := time.Now()
	op := &Operation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		Params:    params,
		UserID:    logging.UserIDFromContext(ctx),
		RequestID: logging.RequestIDFromContext(ctx),
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.ops[op.ID] = op
	snapshot := *op
	r.mu.Unlock()

	r.publish(snapshot)
	return op.ID
}

// Start marks an operation as running.
func (r *Registry) Start(id string) error {
	_, err := r.transition(id, func(op *Operation) {
		op.Status = StatusRunning
	})
	return err
}

// Complete marks an operation as completed with result.
func (r *Registry) Complete(id string, result any) error {
	_, err := r.transition(id, func(op *Operation) {
		op.Status = StatusCompleted
		op.Result = result
	})
	return err
}

// Fail marks an operation as failed. A partial result may accompany cause.
func (r *Registry) Fail(id string, cause error, result any) error {
	_, err := r.transition(id, func(op *Operation) {
		op.Status = StatusFailed
		op.Result = result
		if cause != nil {
			op.Error = cause.Error()
		}
	})
	return err
}

// Get returns a snapshot of the operation.
func (r *Registry) Get(id string) (Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *op, nil
}

// Len returns the number of tracked operations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// Close stops pending cleanups. The NATS connection is owned by the caller.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *Registry) transition(id string, apply func(*Operation)) (Operation, error) {
	r.mu.Lock()
	op, ok := r.ops[id]
	if !ok {
		r.mu.Unlock()
		return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if op.Status.Terminal() {
		status := op.Status
		r.mu.Unlock()
		return Operation{}, fmt.Errorf("operation %s already %s", id, status)
	}
	apply(op)
	op.UpdatedAt = time.Now()
	snapshot := *op
	if op.Status.Terminal() && !r.closed {
		r.timers[id] = time.AfterFunc(r.retention, func() { r.expire(id) })
	}
	r.mu.Unlock()

	r.publish(snapshot)
	return snapshot, nil
}

func (r *Registry) expire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ops, id)
	delete(r.timers, id)
}

// Subject returns the event subject for an operation state.
func (r *Registry) Subject(id string, status Status) string {
	return fmt.Sprintf("%s.%s.%s", r.prefix, id, status)
}

// publish sends a best-effort event; failures are logged, never returned.
func (r *Registry) publish(op Operation) {
	if r.nc == nil {
		return
	}
	data, err := json.Marshal(op)
	if err != nil {
		r.logger.Warn("marshal operation event", zap.String("operation_id", op.ID), zap.Error(err))
		return
	}
	subject := r.Subject(op.ID, op.Status)
	if err := r.nc.Publish(subject, data); err != nil {
		r.logger.Warn("publish operation event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}
	eventsPublished.WithLabelValues(string(op.Status)).Inc()
}

// Connect dials NATS with reconnect settings suited to a long-lived daemon.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("ragd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}
