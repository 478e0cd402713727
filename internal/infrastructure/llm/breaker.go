package llm

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject calls
	CircuitHalfOpen                     // Testing recovery
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after failureThreshold consecutive upstream failures
// and rejects calls until recoveryTimeout has passed. Then one probe call is
// let through; its outcome closes or re-opens the circuit.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	failureThreshold int
	recoveryTimeout  time.Duration
	openedAt         time.Time
	probing          bool

	now      func() time.Time
	onChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// OnStateChange registers a callback run (under the breaker lock) on every
// state change.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// Allow reports whether a call may go upstream. In half-open only one probe
// is in flight at a time.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.recoveryTimeout {
			return false
		}
		cb.setState(CircuitHalfOpen)
		cb.probing = true
		return true
	case CircuitHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.probing = false
	if cb.state != CircuitClosed {
		cb.setState(CircuitClosed)
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.probing = false

	switch {
	case cb.state == CircuitHalfOpen:
		cb.openedAt = cb.now()
		cb.setState(CircuitOpen)
	case cb.state == CircuitClosed && cb.failureCount >= cb.failureThreshold:
		cb.openedAt = cb.now()
		cb.setState(CircuitOpen)
	}
}

// Release gives back a probe slot without judging upstream health, e.g.
// when the caller went away mid-stream.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.probing = false
	if cb.state != CircuitClosed {
		cb.setState(CircuitClosed)
	}
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.onChange != nil && from != to {
		cb.onChange(from, to)
	}
}

// GuardedClient puts a CircuitBreaker in front of a GenerationClient.
// Failures of the upstream (not of the caller) count against the breaker;
// while it is open calls fail fast with ErrKindCircuitOpen.
type GuardedClient struct {
	inner   service.GenerationClient
	breaker *CircuitBreaker
	model   string
	logger  *zap.Logger
}

// NewGuardedClient wraps inner with breaker.
func NewGuardedClient(inner service.GenerationClient, breaker *CircuitBreaker, model string, logger *zap.Logger) *GuardedClient {
	g := &GuardedClient{inner: inner, breaker: breaker, model: model, logger: logger}
	breaker.OnStateChange(func(from, to CircuitState) {
		logger.Warn("Generation circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.String("model", model),
		)
	})
	return g
}

var _ service.GenerationClient = (*GuardedClient)(nil)

// Breaker exposes the underlying breaker for health reporting.
func (g *GuardedClient) Breaker() *CircuitBreaker { return g.breaker }

// Generate implements service.GenerationClient.
func (g *GuardedClient) Generate(ctx context.Context, message string, history []entity.HistoryEntry) (*service.GenerationResult, error) {
	if !g.breaker.Allow() {
		return nil, g.openError()
	}
	res, err := g.inner.Generate(ctx, message, history)
	g.settle(err)
	return res, err
}

// Stream implements service.GenerationClient.
func (g *GuardedClient) Stream(ctx context.Context, req service.GenerationRequest) service.GenerationStream {
	if !g.breaker.Allow() {
		return service.NewFailedStream(g.openError())
	}
	return &guardedStream{inner: g.inner.Stream(ctx, req), breaker: g.breaker}
}

// StreamWithFiles implements service.GenerationClient.
func (g *GuardedClient) StreamWithFiles(ctx context.Context, req service.GenerationRequest) service.GenerationStream {
	if !g.breaker.Allow() {
		return service.NewFailedStream(g.openError())
	}
	return &guardedStream{inner: g.inner.StreamWithFiles(ctx, req), breaker: g.breaker}
}

func (g *GuardedClient) openError() *service.UpstreamGenerationError {
	return &service.UpstreamGenerationError{
		Kind:    service.ErrKindCircuitOpen,
		Message: "generation service is temporarily unavailable",
		Model:   g.model,
	}
}

func (g *GuardedClient) settle(err error) {
	if err == nil {
		g.breaker.RecordSuccess()
		return
	}
	if ue, ok := service.AsUpstreamError(err); ok && !countsAgainstUpstream(ue) {
		g.breaker.Release()
		return
	}
	g.breaker.RecordFailure()
}

// countsAgainstUpstream reports whether the failure says something about
// upstream health.
func countsAgainstUpstream(ue *service.UpstreamGenerationError) bool {
	switch ue.Kind {
	case service.ErrKindCancelled, service.ErrKindBadRequest, service.ErrKindCircuitOpen:
		return false
	}
	return true
}

// guardedStream reports the outcome of a stream to the breaker exactly once.
type guardedStream struct {
	inner   service.GenerationStream
	breaker *CircuitBreaker
	settled bool
}

func (s *guardedStream) Recv() (service.StreamEvent, error) {
	ev, err := s.inner.Recv()
	if s.settled {
		return ev, err
	}
	switch {
	case errors.Is(err, io.EOF):
		s.settled = true
		s.breaker.RecordSuccess()
	case ev.Failure != nil:
		s.settled = true
		if countsAgainstUpstream(ev.Failure) {
			s.breaker.RecordFailure()
		} else {
			s.breaker.Release()
		}
	}
	return ev, err
}

func (s *guardedStream) Usage() service.Usage { return s.inner.Usage() }

func (s *guardedStream) Close() error {
	if !s.settled {
		// Abandoned before the end, most likely a client disconnect.
		s.settled = true
		s.breaker.Release()
	}
	return s.inner.Close()
}
