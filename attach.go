package hookscan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// AttachRequest describes one scan-and-hook operation.
type AttachRequest struct {
	// ID names the resulting hook in the registry.
	ID string
	// Region is the module image to scan.
	Region ModuleRegion
	// Pattern locates the target function.
	Pattern *Pattern
	// Replacement is the address control transfers to once the hook is
	// enabled.
	Replacement uintptr
	// Adjust is added to the match address to reach the actual patch
	// site, for signatures that anchor on a nearby landmark rather than
	// the function entry itself.
	Adjust int64
	// Ready, when non-nil, gates the attach: the sequencer waits for the
	// channel to close before scanning. Use it to hold off until the
	// target module has finished initializing.
	Ready <-chan struct{}
	// Timeout bounds the wait on Ready. Zero means do not wait at all:
	// if Ready is non-nil and not yet closed, Attach fails immediately
	// with ErrModuleNotLoaded.
	Timeout time.Duration
}

// Sequencer drives the full attach pipeline: wait for module readiness,
// scan for the signature, resolve the patch address, and install the hook.
// Each step's failure mode maps to a distinct sentinel error so callers can
// decide between retrying and giving up.
type Sequencer struct {
	scanner  *Scanner
	registry *Registry
	acc      Accessor
	sink     Sink
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithSequencerSink routes attach diagnostics to sink.
func WithSequencerSink(sink Sink) SequencerOption {
	return func(s *Sequencer) { s.sink = sink }
}

// NewSequencer returns a Sequencer that scans with scanner and installs
// through registry. acc must be the same accessor both were built on.
func NewSequencer(scanner *Scanner, registry *Registry, acc Accessor, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		scanner:  scanner,
		registry: registry,
		acc:      acc,
		sink:     NopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach runs one attach attempt for req and returns the installed hook.
// The hook is installed but not enabled; call Registry.Enable to activate
// it.
//
// No memory is written unless every preceding step succeeded: a readiness
// timeout or a failed scan leaves the target untouched.
func (s *Sequencer) Attach(ctx context.Context, req AttachRequest) (*Hook, error) {
	if req.Pattern == nil {
		return nil, fmt.Errorf("attach %q: nil pattern", req.ID)
	}

	if err := s.waitReady(ctx, req); err != nil {
		return nil, err
	}

	offset, found, err := s.scanner.Find(req.Region, req.Pattern)
	if err != nil {
		return nil, fmt.Errorf("attach %q: %w", req.ID, err)
	}
	if !found {
		return nil, fmt.Errorf("attach %q: pattern %s: %w", req.ID, req.Pattern, ErrSignatureNotFound)
	}

	target := req.Region.Base + uintptr(int64(offset)+req.Adjust)
	if !s.acc.ValidatePointer(req.Region, target) {
		return nil, fmt.Errorf("attach %q: adjusted address %#x: %w", req.ID, target, ErrOutOfBounds)
	}

	s.emit(SeverityDebug, fmt.Sprintf("attach %q resolved target %#x (match offset %#x, adjust %d)", req.ID, target, offset, req.Adjust), target)

	h, err := s.registry.Install(req.ID, req.Region, target, req.Replacement)
	if err != nil {
		return nil, fmt.Errorf("attach %q: %w", req.ID, err)
	}
	return h, nil
}

func (s *Sequencer) waitReady(ctx context.Context, req AttachRequest) error {
	if req.Ready == nil {
		return nil
	}

	if req.Timeout == 0 {
		select {
		case <-req.Ready:
			return nil
		default:
			return fmt.Errorf("attach %q: readiness not signaled: %w", req.ID, ErrModuleNotLoaded)
		}
	}

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()
	select {
	case <-req.Ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("attach %q: readiness wait expired after %s: %w", req.ID, req.Timeout, ErrModuleNotLoaded)
	case <-ctx.Done():
		return fmt.Errorf("attach %q: %w", req.ID, ctx.Err())
	}
}

// AttachRetry calls seq.Attach up to attempts times, backing off
// exponentially from baseDelay with full jitter between tries. Only
// transient outcomes are retried: a signature that was not found yet, or a
// module that has not loaded yet. Anything else, an accessor fault or an
// install conflict, fails immediately.
//
// The scan cache entry for req.Region is invalidated before each retry;
// without that the cached negative result would make every subsequent
// attempt a no-op.
func AttachRetry(ctx context.Context, seq *Sequencer, req AttachRequest, attempts int, baseDelay time.Duration) (*Hook, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			seq.scanner.Invalidate(req.Region)

			delay := jitteredBackoff(baseDelay, i)
			seq.emit(SeverityDebug, fmt.Sprintf("attach %q retry %d/%d in %s", req.ID, i, attempts-1, delay), 0)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("attach %q: %w", req.ID, ctx.Err())
			}
		}

		h, err := seq.Attach(ctx, req)
		if err == nil {
			return h, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("attach %q: giving up after %d attempts: %w", req.ID, attempts, lastErr)
}

func retryable(err error) bool {
	return errors.Is(err, ErrSignatureNotFound) || errors.Is(err, ErrModuleNotLoaded)
}

// jitteredBackoff returns base * 2^(attempt-1) scaled by a random factor in
// [0, 1), capped at 30 seconds before jitter.
func jitteredBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << (attempt - 1)
	if d > 30*time.Second || d < base {
		d = 30 * time.Second
	}
	return time.Duration(rand.Float64() * float64(d))
}

// PreambleReady polls until the bytes at offset off in r equal want, then
// closes the returned channel. Use it as AttachRequest.Ready when the target
// module patches its own entry points during startup and the signature is
// only stable afterwards.
//
// Polling stops when ctx is cancelled; the channel is never closed in that
// case.
func PreambleReady(ctx context.Context, acc Accessor, r ModuleRegion, off uint64, want []byte, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ready := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			buf, err := acc.Read(r, off, uint64(len(want)))
			if err == nil && bytes.Equal(buf, want) {
				close(ready)
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ready
}

func (s *Sequencer) emit(sev Severity, msg string, addr uintptr) {
	s.sink.Emit(Event{
		Time:      time.Now(),
		Component: "sequencer",
		Severity:  sev,
		Message:   msg,
		Addr:      addr,
	})
}
