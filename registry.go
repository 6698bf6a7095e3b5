package hookscan

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Hook is one tracked redirection. Its identity is the id it was installed
// under; the target address is resolved once and never changes. The registry
// owns all mutable hook state; callers hold a *Hook only to query it.
//
// The state field is atomic so it can be read without the hook lock;
// transitions still happen one at a time under mu.
type Hook struct {
	mu       sync.Mutex
	id       string
	region   ModuleRegion
	addr     uintptr
	state    atomic.Int32
	original []byte // bytes at the site before the patch
	patched  []byte // bytes at the site after a successful install
	handle   PatchHandle
}

// ID returns the hook's identifier.
func (h *Hook) ID() string { return h.id }

// Target returns the absolute address the hook redirects.
func (h *Hook) Target() uintptr { return h.addr }

// State returns the hook's current lifecycle state.
func (h *Hook) State() HookState {
	return HookState(h.state.Load())
}

func (h *Hook) setState(s HookState) {
	h.state.Store(int32(s))
}

// Registry is the single source of truth for hook lifecycle. It guarantees
// at most one live install per target address and serializes transitions per
// hook, so concurrent callers cannot race a hook into an inconsistent state.
// Unrelated hooks do not serialize against each other: the registry lock
// only guards the maps, and each hook transitions under its own lock.
type Registry struct {
	acc     Accessor
	patcher Patcher
	sink    Sink

	mu     sync.Mutex
	hooks  map[string]*Hook
	byAddr map[uintptr]string // live installs only
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistrySink routes hook transition events to sink.
func WithRegistrySink(sink Sink) RegistryOption {
	return func(r *Registry) { r.sink = sink }
}

// NewRegistry returns a Registry that snapshots and restores through acc and
// delegates code rewriting to p.
func NewRegistry(acc Accessor, p Patcher, opts ...RegistryOption) *Registry {
	r := &Registry{
		acc:     acc,
		patcher: p,
		sink:    NopSink{},
		hooks:   make(map[string]*Hook),
		byAddr:  make(map[uintptr]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install snapshots the bytes at addr, asks the patcher to write the
// redirect to replacement, and records the hook as Installed. It fails with
// ErrAlreadyInstalled if id or addr already has a non-terminal hook. If the
// patcher fails, the snapshot is written back so no partial redirect is left
// in memory, and the hook is recorded as Failed.
func (r *Registry) Install(id string, region ModuleRegion, addr uintptr, replacement uintptr) (*Hook, error) {
	if !r.acc.ValidatePointer(region, addr) {
		return nil, fmt.Errorf("install %q: target %#x: %w", id, addr, ErrOutOfBounds)
	}

	h := &Hook{id: id, region: region, addr: addr}

	// Reserve both keys before the slow work so a concurrent install on
	// the same id or address fails fast instead of double-hooking.
	r.mu.Lock()
	if prev, ok := r.hooks[id]; ok && !prev.State().Terminal() {
		r.mu.Unlock()
		return nil, fmt.Errorf("install %q: id in use: %w", id, ErrAlreadyInstalled)
	}
	if owner, ok := r.byAddr[addr]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("install %q: target %#x already hooked by %q: %w", id, addr, owner, ErrAlreadyInstalled)
	}
	h.mu.Lock()
	r.hooks[id] = h
	r.byAddr[addr] = id
	r.mu.Unlock()
	defer h.mu.Unlock()

	fail := func(err error) (*Hook, error) {
		h.setState(StateFailed)
		r.releaseAddr(addr)
		r.emit(SeverityError, id, addr, fmt.Sprintf("install failed: %v", err))
		return nil, err
	}

	size, err := r.patcher.SiteSize(region, addr)
	if err != nil {
		return fail(fmt.Errorf("install %q at %#x: sizing site: %w: %w", id, addr, ErrInstallFailed, err))
	}

	off := uint64(addr - region.Base)
	original, err := r.acc.Read(region, off, uint64(size))
	if err != nil {
		return fail(fmt.Errorf("install %q at %#x: snapshot: %w", id, addr, err))
	}

	handle, err := r.patcher.Install(region, addr, replacement)
	if err != nil {
		// Undo whatever the patcher managed to write before it gave up.
		if werr := r.acc.Write(region, off, original); werr != nil {
			r.emit(SeverityError, id, addr, fmt.Sprintf("restore after failed install: %v", werr))
		}
		return fail(fmt.Errorf("install %q at %#x: %w: %w", id, addr, ErrInstallFailed, err))
	}

	patched, err := r.acc.Read(region, off, uint64(size))
	if err != nil {
		if uerr := r.patcher.Uninstall(handle); uerr != nil {
			r.emit(SeverityError, id, addr, fmt.Sprintf("uninstall after failed readback: %v", uerr))
		}
		if werr := r.acc.Write(region, off, original); werr != nil {
			r.emit(SeverityError, id, addr, fmt.Sprintf("restore after failed readback: %v", werr))
		}
		return fail(fmt.Errorf("install %q at %#x: patched readback: %w", id, addr, err))
	}

	h.original = original
	h.patched = patched
	h.handle = handle
	h.setState(StateInstalled)
	r.emit(SeverityInfo, id, addr, "uninstalled -> installed")
	return h, nil
}

// Enable re-applies the redirect on a Disabled hook. Enabling an Installed
// or already-Enabled hook only advances the state: the redirect is active in
// both. Fails with ErrInvalidState from any other state.
func (r *Registry) Enable(id string) error {
	h, err := r.lookup(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.State() {
	case StateEnabled:
		return nil
	case StateInstalled:
		from := h.State()
		h.setState(StateEnabled)
		r.emit(SeverityInfo, id, h.addr, from.String()+" -> enabled")
		return nil
	case StateDisabled:
		off := uint64(h.addr - h.region.Base)
		if err := r.acc.Write(h.region, off, h.patched); err != nil {
			h.setState(StateFailed)
			r.releaseAddr(h.addr)
			r.emit(SeverityError, id, h.addr, fmt.Sprintf("enable failed: %v", err))
			return fmt.Errorf("enable %q: %w", id, err)
		}
		h.setState(StateEnabled)
		r.emit(SeverityInfo, id, h.addr, "disabled -> enabled")
		return nil
	default:
		return fmt.Errorf("enable %q from %s: %w", id, h.State(), ErrInvalidState)
	}
}

// Disable restores the original bytes at the target without discarding the
// snapshot or the patch handle, so the hook can be re-enabled later. Fails
// with ErrInvalidState on a Removed or Failed hook.
func (r *Registry) Disable(id string) error {
	h, err := r.lookup(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.State() {
	case StateDisabled:
		return nil
	case StateInstalled, StateEnabled:
		from := h.State()
		off := uint64(h.addr - h.region.Base)
		if err := r.acc.Write(h.region, off, h.original); err != nil {
			h.setState(StateFailed)
			r.releaseAddr(h.addr)
			r.emit(SeverityError, id, h.addr, fmt.Sprintf("disable failed: %v", err))
			return fmt.Errorf("disable %q: %w", id, err)
		}
		h.setState(StateDisabled)
		r.emit(SeverityInfo, id, h.addr, from.String()+" -> disabled")
		return nil
	default:
		return fmt.Errorf("disable %q from %s: %w", id, h.State(), ErrInvalidState)
	}
}

// Remove restores the original bytes if the redirect is still active,
// releases the patch handle and marks the hook Removed. Removing an
// already-Removed or Failed hook is a no-op success, so shutdown cleanup can
// race with explicit removal without spurious errors.
func (r *Registry) Remove(id string) error {
	h, err := r.lookup(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State().Terminal() {
		return nil
	}

	from := h.State()
	if from.active() {
		off := uint64(h.addr - h.region.Base)
		if err := r.acc.Write(h.region, off, h.original); err != nil {
			h.setState(StateFailed)
			r.releaseAddr(h.addr)
			r.emit(SeverityError, id, h.addr, fmt.Sprintf("remove restore failed: %v", err))
			return fmt.Errorf("remove %q: restore: %w", id, err)
		}
	}

	if h.handle != nil {
		if err := r.patcher.Uninstall(h.handle); err != nil {
			h.setState(StateFailed)
			r.releaseAddr(h.addr)
			r.emit(SeverityError, id, h.addr, fmt.Sprintf("remove failed: %v", err))
			return fmt.Errorf("remove %q at %#x: %w: %w", id, h.addr, ErrRemoveFailed, err)
		}
		h.handle = nil
	}

	h.setState(StateRemoved)
	r.releaseAddr(h.addr)
	r.emit(SeverityInfo, id, h.addr, from.String()+" -> removed")
	return nil
}

// Lookup returns the hook registered under id, if any.
func (r *Registry) Lookup(id string) (*Hook, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	return h, ok
}

// RemoveAll removes every registered hook, collecting errors. Meant for
// shutdown paths; already-terminal hooks are skipped silently.
func (r *Registry) RemoveAll() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.hooks))
	for id := range r.hooks {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.Remove(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) lookup(id string) (*Hook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	if !ok {
		return nil, fmt.Errorf("unknown hook %q: %w", id, ErrInvalidState)
	}
	return h, nil
}

// releaseAddr frees the target-address reservation once a hook goes
// terminal, so a fresh hook may claim the address.
func (r *Registry) releaseAddr(addr uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byAddr, addr)
}

func (r *Registry) emit(sev Severity, id string, addr uintptr, msg string) {
	r.sink.Emit(Event{
		Time:      time.Now(),
		Component: "registry",
		Severity:  sev,
		Message:   msg,
		HookID:    id,
		Addr:      addr,
	})
}
