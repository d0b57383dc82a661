package acp

import (
	"sync"
	"time"
)

// activeCall tracks one in-flight tool call's timeout timer: just what
// Backend needs to police a call's lifetime.
type activeCall struct {
	toolName string
	started  time.Time
	timer    *time.Timer
}

// CallTracker is the mutex-guarded map of in-flight tool calls, owning
// per-call timeout timers whose duration comes from
// Hooks.GetToolCallTimeout. The tracker does not call
// Hooks.IsInvestigationTool itself; a Hooks implementation such as
// NamedAgentHooks lengthens the timeout for investigation tools.
type CallTracker struct {
	mu      sync.Mutex
	calls   map[string]*activeCall
	hooks   Hooks
	onStale func(callID, toolName string)
}

// NewCallTracker builds a tracker that invokes onStale when a call's
// timeout fires before Stop is called for it.
func NewCallTracker(hooks Hooks, onStale func(callID, toolName string)) *CallTracker {
	if hooks == nil {
		hooks = DefaultHooks{}
	}
	return &CallTracker{
		calls:   make(map[string]*activeCall),
		hooks:   hooks,
		onStale: onStale,
	}
}

// Start begins tracking a call and arms its timeout timer. kind is the
// raw sessionUpdate "kind" field, passed to Hooks.GetToolCallTimeout to
// resolve the per-call timeout.
func (t *CallTracker) Start(callID, toolName, kind string) {
	timeout := t.hooks.GetToolCallTimeout(callID, kind)

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.calls[callID]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	call := &activeCall{toolName: toolName, started: time.Now()}
	call.timer = time.AfterFunc(timeout, func() {
		t.mu.Lock()
		_, stillActive := t.calls[callID]
		delete(t.calls, callID)
		t.mu.Unlock()
		if stillActive && t.onStale != nil {
			t.onStale(callID, toolName)
		}
	})
	t.calls[callID] = call
}

// Stop disarms a call's timeout timer and stops tracking it. Safe to call
// for an unknown or already-stopped call id.
func (t *CallTracker) Stop(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[callID]
	if !ok {
		return
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	delete(t.calls, callID)
}

// IsActive reports whether callID is currently tracked.
func (t *CallTracker) IsActive(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[callID]
	return ok
}

// Active reports the ids of all calls currently tracked.
func (t *CallTracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.calls))
	for id := range t.calls {
		ids = append(ids, id)
	}
	return ids
}

// Count reports the number of calls currently tracked.
func (t *CallTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// StopAll disarms every tracked call's timer, used on session teardown so
// no stale timer fires after the Backend that owns it is gone.
func (t *CallTracker) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, call := range t.calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		delete(t.calls, id)
	}
}

// IdleTimer fires onIdle after d has elapsed with no Reset call, modeling
// the quiet-interval-after-last-chunk idle status transition. Each Reset
// both rearms the timer and, implicitly, marks the session as no longer
// idle from the caller's perspective.
type IdleTimer struct {
	mu     sync.Mutex
	timer  *time.Timer
	d      time.Duration
	onIdle func()
}

// NewIdleTimer creates a disarmed IdleTimer; call Reset to arm it.
func NewIdleTimer(d time.Duration, onIdle func()) *IdleTimer {
	return &IdleTimer{d: d, onIdle: onIdle}
}

// Reset (re)arms the timer for another d.
func (it *IdleTimer) Reset() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.timer != nil {
		it.timer.Stop()
	}
	it.timer = time.AfterFunc(it.d, func() {
		if it.onIdle != nil {
			it.onIdle()
		}
	})
}

// Stop disarms the timer. Safe to call on an already-disarmed timer.
func (it *IdleTimer) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
}
