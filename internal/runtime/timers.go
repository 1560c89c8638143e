package runtime

import (
	"sort"
	"sync"
	"time"
)

// TimerInfo describes an armed inactivity timer.
type TimerInfo struct {
	Conversation string    `json:"conversation_id"`
	NodeID       string    `json:"node_id"`
	Attempt      int       `json:"attempt"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type timerEntry struct {
	timer *time.Timer
	gen   uint64
	info  TimerInfo
}

// Timers keeps at most one inactivity timer per conversation. Every schedule gets a
// new generation so a callback that lost a race with Cancel can detect it is stale.
type Timers struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
	nextGen uint64
	stopped bool
}

// NewTimers creates an empty timer registry.
func NewTimers() *Timers {
	return &Timers{entries: make(map[string]*timerEntry)}
}

// Schedule replaces the conversation's timer with one that calls fn after delay.
func (t *Timers) Schedule(conversation, nodeID string, attempt int, delay time.Duration, fn func(gen uint64)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0
	}
	if old, ok := t.entries[conversation]; ok {
		old.timer.Stop()
	}

	t.nextGen++
	gen := t.nextGen
	now := time.Now()
	t.entries[conversation] = &timerEntry{
		timer: time.AfterFunc(delay, func() { fn(gen) }),
		gen:   gen,
		info: TimerInfo{
			Conversation: conversation,
			NodeID:       nodeID,
			Attempt:      attempt,
			ScheduledAt:  now,
			ExpiresAt:    now.Add(delay),
		},
	}
	return gen
}

// Claim removes the timer if gen is still the current generation.
// It reports false for stale callbacks.
func (t *Timers) Claim(conversation string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[conversation]
	if !ok || e.gen != gen {
		return false
	}
	delete(t.entries, conversation)
	return true
}

// Cancel stops the conversation's timer, if any.
func (t *Timers) Cancel(conversation string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[conversation]; ok {
		e.timer.Stop()
		delete(t.entries, conversation)
	}
}

// Armed reports whether the conversation has a pending timer.
func (t *Timers) Armed(conversation string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[conversation]
	return ok
}

// Active lists the pending timers sorted by expiry.
func (t *Timers) Active() []TimerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TimerInfo, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// Stop cancels every timer; later schedules are ignored.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		e.timer.Stop()
	}
	t.entries = make(map[string]*timerEntry)
	t.stopped = true
}
