// Package presence tracks coarse online/offline status and transient typing
// signals. Everything here has weaker delivery guarantees than the room
// broadcasts: entries decay on a timeout so a lost typing=false degrades to
// "nobody shown typing" instead of a stuck indicator. Nothing is persisted
// and nothing here may influence authoritative counters.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Tracker struct {
	mu     sync.Mutex
	typing map[string]map[string]time.Time // topic -> userID -> last signal
	online map[string]struct{}

	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewTracker(logger *slog.Logger, typingTTL time.Duration) *Tracker {
	if typingTTL <= 0 {
		typingTTL = 4 * time.Second
	}
	return &Tracker{
		typing: make(map[string]map[string]time.Time),
		online: make(map[string]struct{}),
		ttl:    typingTTL,
		now:    time.Now,
		logger: logger.With(slog.String("component", "presence")),
	}
}

func (t *Tracker) SetStatus(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
	t.logger.Debug("status updated", slog.String("userID", userID), slog.Bool("online", online))
}

func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[userID]
	return ok
}

func (t *Tracker) SetTyping(topic, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.typing[topic]
	if !isTyping {
		if ok {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.typing, topic)
			}
		}
		return
	}
	if !ok {
		users = make(map[string]time.Time)
		t.typing[topic] = users
	}
	users[userID] = t.now()
}

// Typing returns the users currently typing in a topic, expiring stale
// entries first. Sorted for deterministic output.
func (t *Tracker) Typing(topic string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sweepTopicLocked(topic)
	users, ok := t.typing[topic]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Run sweeps expired typing entries in the background until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			for topic := range t.typing {
				t.sweepTopicLocked(topic)
			}
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) sweepTopicLocked(topic string) {
	users, ok := t.typing[topic]
	if !ok {
		return
	}
	cutoff := t.now().Add(-t.ttl)
	for u, last := range users {
		if last.Before(cutoff) {
			delete(users, u)
		}
	}
	if len(users) == 0 {
		delete(t.typing, topic)
	}
}
