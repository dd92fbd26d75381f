package client

import (
	"sort"
	"sync"
	"time"

	"github.com/rohandol112/tcetian-realtime/pkg/protocol"
)

// DefaultTypingTTL bounds how long a typing indicator survives without a
// follow-up signal.
const DefaultTypingTTL = 4 * time.Second

// TypingView maintains the set of users currently shown as typing per topic.
// The channel carrying typing signals has no delivery guarantee, so entries
// expire after a TTL: a lost typing=false degrades to nobody shown typing.
type TypingView struct {
	mu      sync.Mutex
	byTopic map[string]map[string]time.Time

	ttl time.Duration
	now func() time.Time
}

func NewTypingView(ttl time.Duration) *TypingView {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingView{
		byTopic: make(map[string]map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Observe folds one inbound typing signal into the view.
func (v *TypingView) Observe(sig protocol.TypingSignal) {
	if sig.Topic == "" || sig.UserID == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	users, ok := v.byTopic[sig.Topic]
	if !sig.IsTyping {
		if ok {
			delete(users, sig.UserID)
			if len(users) == 0 {
				delete(v.byTopic, sig.Topic)
			}
		}
		return
	}
	if !ok {
		users = make(map[string]time.Time)
		v.byTopic[sig.Topic] = users
	}
	users[sig.UserID] = v.now()
}

// Typing returns the users currently typing in a topic, expiring stale
// entries first. Sorted for stable rendering.
func (v *TypingView) Typing(topic string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	users, ok := v.byTopic[topic]
	if !ok {
		return nil
	}
	cutoff := v.now().Add(-v.ttl)
	out := make([]string, 0, len(users))
	for u, last := range users {
		if last.Before(cutoff) {
			delete(users, u)
			continue
		}
		out = append(out, u)
	}
	if len(users) == 0 {
		delete(v.byTopic, topic)
	}
	sort.Strings(out)
	return out
}
