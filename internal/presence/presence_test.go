package presence

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestTracker(ttl time.Duration) *Tracker {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	return NewTracker(logger, ttl)
}

func TestStatus(t *testing.T) {
	tr := newTestTracker(time.Second)

	assert.False(t, tr.Online("alice"))
	tr.SetStatus("alice", true)
	assert.True(t, tr.Online("alice"))
	tr.SetStatus("alice", false)
	assert.False(t, tr.Online("alice"))
}

func TestTypingExplicitStop(t *testing.T) {
	tr := newTestTracker(time.Second)
	topic := "post:p1"

	tr.SetTyping(topic, "alice", true)
	tr.SetTyping(topic, "bob", true)
	assert.Equal(t, []string{"alice", "bob"}, tr.Typing(topic))

	tr.SetTyping(topic, "alice", false)
	assert.Equal(t, []string{"bob"}, tr.Typing(topic))

	tr.SetTyping(topic, "bob", false)
	assert.Empty(t, tr.Typing(topic))
}

func TestTypingDecay(t *testing.T) {
	tr := newTestTracker(time.Second)
	topic := "post:p1"

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.SetTyping(topic, "alice", true)

	// without decay a lost typing=false would leave alice shown forever
	assert.Equal(t, []string{"alice"}, tr.Typing(topic))

	tr.now = func() time.Time { return base.Add(2 * time.Second) }
	assert.Empty(t, tr.Typing(topic))
}

func TestTypingDecayKeepsFreshEntries(t *testing.T) {
	tr := newTestTracker(time.Second)
	topic := "post:p1"

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.SetTyping(topic, "alice", true)

	tr.now = func() time.Time { return base.Add(900 * time.Millisecond) }
	tr.SetTyping(topic, "bob", true)

	tr.now = func() time.Time { return base.Add(1500 * time.Millisecond) }
	assert.Equal(t, []string{"bob"}, tr.Typing(topic))
}

func TestTypingStopUnknownTopicIsNoop(t *testing.T) {
	tr := newTestTracker(time.Second)
	tr.SetTyping("post:missing", "alice", false)
	assert.Empty(t, tr.Typing("post:missing"))
}
