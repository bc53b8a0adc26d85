// Package msglog is the append-only per-match message sequence broadcast
// to a room's participants: system notices, the judge's narration, and
// each side's turns, deduplicated on (sender, text) so a resend never
// grows the log.
package msglog

import (
	"sync"

	"github.com/neo/debatematch_backend/internal/types"
)

// Message is one entry in the log.
type Message struct {
	Sender      types.Sender
	Text        string
	TimestampMs int64
}

// Log is an append-only, dedup-on-(sender,text) message sequence for one
// match. Safe for concurrent use, though in practice only the owning
// match goroutine ever calls Append.
type Log struct {
	mu       sync.Mutex
	messages []Message
	seen     map[string]struct{}
}

// New creates an empty Log.
func New() *Log {
	return &Log{
		seen: make(map[string]struct{}),
	}
}

func dedupeKey(sender types.Sender, text string) string {
	return string(sender) + "\x00" + text
}

// Append adds msg to the log unless an entry with the same (sender, text)
// already exists, in which case it is silently dropped. Returns true if
// the message was actually appended (the caller should broadcast
// messages_updated only in that case).
func (l *Log) Append(msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := dedupeKey(msg.Sender, msg.Text)
	if _, exists := l.seen[key]; exists {
		return false
	}

	l.seen[key] = struct{}{}
	l.messages = append(l.messages, msg)
	return true
}

// Snapshot returns a copy of the current message sequence.
func (l *Log) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the current number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
