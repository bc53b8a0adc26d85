package msglog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neo/debatematch_backend/internal/types"
)

func TestAppendGrowsLog(t *testing.T) {
	l := New()

	ok := l.Append(Message{Sender: types.SenderAgree, Text: "A1", TimestampMs: 1})
	assert.True(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestAppendDuplicateSenderAndTextIsDropped(t *testing.T) {
	l := New()

	l.Append(Message{Sender: types.SenderAgree, Text: "A1", TimestampMs: 1})
	ok := l.Append(Message{Sender: types.SenderAgree, Text: "A1", TimestampMs: 2})

	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestAppendSameTextDifferentSenderIsKept(t *testing.T) {
	l := New()

	l.Append(Message{Sender: types.SenderAgree, Text: "same text"})
	ok := l.Append(Message{Sender: types.SenderDisagree, Text: "same text"})

	assert.True(t, ok)
	assert.Equal(t, 2, l.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	l.Append(Message{Sender: types.SenderSystem, Text: "hello"})

	snap := l.Snapshot()
	snap[0].Text = "mutated"

	assert.Equal(t, "hello", l.Snapshot()[0].Text)
}
