package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) Gateway {
	t.Helper()
	dir := t.TempDir()
	g, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGetProfileAutoCreatesDefault(t *testing.T) {
	g := newTestGateway(t)

	p, err := g.GetProfile("user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, float64(1500), p.Rating)
	assert.Equal(t, 0, p.Wins)
	assert.Equal(t, 0, p.Loses)
	assert.False(t, p.IsAdmin)

	again, err := g.GetProfile("user-1")
	require.NoError(t, err)
	assert.Equal(t, p.Rating, again.Rating)
}

func TestUpdateProfilePartial(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.GetProfile("user-2")
	require.NoError(t, err)

	newRating := 1512.37
	wins := 1
	err = g.UpdateProfile("user-2", ProfileUpdate{Rating: &newRating, Wins: &wins})
	require.NoError(t, err)

	p, err := g.GetProfile("user-2")
	require.NoError(t, err)
	assert.InDelta(t, 1512.37, p.Rating, 0.001)
	assert.Equal(t, 1, p.Wins)
	assert.Equal(t, 0, p.Loses)
}

func TestGetSubjectNotFound(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.GetSubject("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertMatchAndListSubjects(t *testing.T) {
	g := newTestGateway(t)

	sqg := g.(*sqliteGateway)
	_, err := sqg.db.Exec(`INSERT INTO subjects (id, title, body) VALUES (?, ?, ?)`, "s1", "Pineapple on pizza", "Is it ever acceptable?")
	require.NoError(t, err)

	subjects, err := g.ListSubjects()
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "Pineapple on pizza", subjects[0].Title)

	err = g.InsertMatch(MatchRecord{
		ID:          "m1",
		Player1:     "agree-user",
		Player2:     "disagree-user",
		SubjectID:   "s1",
		WinnerID:    "agree-user",
		LogJSON:     "[]",
		VerdictJSON: `{"winner":"agree"}`,
	})
	require.NoError(t, err)
}

type transientGateway struct{ Gateway }

func (transientGateway) ListSubjects() ([]*Subject, error) { return nil, ErrTransient }

func TestSubjectsFallsBackToBuiltinListOnTransientError(t *testing.T) {
	subjects, err := Subjects(transientGateway{})
	require.NoError(t, err)
	assert.Len(t, subjects, 5)
}

func TestSubjectsReturnsLiveDataOnceStoreRecovers(t *testing.T) {
	g := newTestGateway(t)
	sqg := g.(*sqliteGateway)
	_, err := sqg.db.Exec(`INSERT INTO subjects (id, title, body) VALUES (?, ?, ?)`, "s2", "Live topic", "body")
	require.NoError(t, err)

	subjects, err := Subjects(g)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "Live topic", subjects[0].Title)
}
