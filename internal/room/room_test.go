package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo/debatematch_backend/internal/store"
	"github.com/neo/debatematch_backend/internal/types"
)

var testProfile = &store.Profile{Rating: 1500}

func TestCreateRoomCreatorIsPlayerWhenNotAdmin(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	require.Len(t, r.Participants, 1)
	assert.Equal(t, types.RolePlayer, r.Participants[0].Role)
	assert.False(t, r.BattleStarted)
}

func TestCreateRoomCreatorIsRefereeWhenAdmin(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("admin1", "Mod", true, store.Subject{ID: "s1"}, testProfile)

	assert.Equal(t, types.RoleReferee, r.Participants[0].Role)
	assert.True(t, r.HasReferee)
}

func TestJoinRoomSecondUserIsPlayerThirdIsSpectator(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	r2, err := reg.JoinRoom(r.RoomID, "conn2", "u2", "Bob", testProfile)
	require.NoError(t, err)
	assert.Equal(t, types.RolePlayer, r2.findParticipant("u2").Role)

	r3, err := reg.JoinRoom(r.RoomID, "conn3", "u3", "Carl", testProfile)
	require.NoError(t, err)
	assert.Equal(t, types.RoleSpectator, r3.findParticipant("u3").Role)
}

func TestJoinRoomRejectsWhenBattleStarted(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)
	reg.JoinRoom(r.RoomID, "conn2", "u2", "Bob", testProfile)
	reg.ToggleReady(r.RoomID, "u1")
	reg.ToggleReady(r.RoomID, "u2")

	_, err := reg.JoinRoom(r.RoomID, "conn3", "u3", "Carl", testProfile)
	assert.ErrorIs(t, err, ErrBattleStarted)
}

func TestJoinRoomRejoinRefreshesConnectionIDWithoutDuplicating(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	r2, err := reg.JoinRoom(r.RoomID, "conn-new", "u1", "Alice", testProfile)
	require.NoError(t, err)
	require.Len(t, r2.Participants, 1)
	assert.Equal(t, "conn-new", r2.Participants[0].ConnectionID)
}

func TestToggleReadyStartsBattleAtTwoReadyPlayers(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)
	reg.JoinRoom(r.RoomID, "conn2", "u2", "Bob", testProfile)

	_, started, err := reg.ToggleReady(r.RoomID, "u1")
	require.NoError(t, err)
	assert.False(t, started)

	_, started, err = reg.ToggleReady(r.RoomID, "u2")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestToggleReadyFillsUnsetPositionsInJoinOrder(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)
	reg.JoinRoom(r.RoomID, "conn2", "u2", "Bob", testProfile)

	reg.ToggleReady(r.RoomID, "u1")
	r2, _, err := reg.ToggleReady(r.RoomID, "u2")
	require.NoError(t, err)

	assert.Equal(t, types.PositionAgree, r2.Participants[0].Position)
	assert.Equal(t, types.PositionDisagree, r2.Participants[1].Position)
}

func TestToggleReadyFillsComplementWhenOnePositionAlreadyChosen(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)
	reg.JoinRoom(r.RoomID, "conn2", "u2", "Bob", testProfile)
	reg.SelectPosition(r.RoomID, "u1", types.PositionDisagree)

	reg.ToggleReady(r.RoomID, "u1")
	r2, _, err := reg.ToggleReady(r.RoomID, "u2")
	require.NoError(t, err)

	assert.Equal(t, types.PositionDisagree, r2.Participants[0].Position)
	assert.Equal(t, types.PositionAgree, r2.Participants[1].Position)
}

func TestSelectPositionTogglesOffOnReselect(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	r2, err := reg.SelectPosition(r.RoomID, "u1", types.PositionAgree)
	require.NoError(t, err)
	assert.Equal(t, types.PositionAgree, r2.findParticipant("u1").Position)

	r3, err := reg.SelectPosition(r.RoomID, "u1", types.PositionAgree)
	require.NoError(t, err)
	assert.Equal(t, types.PositionUnset, r3.findParticipant("u1").Position)
}

func TestSelectPositionRejectsNonPlayer(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("admin1", "Mod", true, store.Subject{ID: "s1"}, testProfile)

	_, err := reg.SelectPosition(r.RoomID, "admin1", types.PositionAgree)
	assert.ErrorIs(t, err, ErrNotAPlayer)
}

func TestSelectRoleRefereeRequiresAdmin(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	_, err := reg.SelectRole(r.RoomID, "u1", types.RoleReferee, false)
	assert.ErrorIs(t, err, ErrRefereeNotAdmin)

	r2, err := reg.SelectRole(r.RoomID, "u1", types.RoleReferee, true)
	require.NoError(t, err)
	assert.Equal(t, types.RoleReferee, r2.findParticipant("u1").Role)
}

func TestLeaveRoomDeletesWhenEmpty(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	_, emptied, err := reg.LeaveRoom(r.RoomID, "u1")
	require.NoError(t, err)
	assert.True(t, emptied)

	_, ok := reg.Get(r.RoomID)
	assert.False(t, ok)
}

func TestLeaveRoomResetsReadinessWhenNotEmpty(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)
	reg.JoinRoom(r.RoomID, "conn2", "u2", "Bob", testProfile)
	reg.ToggleReady(r.RoomID, "u2")

	r2, emptied, err := reg.LeaveRoom(r.RoomID, "u1")
	require.NoError(t, err)
	assert.False(t, emptied)
	assert.False(t, r2.findParticipant("u2").IsReady)
}

func TestMarkDiscussionViewReadySetsFlagOnParticipant(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	r2, err := reg.MarkDiscussionViewReady(r.RoomID, "u1")
	require.NoError(t, err)
	assert.True(t, r2.findParticipant("u1").DiscussionViewReady)
}

func TestMarkDiscussionViewReadyUnknownUserErrors(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	_, err := reg.MarkDiscussionViewReady(r.RoomID, "nobody")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestFindByUser(t *testing.T) {
	reg := NewRegistry()
	r := reg.CreateRoom("u1", "Alice", false, store.Subject{ID: "s1"}, testProfile)

	found, ok := reg.FindByUser("u1")
	require.True(t, ok)
	assert.Equal(t, r.RoomID, found.RoomID)

	_, ok = reg.FindByUser("nobody")
	assert.False(t, ok)
}
