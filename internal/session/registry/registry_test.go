package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

func newProc(id, sessionID string, state v1.SessionProcessState) *SessionProcess {
	now := time.Now()
	return &SessionProcess{
		ID:               id,
		ProjectID:        "proj-1",
		CWD:              "/tmp/proj",
		SessionID:        sessionID,
		State:            state,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
}

func TestRegistryUpsertAndGet(t *testing.T) {
	r := NewRegistry()

	proc := newProc("sp-1", "", v1.StateStarting)
	r.Upsert(proc)

	got, err := r.Get("sp-1")
	require.NoError(t, err)
	assert.Equal(t, "sp-1", got.ID)
	assert.Equal(t, v1.StateStarting, got.State)

	// Mutating the returned copy must not affect the stored record.
	got.State = v1.StateFailed
	again, err := r.Get("sp-1")
	require.NoError(t, err)
	assert.Equal(t, v1.StateStarting, again.State)
}

func TestRegistryGetNotFound(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistryActiveBySession(t *testing.T) {
	r := NewRegistry()

	r.Upsert(newProc("sp-1", "sess-a", v1.StateCompleted))
	r.Upsert(newProc("sp-2", "sess-a", v1.StateRunning))
	r.Upsert(newProc("sp-3", "sess-b", v1.StateWaitingPermission))

	active := r.ActiveBySession("sess-a")
	require.NotNil(t, active)
	assert.Equal(t, "sp-2", active.ID)

	assert.Nil(t, r.ActiveBySession("sess-missing"))
	assert.Nil(t, r.ActiveBySession(""))
}

func TestRegistryActiveBySessionIgnoresTerminal(t *testing.T) {
	r := NewRegistry()

	r.Upsert(newProc("sp-1", "sess-a", v1.StateAborted))
	r.Upsert(newProc("sp-2", "sess-a", v1.StateFailed))

	assert.Nil(t, r.ActiveBySession("sess-a"))
}

func TestRegistryActiveBySessionIgnoresPaused(t *testing.T) {
	r := NewRegistry()

	r.Upsert(newProc("sp-1", "sess-a", v1.StatePaused))

	assert.Nil(t, r.ActiveBySession("sess-a"))
}

func TestRegistryListByProject(t *testing.T) {
	r := NewRegistry()

	p1 := newProc("sp-1", "", v1.StateRunning)
	p2 := newProc("sp-2", "", v1.StateRunning)
	p2.ProjectID = "proj-2"
	r.Upsert(p1)
	r.Upsert(p2)

	got := r.ListByProject("proj-1")
	require.Len(t, got, 1)
	assert.Equal(t, "sp-1", got[0].ID)

	assert.Len(t, r.List(), 2)
}

func TestRegistryPruneTerminal(t *testing.T) {
	r := NewRegistry()

	old := newProc("sp-old", "", v1.StateCompleted)
	old.LastTransitionAt = time.Now().Add(-time.Hour)
	recent := newProc("sp-recent", "", v1.StateFailed)
	live := newProc("sp-live", "", v1.StateRunning)
	live.LastTransitionAt = time.Now().Add(-time.Hour)

	r.Upsert(old)
	r.Upsert(recent)
	r.Upsert(live)

	removed := r.PruneTerminal(time.Now().Add(-time.Minute))
	assert.Equal(t, 1, removed)

	_, err := r.Get("sp-old")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = r.Get("sp-recent")
	assert.NoError(t, err)
	_, err = r.Get("sp-live")
	assert.NoError(t, err)
}
