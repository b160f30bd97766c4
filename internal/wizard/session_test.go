package wizard

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfmt/internal/auth"
	"pfmt/internal/domain"
	"pfmt/internal/persist"
	"pfmt/internal/workflow"
)

func newTestSession(t *testing.T, api *fakeAPI, actor workflow.Actor) (*Session, *persist.Persistence) {
	t.Helper()
	p := persist.New(persist.NewMemoryStorage())
	p.Log = zerolog.Nop()
	sess := NewSession(newTestStore(api), p, actor)
	sess.Log = zerolog.Nop()
	p.Now = time.Now
	sess.Store.Now = time.Now
	return sess, p
}

func TestRestoreRejectsOtherUser(t *testing.T) {
	api := &fakeAPI{}
	p := persist.New(persist.NewMemoryStorage())
	p.Log = zerolog.Nop()
	ctx := context.Background()
	require.True(t, p.SaveState(ctx, domain.StateSnapshot{
		ProjectID:  "p9",
		Initiation: domain.Initiation{Name: "Their project", Description: "secret"},
	}, "u2", "pm"))

	sess := NewSession(newTestStore(api), p, workflow.Actor{ID: "u1", Role: auth.PM})
	sess.Log = zerolog.Nop()
	sess.Store.SetInitiation(domain.Initiation{Name: "Mine"})
	before := sess.Store.Snapshot("u1", "pm")

	assert.False(t, sess.RestoreState(ctx))
	assert.False(t, sess.HasRecoverableState(ctx))
	after := sess.Store.Snapshot("u1", "pm")
	assert.Equal(t, before, after)
	assert.Empty(t, sess.Store.ProjectID())
	assert.Zero(t, api.statusCalls)
}

func TestSaveAndRestoreSameUser(t *testing.T) {
	api := &fakeAPI{status: domain.WorkflowState{WorkflowStatus: "assigned", AssignedPM: "u1"}}
	sess, p := newTestSession(t, api, workflow.Actor{ID: "u1", Role: auth.PM})
	ctx := context.Background()

	sess.Store.ApplySnapshot(domain.StateSnapshot{ProjectID: "p1", WorkflowStatus: "initiated"})
	sess.Store.SetOverview(domain.Overview{DetailedDescription: "restored text"})
	require.NoError(t, sess.SaveState(ctx))
	assert.False(t, sess.LastSave().IsZero())

	fresh := NewSession(newTestStore(api), p, sess.Actor)
	fresh.Log = zerolog.Nop()
	require.True(t, fresh.RestoreState(ctx))
	assert.Equal(t, "p1", fresh.Store.ProjectID())
	assert.Equal(t, "restored text", fresh.Store.Overview().DetailedDescription)
	assert.True(t, fresh.Store.IsDirty(domain.SectionOverview))
	assert.Equal(t, workflow.StatusAssigned, fresh.Store.Project().WorkflowStatus)
}

func TestAutoSaveTick(t *testing.T) {
	sess, p := newTestSession(t, &fakeAPI{}, workflow.Actor{ID: "u1", Role: auth.PMI})
	ctx := context.Background()

	assert.False(t, sess.AutoSaveTick(ctx), "nothing dirty")
	sess.Store.SetInitiation(domain.Initiation{Name: "New School"})
	assert.True(t, sess.AutoSaveTick(ctx))
	assert.True(t, p.HasRecoverableState(ctx))

	require.True(t, sess.acquire())
	assert.False(t, sess.AutoSaveTick(ctx), "explicit save holds the guard")
	assert.ErrorIs(t, sess.SaveState(ctx), ErrSaving)
	sess.release(false)

	require.True(t, p.SetAutoSaveEnabled(ctx, false))
	assert.False(t, sess.AutoSaveTick(ctx))
}

func TestAutoSaveTicker(t *testing.T) {
	sess, p := newTestSession(t, &fakeAPI{}, workflow.Actor{ID: "u1", Role: auth.PMI})
	sess.Options.Interval = 10 * time.Millisecond
	ctx := context.Background()
	sess.Store.SetInitiation(domain.Initiation{Name: "New School"})

	sess.StartAutoSave(ctx)
	require.Eventually(t, func() bool { return p.HasRecoverableState(ctx) }, time.Second, 5*time.Millisecond)

	assert.False(t, sess.ToggleAutoSave(ctx))
	require.True(t, p.ClearState(ctx))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, p.HasRecoverableState(ctx), "stopped ticker does not save")

	assert.True(t, sess.ToggleAutoSave(ctx))
	require.Eventually(t, func() bool { return p.HasRecoverableState(ctx) }, time.Second, 5*time.Millisecond)
	sess.StopAutoSave()
}

func TestDraftsThroughSession(t *testing.T) {
	sess, p := newTestSession(t, &fakeAPI{}, workflow.Actor{ID: "u1", Role: auth.PMI})
	ctx := context.Background()
	sess.Store.SetInitiation(domain.Initiation{Name: "Draft me", Description: "d"})

	d, err := sess.SaveDraft(ctx, "first", "desc")
	require.NoError(t, err)
	assert.Len(t, sess.Drafts(ctx), 1)

	sess.Store.Reset()
	got, err := sess.LoadDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, "Draft me", sess.Store.Initiation().Name)
	assert.True(t, sess.Store.IsDirty(domain.SectionInitiation))

	foreign, ok := p.SaveDraft(ctx, "theirs", "", domain.StateSnapshot{}, "u2", "pm")
	require.True(t, ok)
	_, err = sess.LoadDraft(ctx, foreign.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
	assert.ErrorIs(t, sess.DeleteDraft(ctx, foreign.ID), ErrDraftNotFound)

	require.NoError(t, sess.DeleteDraft(ctx, d.ID))
	assert.Empty(t, sess.Drafts(ctx))
}

func TestDraftNameDefaultsToProjectName(t *testing.T) {
	sess, _ := newTestSession(t, &fakeAPI{}, workflow.Actor{ID: "u1", Role: auth.PMI})
	ctx := context.Background()
	sess.Store.SetInitiation(domain.Initiation{Name: "New School", Description: "d"})

	d, err := sess.SaveDraft(ctx, "  ", "")
	require.NoError(t, err)
	assert.Equal(t, "New School", d.Name)

	d, err = sess.SaveDraft(ctx, "mine", "")
	require.NoError(t, err)
	assert.Equal(t, "mine", d.Name)
}

func TestSessionExportImport(t *testing.T) {
	sess, _ := newTestSession(t, &fakeAPI{}, workflow.Actor{ID: "u1", Role: auth.PMI})
	ctx := context.Background()
	sess.Store.SetInitiation(domain.Initiation{Name: "Backup", Description: "d"})
	require.NoError(t, sess.SaveState(ctx))

	doc, ok := sess.Export(ctx)
	require.True(t, ok)

	other, _ := newTestSession(t, &fakeAPI{}, workflow.Actor{ID: "u2", Role: auth.PM})
	assert.False(t, other.Import(ctx, doc))
	assert.Empty(t, other.Store.Initiation().Name)

	again, _ := newTestSession(t, &fakeAPI{}, workflow.Actor{ID: "u1", Role: auth.PMI})
	require.True(t, again.Import(ctx, doc))
	assert.Equal(t, "Backup", again.Store.Initiation().Name)
}
