package wizard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pfmt/internal/domain"
	"pfmt/internal/persist"
	"pfmt/internal/workflow"
)

const DefaultAutoSaveInterval = 30 * time.Second

var (
	// ErrSaving is returned when another save holds the storage.
	ErrSaving = errors.New("save already in progress")
	// ErrSaveFailed is returned when the persistence layer rejected a write.
	ErrSaveFailed = errors.New("wizard state could not be saved")
	// ErrDraftNotFound is returned for unknown or foreign draft ids.
	ErrDraftNotFound = errors.New("draft not found")
)

// SessionOptions tunes auto-save.
type SessionOptions struct {
	Interval      time.Duration
	OnlyWhenDirty bool
}

// Session binds a Store to a Persistence on behalf of one actor. Explicit
// saves and the auto-save ticker share one saving guard.
type Session struct {
	Store       *Store
	Persistence *persist.Persistence
	Actor       workflow.Actor
	Options     SessionOptions
	Log         zerolog.Logger

	saveMu   sync.Mutex
	saving   bool
	lastSave time.Time

	timerMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession returns a session saving only dirty state every 30s.
func NewSession(store *Store, p *persist.Persistence, actor workflow.Actor) *Session {
	return &Session{
		Store:       store,
		Persistence: p,
		Actor:       actor,
		Options:     SessionOptions{Interval: DefaultAutoSaveInterval, OnlyWhenDirty: true},
		Log:         log.Logger,
	}
}

func (s *Session) interval() time.Duration {
	if s.Options.Interval > 0 {
		return s.Options.Interval
	}
	return DefaultAutoSaveInterval
}

// Saving reports whether a save is running.
func (s *Session) Saving() bool {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saving
}

// LastSave returns the time of the last successful save.
func (s *Session) LastSave() time.Time {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.lastSave
}

func (s *Session) acquire() bool {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.saving {
		return false
	}
	s.saving = true
	return true
}

func (s *Session) release(ok bool) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.saving = false
	if ok {
		s.lastSave = s.Store.now()
	}
}

// SaveState snapshots the store into persistence.
func (s *Session) SaveState(ctx context.Context) error {
	if !s.acquire() {
		return ErrSaving
	}
	snap := s.Store.Snapshot(s.Actor.ID, string(s.Actor.Role))
	ok := s.Persistence.SaveState(ctx, snap, s.Actor.ID, string(s.Actor.Role))
	s.release(ok)
	if !ok {
		return ErrSaveFailed
	}
	return nil
}

// RestoreState applies the persisted snapshot when it belongs to the actor.
// A snapshot owned by someone else is ignored and the store is left
// untouched. It reports whether a snapshot was applied.
func (s *Session) RestoreState(ctx context.Context) bool {
	snap := s.Persistence.LoadState(ctx)
	if snap == nil {
		return false
	}
	if snap.UserID != s.Actor.ID {
		s.Log.Warn().Str("actor_id", s.Actor.ID).Msg("ignoring saved wizard state owned by another user")
		return false
	}
	s.Store.ApplySnapshot(*snap)
	if snap.ProjectID != "" {
		if err := s.Store.RefreshStatus(ctx); err != nil && !errors.Is(err, ErrStale) {
			s.Log.Warn().Err(err).Str("project_id", snap.ProjectID).Msg("restored state kept with cached status")
		}
	}
	s.Log.Info().Str("project_id", snap.ProjectID).Msg("wizard state restored")
	return true
}

// HasRecoverableState reports whether a snapshot for the actor is waiting.
func (s *Session) HasRecoverableState(ctx context.Context) bool {
	snap := s.Persistence.LoadState(ctx)
	return snap != nil && snap.UserID == s.Actor.ID
}

// ClearState drops the persisted snapshot.
func (s *Session) ClearState(ctx context.Context) bool {
	return s.Persistence.ClearState(ctx)
}

// SaveDraft stores the current wizard as a named draft. A blank name falls
// back to the project name.
func (s *Session) SaveDraft(ctx context.Context, name, description string) (domain.Draft, error) {
	if !s.acquire() {
		return domain.Draft{}, ErrSaving
	}
	snap := s.Store.Snapshot(s.Actor.ID, string(s.Actor.Role))
	if name = strings.TrimSpace(name); name == "" {
		name = strings.TrimSpace(snap.Initiation.Name)
	}
	d, ok := s.Persistence.SaveDraft(ctx, name, description, snap, s.Actor.ID, string(s.Actor.Role))
	s.release(ok)
	if !ok {
		return domain.Draft{}, ErrSaveFailed
	}
	return d, nil
}

// Drafts lists the actor's drafts, newest first.
func (s *Session) Drafts(ctx context.Context) []domain.Draft {
	return s.Persistence.LoadDrafts(ctx, s.Actor.ID)
}

// LoadDraft applies the actor's draft id to the store.
func (s *Session) LoadDraft(ctx context.Context, id string) (domain.Draft, error) {
	d := s.Persistence.LoadDraft(ctx, id)
	if d == nil || d.UserID != s.Actor.ID {
		return domain.Draft{}, ErrDraftNotFound
	}
	s.Store.ApplySnapshot(d.Snapshot)
	return *d, nil
}

// DeleteDraft removes the actor's draft id.
func (s *Session) DeleteDraft(ctx context.Context, id string) error {
	d := s.Persistence.LoadDraft(ctx, id)
	if d == nil || d.UserID != s.Actor.ID {
		return ErrDraftNotFound
	}
	if !s.Persistence.DeleteDraft(ctx, id) {
		return ErrSaveFailed
	}
	return nil
}

// Export returns the actor's backup document.
func (s *Session) Export(ctx context.Context) (string, bool) {
	return s.Persistence.ExportData(ctx, s.Actor.ID)
}

// Import restores a backup document produced for the same actor and applies
// the imported state, if any.
func (s *Session) Import(ctx context.Context, data string) bool {
	if !s.Persistence.ImportData(ctx, data, s.Actor.ID) {
		return false
	}
	s.RestoreState(ctx)
	return true
}

// Cleanup purges drafts and state older than maxAge.
func (s *Session) Cleanup(ctx context.Context, maxAge time.Duration) bool {
	return s.Persistence.Cleanup(ctx, maxAge)
}

// AutoSaveEnabled returns the persisted preference.
func (s *Session) AutoSaveEnabled(ctx context.Context) bool {
	return s.Persistence.AutoSaveEnabled(ctx)
}

// ToggleAutoSave flips the preference and returns the new value.
func (s *Session) ToggleAutoSave(ctx context.Context) bool {
	return s.SetAutoSave(ctx, !s.Persistence.AutoSaveEnabled(ctx))
}

// SetAutoSave stores the preference, stopping or restarting the ticker.
func (s *Session) SetAutoSave(ctx context.Context, enabled bool) bool {
	s.Persistence.SetAutoSaveEnabled(ctx, enabled)
	if enabled {
		s.StartAutoSave(ctx)
	} else {
		s.StopAutoSave()
	}
	return enabled
}

// StartAutoSave runs the auto-save ticker until ctx is done or StopAutoSave
// is called. A running ticker is replaced.
func (s *Session) StartAutoSave(ctx context.Context) {
	s.StopAutoSave()
	if !s.Persistence.AutoSaveEnabled(ctx) {
		return
	}
	tickCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.timerMu.Lock()
	s.cancel, s.done = cancel, done
	s.timerMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval())
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.AutoSaveTick(tickCtx)
			}
		}
	}()
}

// StopAutoSave cancels the ticker and waits for it to exit.
func (s *Session) StopAutoSave() {
	s.timerMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.timerMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// AutoSaveTick performs one auto-save check. It reports whether a save ran
// and succeeded.
func (s *Session) AutoSaveTick(ctx context.Context) bool {
	if !s.Persistence.AutoSaveEnabled(ctx) {
		return false
	}
	if s.Options.OnlyWhenDirty && !s.Store.HasUnsavedChanges() {
		return false
	}
	if s.Store.ProjectID() == "" && s.Store.Initiation().Name == "" {
		return false
	}
	if err := s.SaveState(ctx); err != nil {
		if !errors.Is(err, ErrSaving) {
			s.Log.Warn().Err(err).Msg("auto-save failed")
		}
		return false
	}
	s.Log.Debug().Msg("wizard auto-saved")
	return true
}
