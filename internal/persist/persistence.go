package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pfmt/internal/domain"
)

const (
	KeyState             = "wizard_state"
	KeyMetadata          = "wizard_metadata"
	KeyDrafts            = "wizard_drafts"
	KeyAutoSaveEnabled   = "wizard_autosave_enabled"
	KeyLastActiveProject = "wizard_last_active_project"

	Version          = "1.0.0"
	DefaultMaxDrafts = 10
	DefaultTTL       = 2 * time.Hour
)

// Keys lists every key the persistence layer owns.
func Keys() []string {
	return []string{KeyState, KeyMetadata, KeyDrafts, KeyAutoSaveEnabled, KeyLastActiveProject}
}

// Persistence snapshots wizard state into a Storage. No method returns an
// error: failures are logged as StorageError and reported as false/nil.
type Persistence struct {
	Storage   Storage
	Log       zerolog.Logger
	Now       func() time.Time
	TTL       time.Duration
	MaxDrafts int
	SessionID string
	// AutoSaveDefault applies until the actor stores a preference.
	AutoSaveDefault bool
}

// New returns a Persistence with the default TTL and draft cap.
func New(storage Storage) *Persistence {
	return &Persistence{
		Storage:   storage,
		Log:       log.Logger,
		Now:       time.Now,
		TTL:       DefaultTTL,
		MaxDrafts: DefaultMaxDrafts,
		SessionID: "session_" + uuid.NewString(),

		AutoSaveDefault: true,
	}
}

// StorageInfo summarizes what the store currently holds.
type StorageInfo struct {
	HasState    bool   `json:"has_state"`
	HasDrafts   bool   `json:"has_drafts"`
	DraftCount  int    `json:"draft_count"`
	LastSavedAt string `json:"last_saved_at,omitempty"`
	StorageSize int    `json:"storage_size"`
}

// ExportDocument is the backup format of ExportData/ImportData.
type ExportDocument struct {
	Version    string          `json:"version"`
	ExportedAt string          `json:"exported_at"`
	UserID     string          `json:"user_id"`
	State      json.RawMessage `json:"state"`
	Metadata   json.RawMessage `json:"metadata"`
	Drafts     []domain.Draft  `json:"drafts"`
}

func (p *Persistence) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Persistence) stamp() string {
	return p.now().UTC().Format(time.RFC3339Nano)
}

func (p *Persistence) ttl() time.Duration {
	if p.TTL > 0 {
		return p.TTL
	}
	return DefaultTTL
}

func (p *Persistence) maxDrafts() int {
	if p.MaxDrafts > 0 {
		return p.MaxDrafts
	}
	return DefaultMaxDrafts
}

func (p *Persistence) fail(op, key string, err error) {
	serr := &StorageError{Op: op, Key: key, Err: err}
	p.Log.Warn().Err(serr).Str("op", op).Msg("wizard storage failure")
}

func (p *Persistence) get(ctx context.Context, key string) (string, bool) {
	v, ok, err := p.Storage.Get(ctx, key)
	if err != nil {
		p.fail("get", key, err)
		return "", false
	}
	return v, ok
}

func (p *Persistence) setJSON(ctx context.Context, op, key string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		p.fail(op, key, err)
		return false
	}
	if err := p.Storage.Set(ctx, key, string(data)); err != nil {
		p.fail(op, key, err)
		return false
	}
	return true
}

// SaveState stores snap as the live state, stamped with owner and time.
func (p *Persistence) SaveState(ctx context.Context, snap domain.StateSnapshot, userID, userRole string) bool {
	ts := p.stamp()
	snap.Timestamp = ts
	snap.UserID = userID
	snap.UserRole = userRole
	if !p.setJSON(ctx, "save_state", KeyState, snap) {
		return false
	}
	meta := domain.Metadata{
		LastSavedAt:     ts,
		LastAccessedAt:  ts,
		Version:         Version,
		AutoSaveEnabled: p.AutoSaveEnabled(ctx),
		SessionID:       p.SessionID,
	}
	if !p.setJSON(ctx, "save_state", KeyMetadata, meta) {
		return false
	}
	if snap.ProjectID != "" {
		p.SetLastActiveProject(ctx, snap.ProjectID)
	}
	p.Log.Debug().Str("project_id", snap.ProjectID).Msg("wizard state saved")
	return true
}

// LoadState returns the live snapshot, or nil when it is absent, corrupt or
// older than the TTL. Expired state is purged. The owner is not checked.
func (p *Persistence) LoadState(ctx context.Context) *domain.StateSnapshot {
	snap, meta, ok := p.peekState(ctx)
	if !ok {
		return nil
	}
	if meta != nil {
		meta.LastAccessedAt = p.stamp()
		p.setJSON(ctx, "touch_metadata", KeyMetadata, meta)
	}
	return snap
}

// peekState reads the live state without touching metadata. Expired state
// is purged.
func (p *Persistence) peekState(ctx context.Context) (*domain.StateSnapshot, *domain.Metadata, bool) {
	raw, ok := p.get(ctx, KeyState)
	if !ok {
		return nil, nil, false
	}
	var snap domain.StateSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		p.fail("load_state", KeyState, err)
		return nil, nil, false
	}
	meta := p.LoadMetadata(ctx)
	savedAt := snap.Timestamp
	if meta != nil && meta.LastSavedAt != "" {
		savedAt = meta.LastSavedAt
	}
	if p.expired(savedAt, p.ttl()) {
		p.Log.Info().Msg("saved wizard state expired")
		p.ClearState(ctx)
		return nil, nil, false
	}
	return &snap, meta, true
}

func parseStamp(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (p *Persistence) expired(ts string, maxAge time.Duration) bool {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return true
	}
	return p.now().Sub(t) > maxAge
}

// LoadMetadata returns the metadata record, or nil.
func (p *Persistence) LoadMetadata(ctx context.Context) *domain.Metadata {
	raw, ok := p.get(ctx, KeyMetadata)
	if !ok {
		return nil
	}
	var meta domain.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		p.fail("load_metadata", KeyMetadata, err)
		return nil
	}
	return &meta
}

// ClearState removes the live state, its metadata and the last active
// project pointer.
func (p *Persistence) ClearState(ctx context.Context) bool {
	ok := true
	for _, key := range []string{KeyState, KeyMetadata, KeyLastActiveProject} {
		if err := p.Storage.Delete(ctx, key); err != nil {
			p.fail("clear_state", key, err)
			ok = false
		}
	}
	return ok
}

// HasRecoverableState reports whether a non-expired snapshot exists.
func (p *Persistence) HasRecoverableState(ctx context.Context) bool {
	_, _, ok := p.peekState(ctx)
	return ok
}

func (p *Persistence) drafts(ctx context.Context) ([]domain.Draft, bool) {
	raw, ok, err := p.Storage.Get(ctx, KeyDrafts)
	if err != nil {
		p.fail("load_drafts", KeyDrafts, err)
		return nil, false
	}
	if !ok || raw == "" {
		return nil, true
	}
	var drafts []domain.Draft
	if err := json.Unmarshal([]byte(raw), &drafts); err != nil {
		// unreadable lists are treated as empty and replaced on next write
		p.fail("load_drafts", KeyDrafts, err)
		return nil, true
	}
	return drafts, true
}

// capDrafts orders drafts newest first by creation time and keeps at most
// max of them.
func capDrafts(drafts []domain.Draft, max int) []domain.Draft {
	sort.SliceStable(drafts, func(i, j int) bool {
		return parseStamp(drafts[i].CreatedAt).After(parseStamp(drafts[j].CreatedAt))
	})
	if len(drafts) > max {
		drafts = drafts[:max]
	}
	return drafts
}

// SaveDraft stores snap as a named draft owned by userID. When the cap is
// exceeded the oldest drafts are evicted.
func (p *Persistence) SaveDraft(ctx context.Context, name, description string, snap domain.StateSnapshot, userID, userRole string) (domain.Draft, bool) {
	existing, ok := p.drafts(ctx)
	if !ok {
		return domain.Draft{}, false
	}
	ts := p.stamp()
	snap.Timestamp = ts
	snap.UserID = userID
	snap.UserRole = userRole
	draft := domain.Draft{
		ID:          "draft_" + uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		UserID:      userID,
		UserRole:    userRole,
		Snapshot:    snap,
	}
	all := capDrafts(append([]domain.Draft{draft}, existing...), p.maxDrafts())
	if !p.setJSON(ctx, "save_draft", KeyDrafts, all) {
		return domain.Draft{}, false
	}
	p.Log.Debug().Str("draft_id", draft.ID).Str("name", name).Msg("wizard draft saved")
	return draft, true
}

// LoadDrafts returns the drafts owned by userID, newest first.
func (p *Persistence) LoadDrafts(ctx context.Context, userID string) []domain.Draft {
	all, _ := p.drafts(ctx)
	out := []domain.Draft{}
	for _, d := range all {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out
}

// LoadDraft returns the draft with id regardless of owner, or nil.
func (p *Persistence) LoadDraft(ctx context.Context, id string) *domain.Draft {
	all, _ := p.drafts(ctx)
	for i := range all {
		if all[i].ID == id {
			d := all[i]
			return &d
		}
	}
	return nil
}

// DeleteDraft removes the draft with id. Deleting an unknown id succeeds.
func (p *Persistence) DeleteDraft(ctx context.Context, id string) bool {
	all, ok := p.drafts(ctx)
	if !ok {
		return false
	}
	kept := make([]domain.Draft, 0, len(all))
	for _, d := range all {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	return p.setJSON(ctx, "delete_draft", KeyDrafts, kept)
}

// AutoSaveEnabled returns the stored preference, true when unset.
func (p *Persistence) AutoSaveEnabled(ctx context.Context) bool {
	raw, ok := p.get(ctx, KeyAutoSaveEnabled)
	if !ok {
		return p.AutoSaveDefault
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return p.AutoSaveDefault
	}
	return enabled
}

func (p *Persistence) SetAutoSaveEnabled(ctx context.Context, enabled bool) bool {
	if err := p.Storage.Set(ctx, KeyAutoSaveEnabled, strconv.FormatBool(enabled)); err != nil {
		p.fail("set_autosave", KeyAutoSaveEnabled, err)
		return false
	}
	return true
}

func (p *Persistence) LastActiveProject(ctx context.Context) string {
	v, _ := p.get(ctx, KeyLastActiveProject)
	return v
}

func (p *Persistence) SetLastActiveProject(ctx context.Context, projectID string) bool {
	if err := p.Storage.Set(ctx, KeyLastActiveProject, projectID); err != nil {
		p.fail("set_last_project", KeyLastActiveProject, err)
		return false
	}
	return true
}

// StorageInfo reports presence, draft count and the approximate byte size of
// the wizard keys.
func (p *Persistence) StorageInfo(ctx context.Context) StorageInfo {
	var info StorageInfo
	drafts, _ := p.drafts(ctx)
	info.DraftCount = len(drafts)
	info.HasDrafts = len(drafts) > 0
	info.HasState = p.HasRecoverableState(ctx)
	if meta := p.LoadMetadata(ctx); meta != nil {
		info.LastSavedAt = meta.LastSavedAt
	}
	for _, key := range Keys() {
		if v, ok := p.get(ctx, key); ok {
			info.StorageSize += len(v)
		}
	}
	return info
}

// Cleanup drops drafts not updated within maxAge and the live state when it
// was last accessed before the same cutoff. A non-positive maxAge uses the TTL.
func (p *Persistence) Cleanup(ctx context.Context, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = p.ttl()
	}
	all, ok := p.drafts(ctx)
	if !ok {
		return false
	}
	kept := make([]domain.Draft, 0, len(all))
	for _, d := range all {
		if !p.expired(d.UpdatedAt, maxAge) {
			kept = append(kept, d)
		}
	}
	if len(kept) != len(all) {
		if !p.setJSON(ctx, "cleanup", KeyDrafts, kept) {
			return false
		}
		p.Log.Info().Int("removed", len(all)-len(kept)).Msg("expired wizard drafts removed")
	}
	if meta := p.LoadMetadata(ctx); meta != nil && p.expired(meta.LastAccessedAt, maxAge) {
		return p.ClearState(ctx)
	}
	return true
}

// ExportData serializes the live state, metadata and userID's drafts. State
// owned by another user is left out.
func (p *Persistence) ExportData(ctx context.Context, userID string) (string, bool) {
	doc := ExportDocument{
		Version:    Version,
		ExportedAt: p.stamp(),
		UserID:     userID,
		Drafts:     p.LoadDrafts(ctx, userID),
	}
	if snap, _, ok := p.peekState(ctx); ok && snap.UserID == userID {
		raw, _ := p.get(ctx, KeyState)
		doc.State = json.RawMessage(raw)
		if meta, ok := p.get(ctx, KeyMetadata); ok {
			doc.Metadata = json.RawMessage(meta)
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		p.fail("export", "", err)
		return "", false
	}
	return string(data), true
}

// ImportData restores a document produced by ExportData. The document is
// rejected before any write unless it, its state and each of its drafts
// belong to userID. The importing user's drafts are replaced; drafts of
// other users are kept. State and metadata are written before drafts, and a
// failed write restores every key the import touched.
func (p *Persistence) ImportData(ctx context.Context, data string, userID string) bool {
	doc, err := decodeExport(data, userID)
	if err != nil {
		p.Log.Warn().Err(err).Msg("wizard import rejected")
		return false
	}
	all, ok := p.drafts(ctx)
	if !ok {
		return false
	}
	merged := make([]domain.Draft, 0, len(all)+len(doc.Drafts))
	merged = append(merged, doc.Drafts...)
	for _, d := range all {
		if d.UserID != userID {
			merged = append(merged, d)
		}
	}

	prior, ok := p.capture(ctx, KeyState, KeyMetadata, KeyLastActiveProject, KeyDrafts)
	if !ok {
		return false
	}
	if !p.importState(ctx, doc, userID) || !p.setJSON(ctx, "import", KeyDrafts, capDrafts(merged, p.maxDrafts())) {
		p.restore(ctx, prior)
		return false
	}
	p.Log.Info().Int("drafts", len(doc.Drafts)).Msg("wizard data imported")
	return true
}

func (p *Persistence) importState(ctx context.Context, doc ExportDocument, userID string) bool {
	if len(doc.State) == 0 || string(doc.State) == "null" {
		if snap, _, ok := p.peekState(ctx); ok && snap.UserID == userID {
			return p.ClearState(ctx)
		}
		return true
	}
	if err := p.Storage.Set(ctx, KeyState, string(doc.State)); err != nil {
		p.fail("import", KeyState, err)
		return false
	}
	if len(doc.Metadata) > 0 && string(doc.Metadata) != "null" {
		if err := p.Storage.Set(ctx, KeyMetadata, string(doc.Metadata)); err != nil {
			p.fail("import", KeyMetadata, err)
			return false
		}
	}
	return true
}

// storedValue is a raw key as it was before a multi-key write.
type storedValue struct {
	key     string
	value   string
	present bool
}

func (p *Persistence) capture(ctx context.Context, keys ...string) ([]storedValue, bool) {
	out := make([]storedValue, 0, len(keys))
	for _, key := range keys {
		v, ok, err := p.Storage.Get(ctx, key)
		if err != nil {
			p.fail("import", key, err)
			return nil, false
		}
		out = append(out, storedValue{key: key, value: v, present: ok})
	}
	return out, true
}

func (p *Persistence) restore(ctx context.Context, prior []storedValue) {
	for _, sv := range prior {
		var err error
		if sv.present {
			err = p.Storage.Set(ctx, sv.key, sv.value)
		} else {
			err = p.Storage.Delete(ctx, sv.key)
		}
		if err != nil {
			p.fail("import_rollback", sv.key, err)
		}
	}
}

func decodeExport(data, userID string) (ExportDocument, error) {
	var doc ExportDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return doc, fmt.Errorf("decode export: %w", err)
	}
	if userID == "" || doc.UserID != userID {
		return doc, ErrUserMismatch
	}
	if len(doc.State) > 0 && string(doc.State) != "null" {
		var snap domain.StateSnapshot
		if err := json.Unmarshal(doc.State, &snap); err != nil {
			return doc, fmt.Errorf("decode exported state: %w", err)
		}
		if snap.UserID != userID {
			return doc, fmt.Errorf("exported state: %w", ErrUserMismatch)
		}
	}
	if len(doc.Metadata) > 0 && string(doc.Metadata) != "null" {
		var meta domain.Metadata
		if err := json.Unmarshal(doc.Metadata, &meta); err != nil {
			return doc, fmt.Errorf("decode exported metadata: %w", err)
		}
	}
	for _, d := range doc.Drafts {
		if d.UserID != userID {
			return doc, fmt.Errorf("draft %s: %w", d.ID, ErrUserMismatch)
		}
	}
	return doc, nil
}
