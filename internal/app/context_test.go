package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfmt/internal/auth"
	"pfmt/internal/config"
	"pfmt/internal/domain"
	"pfmt/internal/persist"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Actor.ID = "pmi-1"
	cfg.Actor.Role = "PMI"
	return cfg
}

func TestResolveActor(t *testing.T) {
	cfg := testConfig(t, "memory")
	actor, err := ResolveActor(cfg)
	require.NoError(t, err)
	assert.Equal(t, auth.PMI, actor.Role)

	cfg.Actor.Role = "wizard"
	_, err = ResolveActor(cfg)
	assert.Error(t, err)

	cfg.Actor.ID = " "
	_, err = ResolveActor(cfg)
	assert.ErrorContains(t, err, "actor id")
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, closer, err := OpenStorage(ctx, dir, config.StorageConfig{Backend: "sqlite", Scope: "alice"})
	require.NoError(t, err)
	require.NotNil(t, closer)
	require.NoError(t, s.Set(ctx, persist.KeyLastActiveProject, "p-1"))
	require.NoError(t, closer.Close())

	s, closer, err = OpenStorage(ctx, dir, config.StorageConfig{Backend: "sqlite", Scope: "alice"})
	require.NoError(t, err)
	defer closer.Close()
	v, ok, err := s.Get(ctx, persist.KeyLastActiveProject)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "p-1", v)

	_, closer, err = OpenStorage(ctx, dir, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.Nil(t, closer)

	_, _, err = OpenStorage(ctx, dir, config.StorageConfig{Backend: "tape"})
	assert.Error(t, err)

	assert.Equal(t, "pfmt:alice", redisPrefix(config.StorageConfig{KeyPrefix: "pfmt", Scope: "alice"}))
	assert.Equal(t, "pfmt", redisPrefix(config.StorageConfig{KeyPrefix: "pfmt"}))
}

func TestRuntimeAgainstService(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "sqlite")
	svc, err := OpenService(ctx, t.TempDir(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()
	ts := httptest.NewServer(svc.Handler)
	defer ts.Close()

	cfg.API.BaseURL = ts.URL
	cfg.API.Timeout = 5 * time.Second
	cfg.Wizard.MaxDrafts = 3
	rt, err := OpenRuntime(ctx, t.TempDir(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, 3, rt.Persistence.MaxDrafts)
	assert.Equal(t, 2*time.Hour, rt.Persistence.TTL)

	rt.Store.SetInitiation(domain.Initiation{Name: "Arena", Description: "Community arena"})
	id, err := rt.Store.SubmitInitiation(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.Session.SaveState(ctx))

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	snap := rt.Persistence.LoadState(ctx)
	require.NotNil(t, snap)
	assert.Equal(t, id, snap.ProjectID)
	assert.Equal(t, "pmi-1", snap.UserID)
	assert.True(t, rt.Guard.CheckProjectAccess(ctx, id).Allowed)
}
