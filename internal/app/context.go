package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"pfmt/internal/auth"
	"pfmt/internal/config"
	"pfmt/internal/db"
	"pfmt/internal/engine"
	"pfmt/internal/guard"
	"pfmt/internal/migrate"
	"pfmt/internal/persist"
	"pfmt/internal/server"
	"pfmt/internal/wizard"
	"pfmt/internal/workflow"
	pfmtsdk "pfmt/sdk/go"
)

// Runtime is the client-side wiring of one CLI invocation: the API client,
// the wizard store with its persistence session, and the navigation guard.
type Runtime struct {
	Config      *config.Config
	Workspace   string
	Actor       workflow.Actor
	Client      *pfmtsdk.Client
	Persistence *persist.Persistence
	Store       *wizard.Store
	Session     *wizard.Session
	Guard       *guard.Guard

	closer io.Closer
}

// ResolveActor returns the configured identity. Both id and role are
// required since snapshots and drafts are owned by the actor.
func ResolveActor(cfg *config.Config) (workflow.Actor, error) {
	id := strings.TrimSpace(cfg.Actor.ID)
	if id == "" {
		return workflow.Actor{}, errors.New("actor id not configured; set actor.id or PFMT_ACTOR_ID")
	}
	if !auth.IsValidRole(cfg.Actor.Role) {
		return workflow.Actor{}, fmt.Errorf("actor role %q is not a known role", cfg.Actor.Role)
	}
	return workflow.Actor{ID: id, Role: auth.NormalizeRole(cfg.Actor.Role)}, nil
}

// NewClient builds an API client acting as actor. A configured token is
// sent as a bearer token alongside the identity headers.
func NewClient(cfg *config.Config, actor workflow.Actor) *pfmtsdk.Client {
	c := pfmtsdk.New(cfg.API.BaseURL).WithActor(actor.ID, string(actor.Role))
	c.BearerToken = cfg.Actor.Token
	if cfg.API.Timeout > 0 {
		c.Timeout = cfg.API.Timeout
	}
	return c
}

// OpenStorage opens the configured key-value backend. The returned closer
// is nil for the in-memory backend.
func OpenStorage(ctx context.Context, workspace string, cfg config.StorageConfig) (persist.Storage, io.Closer, error) {
	switch cfg.Backend {
	case "memory":
		return persist.NewMemoryStorage(), nil, nil
	case "redis":
		rs, err := persist.OpenRedis(ctx, cfg.RedisURL, redisPrefix(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("open redis storage: %w", err)
		}
		return rs, rs, nil
	case "sqlite", "":
		ss, err := persist.OpenSQLite(ctx, workspace, cfg.Scope)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return ss, ss, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func redisPrefix(cfg config.StorageConfig) string {
	prefix := cfg.KeyPrefix
	if cfg.Scope != "" {
		prefix = strings.Trim(prefix+":"+cfg.Scope, ":")
	}
	return prefix
}

// OpenRuntime wires a Runtime from cfg. confirm answers the guard's leave
// prompt; nil cancels every prompted navigation.
func OpenRuntime(ctx context.Context, workspace string, cfg *config.Config, lg zerolog.Logger, confirm func(string) bool) (*Runtime, error) {
	actor, err := ResolveActor(cfg)
	if err != nil {
		return nil, err
	}
	storage, closer, err := OpenStorage(ctx, workspace, cfg.Storage)
	if err != nil {
		return nil, err
	}
	client := NewClient(cfg, actor)

	p := persist.New(storage)
	p.Log = lg.With().Str("component", "persist").Logger()
	if cfg.Wizard.StateTTL > 0 {
		p.TTL = cfg.Wizard.StateTTL
	}
	p.MaxDrafts = cfg.Wizard.MaxDrafts
	p.AutoSaveDefault = cfg.Wizard.AutoSave

	store := wizard.NewStore(client)
	store.Log = lg.With().Str("component", "wizard").Logger()

	session := wizard.NewSession(store, p, actor)
	session.Log = store.Log
	session.Options = wizard.SessionOptions{
		Interval:      cfg.Wizard.AutoSaveInterval,
		OnlyWhenDirty: cfg.Wizard.OnlyWhenDirty,
	}

	g := guard.New(client, store, confirm)
	g.Log = lg.With().Str("component", "guard").Logger()

	return &Runtime{
		Config:      cfg,
		Workspace:   workspace,
		Actor:       actor,
		Client:      client,
		Persistence: p,
		Store:       store,
		Session:     session,
		Guard:       g,
		closer:      closer,
	}, nil
}

// Close stops auto-save and releases the storage backend.
func (r *Runtime) Close() error {
	r.Session.StopAutoSave()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Service is the wiring of the reference workflow service.
type Service struct {
	DB      *sql.DB
	Engine  engine.Engine
	Handler http.Handler
}

// OpenService opens and migrates the workspace database, seeds the
// directory and builds the HTTP handler.
func OpenService(ctx context.Context, workspace string, cfg *config.Config, lg zerolog.Logger) (*Service, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if err := e.SeedDirectory(ctx, cfg.Directory); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed directory: %w", err)
	}
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: cfg.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:        cfg.Server.JWTSecret,
			AllowHeaderActor: cfg.Server.AllowHeaderActor,
		},
		Log: &lg,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Service{DB: conn, Engine: e, Handler: handler}, nil
}

func (s *Service) Close() error {
	return s.DB.Close()
}
