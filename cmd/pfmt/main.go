package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"pfmt/internal/app"
	"pfmt/internal/config"
	"pfmt/internal/domain"
	"pfmt/internal/server"
)

var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "pfmt",
	Short: "PFMT project workflow CLI",
	Long: `pfmt drives the three-step project wizard against the workflow API.
- Initiate: a PMI (or admin) describes a new project.
- Assign: a director (or admin) picks the project manager and senior project manager.
- Configure: the assigned PM or SPM adds vendors, budget and milestones, then finalizes.
Wizard progress is kept in the workspace between commands; drafts and backups live alongside it.
Run 'pfmt serve' for a local reference API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	if workspace == "" {
		workspace = "."
	}
	// A missing .env is fine.
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("PFMT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("api-url", "", "workflow API base URL (overrides config)")
	pf.String("actor-id", "", "acting user id (overrides config)")
	pf.String("role", "", "acting user role (overrides config)")
	pf.String("token", "", "bearer token (overrides config)")
	pf.String("storage", "", "wizard storage backend: sqlite, memory or redis")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.Bool("log-json", false, "emit JSON logs on stderr")
	pf.BoolP("yes", "y", false, "answer yes to confirmation prompts")
	for _, name := range []string{"workspace", "json", "api-url", "actor-id", "role", "token", "storage", "log-level", "log-json", "yes"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
	_ = viper.BindEnv("jwt-secret", "PFMT_JWT_SECRET")
	_ = viper.BindEnv("redis-url", "PFMT_REDIS_URL")
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(wizardCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(vendorsCmd())
}

func setupLogging() error {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if viper.GetBool("log-json") {
		logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
		return nil
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(level).With().Timestamp().Logger()
	return nil
}

// loadConfig reads pfmt.yml (defaults when absent) and applies flag and
// environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		"api-url":    &cfg.API.BaseURL,
		"actor-id":   &cfg.Actor.ID,
		"role":       &cfg.Actor.Role,
		"token":      &cfg.Actor.Token,
		"storage":    &cfg.Storage.Backend,
		"redis-url":  &cfg.Storage.RedisURL,
		"jwt-secret": &cfg.Server.JWTSecret,
	}
	for key, dst := range overrides {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withRuntime opens the wizard runtime, resumes the actor's saved progress
// and runs fn.
func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.OpenRuntime(ctx, viper.GetString("workspace"), cfg, logger, confirm)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Session.RestoreState(ctx) {
		logger.Debug().Str("project_id", rt.Store.ProjectID()).Msg("resumed wizard progress")
	}
	return fn(ctx, rt)
}

// persistProgress saves the wizard when auto-save is on.
func persistProgress(ctx context.Context, rt *app.Runtime) {
	if !rt.Session.AutoSaveEnabled(ctx) {
		return
	}
	if err := rt.Session.SaveState(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not save wizard progress")
	}
	if id := rt.Store.ProjectID(); id != "" {
		rt.Persistence.SetLastActiveProject(ctx, id)
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reference workflow API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if cfg.Server.JWTSecret == "" && !cfg.Server.AllowHeaderActor {
				return fmt.Errorf("PFMT_JWT_SECRET is required when header identities are disabled")
			}
			svc, err := app.OpenService(cmd.Context(), viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: svc.Handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving PFMT workflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage pfmt.yml"}
	cfgCmd.AddCommand(configInitCmd())
	cfgCmd.AddCommand(configShowCmd())
	cfgCmd.AddCommand(configValidateCmd())
	return cfgCmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default pfmt.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Actor.Token != "" {
				cfg.Actor.Token = "***"
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "***"
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Println("config OK:", file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config path (defaults to workspace pfmt.yml)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the configured actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			actor, err := app.ResolveActor(cfg)
			if err != nil {
				return err
			}
			token, err := server.SignToken(cfg.Server.JWTSecret, actor.ID, string(actor.Role), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func projectsCmd() *cobra.Command {
	prj := &cobra.Command{Use: "projects", Short: "Workflow dashboards"}
	prj.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "Initiated projects awaiting a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				list, err := rt.Client.GetPendingAssignments(ctx)
				if err != nil {
					return err
				}
				return printProjects(list.Projects)
			})
		},
	})
	var status string
	mine := &cobra.Command{
		Use:   "mine",
		Short: "Projects assigned to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				list, err := rt.Client.GetMyProjects(ctx, status)
				if err != nil {
					return err
				}
				return printProjects(list.Projects)
			})
		},
	}
	mine.Flags().StringVar(&status, "status", "", "workflow status filter (all when empty)")
	prj.AddCommand(mine)
	prj.AddCommand(&cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				resp, err := rt.Client.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(resp.Project)
			})
		},
	})
	return prj
}

func usersCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List assignable users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				users, err := rt.Client.GetAvailableUsers(ctx, roles)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Email"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.Email})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles to list (pm and spm when empty)")
	return cmd
}

func vendorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vendors",
		Short: "List selectable vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				vendors, err := rt.Client.GetAvailableVendors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vendors)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Category"})
				for _, v := range vendors {
					tw.AppendRow(table.Row{v.ID, v.Name, v.Category})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func printProjects(items []domain.Project) error {
	if viper.GetBool("json") {
		if items == nil {
			items = []domain.Project{}
		}
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "PM", "SPM", "Created"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.WorkflowStatus, p.AssignedPM, p.AssignedSPM, p.CreatedAt})
	}
	fmt.Println(tw.Render())
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

// spin runs fn behind a spinner on interactive terminals.
func spin(msg string, fn func() error) error {
	if viper.GetBool("json") || !term.IsTerminal(int(os.Stderr.Fd())) {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + msg
	s.Start()
	defer s.Stop()
	return fn()
}

// confirm asks a yes/no question on the terminal. Without a terminal the
// answer is no unless --yes was given.
func confirm(message string) bool {
	if viper.GetBool("yes") {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", message)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
