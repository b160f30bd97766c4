package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pfmt/internal/app"
	"pfmt/internal/wizard"
)

func draftCmd() *cobra.Command {
	d := &cobra.Command{Use: "draft", Short: "Named wizard drafts"}
	d.AddCommand(draftSaveCmd())
	d.AddCommand(draftListCmd())
	d.AddCommand(draftLoadCmd())
	d.AddCommand(draftDeleteCmd())
	return d
}

func draftSaveCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save the wizard as a named draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Session.SaveDraft(ctx, name, description)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("saved draft %s (%s)\n", d.ID, d.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "draft name (defaults to the project name)")
	cmd.Flags().StringVar(&description, "description", "", "draft description")
	return cmd
}

func draftListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the actor's drafts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				drafts := rt.Session.Drafts(ctx)
				if viper.GetBool("json") {
					return printJSON(drafts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Project", "Updated"})
				for _, d := range drafts {
					tw.AppendRow(table.Row{d.ID, d.Name, orDash(d.Snapshot.ProjectID), d.UpdatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func draftLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <draft-id>",
		Short: "Replace the wizard with a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if rt.Store.HasUnsavedChanges() && !confirm("Replace unsaved wizard changes with the draft?") {
					return errors.New("load cancelled")
				}
				d, err := rt.Session.LoadDraft(ctx, args[0])
				if err != nil {
					return err
				}
				if rt.Store.ProjectID() != "" {
					if err := rt.Store.RefreshStatus(ctx); err != nil {
						logger.Warn().Err(err).Str("project_id", rt.Store.ProjectID()).Msg("could not refresh draft project status")
					}
				}
				persistProgress(ctx, rt)
				if !viper.GetBool("json") {
					fmt.Printf("loaded draft %s (%s)\n", d.ID, d.Name)
				}
				return printView(currentView(rt))
			})
		},
	}
}

func draftDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <draft-id>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Session.DeleteDraft(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted draft", args[0])
				return nil
			})
		},
	}
}

func stateCmd() *cobra.Command {
	s := &cobra.Command{Use: "state", Short: "Saved wizard progress"}
	s.AddCommand(stateSaveCmd())
	s.AddCommand(stateRestoreCmd())
	s.AddCommand(stateInfoCmd())
	s.AddCommand(stateClearCmd())
	s.AddCommand(stateExportCmd())
	s.AddCommand(stateImportCmd())
	s.AddCommand(stateCleanupCmd())
	s.AddCommand(stateAutoSaveCmd())
	s.AddCommand(stateWatchCmd())
	return s
}

func stateSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Save wizard progress now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Session.SaveState(ctx); err != nil {
					return err
				}
				fmt.Println("wizard progress saved")
				return nil
			})
		},
	}
}

func stateRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Reload saved progress and refresh its project status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !rt.Session.HasRecoverableState(ctx) {
					return errors.New("no saved wizard progress for this actor")
				}
				rt.Store.Reset()
				if !rt.Session.RestoreState(ctx) {
					return errors.New("saved progress could not be restored")
				}
				return printView(currentView(rt))
			})
		},
	}
}

func stateInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Summarize stored wizard data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				info := rt.Persistence.StorageInfo(ctx)
				out := map[string]any{
					"storage":             info,
					"recoverable":         rt.Session.HasRecoverableState(ctx),
					"auto_save":           rt.Session.AutoSaveEnabled(ctx),
					"last_active_project": rt.Persistence.LastActiveProject(ctx),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable()
				tw.AppendRow(table.Row{"Saved state", info.HasState})
				tw.AppendRow(table.Row{"Recoverable", out["recoverable"]})
				tw.AppendRow(table.Row{"Last saved", orDash(info.LastSavedAt)})
				tw.AppendRow(table.Row{"Drafts", info.DraftCount})
				tw.AppendRow(table.Row{"Size (bytes)", info.StorageSize})
				tw.AppendRow(table.Row{"Auto-save", out["auto_save"]})
				tw.AppendRow(table.Row{"Last project", orDash(out["last_active_project"].(string))})
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func stateClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop saved wizard progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !confirm("Drop saved wizard progress?") {
					return errors.New("clear cancelled")
				}
				if !rt.Session.ClearState(ctx) {
					return wizard.ErrSaveFailed
				}
				fmt.Println("saved progress cleared")
				return nil
			})
		},
	}
}

func stateExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup of the actor's wizard data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				doc, ok := rt.Session.Export(ctx)
				if !ok {
					return errors.New("export failed")
				}
				if out == "" || out == "-" {
					fmt.Println(doc)
					return nil
				}
				if err := os.WriteFile(out, []byte(doc), 0o600); err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, "wrote", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	return cmd
}

func stateImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Restore a backup made by the same actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !rt.Session.Import(ctx, string(data)) {
					return errors.New("import rejected: not a backup for this actor")
				}
				fmt.Println("backup imported")
				return nil
			})
		},
	}
}

func stateCleanupCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge stale drafts and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				age := maxAge
				if !cmd.Flags().Changed("max-age") {
					age = rt.Config.Wizard.CleanupMaxAge
				}
				if !rt.Session.Cleanup(ctx, age) {
					return errors.New("cleanup failed")
				}
				fmt.Println("cleanup complete")
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 7*24*time.Hour, "maximum age to keep")
	return cmd
}

func stateAutoSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "autosave [on|off|toggle]",
		Short:     "Show or change the auto-save preference",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				enabled := rt.Session.AutoSaveEnabled(ctx)
				if len(args) == 1 {
					switch args[0] {
					case "on":
						enabled = rt.Session.SetAutoSave(ctx, true)
					case "off":
						enabled = rt.Session.SetAutoSave(ctx, false)
					case "toggle":
						enabled = rt.Session.ToggleAutoSave(ctx)
					default:
						return fmt.Errorf("unknown argument %q", args[0])
					}
					// The command exits right away; no ticker should outlive it.
					rt.Session.StopAutoSave()
				}
				if viper.GetBool("json") {
					return printJSON(map[string]bool{"auto_save": enabled})
				}
				fmt.Println("auto-save:", map[bool]string{true: "on", false: "off"}[enabled])
				return nil
			})
		},
	}
}

func stateWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the auto-save ticker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !rt.Session.AutoSaveEnabled(ctx) {
					return errors.New("auto-save is off; enable it with 'pfmt state autosave on'")
				}
				rt.Session.StartAutoSave(ctx)
				fmt.Fprintln(os.Stderr, "auto-saving wizard progress; press Ctrl+C to stop")
				<-ctx.Done()
				rt.Session.StopAutoSave()
				if rt.Store.HasUnsavedChanges() {
					if err := rt.Session.SaveState(context.Background()); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
