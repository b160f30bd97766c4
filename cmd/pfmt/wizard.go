package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pfmt/internal/app"
	"pfmt/internal/domain"
	"pfmt/internal/guard"
	"pfmt/internal/wizard"
	"pfmt/internal/workflow"
)

func wizardCmd() *cobra.Command {
	wz := &cobra.Command{Use: "wizard", Short: "Drive the project wizard"}
	wz.AddCommand(wizardStatusCmd())
	wz.AddCommand(wizardNextCmd())
	wz.AddCommand(wizardLoadCmd())
	wz.AddCommand(wizardInitiateCmd())
	wz.AddCommand(wizardAssignCmd())
	wz.AddCommand(wizardFinalizeCmd())
	wz.AddCommand(wizardResetCmd())
	wz.AddCommand(wizardNavigateCmd())
	return wz
}

type wizardView struct {
	ProjectID      string              `json:"project_id,omitempty"`
	WorkflowStatus string              `json:"workflow_status,omitempty"`
	AssignedPM     string              `json:"assigned_pm,omitempty"`
	AssignedSPM    string              `json:"assigned_spm,omitempty"`
	Dirty          []domain.Section    `json:"dirty_sections"`
	Error          string              `json:"error,omitempty"`
	Initiation     wizard.Validation   `json:"initiation"`
	Assignment     wizard.Validation   `json:"assignment"`
	Finalization   wizard.Validation   `json:"finalization"`
	Next           *nextView           `json:"next,omitempty"`
	Navigation     workflow.Navigation `json:"navigation"`
}

type nextView struct {
	Route   string            `json:"route"`
	Path    string            `json:"path,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Message string            `json:"message"`
}

// activeStep maps a next-step route onto the wizard step it opens.
func activeStep(route string) workflow.StepID {
	switch route {
	case workflow.RouteWizardAssign:
		return workflow.StepAssign
	case workflow.RouteWizardConfig:
		return workflow.StepConfigure
	}
	return workflow.StepInitiate
}

func currentView(rt *app.Runtime) wizardView {
	return currentViewAt(rt, "")
}

// currentViewAt builds the view with step active; empty means the step the
// actor should work on next.
func currentViewAt(rt *app.Runtime, step workflow.StepID) wizardView {
	ps := rt.Store.Project()
	next := rt.Store.NextStepFor(rt.Actor.ID, string(rt.Actor.Role))
	if step == "" {
		step = activeStep(next.Route)
	}
	return wizardView{
		ProjectID:      ps.ProjectID,
		WorkflowStatus: string(ps.WorkflowStatus),
		AssignedPM:     ps.AssignedPM,
		AssignedSPM:    ps.AssignedSPM,
		Dirty:          append([]domain.Section{}, rt.Store.DirtySections()...),
		Error:          rt.Store.Error(),
		Initiation:     rt.Store.InitiationValidation(),
		Assignment:     rt.Store.AssignmentValidation(),
		Finalization:   rt.Store.FinalizationValidation(),
		Next: &nextView{
			Route:   next.Route,
			Path:    guard.Redirect{Name: next.Route, Params: next.Params}.Path(),
			Params:  next.Params,
			Message: next.Message,
		},
		Navigation: rt.Store.Navigation(rt.Actor, step),
	}
}

func printView(v wizardView) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := newTable()
	tw.AppendRow(table.Row{"Project", orDash(v.ProjectID)})
	tw.AppendRow(table.Row{"Status", orDash(v.WorkflowStatus)})
	tw.AppendRow(table.Row{"PM / SPM", orDash(v.AssignedPM) + " / " + orDash(v.AssignedSPM)})
	dirty := make([]string, 0, len(v.Dirty))
	for _, s := range v.Dirty {
		dirty = append(dirty, string(s))
	}
	tw.AppendRow(table.Row{"Unsaved", orDash(strings.Join(dirty, ", "))})
	if v.Next != nil {
		tw.AppendRow(table.Row{"Next", fmt.Sprintf("%s (%s)", v.Next.Message, orDash(v.Next.Path))})
	}
	if v.Error != "" {
		tw.AppendRow(table.Row{"Error", v.Error})
	}
	fmt.Println(tw.Render())
	if len(v.Navigation.Steps) > 0 {
		fmt.Println(renderNavigation(v.Navigation))
	}
	for _, section := range []struct {
		name string
		val  wizard.Validation
	}{{"initiation", v.Initiation}, {"assignment", v.Assignment}, {"finalization", v.Finalization}} {
		for _, w := range section.val.Warnings {
			fmt.Printf("warning (%s): %s\n", section.name, w.Message)
		}
	}
	return nil
}

func renderNavigation(nav workflow.Navigation) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"", "Step", "Accessible", "Complete"})
	for i, st := range nav.Steps {
		marker := ""
		if st.Active {
			marker = ">"
		}
		tw.AppendRow(table.Row{marker, fmt.Sprintf("%d. %s", i+1, st.Title), yesNo(st.Accessible), yesNo(st.Complete)})
	}
	moves := []string{}
	if nav.Previous != nil {
		moves = append(moves, "previous: "+string(nav.Previous.ID))
	}
	if nav.Next != nil {
		moves = append(moves, "next: "+string(nav.Next.ID))
	}
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"", orDash(strings.Join(moves, ", ")), "", ""})
	return tw.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func wizardStatusCmd() *cobra.Command {
	var refresh bool
	var step string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the in-progress wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if refresh && rt.Store.ProjectID() != "" {
					if err := spin("Refreshing status", func() error { return rt.Store.RefreshStatus(ctx) }); err != nil {
						return err
					}
					persistProgress(ctx, rt)
				}
				if step != "" {
					if _, ok := workflow.StepByID(step); !ok {
						return fmt.Errorf("unknown step %q", step)
					}
				}
				return printView(currentViewAt(rt, workflow.StepID(step)))
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-read the workflow status from the API")
	cmd.Flags().StringVar(&step, "step", "", "step to treat as active (initiate, assign, configure)")
	return cmd
}

func wizardNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next [project-id]",
		Short: "Show what the actor should do next",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if len(args) == 1 && args[0] != rt.Store.ProjectID() {
					if err := spin("Loading project", func() error { return rt.Store.LoadProject(ctx, args[0]) }); err != nil {
						return err
					}
					persistProgress(ctx, rt)
				}
				return printJSONOrTable(currentView(rt).Next)
			})
		},
	}
}

func wizardLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [project-id]",
		Short: "Load a project into the wizard (last active project when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				id := rt.Persistence.LastActiveProject(ctx)
				if len(args) == 1 {
					id = args[0]
				}
				if id == "" {
					return errors.New("project id required")
				}
				if err := spin("Loading project", func() error { return rt.Store.LoadProject(ctx, id) }); err != nil {
					return err
				}
				persistProgress(ctx, rt)
				return printView(currentView(rt))
			})
		},
	}
}

func wizardInitiateCmd() *cobra.Command {
	var in domain.Initiation
	var submit bool
	cmd := &cobra.Command{
		Use:   "initiate",
		Short: "Edit and submit the initiation step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				flags := cmd.Flags()
				rt.Store.UpdateInitiation(func(cur *domain.Initiation) {
					setIfChanged(flags, "name", &cur.Name, in.Name)
					setIfChanged(flags, "description", &cur.Description, in.Description)
					setIfChanged(flags, "category", &cur.Category, in.Category)
					setIfChanged(flags, "type", &cur.ProjectType, in.ProjectType)
					setIfChanged(flags, "delivery-method", &cur.DeliveryMethod, in.DeliveryMethod)
					setIfChanged(flags, "program", &cur.ProgramID, in.ProgramID)
					setIfChanged(flags, "region", &cur.GeographicRegion, in.GeographicRegion)
					setIfChanged(flags, "start", &cur.StartDate, in.StartDate)
					setIfChanged(flags, "end", &cur.EndDate, in.EndDate)
					if flags.Changed("budget") {
						cur.EstimatedBudget = in.EstimatedBudget
					}
				})
				if submit {
					var id string
					err := spin("Initiating project", func() error {
						var err error
						id, err = rt.Store.SubmitInitiation(ctx)
						return err
					})
					persistProgress(ctx, rt)
					if err != nil {
						return submitError(rt, err)
					}
					logger.Info().Str("project_id", id).Msg("project initiated")
				} else {
					persistProgress(ctx, rt)
				}
				return printView(currentView(rt))
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "project name")
	f.StringVar(&in.Description, "description", "", "project description")
	f.StringVar(&in.Category, "category", "", "project category")
	f.StringVar(&in.ProjectType, "type", "", "project type")
	f.StringVar(&in.DeliveryMethod, "delivery-method", "", "delivery method")
	f.StringVar(&in.ProgramID, "program", "", "program id")
	f.StringVar(&in.GeographicRegion, "region", "", "geographic region")
	f.Float64Var(&in.EstimatedBudget, "budget", 0, "estimated budget")
	f.StringVar(&in.StartDate, "start", "", "start date (YYYY-MM-DD)")
	f.StringVar(&in.EndDate, "end", "", "end date (YYYY-MM-DD)")
	f.BoolVar(&submit, "submit", false, "submit the initiation to the API")
	return cmd
}

func wizardAssignCmd() *cobra.Command {
	var a domain.Assignment
	var submit bool
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Edit and submit the team assignment step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				flags := cmd.Flags()
				rt.Store.UpdateAssignment(func(cur *domain.Assignment) {
					setIfChanged(flags, "pm", &cur.AssignedPM, a.AssignedPM)
					setIfChanged(flags, "spm", &cur.AssignedSPM, a.AssignedSPM)
					setIfChanged(flags, "notes", &cur.Notes, a.Notes)
				})
				if submit {
					err := spin("Assigning team", func() error { return rt.Store.SubmitAssignment(ctx) })
					persistProgress(ctx, rt)
					if err != nil {
						return submitError(rt, err)
					}
				} else {
					persistProgress(ctx, rt)
				}
				return printView(currentView(rt))
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&a.AssignedPM, "pm", "", "project manager user id")
	f.StringVar(&a.AssignedSPM, "spm", "", "senior project manager user id")
	f.StringVar(&a.Notes, "notes", "", "assignment notes")
	f.BoolVar(&submit, "submit", false, "submit the assignment to the API")
	return cmd
}

func wizardFinalizeCmd() *cobra.Command {
	var o domain.Overview
	var vendors, budgetItems, milestones []string
	var total float64
	var submit, replace bool
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Edit and submit the configuration step",
		Long: `Edits the configure sections and optionally finalizes the project.
Vendors are given as id[:role[:contract_value]], budget items as category=amount
and milestones as title|planned_start[|planned_finish[|type]].`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseVendors(vendors)
			if err != nil {
				return err
			}
			breakdown, err := parseBudgetItems(budgetItems)
			if err != nil {
				return err
			}
			plan, err := parseMilestones(milestones)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				flags := cmd.Flags()
				if flags.Changed("description") || flags.Changed("risk") {
					rt.Store.UpdateOverview(func(cur *domain.Overview) {
						setIfChanged(flags, "description", &cur.DetailedDescription, o.DetailedDescription)
						setIfChanged(flags, "risk", &cur.RiskAssessment, o.RiskAssessment)
					})
				}
				if len(sel) > 0 || (replace && flags.Changed("vendor")) {
					rt.Store.UpdateVendors(func(cur *domain.Vendors) {
						if replace {
							cur.Selected = nil
						}
						cur.Selected = append(cur.Selected, sel...)
					})
				}
				if len(breakdown) > 0 || flags.Changed("total") {
					rt.Store.UpdateBudget(func(cur *domain.Budget) {
						if cur.Breakdown == nil || replace {
							cur.Breakdown = map[string]float64{}
						}
						for k, v := range breakdown {
							cur.Breakdown[k] = v
						}
						if flags.Changed("total") {
							cur.TotalBudget = total
						}
					})
				}
				if len(plan) > 0 {
					rt.Store.UpdateMilestone(func(cur *domain.MilestonePlan) {
						if replace {
							cur.Milestones = nil
						}
						cur.Milestones = append(cur.Milestones, plan...)
					})
				}
				if submit {
					err := spin("Finalizing project", func() error { return rt.Store.SubmitFinalization(ctx) })
					persistProgress(ctx, rt)
					if err != nil {
						return submitError(rt, err)
					}
				} else {
					persistProgress(ctx, rt)
				}
				return printView(currentView(rt))
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.DetailedDescription, "description", "", "detailed description")
	f.StringVar(&o.RiskAssessment, "risk", "", "risk assessment")
	f.StringArrayVar(&vendors, "vendor", nil, "vendor selection id[:role[:contract_value]] (repeatable)")
	f.StringArrayVar(&budgetItems, "budget-item", nil, "budget line category=amount (repeatable)")
	f.Float64Var(&total, "total", 0, "total budget")
	f.StringArrayVar(&milestones, "milestone", nil, "milestone title|start[|finish[|type]] (repeatable)")
	f.BoolVar(&replace, "replace", false, "replace vendors, budget lines and milestones instead of appending")
	f.BoolVar(&submit, "submit", false, "finalize the project through the API")
	return cmd
}

func wizardResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the in-progress wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if rt.Store.HasUnsavedChanges() && !confirm("Discard unsaved wizard changes?") {
					return errors.New("reset cancelled")
				}
				rt.Store.Reset()
				rt.Session.ClearState(ctx)
				fmt.Println("wizard reset")
				return nil
			})
		},
	}
}

func wizardNavigateCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "navigate <path>",
		Short: "Check a navigation against the wizard guards",
		Long:  "Evaluates moving from --from to <path> (for example /wizard/p-1/configure/vendors) and prints where the wizard would go.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				fromRoute := guard.ParsePath(from)
				if from == "" {
					fromRoute = guard.ParsePath("/wizard")
				}
				to := guard.ParsePath(args[0])
				actor := rt.Actor
				var res guard.Result
				err := spin("Checking navigation", func() error {
					res = rt.Guard.Navigate(ctx, &actor, fromRoute, to)
					return nil
				})
				if err != nil {
					return err
				}
				if res.Allowed && !to.IsWizard() && to.Name != guard.RouteProjectDetails {
					// The leave guard reset the store.
					rt.Session.ClearState(ctx)
				} else {
					persistProgress(ctx, rt)
				}
				out := map[string]any{"allowed": res.Allowed, "message": res.Message}
				if res.Redirect != nil {
					out["redirect"] = res.Redirect.Name
					out["redirect_path"] = res.Redirect.Path()
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				switch {
				case res.Allowed:
					fmt.Println("allowed:", to.Path)
				case res.Redirect != nil:
					fmt.Printf("redirect: %s (%s)\n", res.Redirect.Path(), res.Message)
				default:
					fmt.Println("cancelled:", res.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "current path (defaults to /wizard)")
	return cmd
}

func submitError(rt *app.Runtime, err error) error {
	if msg := rt.Store.Error(); msg != "" {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return err
}

type changedFlags interface {
	Changed(name string) bool
}

func setIfChanged(flags changedFlags, name string, dst *string, v string) {
	if flags.Changed(name) {
		*dst = v
	}
}

func parseVendors(items []string) ([]domain.VendorSelection, error) {
	var out []domain.VendorSelection
	for _, item := range items {
		parts := strings.SplitN(item, ":", 3)
		sel := domain.VendorSelection{VendorID: strings.TrimSpace(parts[0])}
		if sel.VendorID == "" {
			return nil, fmt.Errorf("invalid vendor %q", item)
		}
		if len(parts) > 1 {
			sel.Role = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			v, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid contract value in %q: %w", item, err)
			}
			sel.ContractValue = v
		}
		out = append(out, sel)
	}
	return out, nil
}

func parseBudgetItems(items []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid budget item %q (want category=amount)", item)
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount in %q: %w", item, err)
		}
		out[strings.TrimSpace(k)] = amount
	}
	return out, nil
}

func parseMilestones(items []string) ([]domain.Milestone, error) {
	var out []domain.Milestone
	for _, item := range items {
		parts := strings.Split(item, "|")
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid milestone %q (want title|start[|finish[|type]])", item)
		}
		m := domain.Milestone{Title: strings.TrimSpace(parts[0]), PlannedStart: strings.TrimSpace(parts[1])}
		if len(parts) > 2 {
			m.PlannedFinish = strings.TrimSpace(parts[2])
		}
		if len(parts) > 3 {
			m.Type = strings.TrimSpace(parts[3])
		}
		out = append(out, m)
	}
	return out, nil
}
