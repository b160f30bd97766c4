package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pfmt/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const projectColumns = `id,project_name,COALESCE(project_description,''),COALESCE(project_category,''),COALESCE(project_type,''),
COALESCE(delivery_method,''),COALESCE(program_id,''),COALESCE(geographic_region,''),estimated_budget,COALESCE(start_date,''),COALESCE(end_date,''),
workflow_status,COALESCE(lifecycle_status,''),created_by,COALESCE(assigned_pm,''),COALESCE(assigned_spm,''),COALESCE(assigned_by,''),
COALESCE(assignment_notes,''),COALESCE(finalized_by,''),COALESCE(finalized_at,''),COALESCE(detailed_description,''),COALESCE(risk_assessment,''),
COALESCE(budget_breakdown_json,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var breakdown string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.ProjectType,
		&p.DeliveryMethod, &p.ProgramID, &p.GeographicRegion, &p.EstimatedBudget, &p.StartDate, &p.EndDate,
		&p.WorkflowStatus, &p.LifecycleStatus, &p.CreatedBy, &p.AssignedPM, &p.AssignedSPM, &p.AssignedBy,
		&p.AssignmentNotes, &p.FinalizedBy, &p.FinalizedAt, &p.DetailedDescription, &p.RiskAssessment,
		&breakdown, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if breakdown != "" {
		if err := json.Unmarshal([]byte(breakdown), &p.BudgetBreakdown); err != nil {
			return p, fmt.Errorf("decode budget breakdown of %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,project_name,project_description,project_category,project_type,delivery_method,program_id,geographic_region,estimated_budget,start_date,end_date,workflow_status,lifecycle_status,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.Category), nullable(p.ProjectType), nullable(p.DeliveryMethod),
		nullable(p.ProgramID), nullable(p.GeographicRegion), p.EstimatedBudget, nullable(p.StartDate), nullable(p.EndDate),
		p.WorkflowStatus, nullable(p.LifecycleStatus), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject loads a project with its vendors and milestones.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.getProject(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return r.getProject(ctx, tx, id)
}

func (r Repo) getProject(ctx context.Context, q queryer, id string) (domain.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	if p.Vendors, err = listVendorSelections(ctx, q, id); err != nil {
		return p, err
	}
	if p.Milestones, err = listMilestones(ctx, q, id); err != nil {
		return p, err
	}
	return p, nil
}

// Assignment is the column set written by a team assignment.
type Assignment struct {
	ProjectID   string
	AssignedPM  string
	AssignedSPM string
	AssignedBy  string
	Notes       string
	Status      string
	UpdatedAt   string
}

func (r Repo) UpdateAssignment(ctx context.Context, tx *sql.Tx, a Assignment) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET assigned_pm=?, assigned_spm=?, assigned_by=?, assignment_notes=?, workflow_status=?, updated_at=? WHERE id=?`,
		a.AssignedPM, nullable(a.AssignedSPM), a.AssignedBy, nullable(a.Notes), a.Status, a.UpdatedAt, a.ProjectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Finalization is the column set written when configuration completes.
type Finalization struct {
	ProjectID           string
	DetailedDescription string
	RiskAssessment      string
	BudgetBreakdown     map[string]float64
	EstimatedBudget     *float64
	FinalizedBy         string
	Status              string
	LifecycleStatus     string
	UpdatedAt           string
}

func (r Repo) UpdateFinalization(ctx context.Context, tx *sql.Tx, f Finalization) error {
	var breakdown any
	if len(f.BudgetBreakdown) > 0 {
		data, err := json.Marshal(f.BudgetBreakdown)
		if err != nil {
			return fmt.Errorf("encode budget breakdown: %w", err)
		}
		breakdown = string(data)
	}
	fields := []string{"detailed_description=?", "risk_assessment=?", "budget_breakdown_json=?", "finalized_by=?", "finalized_at=?", "workflow_status=?", "lifecycle_status=?", "updated_at=?"}
	args := []any{f.DetailedDescription, nullable(f.RiskAssessment), breakdown, f.FinalizedBy, f.UpdatedAt, f.Status, nullable(f.LifecycleStatus), f.UpdatedAt}
	if f.EstimatedBudget != nil {
		fields = append(fields, "estimated_budget=?")
		args = append(args, *f.EstimatedBudget)
	}
	args = append(args, f.ProjectID)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceVendors swaps the vendor selection of a project, keeping order.
func (r Repo) ReplaceVendors(ctx context.Context, tx *sql.Tx, projectID string, vendors []domain.VendorSelection) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_vendors WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for i, v := range vendors {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_vendors(project_id,vendor_id,role,contract_value,position) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,vendor_id) DO UPDATE SET role=excluded.role, contract_value=excluded.contract_value`,
			projectID, v.VendorID, nullable(v.Role), v.ContractValue, i); err != nil {
			return fmt.Errorf("insert vendor %s: %w", v.VendorID, err)
		}
	}
	return nil
}

// ReplaceMilestones swaps the milestone plan of a project, keeping order.
func (r Repo) ReplaceMilestones(ctx context.Context, tx *sql.Tx, projectID string, milestones []domain.Milestone) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM milestones WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for i, m := range milestones {
		if _, err := tx.ExecContext(ctx, `INSERT INTO milestones(id,project_id,title,type,description,planned_start,planned_finish,position) VALUES (?,?,?,?,?,?,?,?)`,
			uuid.NewString(), projectID, m.Title, nullable(m.Type), nullable(m.Description), m.PlannedStart, nullable(m.PlannedFinish), i); err != nil {
			return fmt.Errorf("insert milestone %q: %w", m.Title, err)
		}
	}
	return nil
}

func listVendorSelections(ctx context.Context, q queryer, projectID string) ([]domain.VendorSelection, error) {
	rows, err := q.QueryContext(ctx, `SELECT vendor_id,COALESCE(role,''),contract_value FROM project_vendors WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VendorSelection
	for rows.Next() {
		var v domain.VendorSelection
		if err := rows.Scan(&v.VendorID, &v.Role, &v.ContractValue); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func listMilestones(ctx context.Context, q queryer, projectID string) ([]domain.Milestone, error) {
	rows, err := q.QueryContext(ctx, `SELECT title,COALESCE(type,''),COALESCE(description,''),planned_start,COALESCE(planned_finish,'') FROM milestones WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		if err := rows.Scan(&m.Title, &m.Type, &m.Description, &m.PlannedStart, &m.PlannedFinish); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ProjectFilters narrows ListProjects. Member matches the assigned PM or SPM.
type ProjectFilters struct {
	Status string
	Member string
	Limit  int
}

// ListProjects returns matching projects, newest first, without vendors or
// milestones.
func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "workflow_status=?")
		args = append(args, f.Status)
	}
	if f.Member != "" {
		clauses = append(clauses, "(assigned_pm=? OR assigned_spm=?)")
		args = append(args, f.Member, f.Member)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
