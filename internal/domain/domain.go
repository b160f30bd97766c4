package domain

// Section names a wizard form section tracked by the dirty set.
type Section string

const (
	SectionInitiation Section = "initiation"
	SectionAssignment Section = "assignment"
	SectionOverview   Section = "overview"
	SectionVendors    Section = "vendors"
	SectionBudget     Section = "budget"
	SectionMilestone  Section = "milestone"
)

// Sections returns every section in wizard order.
func Sections() []Section {
	return []Section{
		SectionInitiation,
		SectionAssignment,
		SectionOverview,
		SectionVendors,
		SectionBudget,
		SectionMilestone,
	}
}

type Initiation struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	Category         string  `json:"category,omitempty"`
	ProjectType      string  `json:"project_type,omitempty"`
	DeliveryMethod   string  `json:"delivery_method,omitempty"`
	ProgramID        string  `json:"program_id,omitempty"`
	GeographicRegion string  `json:"geographic_region,omitempty"`
	EstimatedBudget  float64 `json:"estimated_budget,omitempty"`
	StartDate        string  `json:"start_date,omitempty" format:"date"`
	EndDate          string  `json:"end_date,omitempty" format:"date"`
}

type Assignment struct {
	AssignedPM  string `json:"assigned_pm"`
	AssignedSPM string `json:"assigned_spm,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type Overview struct {
	DetailedDescription string `json:"detailed_description"`
	RiskAssessment      string `json:"risk_assessment,omitempty"`
}

type VendorSelection struct {
	VendorID      string  `json:"vendor_id"`
	Role          string  `json:"role,omitempty"`
	ContractValue float64 `json:"contract_value,omitempty"`
}

type Vendors struct {
	Selected []VendorSelection `json:"selected,omitempty"`
}

type Budget struct {
	TotalBudget float64            `json:"total_budget,omitempty"`
	Breakdown   map[string]float64 `json:"breakdown,omitempty"`
}

type Milestone struct {
	Title         string `json:"title"`
	Type          string `json:"type,omitempty"`
	Description   string `json:"description,omitempty"`
	PlannedStart  string `json:"planned_start" format:"date"`
	PlannedFinish string `json:"planned_finish,omitempty" format:"date"`
}

type MilestonePlan struct {
	Milestones []Milestone `json:"milestones,omitempty"`
}

// StateSnapshot is the serialized form of an in-progress wizard.
type StateSnapshot struct {
	ProjectID      string        `json:"project_id,omitempty"`
	Timestamp      string        `json:"timestamp" format:"date-time"`
	UserID         string        `json:"user_id"`
	UserRole       string        `json:"user_role"`
	Initiation     Initiation    `json:"initiation"`
	Assignment     Assignment    `json:"assignment"`
	Overview       Overview      `json:"overview"`
	Vendors        Vendors       `json:"vendors"`
	Budget         Budget        `json:"budget"`
	Milestone      MilestonePlan `json:"milestone"`
	DirtySections  []Section     `json:"dirty_sections"`
	WorkflowStatus string        `json:"workflow_status,omitempty"`
}

type Draft struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
	UserID      string        `json:"user_id"`
	UserRole    string        `json:"user_role,omitempty"`
	Snapshot    StateSnapshot `json:"snapshot"`
}

type Metadata struct {
	LastSavedAt     string `json:"last_saved_at" format:"date-time"`
	LastAccessedAt  string `json:"last_accessed_at" format:"date-time"`
	Version         string `json:"version"`
	AutoSaveEnabled bool   `json:"auto_save_enabled"`
	SessionID       string `json:"session_id"`
}

// Project is the server-side project aggregate as returned by the workflow API.
type Project struct {
	ID                  string             `json:"id"`
	Name                string             `json:"project_name"`
	Description         string             `json:"project_description,omitempty"`
	Category            string             `json:"project_category,omitempty"`
	ProjectType         string             `json:"project_type,omitempty"`
	DeliveryMethod      string             `json:"delivery_method,omitempty"`
	ProgramID           string             `json:"program_id,omitempty"`
	GeographicRegion    string             `json:"geographic_region,omitempty"`
	EstimatedBudget     float64            `json:"estimated_budget,omitempty"`
	StartDate           string             `json:"start_date,omitempty"`
	EndDate             string             `json:"end_date,omitempty"`
	WorkflowStatus      string             `json:"workflow_status" enum:"initiated,assigned,finalized,active,complete,cancelled"`
	LifecycleStatus     string             `json:"lifecycle_status,omitempty"`
	CreatedBy           string             `json:"created_by"`
	AssignedPM          string             `json:"assigned_pm,omitempty"`
	AssignedSPM         string             `json:"assigned_spm,omitempty"`
	AssignedBy          string             `json:"assigned_by,omitempty"`
	AssignmentNotes     string             `json:"assignment_notes,omitempty"`
	FinalizedBy         string             `json:"finalized_by,omitempty"`
	FinalizedAt         string             `json:"finalized_at,omitempty" format:"date-time"`
	DetailedDescription string             `json:"detailed_description,omitempty"`
	RiskAssessment      string             `json:"risk_assessment,omitempty"`
	BudgetBreakdown     map[string]float64 `json:"budget_breakdown,omitempty"`
	Vendors             []VendorSelection  `json:"vendors,omitempty"`
	Milestones          []Milestone        `json:"milestones,omitempty"`
	CreatedAt           string             `json:"created_at" format:"date-time"`
	UpdatedAt           string             `json:"updated_at" format:"date-time"`
}

// WorkflowState is the lightweight status view of a project.
type WorkflowState struct {
	ID             string `json:"id"`
	WorkflowStatus string `json:"workflow_status"`
	AssignedPM     string `json:"assigned_pm,omitempty"`
	AssignedSPM    string `json:"assigned_spm,omitempty"`
	CreatedBy      string `json:"created_by"`
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

type Vendor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Active   bool   `json:"active"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}
