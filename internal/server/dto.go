package server

import (
	"pfmt/internal/domain"
	"pfmt/internal/engine"
)

// Request payloads

type InitiateRequest struct {
	ProjectName        string  `json:"project_name" minLength:"1"`
	ProjectDescription string  `json:"project_description" minLength:"1"`
	EstimatedBudget    float64 `json:"estimated_budget,omitempty"`
	StartDate          string  `json:"start_date,omitempty" doc:"YYYY-MM-DD"`
	EndDate            string  `json:"end_date,omitempty" doc:"YYYY-MM-DD"`
	ProjectType        string  `json:"project_type,omitempty"`
	DeliveryMethod     string  `json:"delivery_method,omitempty"`
	ProjectCategory    string  `json:"project_category,omitempty"`
	GeographicRegion   string  `json:"geographic_region,omitempty"`
	ProgramID          string  `json:"program_id,omitempty"`
}

func (r InitiateRequest) toInput() engine.InitiateInput {
	return engine.InitiateInput{
		Name:             r.ProjectName,
		Description:      r.ProjectDescription,
		Category:         r.ProjectCategory,
		ProjectType:      r.ProjectType,
		DeliveryMethod:   r.DeliveryMethod,
		ProgramID:        r.ProgramID,
		GeographicRegion: r.GeographicRegion,
		EstimatedBudget:  r.EstimatedBudget,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
	}
}

type AssignRequest struct {
	AssignedPM  string  `json:"assigned_pm"`
	AssignedSPM *string `json:"assigned_spm,omitempty" nullable:"true"`
	Notes       string  `json:"notes,omitempty"`
}

func (r AssignRequest) toInput() engine.AssignInput {
	in := engine.AssignInput{AssignedPM: r.AssignedPM, Notes: r.Notes}
	if r.AssignedSPM != nil {
		in.AssignedSPM = *r.AssignedSPM
	}
	return in
}

type FinalizeRequest struct {
	Vendors             []domain.VendorSelection `json:"vendors,omitempty"`
	BudgetBreakdown     map[string]float64       `json:"budget_breakdown,omitempty"`
	TotalBudget         float64                  `json:"total_budget,omitempty"`
	DetailedDescription string                   `json:"detailed_description"`
	RiskAssessment      string                   `json:"risk_assessment,omitempty"`
	Milestones          []domain.Milestone       `json:"milestones,omitempty"`
}

func (r FinalizeRequest) toInput() engine.FinalizeInput {
	return engine.FinalizeInput{
		Vendors:             r.Vendors,
		BudgetBreakdown:     r.BudgetBreakdown,
		TotalBudget:         r.TotalBudget,
		DetailedDescription: r.DetailedDescription,
		RiskAssessment:      r.RiskAssessment,
		Milestones:          r.Milestones,
	}
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// Responses

type ProjectResponse struct {
	Project domain.Project `json:"project"`
	Message string         `json:"message,omitempty"`
}

type ProjectListResponse struct {
	Projects []domain.Project `json:"projects"`
	Count    int              `json:"count"`
}

type UsersResponse struct {
	Users []domain.User `json:"users"`
}

type VendorsResponse struct {
	Vendors []domain.Vendor `json:"vendors"`
}

type EventsResponse struct {
	Events []domain.Event `json:"events"`
}

type WhoAmIResponse struct {
	ActorID     string `json:"actor_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	Source      string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}
