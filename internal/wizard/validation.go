package wizard

import (
	"fmt"
	"strings"
	"time"

	"pfmt/internal/domain"
)

// FieldIssue is a validation message bound to a form field.
type FieldIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Validation is the detailed form of a CanSubmit predicate. Warnings never
// block submission.
type Validation struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldIssue `json:"errors,omitempty"`
	Warnings []FieldIssue `json:"warnings,omitempty"`
}

func (v *Validation) fail(field, msg string) {
	v.Errors = append(v.Errors, FieldIssue{Field: field, Message: msg})
}

func (v *Validation) warn(field, msg string) {
	v.Warnings = append(v.Warnings, FieldIssue{Field: field, Message: msg})
}

// InitiationValidation explains CanSubmitInitiation.
func (s *Store) InitiationValidation() Validation {
	in := s.Initiation()
	var v Validation
	if strings.TrimSpace(in.Name) == "" {
		v.fail("name", "Project name is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		v.fail("description", "Project description is required")
	}
	if in.EstimatedBudget < 0 {
		v.warn("estimated_budget", "Budget must be greater than 0")
	}
	if start, end, ok := parseDates(in.StartDate, in.EndDate); ok && !end.After(start) {
		v.warn("end_date", "End date must be after start date")
	}
	v.Valid = len(v.Errors) == 0
	return v
}

// AssignmentValidation explains CanSubmitAssignment.
func (s *Store) AssignmentValidation() Validation {
	a := s.Assignment()
	var v Validation
	if strings.TrimSpace(a.AssignedPM) == "" {
		v.fail("assigned_pm", "Project Manager is required")
	}
	if a.AssignedPM != "" && a.AssignedPM == a.AssignedSPM {
		v.warn("assigned_spm", "Project Manager and Senior Project Manager are the same user")
	}
	v.Valid = len(v.Errors) == 0
	return v
}

// FinalizationValidation explains CanSubmitFinalization.
func (s *Store) FinalizationValidation() Validation {
	s.mu.Lock()
	o, m := s.overview, cloneMilestones(s.milestone)
	b, vend := cloneBudget(s.budget), cloneVendors(s.vendors)
	s.mu.Unlock()

	var v Validation
	if strings.TrimSpace(o.DetailedDescription) == "" {
		v.fail("detailed_description", "Detailed description is required")
	}
	if len(completeMilestones(m)) == 0 {
		var first domain.Milestone
		if len(m.Milestones) > 0 {
			first = m.Milestones[0]
		}
		if strings.TrimSpace(first.Title) == "" {
			v.fail("milestone_title", "First milestone title is required")
		}
		if strings.TrimSpace(first.PlannedStart) == "" {
			v.fail("milestone_start", "Milestone start date is required")
		}
	}
	complete := len(completeMilestones(m)) > 0
	for i, ms := range m.Milestones {
		if milestoneComplete(ms) || (i == 0 && !complete) {
			continue
		}
		v.warn("milestones", fmt.Sprintf("Milestone %d is incomplete and will not be submitted", i+1))
	}
	if len(b.Breakdown) == 0 {
		v.warn("budget_breakdown", "Budget breakdown is recommended for better project tracking")
	}
	if len(vend.Selected) == 0 {
		v.warn("vendors", "Consider adding vendors for project execution")
	}
	if strings.TrimSpace(o.RiskAssessment) == "" {
		v.warn("risk_assessment", "Risk assessment is recommended before finalization")
	}
	v.Valid = len(v.Errors) == 0
	return v
}

func parseDates(start, end string) (time.Time, time.Time, bool) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, false
	}
	s, err := parseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	e, err := parseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return s, e, true
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
