package pfmtsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pfmt/internal/domain"
	"pfmt/internal/workflow"
)

// DefaultTimeout bounds each request. Expiry surfaces as a network error.
const DefaultTimeout = 30 * time.Second

// Client talks to the project-workflow REST API. It never retries.
type Client struct {
	BaseURL     string
	UserID      string
	UserRole    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: DefaultTimeout,
	}
}

// WithActor returns a copy of c that identifies as userID/role.
func (c *Client) WithActor(userID, role string) *Client {
	cp := *c
	cp.UserID = userID
	cp.UserRole = role
	return &cp
}

// InitiateRequest is the wire form of an initiation submission.
type InitiateRequest struct {
	ProjectName        string  `json:"project_name"`
	ProjectDescription string  `json:"project_description"`
	EstimatedBudget    float64 `json:"estimated_budget,omitempty"`
	StartDate          string  `json:"start_date,omitempty"`
	EndDate            string  `json:"end_date,omitempty"`
	ProjectType        string  `json:"project_type,omitempty"`
	DeliveryMethod     string  `json:"delivery_method,omitempty"`
	ProjectCategory    string  `json:"project_category,omitempty"`
	GeographicRegion   string  `json:"geographic_region,omitempty"`
	ProgramID          string  `json:"program_id,omitempty"`
}

// NewInitiateRequest maps the initiation section onto the wire names.
func NewInitiateRequest(in domain.Initiation) InitiateRequest {
	return InitiateRequest{
		ProjectName:        strings.TrimSpace(in.Name),
		ProjectDescription: strings.TrimSpace(in.Description),
		EstimatedBudget:    in.EstimatedBudget,
		StartDate:          in.StartDate,
		EndDate:            in.EndDate,
		ProjectType:        in.ProjectType,
		DeliveryMethod:     in.DeliveryMethod,
		ProjectCategory:    in.Category,
		GeographicRegion:   in.GeographicRegion,
		ProgramID:          in.ProgramID,
	}
}

// AssignRequest names the PM and optional SPM. An empty SPM is sent as null.
type AssignRequest struct {
	AssignedPM  string  `json:"assigned_pm"`
	AssignedSPM *string `json:"assigned_spm"`
	Notes       string  `json:"notes,omitempty"`
}

// NewAssignRequest maps the assignment section onto the wire form.
func NewAssignRequest(a domain.Assignment) AssignRequest {
	req := AssignRequest{AssignedPM: strings.TrimSpace(a.AssignedPM), Notes: a.Notes}
	if spm := strings.TrimSpace(a.AssignedSPM); spm != "" {
		req.AssignedSPM = &spm
	}
	return req
}

// FinalizeRequest carries the configure sections in one payload.
type FinalizeRequest struct {
	Vendors             []domain.VendorSelection `json:"vendors"`
	BudgetBreakdown     map[string]float64       `json:"budget_breakdown"`
	TotalBudget         float64                  `json:"total_budget,omitempty"`
	DetailedDescription string                   `json:"detailed_description"`
	RiskAssessment      string                   `json:"risk_assessment,omitempty"`
	Milestones          []domain.Milestone       `json:"milestones"`
}

// ProjectResponse is returned by the transition endpoints and GetProject.
type ProjectResponse struct {
	Project domain.Project `json:"project"`
	Message string         `json:"message,omitempty"`
}

// ProjectList is returned by the dashboard listings.
type ProjectList struct {
	Projects []domain.Project `json:"projects"`
	Count    int              `json:"count"`
}

// InitiateProject creates a project. Missing name or description fails
// locally with a validation error and no request is sent.
func (c *Client) InitiateProject(ctx context.Context, req InitiateRequest) (ProjectResponse, error) {
	if strings.TrimSpace(req.ProjectName) == "" {
		return ProjectResponse{}, validationError("project name is required")
	}
	if strings.TrimSpace(req.ProjectDescription) == "" {
		return ProjectResponse{}, validationError("project description is required")
	}
	var resp ProjectResponse
	err := c.do(ctx, http.MethodPost, "api/project-workflow", req, &resp)
	return resp, err
}

// AssignTeam assigns the PM/SPM of an initiated project.
func (c *Client) AssignTeam(ctx context.Context, projectID string, req AssignRequest) (ProjectResponse, error) {
	if strings.TrimSpace(req.AssignedPM) == "" {
		return ProjectResponse{}, validationError("assigned project manager is required")
	}
	var resp ProjectResponse
	err := c.do(ctx, http.MethodPost, workflowPath(projectID, "assign"), req, &resp)
	return resp, err
}

// FinalizeProject completes configuration of an assigned project.
func (c *Client) FinalizeProject(ctx context.Context, projectID string, req FinalizeRequest) (ProjectResponse, error) {
	if req.Vendors == nil {
		req.Vendors = []domain.VendorSelection{}
	}
	if req.BudgetBreakdown == nil {
		req.BudgetBreakdown = map[string]float64{}
	}
	if req.Milestones == nil {
		req.Milestones = []domain.Milestone{}
	}
	var resp ProjectResponse
	err := c.do(ctx, http.MethodPost, workflowPath(projectID, "finalize"), req, &resp)
	return resp, err
}

// GetWorkflowStatus fetches the authoritative workflow status.
func (c *Client) GetWorkflowStatus(ctx context.Context, projectID string) (domain.WorkflowState, error) {
	var resp domain.WorkflowState
	err := c.do(ctx, http.MethodGet, workflowPath(projectID, "status"), nil, &resp)
	return resp, err
}

// GetProject fetches the full project.
func (c *Client) GetProject(ctx context.Context, projectID string) (ProjectResponse, error) {
	var resp ProjectResponse
	err := c.do(ctx, http.MethodGet, "api/projects/"+url.PathEscape(projectID), nil, &resp)
	return resp, err
}

// GetAvailableUsers lists active users holding one of roles.
func (c *Client) GetAvailableUsers(ctx context.Context, roles []string) ([]domain.User, error) {
	endpoint := "api/project-workflow/users/available"
	if len(roles) > 0 {
		endpoint += "?roles=" + url.QueryEscape(strings.Join(roles, ","))
	}
	var resp struct {
		Users []domain.User `json:"users"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Users, err
}

// GetAvailableVendors lists active vendors.
func (c *Client) GetAvailableVendors(ctx context.Context) ([]domain.Vendor, error) {
	var resp struct {
		Vendors []domain.Vendor `json:"vendors"`
	}
	err := c.do(ctx, http.MethodGet, "api/project-workflow/vendors/available", nil, &resp)
	return resp.Vendors, err
}

// GetPendingAssignments lists initiated projects awaiting a team.
func (c *Client) GetPendingAssignments(ctx context.Context) (ProjectList, error) {
	var resp ProjectList
	err := c.do(ctx, http.MethodGet, "api/project-workflow/pending-assignments", nil, &resp)
	return resp, err
}

// GetMyProjects lists projects assigned to the calling actor. An empty
// status or "all" returns every status.
func (c *Client) GetMyProjects(ctx context.Context, status string) (ProjectList, error) {
	endpoint := "api/project-workflow/my-projects"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp ProjectList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// NextStepForUser is the local routing decision; it performs no request.
func (c *Client) NextStepForUser(in workflow.NextStepInput) workflow.NextStep {
	return workflow.NextStepForUser(in)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return validationError(fmt.Sprintf("encode request: %v", err))
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return networkError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.UserID != "" {
		req.Header.Set("X-User-Id", c.UserID)
	}
	if c.UserRole != "" {
		req.Header.Set("X-User-Role", c.UserRole)
	}
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return networkError("request timed out", err)
		}
		return networkError("request failed", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError("read response", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(data),
			Message:    http.StatusText(resp.StatusCode),
		}
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return networkError("decode response", err)
		}
	}
	return nil
}

func workflowPath(projectID, action string) string {
	return fmt.Sprintf("api/project-workflow/%s/%s", url.PathEscape(projectID), action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
