package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pfmt/internal/auth"
	"pfmt/internal/domain"
	"pfmt/internal/engine"
	"pfmt/internal/repo"
	"pfmt/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zerolog.Logger
}

func (c Config) logger() zerolog.Logger {
	if c.Log != nil {
		return *c.Log
	}
	return log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_status"`
	Message string         `json:"message" example:"project must be in initiated status for assign (current: assigned)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every failure is returned in.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the project workflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")
	lg := cfg.logger()
	if cfg.Auth.Log == nil {
		cfg.Auth.Log = &lg
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are plain bad requests.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(lg))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("PFMT Project Workflow API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = "" // Swagger UI is served under the base path
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkflow(group, cfg.Engine)
	registerListings(group, cfg.Engine)
	registerDirectory(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission, "role": fe.Role})
	}
	var na auth.NotAssignedError
	if errors.As(err, &na) {
		return newAPIError(http.StatusForbidden, "not_assigned", "Not authorized to finalize this project", map[string]any{"project_id": na.ProjectID})
	}
	var st engine.StatusError
	if errors.As(err, &st) {
		return newAPIError(http.StatusConflict, "invalid_status", err.Error(), map[string]any{
			"current_status":  string(st.Current),
			"required_status": string(st.Required),
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", ve.Message, map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "Project not found", nil)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "request cancelled", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireFeature checks the caller's role against a feature's role set.
func requireFeature(ctx context.Context, feature auth.Feature) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	allowed := auth.RolesAllowedForFeature(feature)
	if !auth.HasAnyRole(principal.Role, allowed) {
		return Principal{}, auth.ForbiddenError{Permission: string(feature), Role: principal.Role, Allowed: allowed}
	}
	return principal, nil
}

func requestLogger(lg zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			ev := lg.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				ev = lg.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var once sync.Once
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["userHeader"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-User-Id"}
	security := []map[string][]string{{"bearerAuth": {}}, {"userHeader": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>PFMT Project Workflow API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type projectOutput struct {
	Body ProjectResponse `json:"body"`
}

func registerWorkflow(api huma.API, e engine.Engine) {
	transitionErrors := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusInternalServerError,
	}
	initiate := func(ctx context.Context, input *struct {
		Body InitiateRequest `json:"body"`
	}) (*projectOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Initiate(ctx, principal.Actor(), input.Body.toInput())
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: ProjectResponse{Project: p, Message: "Project initiated successfully"}}, nil
	}
	huma.Register(api, huma.Operation{
		OperationID:   "initiate-project",
		Method:        http.MethodPost,
		Path:          "/project-workflow",
		Summary:       "Initiate a project",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, initiate)
	huma.Register(api, huma.Operation{
		OperationID:   "initiate-project-alias",
		Method:        http.MethodPost,
		Path:          "/project-workflow/initiate",
		Summary:       "Initiate a project",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, initiate)

	huma.Register(api, huma.Operation{
		OperationID: "assign-team",
		Method:      http.MethodPost,
		Path:        "/project-workflow/{project_id}/assign",
		Summary:     "Assign the project team",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      AssignRequest `json:"body"`
	}) (*projectOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Assign(ctx, principal.Actor(), input.ProjectID, input.Body.toInput())
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: ProjectResponse{Project: p, Message: "Team assigned successfully"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-project",
		Method:      http.MethodPost,
		Path:        "/project-workflow/{project_id}/finalize",
		Summary:     "Finalize project configuration",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      FinalizeRequest `json:"body"`
	}) (*projectOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Finalize(ctx, principal.Actor(), input.ProjectID, input.Body.toInput())
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: ProjectResponse{Project: p, Message: "Project finalized successfully"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-status",
		Method:      http.MethodGet,
		Path:        "/project-workflow/{project_id}/status",
		Summary:     "Workflow status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.WorkflowState `json:"body"`
	}, error) {
		if _, err := requireFeature(ctx, auth.FeatureProjectView); err != nil {
			return nil, handleError(err)
		}
		ws, err := e.WorkflowState(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowState `json:"body"`
		}{Body: ws}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-next-step",
		Method:      http.MethodGet,
		Path:        "/project-workflow/{project_id}/next-step",
		Summary:     "Next wizard step for the caller",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body workflow.NextStep `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := e.WorkflowState(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		next := workflow.NextStepForUser(workflow.NextStepInput{
			Role:        string(principal.Role),
			Status:      ws.WorkflowStatus,
			AssignedPM:  ws.AssignedPM,
			AssignedSPM: ws.AssignedSPM,
			UserID:      principal.ActorID,
			ProjectID:   ws.ID,
		})
		return &struct {
			Body workflow.NextStep `json:"body"`
		}{Body: next}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-history",
		Method:      http.MethodGet,
		Path:        "/project-workflow/{project_id}/events",
		Summary:     "Workflow audit trail",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		if _, err := requireFeature(ctx, auth.FeatureProjectView); err != nil {
			return nil, handleError(err)
		}
		items, err := e.History(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Events: nonNilSlice(items)}}, nil
	})
}

func registerListings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "pending-assignments",
		Method:      http.MethodGet,
		Path:        "/project-workflow/pending-assignments",
		Summary:     "Initiated projects awaiting a team",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		if _, err := requireFeature(ctx, auth.FeatureTeamAssignment); err != nil {
			return nil, handleError(err)
		}
		items, err := e.PendingAssignments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: projectList(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-projects",
		Method:      http.MethodGet,
		Path:        "/project-workflow/my-projects",
		Summary:     "Projects assigned to the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.MyProjects(ctx, principal.ActorID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: projectList(items)}, nil
	})
}

func registerDirectory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "available-users",
		Method:      http.MethodGet,
		Path:        "/project-workflow/users/available",
		Summary:     "Active users by role",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Roles string `query:"roles" doc:"Comma separated roles; project managers when empty"`
	}) (*struct {
		Body UsersResponse `json:"body"`
	}, error) {
		if _, err := requireFeature(ctx, auth.FeatureProjectView); err != nil {
			return nil, handleError(err)
		}
		var roles []string
		if input.Roles != "" {
			roles = strings.Split(input.Roles, ",")
		}
		users, err := e.AvailableUsers(ctx, roles)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UsersResponse `json:"body"`
		}{Body: UsersResponse{Users: nonNilSlice(users)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "available-vendors",
		Method:      http.MethodGet,
		Path:        "/project-workflow/vendors/available",
		Summary:     "Active vendors",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body VendorsResponse `json:"body"`
	}, error) {
		if _, err := requireFeature(ctx, auth.FeatureProjectView); err != nil {
			return nil, handleError(err)
		}
		vendors, err := e.AvailableVendors(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VendorsResponse `json:"body"`
		}{Body: VendorsResponse{Vendors: nonNilSlice(vendors)}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*projectOutput, error) {
		if _, err := requireFeature(ctx, auth.FeatureProjectView); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: ProjectResponse{Project: p}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Role:        string(principal.Role),
			DisplayName: auth.DisplayName(principal.Role),
			Source:      principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" || !auth.IsValidRole(input.Body.Role) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and a known role are required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, string(auth.NormalizeRole(input.Body.Role)), time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func projectList(items []domain.Project) ProjectListResponse {
	items = nonNilSlice(items)
	return ProjectListResponse{Projects: items, Count: len(items)}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
