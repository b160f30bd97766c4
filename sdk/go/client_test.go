package pfmtsdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfmt/internal/domain"
)

func TestInitiateValidatesLocally(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.InitiateProject(context.Background(), InitiateRequest{ProjectDescription: "d"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
	_, err = c.InitiateProject(context.Background(), InitiateRequest{ProjectName: "n", ProjectDescription: "  "})
	assert.True(t, IsKind(err, KindValidation))
	_, err = c.AssignTeam(context.Background(), "p-1", AssignRequest{})
	assert.True(t, IsKind(err, KindValidation))
	assert.Zero(t, calls.Load())
}

func TestStatusMapping(t *testing.T) {
	cases := map[int]ErrorKind{
		http.StatusBadRequest:          KindValidation,
		http.StatusConflict:            KindValidation,
		http.StatusUnprocessableEntity: KindValidation,
		http.StatusUnauthorized:        KindPermission,
		http.StatusForbidden:           KindPermission,
		http.StatusNotFound:            KindNotFound,
		http.StatusInternalServerError: KindServer,
		http.StatusServiceUnavailable:  KindServer,
	}
	for status, kind := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":{"code":"boom","message":"went wrong"}}`)
		}))
		_, err := New(ts.URL).GetWorkflowStatus(context.Background(), "p-1")
		ts.Close()

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr, "status %d", status)
		assert.Equal(t, kind, apiErr.Kind, "status %d", status)
		assert.Equal(t, status, apiErr.StatusCode)
		assert.Equal(t, "boom", apiErr.Code)
		assert.Equal(t, "went wrong", apiErr.Message)
	}
}

func TestErrorWithoutEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL).GetProject(context.Background(), "p-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindServer, apiErr.Kind)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
	assert.Contains(t, apiErr.Body, "plain")
}

func TestNetworkFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()
	_, err := New(url).GetAvailableVendors(context.Background())
	assert.True(t, IsKind(err, KindNetwork))

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	c := New(slow.URL)
	c.Timeout = 50 * time.Millisecond
	_, err = c.GetPendingAssignments(context.Background())
	assert.Equal(t, KindNetwork, KindOf(err))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{not json")
	}))
	defer bad.Close()
	_, err = New(bad.URL).GetMyProjects(context.Background(), "")
	assert.True(t, IsKind(err, KindNetwork))
}

func TestRequestShape(t *testing.T) {
	type seen struct {
		method, path, query string
		header            http.Header
		body              map[string]any
	}
	var last seen
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = seen{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, header: r.Header.Clone()}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&last.body)
		}
		_, _ = io.WriteString(w, `{"project":{"id":"p-1","workflow_status":"assigned"},"users":[{"id":"pm-1"}]}`)
	}))
	defer ts.Close()

	c := New(ts.URL + "/").WithActor("pmi-1", "PMI")
	c.BearerToken = "tok"
	ctx := context.Background()

	resp, err := c.AssignTeam(ctx, "p-1", NewAssignRequest(domain.Assignment{AssignedPM: " pm-1 "}))
	require.NoError(t, err)
	assert.Equal(t, "p-1", resp.Project.ID)
	assert.Equal(t, http.MethodPost, last.method)
	assert.Equal(t, "/api/project-workflow/p-1/assign", last.path)
	assert.Equal(t, "pmi-1", last.header.Get("X-User-Id"))
	assert.Equal(t, "PMI", last.header.Get("X-User-Role"))
	assert.Equal(t, "Bearer tok", last.header.Get("Authorization"))
	assert.Equal(t, "pm-1", last.body["assigned_pm"])
	spm, present := last.body["assigned_spm"]
	assert.True(t, present)
	assert.Nil(t, spm)

	_, err = c.FinalizeProject(ctx, "p-1", FinalizeRequest{DetailedDescription: "d"})
	require.NoError(t, err)
	assert.Equal(t, []any{}, last.body["vendors"])
	assert.Equal(t, []any{}, last.body["milestones"])
	assert.Equal(t, map[string]any{}, last.body["budget_breakdown"])

	users, err := c.GetAvailableUsers(ctx, []string{"PM", "SPM"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "/api/project-workflow/users/available", last.path)
	assert.Equal(t, "roles=PM%2CSPM", last.query)

	_, err = c.GetMyProjects(ctx, "assigned")
	require.NoError(t, err)
	assert.Equal(t, "status=assigned", last.query)
}

func TestWithActorCopies(t *testing.T) {
	base := New("http://example.invalid")
	c := base.WithActor("u", "PM")
	assert.Empty(t, base.UserID)
	assert.Equal(t, "u", c.UserID)
	assert.Equal(t, DefaultTimeout, c.Timeout)
}
