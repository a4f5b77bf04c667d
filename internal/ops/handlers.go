package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gangworks/strawboss/internal/graph"
	"github.com/gangworks/strawboss/internal/reconcile"
	"github.com/gangworks/strawboss/internal/store"
	"github.com/gangworks/strawboss/pkg/models"
)

// NewStoreRegistry builds a registry covering the full store surface.
// policy may be nil to compare without protected-path screening.
func NewStoreRegistry(st *store.Store, policy *reconcile.Policy) *Registry {
	r := NewRegistry()
	r.Register("create_plan", createPlanHandler(st))
	r.Register("read_plan", readPlanHandler(st))
	r.Register("read_progress", readProgressHandler(st))
	r.Register("initialize_progress", initializeProgressHandler(st))
	r.Register("update_progress", updateProgressHandler(st))
	r.Register("compare_plan_progress", compareHandler(st, policy))
	r.Register("eligible_tasks", eligibleHandler(st))
	return r
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return &OpError{Code: CodeBadRequest, Message: "missing params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &OpError{Code: CodeBadRequest, Message: fmt.Sprintf("decoding params: %v", err)}
	}
	return nil
}

type identityParams struct {
	Identity string `json:"identity"`
}

type createPlanParams struct {
	Identity    string        `json:"identity"`
	Description string        `json:"description"`
	Synopsis    string        `json:"synopsis"`
	Tasks       []models.Task `json:"tasks"`
}

func createPlanHandler(st *store.Store) Handler {
	return func(_ context.Context, params json.RawMessage) (any, error) {
		var p createPlanParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return st.CreatePlan(p.Identity, p.Description, p.Synopsis, p.Tasks)
	}
}

func readPlanHandler(st *store.Store) Handler {
	return func(_ context.Context, params json.RawMessage) (any, error) {
		var p identityParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return st.ReadPlan(p.Identity)
	}
}

func readProgressHandler(st *store.Store) Handler {
	return func(_ context.Context, params json.RawMessage) (any, error) {
		var p identityParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return st.ReadProgress(p.Identity)
	}
}

func initializeProgressHandler(st *store.Store) Handler {
	return func(_ context.Context, params json.RawMessage) (any, error) {
		var p identityParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		plan, err := st.ReadPlan(p.Identity)
		if err != nil {
			return nil, err
		}
		return st.InitializeProgress(p.Identity, plan)
	}
}

type updateProgressParams struct {
	Identity       string   `json:"identity"`
	TaskID         string   `json:"task_id"`
	State          string   `json:"state"`
	AgentSessionID string   `json:"agent_session_id"`
	FilesModified  []string `json:"files_modified"`
	Summary        string   `json:"summary"`
	ErrorMessage   string   `json:"error_message"`
}

func updateProgressHandler(st *store.Store) Handler {
	return func(_ context.Context, params json.RawMessage) (any, error) {
		var p updateProgressParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return st.UpdateTask(p.Identity, p.TaskID, store.UpdatePatch{
			State:          models.TaskState(p.State),
			AgentSessionID: p.AgentSessionID,
			FilesModified:  p.FilesModified,
			Summary:        p.Summary,
			ErrorMessage:   p.ErrorMessage,
		})
	}
}

func compareHandler(st *store.Store, policy *reconcile.Policy) Handler {
	return func(_ context.Context, params json.RawMessage) (any, error) {
		var p identityParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		plan, err := st.ReadPlan(p.Identity)
		if err != nil {
			return nil, err
		}
		progress, err := st.ReadProgress(p.Identity)
		if err != nil {
			return nil, err
		}
		return reconcile.CompareWithPolicy(plan, progress, policy), nil
	}
}

type eligibleResult struct {
	Tasks []models.TaskProgress `json:"tasks"`
}

func eligibleHandler(st *store.Store) Handler {
	return func(_ context.Context, params json.RawMessage) (any, error) {
		var p identityParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		progress, err := st.ReadProgress(p.Identity)
		if err != nil {
			return nil, err
		}
		tasks := graph.Eligible(progress.Tasks)
		if tasks == nil {
			tasks = []models.TaskProgress{}
		}
		return eligibleResult{Tasks: tasks}, nil
	}
}
