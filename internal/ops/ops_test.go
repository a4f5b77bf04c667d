package ops

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/gangworks/strawboss/internal/driver"
	"github.com/gangworks/strawboss/internal/reconcile"
	"github.com/gangworks/strawboss/internal/store"
	"github.com/gangworks/strawboss/pkg/models"
)

func testRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir())
	return NewStoreRegistry(st, nil), st
}

func call(t *testing.T, reg *Registry, op, params string) Response {
	t.Helper()
	return reg.Call(context.Background(), Request{Op: op, Params: json.RawMessage(params)})
}

const createParams = `{
	"identity": "abc123",
	"description": "ship the widget",
	"synopsis": "two-step widget delivery",
	"tasks": [
		{"id": "TASK-001", "designated_agent": "coder", "description": "build", "files_to_modify": ["widget.go"]},
		{"id": "TASK-002", "designated_agent": "coder", "description": "test", "dependencies": ["TASK-001"]}
	]
}`

func TestCallUnknownOp(t *testing.T) {
	reg, _ := testRegistry(t)

	resp := reg.Call(context.Background(), Request{ID: "7", Op: "frobnicate"})
	if resp.OK {
		t.Fatal("unknown op reported OK")
	}
	if resp.ID != "7" {
		t.Errorf("ID = %q, want %q", resp.ID, "7")
	}
	if resp.Error.Code != CodeBadRequest {
		t.Errorf("Code = %q, want %q", resp.Error.Code, CodeBadRequest)
	}
	ops, ok := resp.Error.Details["ops"].([]string)
	if !ok || len(ops) != 7 {
		t.Errorf("Details[ops] = %v, want 7 registered ops", resp.Error.Details["ops"])
	}
}

func TestCreatePlanAndReadBack(t *testing.T) {
	reg, _ := testRegistry(t)

	resp := call(t, reg, "create_plan", createParams)
	if !resp.OK {
		t.Fatalf("create_plan failed: %v", resp.Error)
	}
	plan, ok := resp.Result.(*models.Plan)
	if !ok {
		t.Fatalf("Result type %T, want *models.Plan", resp.Result)
	}
	if len(plan.Tasks) != 2 {
		t.Errorf("plan has %d tasks, want 2", len(plan.Tasks))
	}

	resp = call(t, reg, "read_plan", `{"identity": "abc123"}`)
	if !resp.OK {
		t.Fatalf("read_plan failed: %v", resp.Error)
	}
	if got := resp.Result.(*models.Plan).TaskDescription; got != "ship the widget" {
		t.Errorf("TaskDescription = %q", got)
	}

	resp = call(t, reg, "read_progress", `{"identity": "abc123"}`)
	if !resp.OK {
		t.Fatalf("read_progress failed: %v", resp.Error)
	}
	progress := resp.Result.(*models.Progress)
	for _, tp := range progress.Tasks {
		if tp.State != models.TaskStatePending {
			t.Errorf("task %s state = %q, want pending", tp.ID, tp.State)
		}
	}
}

func TestUpdateProgressOp(t *testing.T) {
	reg, _ := testRegistry(t)
	call(t, reg, "create_plan", createParams)

	resp := call(t, reg, "update_progress",
		`{"identity": "abc123", "task_id": "TASK-001", "state": "in_progress", "agent_session_id": "sess-1"}`)
	if !resp.OK {
		t.Fatalf("start failed: %v", resp.Error)
	}

	resp = call(t, reg, "update_progress",
		`{"identity": "abc123", "task_id": "TASK-001", "state": "completed", "files_modified": ["widget.go"], "summary": "built it"}`)
	if !resp.OK {
		t.Fatalf("complete failed: %v", resp.Error)
	}
	progress := resp.Result.(*models.Progress)
	tp := progress.Tasks[0]
	if tp.State != models.TaskStateCompleted || tp.Summary != "built it" {
		t.Errorf("task after completion = %+v", tp)
	}

	// Metadata-only patch: no state field means no transition check.
	resp = call(t, reg, "update_progress",
		`{"identity": "abc123", "task_id": "TASK-002", "error_message": "dispatch bounced"}`)
	if !resp.OK {
		t.Fatalf("metadata patch failed: %v", resp.Error)
	}
	if got := resp.Result.(*models.Progress).Tasks[1]; got.ErrorMessage != "dispatch bounced" || got.State != models.TaskStatePending {
		t.Errorf("task after patch = %+v", got)
	}
}

func TestErrorCodes(t *testing.T) {
	cycleParams := `{
		"identity": "abc123",
		"description": "whirlpool",
		"tasks": [
			{"id": "TASK-001", "designated_agent": "coder", "description": "a", "dependencies": ["TASK-002"]},
			{"id": "TASK-002", "designated_agent": "coder", "description": "b", "dependencies": ["TASK-001"]}
		]
	}`

	tests := []struct {
		name    string
		prepare func(t *testing.T, reg *Registry, st *store.Store)
		op      string
		params  string
		want    string
	}{
		{
			name:   "cyclic plan",
			op:     "create_plan",
			params: cycleParams,
			want:   CodeValidation,
		},
		{
			name: "unknown task",
			prepare: func(t *testing.T, reg *Registry, _ *store.Store) {
				call(t, reg, "create_plan", createParams)
			},
			op:     "update_progress",
			params: `{"identity": "abc123", "task_id": "TASK-099", "state": "in_progress"}`,
			want:   CodeTaskNotFound,
		},
		{
			name: "illegal transition",
			prepare: func(t *testing.T, reg *Registry, _ *store.Store) {
				call(t, reg, "create_plan", createParams)
			},
			op:     "update_progress",
			params: `{"identity": "abc123", "task_id": "TASK-001", "state": "completed"}`,
			want:   CodeIllegalTransition,
		},
		{
			name:   "missing plan",
			op:     "read_plan",
			params: `{"identity": "abc123"}`,
			want:   CodeNotFound,
		},
		{
			name: "corrupted progress",
			prepare: func(t *testing.T, reg *Registry, st *store.Store) {
				call(t, reg, "create_plan", createParams)
				if err := os.WriteFile(st.ProgressPath("abc123"), []byte("{ not json"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
			op:     "read_progress",
			params: `{"identity": "abc123"}`,
			want:   CodeCorruptedState,
		},
		{
			name:   "missing params",
			op:     "read_plan",
			params: "",
			want:   CodeBadRequest,
		},
		{
			name:   "malformed params",
			op:     "read_plan",
			params: `{"identity": 42`,
			want:   CodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, st := testRegistry(t)
			if tt.prepare != nil {
				tt.prepare(t, reg, st)
			}

			resp := call(t, reg, tt.op, tt.params)
			if resp.OK {
				t.Fatal("expected failure, got OK")
			}
			if resp.Error.Code != tt.want {
				t.Errorf("Code = %q, want %q (message %q)", resp.Error.Code, tt.want, resp.Error.Message)
			}
		})
	}
}

func TestErrorDetails(t *testing.T) {
	reg, _ := testRegistry(t)
	call(t, reg, "create_plan", createParams)

	resp := call(t, reg, "update_progress",
		`{"identity": "abc123", "task_id": "TASK-001", "state": "completed"}`)
	if resp.Error.Details["from"] != "pending" || resp.Error.Details["to"] != "completed" {
		t.Errorf("Details = %v", resp.Error.Details)
	}

	resp = call(t, reg, "update_progress",
		`{"identity": "abc123", "task_id": "TASK-099", "state": "in_progress"}`)
	if resp.Error.Details["task_id"] != "TASK-099" {
		t.Errorf("Details = %v", resp.Error.Details)
	}
}

// Hosts may register their own handlers; dispatch failures they return
// map onto DISPATCH_FAILURE like the built-in errors map onto theirs.
func TestDispatchFailureCode(t *testing.T) {
	reg, _ := testRegistry(t)
	reg.Register("run_task", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, fmt.Errorf("run: %w", &driver.DispatchError{
			TaskID: "TASK-001",
			Agent:  "coder",
			Err:    errors.New("agent exited 1"),
		})
	})

	resp := call(t, reg, "run_task", "{}")
	if resp.OK {
		t.Fatal("expected failure, got OK")
	}
	if resp.Error.Code != CodeDispatchFailure {
		t.Errorf("Code = %q, want %q", resp.Error.Code, CodeDispatchFailure)
	}
	if resp.Error.Details["task_id"] != "TASK-001" || resp.Error.Details["agent"] != "coder" {
		t.Errorf("Details = %v", resp.Error.Details)
	}
}

func TestInitializeProgressOp(t *testing.T) {
	reg, st := testRegistry(t)
	call(t, reg, "create_plan", createParams)

	// Remove the paired progress document, then rebuild it from the plan.
	if err := os.Remove(st.ProgressPath("abc123")); err != nil {
		t.Fatal(err)
	}

	resp := call(t, reg, "initialize_progress", `{"identity": "abc123"}`)
	if !resp.OK {
		t.Fatalf("initialize_progress failed: %v", resp.Error)
	}
	if got := len(resp.Result.(*models.Progress).Tasks); got != 2 {
		t.Errorf("rebuilt progress has %d tasks, want 2", got)
	}

	resp = call(t, reg, "initialize_progress", `{"identity": "nothere"}`)
	if resp.OK || resp.Error.Code != CodeNotFound {
		t.Errorf("initialize without plan = %+v", resp)
	}
}

func TestCompareOp(t *testing.T) {
	st := store.New(t.TempDir())
	policy := reconcile.NewPolicy()
	reg := NewStoreRegistry(st, policy)

	call(t, reg, "create_plan", createParams)
	call(t, reg, "update_progress",
		`{"identity": "abc123", "task_id": "TASK-001", "state": "in_progress"}`)
	call(t, reg, "update_progress",
		`{"identity": "abc123", "task_id": "TASK-001", "state": "completed", "files_modified": ["widget.go", "secrets/api.pem"]}`)

	resp := call(t, reg, "compare_plan_progress", `{"identity": "abc123"}`)
	if !resp.OK {
		t.Fatalf("compare failed: %v", resp.Error)
	}
	diff := resp.Result.(*reconcile.Diff)
	if !diff.DriftDetected {
		t.Fatal("expected drift from undeclared file")
	}

	var found bool
	for _, td := range diff.Tasks {
		if td.TaskID != "TASK-001" {
			continue
		}
		found = true
		if len(td.ExtraFiles) != 1 || td.ExtraFiles[0] != "secrets/api.pem" {
			t.Errorf("ExtraFiles = %v", td.ExtraFiles)
		}
		if len(td.ProtectedHits) == 0 {
			t.Error("expected protected hit for secrets/api.pem")
		}
	}
	if !found {
		t.Error("no diff entry for TASK-001")
	}
}

func TestEligibleTasksOp(t *testing.T) {
	reg, _ := testRegistry(t)
	call(t, reg, "create_plan", createParams)

	resp := call(t, reg, "eligible_tasks", `{"identity": "abc123"}`)
	if !resp.OK {
		t.Fatalf("eligible_tasks failed: %v", resp.Error)
	}
	got := resp.Result.(eligibleResult)
	if len(got.Tasks) != 1 || got.Tasks[0].ID != "TASK-001" {
		t.Errorf("eligible = %+v, want only TASK-001", got.Tasks)
	}

	// Once everything is running or done the result must be an empty
	// array, never null.
	call(t, reg, "update_progress",
		`{"identity": "abc123", "task_id": "TASK-001", "state": "in_progress"}`)
	resp = call(t, reg, "eligible_tasks", `{"identity": "abc123"}`)
	got = resp.Result.(eligibleResult)
	if got.Tasks == nil || len(got.Tasks) != 0 {
		t.Errorf("eligible = %#v, want empty non-nil slice", got.Tasks)
	}
}

func TestServe(t *testing.T) {
	reg, _ := testRegistry(t)

	input := strings.Join([]string{
		fmt.Sprintf(`{"id": "1", "op": "create_plan", "params": %s}`,
			strings.ReplaceAll(strings.ReplaceAll(createParams, "\n", " "), "\t", " ")),
		"",
		"this is not json",
		`{"id": "2", "op": "read_plan", "params": {"identity": "abc123"}}`,
		`{"id": "3", "op": "frobnicate"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := Serve(context.Background(), reg, strings.NewReader(input), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var responses []Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("response line %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}

	if len(responses) != 4 {
		t.Fatalf("got %d responses, want 4", len(responses))
	}
	if !responses[0].OK || responses[0].ID != "1" {
		t.Errorf("create response = %+v", responses[0])
	}
	if responses[1].OK || responses[1].Error.Code != CodeBadRequest {
		t.Errorf("garbage line response = %+v", responses[1])
	}
	if !responses[2].OK || responses[2].ID != "2" {
		t.Errorf("read response = %+v", responses[2])
	}
	if responses[3].OK || responses[3].Error.Code != CodeBadRequest || responses[3].ID != "3" {
		t.Errorf("unknown op response = %+v", responses[3])
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := Serve(ctx, reg, strings.NewReader(`{"op": "read_plan"}`+"\n"), &out)
	if err != context.Canceled {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
}
