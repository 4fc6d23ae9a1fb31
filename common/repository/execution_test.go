package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/common/db"
	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), 1, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newExecution(id, workflow string) *models.Execution {
	return &models.Execution{
		ID:           id,
		WorkflowName: workflow,
		WorkflowPath: "/tmp/" + workflow + ".yaml",
		Status:       models.ExecutionPending,
		TriggerType:  "manual",
		Inputs:       map[string]any{"env": "test"},
		StartedAt:    time.Now().UTC(),
	}
}

func TestExecution_Lifecycle(t *testing.T) {
	repo := NewExecutionRepository(testDB(t))
	ctx := context.Background()

	exec := newExecution("exec-1", "deploy")
	if err := repo.Create(ctx, exec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.UpdateStatus(ctx, "exec-1", models.ExecutionRunning); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	errMsg := "node failed"
	if err := repo.Finish(ctx, "exec-1", models.ExecutionFailed, &errMsg); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID returned nil for existing execution")
	}
	if got.Status != models.ExecutionFailed {
		t.Errorf("status = %s", got.Status)
	}
	if got.Error == nil || *got.Error != errMsg {
		t.Errorf("error = %v", got.Error)
	}
	if got.FinishedAt == nil || got.DurationMS == nil {
		t.Errorf("terminal stamps missing: finished_at=%v duration_ms=%v", got.FinishedAt, got.DurationMS)
	}
	if got.Inputs["env"] != "test" {
		t.Errorf("inputs = %v", got.Inputs)
	}
}

func TestExecution_GetByIDMissing(t *testing.T) {
	repo := NewExecutionRepository(testDB(t))
	got, err := repo.GetByID(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestExecution_ListFilters(t *testing.T) {
	repo := NewExecutionRepository(testDB(t))
	ctx := context.Background()

	for i, spec := range []struct {
		id, workflow string
		status       models.ExecutionStatus
	}{
		{"e1", "deploy", models.ExecutionSuccess},
		{"e2", "deploy", models.ExecutionFailed},
		{"e3", "backup", models.ExecutionSuccess},
	} {
		exec := newExecution(spec.id, spec.workflow)
		exec.StartedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := repo.Create(ctx, exec); err != nil {
			t.Fatalf("Create %s failed: %v", spec.id, err)
		}
		if err := repo.Finish(ctx, spec.id, spec.status, nil); err != nil {
			t.Fatalf("Finish %s failed: %v", spec.id, err)
		}
	}

	all, err := repo.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d", len(all))
	}
	if all[0].ID != "e3" {
		t.Errorf("most recent first, got %s", all[0].ID)
	}

	deploys, err := repo.List(ctx, ListFilter{Workflow: "deploy"})
	if err != nil || len(deploys) != 2 {
		t.Errorf("workflow filter = %d rows, err %v", len(deploys), err)
	}

	failed, err := repo.List(ctx, ListFilter{Status: "failed"})
	if err != nil || len(failed) != 1 || failed[0].ID != "e2" {
		t.Errorf("status filter = %v, err %v", failed, err)
	}

	page, err := repo.List(ctx, ListFilter{Limit: 1, Offset: 1})
	if err != nil || len(page) != 1 || page[0].ID != "e2" {
		t.Errorf("paged list = %v, err %v", page, err)
	}
}

func TestExecution_CleanupOld(t *testing.T) {
	repo := NewExecutionRepository(testDB(t))
	ctx := context.Background()

	old := newExecution("old", "deploy")
	old.StartedAt = time.Now().UTC().AddDate(0, 0, -40)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, newExecution("fresh", "deploy")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := repo.CleanupOld(ctx, 30)
	if err != nil {
		t.Fatalf("CleanupOld failed: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if got, _ := repo.GetByID(ctx, "fresh"); got == nil {
		t.Error("fresh execution removed")
	}
}

func TestExecution_Stats(t *testing.T) {
	repo := NewExecutionRepository(testDB(t))
	ctx := context.Background()

	for _, spec := range []struct {
		id, workflow string
		status       models.ExecutionStatus
	}{
		{"e1", "deploy", models.ExecutionSuccess},
		{"e2", "deploy", models.ExecutionFailed},
		{"e3", "backup", models.ExecutionSuccess},
	} {
		if err := repo.Create(ctx, newExecution(spec.id, spec.workflow)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := repo.Finish(ctx, spec.id, spec.status, nil); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
	}

	stats, err := repo.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Workflows != 2 {
		t.Errorf("total = %d workflows = %d", stats.Total, stats.Workflows)
	}
	if stats.ByStatus["success"] != 2 || stats.ByStatus["failed"] != 1 {
		t.Errorf("by_status = %v", stats.ByStatus)
	}

	scoped, err := repo.Stats(ctx, "backup")
	if err != nil || scoped.Total != 1 || scoped.Workflows != 1 {
		t.Errorf("scoped stats = %+v, err %v", scoped, err)
	}
}

func TestExecution_NodeRowsAndCascade(t *testing.T) {
	repo := NewExecutionRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newExecution("exec-1", "deploy")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	started := time.Now().UTC()
	finished := started.Add(50 * time.Millisecond)
	duration := int64(50)
	for _, nodeID := range []string{"build", "test", "publish"} {
		node := &models.NodeExecution{
			ExecutionID: "exec-1",
			NodeID:      nodeID,
			NodeType:    "shell",
			Status:      models.NodeSuccess,
			StartedAt:   &started,
			FinishedAt:  &finished,
			DurationMS:  &duration,
			Stdout:      "done",
			Output:      "done",
		}
		if err := repo.CreateNode(ctx, node); err != nil {
			t.Fatalf("CreateNode %s failed: %v", nodeID, err)
		}
		if node.ID == 0 {
			t.Errorf("CreateNode did not backfill row id for %s", nodeID)
		}
	}

	nodes, err := repo.ListNodes(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}
	if len(nodes) != 3 || nodes[0].NodeID != "build" || nodes[2].NodeID != "publish" {
		t.Errorf("nodes = %v", nodes)
	}

	page, total, err := repo.ListNodesPage(ctx, "exec-1", 2, 2)
	if err != nil {
		t.Fatalf("ListNodesPage failed: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].NodeID != "publish" {
		t.Errorf("page = %v total = %d", page, total)
	}

	if err := repo.Delete(ctx, "exec-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	nodes, err = repo.ListNodes(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListNodes after delete failed: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("node rows did not cascade: %v", nodes)
	}
}
