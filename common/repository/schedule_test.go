package repository

import (
	"context"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/common/models"
)

func TestSchedule_UpsertAndGet(t *testing.T) {
	repo := NewScheduleRepository(testDB(t))
	ctx := context.Background()

	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	sched := &models.Schedule{
		WorkflowName:  "nightly",
		WorkflowPath:  "/tmp/nightly.yaml",
		Enabled:       true,
		TriggerConfig: `[{"type":"cron","schedule":"0 2 * * *"}]`,
		NextRun:       &next,
	}
	if err := repo.Upsert(ctx, sched); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := repo.GetByName(ctx, "nightly")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetByName returned nil")
	}
	if !got.Enabled || got.TriggerConfig != sched.TriggerConfig {
		t.Errorf("row = %+v", got)
	}
	if got.NextRun == nil || !got.NextRun.Equal(next) {
		t.Errorf("next_run = %v, want %v", got.NextRun, next)
	}

	// upsert replaces in place
	sched.Enabled = false
	if err := repo.Upsert(ctx, sched); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	rows, err := repo.List(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("List = %d rows, err %v", len(rows), err)
	}
	if rows[0].Enabled {
		t.Error("upsert did not replace enabled flag")
	}
}

func TestSchedule_GetMissing(t *testing.T) {
	repo := NewScheduleRepository(testDB(t))
	got, err := repo.GetByName(context.Background(), "ghost")
	if err != nil || got != nil {
		t.Errorf("GetByName missing = %+v, err %v", got, err)
	}
}

func TestSchedule_RecordRun(t *testing.T) {
	repo := NewScheduleRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, &models.Schedule{WorkflowName: "nightly", WorkflowPath: "/tmp/nightly.yaml", Enabled: true}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	next := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	if err := repo.RecordRun(ctx, "nightly", "started", &next); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	got, err := repo.GetByName(ctx, "nightly")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got.LastRun == nil || got.LastStatus == nil || *got.LastStatus != "started" {
		t.Errorf("run stamps = last_run %v last_status %v", got.LastRun, got.LastStatus)
	}
	if got.NextRun == nil || !got.NextRun.Equal(next) {
		t.Errorf("next_run = %v", got.NextRun)
	}
}

func TestSchedule_SetEnabledAndDelete(t *testing.T) {
	repo := NewScheduleRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, &models.Schedule{WorkflowName: "nightly", WorkflowPath: "/tmp/nightly.yaml", Enabled: true}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := repo.SetEnabled(ctx, "nightly", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	got, _ := repo.GetByName(ctx, "nightly")
	if got.Enabled {
		t.Error("enabled flag not cleared")
	}

	if err := repo.Delete(ctx, "nightly"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := repo.GetByName(ctx, "nightly"); got != nil {
		t.Errorf("row survived delete: %+v", got)
	}
}
