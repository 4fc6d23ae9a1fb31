package triggers

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/common/db"
	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/repository"
)

func testSchedules(t *testing.T) *repository.ScheduleRepository {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "sched.db"), 1, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return repository.NewScheduleRepository(database)
}

func newTestScheduler(t *testing.T, jobPath string, launcher Launcher) *Scheduler {
	t.Helper()
	s, err := NewScheduler(jobPath, launcher, testSchedules(t), time.Minute, logger.Nop())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return s
}

func cronWorkflow(name, schedule string) *models.Workflow {
	return &models.Workflow{
		Name:     name,
		Triggers: []models.Trigger{{Type: models.TriggerCron, Schedule: schedule}},
	}
}

func TestScheduleSpec(t *testing.T) {
	cases := []struct {
		name    string
		trigger models.Trigger
		want    string
		wantErr bool
	}{
		{
			name:    "plain cron",
			trigger: models.Trigger{Type: models.TriggerCron, Schedule: "0 2 * * *"},
			want:    "0 2 * * *",
		},
		{
			name:    "cron with timezone",
			trigger: models.Trigger{Type: models.TriggerCron, Schedule: "0 2 * * *", Timezone: "Europe/Paris"},
			want:    "CRON_TZ=Europe/Paris 0 2 * * *",
		},
		{
			name:    "interval",
			trigger: models.Trigger{Type: models.TriggerInterval, Every: "5m"},
			want:    "@every 5m0s",
		},
		{
			name:    "interval with days",
			trigger: models.Trigger{Type: models.TriggerInterval, Every: "1d"},
			want:    "@every 24h0m0s",
		},
		{
			name:    "invalid interval",
			trigger: models.Trigger{Type: models.TriggerInterval, Every: "soonish"},
			wantErr: true,
		},
		{
			name:    "manual is not a schedule",
			trigger: models.Trigger{Type: models.TriggerManual},
			want:    "",
		},
		{
			name:    "webhook is not a schedule",
			trigger: models.Trigger{Type: models.TriggerWebhook, Path: "/x"},
			want:    "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := scheduleSpec(tc.trigger)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("scheduleSpec failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("spec = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestScheduler_AddRemove(t *testing.T) {
	jobPath := filepath.Join(t.TempDir(), "jobs.db")
	launcher := &fakeLauncher{}
	s := newTestScheduler(t, jobPath, launcher)
	defer s.Stop(context.Background())

	n, err := s.Add(cronWorkflow("nightly", "0 2 * * *"))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if n != 1 {
		t.Errorf("entries = %d", n)
	}
	if !s.Scheduled("nightly") {
		t.Error("Scheduled = false")
	}
	next := s.NextRun("nightly")
	if next == nil || !next.After(time.Now()) {
		t.Errorf("NextRun = %v", next)
	}

	s.Remove("nightly")
	if s.Scheduled("nightly") {
		t.Error("Scheduled = true after Remove")
	}
	if s.NextRun("nightly") != nil {
		t.Error("NextRun survived Remove")
	}
}

func TestScheduler_AddInvalidSchedule(t *testing.T) {
	jobPath := filepath.Join(t.TempDir(), "jobs.db")
	s := newTestScheduler(t, jobPath, &fakeLauncher{})
	defer s.Stop(context.Background())

	_, err := s.Add(cronWorkflow("broken", "1 2 3 4"))
	if err == nil || !strings.Contains(err.Error(), "invalid schedule") {
		t.Errorf("err = %v", err)
	}
	if s.Scheduled("broken") {
		t.Error("invalid schedule registered")
	}
}

func TestScheduler_AddReplaces(t *testing.T) {
	jobPath := filepath.Join(t.TempDir(), "jobs.db")
	s := newTestScheduler(t, jobPath, &fakeLauncher{})
	defer s.Stop(context.Background())

	if _, err := s.Add(cronWorkflow("nightly", "0 2 * * *")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(cronWorkflow("nightly", "0 3 * * *")); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	entries := len(s.entries["nightly"])
	s.mu.Unlock()
	if entries != 1 {
		t.Errorf("entries after replace = %d, want 1", entries)
	}
}

func TestScheduler_IntervalFires(t *testing.T) {
	if testing.Short() {
		t.Skip("timing sensitive")
	}
	jobPath := filepath.Join(t.TempDir(), "jobs.db")
	launcher := &fakeLauncher{}
	s := newTestScheduler(t, jobPath, launcher)
	defer s.Stop(context.Background())

	wf := &models.Workflow{
		Name:     "ticker",
		Triggers: []models.Trigger{{Type: models.TriggerInterval, Every: "1s"}},
	}
	if _, err := s.Add(wf); err != nil {
		t.Fatal(err)
	}
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		calls := launcher.calls()
		if len(calls) > 0 {
			if calls[0].workflow != "ticker" || calls[0].triggerType != models.TriggerTagScheduled {
				t.Errorf("call = %+v", calls[0])
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("interval schedule never fired")
}

func TestScheduler_RestorePersistedJobs(t *testing.T) {
	jobPath := filepath.Join(t.TempDir(), "jobs.db")
	workflows := map[string]*models.Workflow{
		"nightly": cronWorkflow("nightly", "0 2 * * *"),
	}
	load := func(name string) (*models.Workflow, error) {
		wf, ok := workflows[name]
		if !ok {
			return nil, context.Canceled
		}
		return wf, nil
	}

	first := newTestScheduler(t, jobPath, &fakeLauncher{})
	if _, err := first.Add(workflows["nightly"]); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Add(cronWorkflow("orphan", "0 4 * * *")); err != nil {
		t.Fatal(err)
	}
	if err := first.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	second := newTestScheduler(t, jobPath, &fakeLauncher{})
	defer second.Stop(context.Background())
	second.Restore(load)

	if !second.Scheduled("nightly") {
		t.Error("persisted schedule not restored")
	}
	if second.Scheduled("orphan") {
		t.Error("unresolvable workflow restored")
	}
}
