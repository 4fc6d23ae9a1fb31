// Package triggers wires workflow trigger declarations to the runner: cron
// and interval schedules, filesystem watches and inbound webhooks.
package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	str2duration "github.com/xhit/go-str2duration/v2"
	"go.etcd.io/bbolt"

	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/repository"
)

var jobsBucket = []byte("jobs")

// Launcher starts workflow executions. Implemented by the runner.
type Launcher interface {
	Start(ctx context.Context, name, triggerType string, inputs map[string]any) (*models.Execution, error)
}

// jobRecord is the persisted form of a scheduled workflow, used to restore
// schedules across daemon restarts.
type jobRecord struct {
	WorkflowName string     `json:"workflow_name"`
	Specs        []string   `json:"specs"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	AddedAt      time.Time  `json:"added_at"`
}

// Scheduler owns the cron runtime and the persistent job store. Overlapping
// firings of the same workflow are skipped rather than stacked.
type Scheduler struct {
	cron      *cron.Cron
	parser    cron.Parser
	launcher  Launcher
	schedules *repository.ScheduleRepository
	jobs      *bbolt.DB
	grace     time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	entries map[string][]cron.EntryID
}

type cronPrintf struct {
	log *logger.Logger
}

func (p cronPrintf) Printf(format string, args ...any) {
	p.log.Debug(fmt.Sprintf(format, args...))
}

// NewScheduler opens the job store and builds the cron runtime. Cron specs
// accept five fields, or six with a leading seconds field.
func NewScheduler(jobDBPath string, launcher Launcher, schedules *repository.ScheduleRepository, misfireGrace time.Duration, log *logger.Logger) (*Scheduler, error) {
	jobs, err := bbolt.Open(jobDBPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open scheduler job store: %w", err)
	}
	if err := jobs.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	}); err != nil {
		jobs.Close()
		return nil, fmt.Errorf("failed to initialize scheduler job store: %w", err)
	}

	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	runtime := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(cronPrintf{log: log}))),
	)

	return &Scheduler{
		cron:      runtime,
		parser:    parser,
		launcher:  launcher,
		schedules: schedules,
		jobs:      jobs,
		grace:     misfireGrace,
		log:       log,
		entries:   make(map[string][]cron.EntryID),
	}, nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop halts the cron runtime and closes the job store, waiting for running
// jobs up to the context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
	return s.jobs.Close()
}

// Add registers all cron and interval triggers of a workflow, replacing any
// previous registration. Returns the number of schedule entries added.
func (s *Scheduler) Add(wf *models.Workflow) (int, error) {
	s.remove(wf.Name)

	var specs []string
	for _, trigger := range wf.Triggers {
		spec, err := scheduleSpec(trigger)
		if err != nil {
			return 0, fmt.Errorf("workflow %q: %w", wf.Name, err)
		}
		if spec == "" {
			continue
		}
		if _, err := s.parser.Parse(spec); err != nil {
			return 0, fmt.Errorf("workflow %q: invalid schedule %q: %w", wf.Name, spec, err)
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return 0, nil
	}

	name := wf.Name
	var ids []cron.EntryID
	for _, spec := range specs {
		id, err := s.cron.AddFunc(spec, func() { s.fire(name) })
		if err != nil {
			return 0, fmt.Errorf("workflow %q: %w", name, err)
		}
		ids = append(ids, id)
	}

	s.mu.Lock()
	s.entries[name] = ids
	s.mu.Unlock()

	next := s.NextRun(name)
	if err := s.persistJob(jobRecord{
		WorkflowName: name,
		Specs:        specs,
		NextRun:      next,
		AddedAt:      time.Now().UTC(),
	}); err != nil {
		s.log.Error("failed to persist schedule", "workflow", name, "error", err)
	}

	s.log.Info("schedule registered", "workflow", name, "entries", len(specs))
	return len(specs), nil
}

// Remove drops all schedule entries for a workflow.
func (s *Scheduler) Remove(name string) {
	s.remove(name)
	if err := s.jobs.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).Delete([]byte(name))
	}); err != nil {
		s.log.Error("failed to remove persisted schedule", "workflow", name, "error", err)
	}
}

func (s *Scheduler) remove(name string) {
	s.mu.Lock()
	ids := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()
	for _, id := range ids {
		s.cron.Remove(id)
	}
}

// Scheduled reports whether a workflow has active schedule entries.
func (s *Scheduler) Scheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[name]) > 0
}

// NextRun returns the earliest upcoming firing for a workflow.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	ids := s.entries[name]
	s.mu.Unlock()

	var next *time.Time
	for _, id := range ids {
		entry := s.cron.Entry(id)
		if entry.ID == 0 {
			continue
		}
		at := entry.Next
		if at.IsZero() {
			at = entry.Schedule.Next(time.Now())
		}
		if next == nil || at.Before(*next) {
			next = &at
		}
	}
	return next
}

// Restore re-registers persisted schedules at boot. A workflow whose next
// firing was missed within the misfire grace window fires once immediately;
// records for workflows that no longer resolve are dropped.
func (s *Scheduler) Restore(load func(name string) (*models.Workflow, error)) {
	var records []jobRecord
	if err := s.jobs.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(_, v []byte) error {
			var rec jobRecord
			if err := json.Unmarshal(v, &rec); err == nil {
				records = append(records, rec)
			}
			return nil
		})
	}); err != nil {
		s.log.Error("failed to read persisted schedules", "error", err)
		return
	}

	for _, rec := range records {
		wf, err := load(rec.WorkflowName)
		if err != nil {
			s.log.Warn("dropping schedule for unresolvable workflow",
				"workflow", rec.WorkflowName, "error", err)
			s.Remove(rec.WorkflowName)
			continue
		}
		if _, err := s.Add(wf); err != nil {
			s.log.Error("failed to restore schedule", "workflow", rec.WorkflowName, "error", err)
			continue
		}
		if rec.NextRun != nil && rec.NextRun.Before(time.Now()) && time.Since(*rec.NextRun) <= s.grace {
			s.log.Info("firing missed schedule within grace window", "workflow", rec.WorkflowName)
			go s.fire(rec.WorkflowName)
		}
	}
	s.log.Info("schedules restored", "count", len(records))
}

// fire launches one scheduled execution and records the outcome on the
// schedule row.
func (s *Scheduler) fire(name string) {
	execution, err := s.launcher.Start(context.Background(), name, models.TriggerTagScheduled, nil)

	status := "started"
	if err != nil {
		status = "error"
		s.log.Error("scheduled firing failed", "workflow", name, "error", err)
	} else {
		s.log.Info("scheduled firing", "workflow", name, "execution_id", execution.ID)
	}

	next := s.NextRun(name)
	if err := s.schedules.RecordRun(context.Background(), name, status, next); err != nil {
		s.log.Error("failed to record schedule run", "workflow", name, "error", err)
	}
	if err := s.jobs.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(jobsBucket).Get([]byte(name))
		if data == nil {
			return nil
		}
		var rec jobRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil
		}
		rec.NextRun = next
		return s.putJob(tx, rec)
	}); err != nil {
		s.log.Error("failed to update persisted schedule", "workflow", name, "error", err)
	}
}

func (s *Scheduler) persistJob(rec jobRecord) error {
	return s.jobs.Update(func(tx *bbolt.Tx) error {
		return s.putJob(tx, rec)
	})
}

func (s *Scheduler) putJob(tx *bbolt.Tx, rec jobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(jobsBucket).Put([]byte(rec.WorkflowName), data)
}

// scheduleSpec translates a trigger declaration into a cron spec, empty for
// non-schedule triggers. Interval triggers become @every specs; a cron
// timezone becomes a CRON_TZ prefix.
func scheduleSpec(trigger models.Trigger) (string, error) {
	switch trigger.Type {
	case models.TriggerCron:
		spec := trigger.Schedule
		if trigger.Timezone != "" {
			spec = "CRON_TZ=" + trigger.Timezone + " " + spec
		}
		return spec, nil
	case models.TriggerInterval:
		d, err := str2duration.ParseDuration(trigger.Every)
		if err != nil {
			return "", fmt.Errorf("invalid interval %q: %w", trigger.Every, err)
		}
		if d <= 0 {
			return "", fmt.Errorf("interval %q must be positive", trigger.Every)
		}
		return "@every " + d.String(), nil
	default:
		return "", nil
	}
}
