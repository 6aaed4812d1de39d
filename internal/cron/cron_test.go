package cron

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/store"
)

func testService(t *testing.T, fire FireFunc) (*Service, *paths.Workspace) {
	t.Helper()
	ws, err := paths.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if fire == nil {
		fire = func(context.Context, Job) {}
	}
	return NewService(logger, ws, time.Minute, fire), ws
}

type fireRecorder struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *fireRecorder) fire(_ context.Context, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *fireRecorder) fired() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

func TestAdd_Validation(t *testing.T) {
	s, _ := testService(t, nil)

	cases := []struct {
		name string
		job  Job
	}{
		{"unknown type", Job{ScheduleType: "hourly", Message: "hi"}},
		{"once without at", Job{ScheduleType: KindOnce, Message: "hi"}},
		{"once bad time", Job{ScheduleType: KindOnce, At: "tomorrow", Message: "hi"}},
		{"interval zero", Job{ScheduleType: KindInterval, EverySec: 0, Message: "hi"}},
		{"cron bad expr", Job{ScheduleType: KindCron, Expr: "not a cron", Message: "hi"}},
		{"empty message", Job{ScheduleType: KindInterval, EverySec: 60, Message: "  "}},
	}
	for _, tc := range cases {
		if _, err := s.Add(tc.job); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestAdd_PersistsAndReloads(t *testing.T) {
	s, ws := testService(t, nil)

	id, err := s.Add(Job{
		Name:         "standup",
		Message:      "time for standup",
		ScheduleType: KindCron,
		Expr:         "0 9 * * 1-5",
		Deliver:      true,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty job ID")
	}

	var doc jobsDoc
	if !store.ReadJSON(ws.CronJobsFile(), &doc) {
		t.Fatal("jobs file not written")
	}
	if len(doc.Jobs) != 1 || doc.Jobs[0].ID != id {
		t.Fatalf("persisted jobs = %+v", doc.Jobs)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s2 := NewService(logger, ws, time.Minute, func(context.Context, Job) {})
	if got := s2.List(); len(got) != 1 || got[0].Name != "standup" || !got[0].Deliver {
		t.Fatalf("reloaded jobs = %+v", got)
	}
}

func TestRemove(t *testing.T) {
	s, _ := testService(t, nil)

	id, err := s.Add(Job{ScheduleType: KindInterval, EverySec: 60, Message: "ping"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ok, err := s.Remove(id)
	if err != nil || !ok {
		t.Fatalf("Remove(%s) = %v, %v", id, ok, err)
	}
	if len(s.List()) != 0 {
		t.Fatal("job not removed")
	}

	ok, err = s.Remove("job-missing")
	if err != nil || ok {
		t.Fatalf("Remove(missing) = %v, %v", ok, err)
	}
}

func TestCheck_OnceFiresAndRemoves(t *testing.T) {
	rec := &fireRecorder{}
	s, _ := testService(t, rec.fire)

	now := time.Now()
	if _, err := s.Add(Job{
		ScheduleType: KindOnce,
		At:           now.Add(10 * time.Second).Format(time.RFC3339),
		Message:      "reminder",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.check(context.Background(), now.Add(30*time.Second))
	if got := rec.fired(); len(got) != 1 || got[0].Message != "reminder" {
		t.Fatalf("fired = %+v", got)
	}
	if len(s.List()) != 0 {
		t.Fatal("once job should be removed after firing")
	}
}

func TestCheck_OnceMissedWhileDownStillFires(t *testing.T) {
	rec := &fireRecorder{}
	s, _ := testService(t, rec.fire)

	if _, err := s.Add(Job{
		ScheduleType: KindOnce,
		At:           time.Now().Add(-2 * time.Hour).Format(time.RFC3339),
		Message:      "late reminder",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.check(context.Background(), time.Now())
	if got := rec.fired(); len(got) != 1 {
		t.Fatalf("missed once job should fire on next tick, fired = %+v", got)
	}
}

func TestCheck_OnceNotYetDue(t *testing.T) {
	rec := &fireRecorder{}
	s, _ := testService(t, rec.fire)

	if _, err := s.Add(Job{
		ScheduleType: KindOnce,
		At:           time.Now().Add(time.Hour).Format(time.RFC3339),
		Message:      "later",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.check(context.Background(), time.Now())
	if got := rec.fired(); len(got) != 0 {
		t.Fatalf("future job fired early: %+v", got)
	}
	if len(s.List()) != 1 {
		t.Fatal("future job should remain")
	}
}

func TestCheck_IntervalRespectsSpacing(t *testing.T) {
	rec := &fireRecorder{}
	s, _ := testService(t, rec.fire)

	if _, err := s.Add(Job{
		ScheduleType: KindInterval,
		EverySec:     3600,
		Message:      "hourly",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	now := time.Now()
	s.check(context.Background(), now.Add(10*time.Minute))
	if len(rec.fired()) != 0 {
		t.Fatal("interval fired before spacing elapsed")
	}

	s.check(context.Background(), now.Add(61*time.Minute))
	if len(rec.fired()) != 1 {
		t.Fatal("interval should fire once spacing elapsed")
	}

	jobs := s.List()
	if len(jobs) != 1 || jobs[0].RunCount != 1 || jobs[0].LastRun == "" {
		t.Fatalf("run state not updated: %+v", jobs)
	}
}

func TestCheck_CronExpression(t *testing.T) {
	rec := &fireRecorder{}
	s, _ := testService(t, rec.fire)

	if _, err := s.Add(Job{
		ScheduleType: KindCron,
		Expr:         "30 9 * * *",
		Message:      "morning briefing",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local)

	s.check(context.Background(), day.Add(9*time.Hour))
	if len(rec.fired()) != 0 {
		t.Fatal("fired before scheduled minute")
	}

	s.check(context.Background(), day.Add(9*time.Hour+30*time.Minute))
	if len(rec.fired()) != 1 {
		t.Fatal("should fire on the scheduled minute")
	}

	// The same minute must not fire twice.
	s.check(context.Background(), day.Add(9*time.Hour+30*time.Minute+30*time.Second))
	if len(rec.fired()) != 1 {
		t.Fatalf("double fire: %d", len(rec.fired()))
	}
}

func TestStartStop(t *testing.T) {
	s, _ := testService(t, nil)
	s.interval = 10 * time.Millisecond
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
