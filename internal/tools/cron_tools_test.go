package tools

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nugget/nova-agent/internal/cron"
	"github.com/nugget/nova-agent/internal/paths"
)

func cronRegistry(t *testing.T) (*Registry, *cron.Service) {
	t.Helper()
	ws, err := paths.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := cron.NewService(logger, ws, time.Minute, func(context.Context, cron.Job) {})

	r := testRegistry()
	RegisterCronTools(r, svc)
	return r, svc
}

func TestCronTools_ScheduleListCancel(t *testing.T) {
	r, svc := cronRegistry(t)
	ctx := WithConversation(context.Background(), Conversation{Channel: "telegram", ChatID: "42"})

	out := r.Execute(ctx, "schedule_task", map[string]any{
		"name":          "briefing",
		"message":       "send the morning briefing",
		"schedule_type": "cron",
		"expr":          "30 9 * * *",
	})
	if !strings.Contains(out, "scheduled") {
		t.Fatalf("schedule_task = %q", out)
	}

	jobs := svc.List()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Channel != "telegram" || jobs[0].ChatID != "42" {
		t.Fatalf("conversation not attributed: %+v", jobs[0])
	}

	out = r.Execute(ctx, "list_tasks", nil)
	if !strings.Contains(out, "briefing") || !strings.Contains(out, jobs[0].ID) {
		t.Fatalf("list_tasks = %q", out)
	}

	out = r.Execute(ctx, "cancel_task", map[string]any{"task_id": jobs[0].ID})
	if !strings.Contains(out, "cancelled") {
		t.Fatalf("cancel_task = %q", out)
	}
	if len(svc.List()) != 0 {
		t.Fatal("task not removed")
	}
}

func TestCronTools_ScheduleDeliver(t *testing.T) {
	r, svc := cronRegistry(t)
	ctx := WithConversation(context.Background(), Conversation{Channel: "telegram", ChatID: "42"})

	out := r.Execute(ctx, "schedule_task", map[string]any{
		"name":          "standup ping",
		"message":       "Standup in 5 minutes.",
		"schedule_type": "cron",
		"expr":          "55 9 * * 1-5",
		"deliver":       true,
	})
	if !strings.Contains(out, "scheduled") {
		t.Fatalf("schedule_task = %q", out)
	}

	jobs := svc.List()
	if len(jobs) != 1 || !jobs[0].Deliver {
		t.Fatalf("deliver flag not recorded: %+v", jobs)
	}
}

func TestCronTools_ScheduleValidationSurfaces(t *testing.T) {
	r, _ := cronRegistry(t)
	ctx := context.Background()

	out := r.Execute(ctx, "schedule_task", map[string]any{
		"name":          "bad",
		"message":       "x",
		"schedule_type": "cron",
		"expr":          "not a cron",
	})
	if !strings.Contains(out, "Error executing schedule_task") {
		t.Fatalf("schedule_task = %q", out)
	}
}

func TestCronTools_CancelUnknown(t *testing.T) {
	r, _ := cronRegistry(t)
	out := r.Execute(context.Background(), "cancel_task", map[string]any{"task_id": "nope"})
	if !strings.Contains(out, "task not found") {
		t.Fatalf("cancel_task = %q", out)
	}
}
