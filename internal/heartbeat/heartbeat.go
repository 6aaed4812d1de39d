// Package heartbeat wakes the agent on a fixed interval so it can act
// on standing instructions without a user message. The checklist lives
// in HEARTBEAT.md; when it has nothing actionable, the tick is skipped
// and no tokens are spent.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nugget/nova-agent/internal/bus"
	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/prompts"
)

// DefaultInterval is how often the agent wakes.
const DefaultInterval = 30 * time.Minute

// Processor handles a heartbeat message like any other inbound message.
type Processor interface {
	Process(ctx context.Context, msg bus.InboundMessage) string
}

// Service runs the heartbeat ticks.
type Service struct {
	logger    *slog.Logger
	ws        *paths.Workspace
	processor Processor
	interval  time.Duration
	user      string

	// notify receives replies that are not HEARTBEAT_OK. Nil means
	// they are only logged.
	notify func(ctx context.Context, content string)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a heartbeat service.
func NewService(logger *slog.Logger, ws *paths.Workspace, processor Processor, interval time.Duration, user string, notify func(ctx context.Context, content string)) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		logger:    logger.With("component", "heartbeat"),
		ws:        ws,
		processor: processor,
		interval:  interval,
		user:      user,
		notify:    notify,
	}
}

// Start launches the ticker loop.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("heartbeat started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("heartbeat stopped")
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the ticker and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Tick runs one heartbeat pass.
func (s *Service) Tick(ctx context.Context) {
	checklist, ok := s.readChecklist()
	if !ok {
		s.logger.Debug("heartbeat skipped, nothing actionable")
		return
	}

	reply := s.processor.Process(ctx, bus.InboundMessage{
		Channel:  "heartbeat",
		SenderID: s.user,
		ChatID:   "heartbeat",
		Content:  prompts.HeartbeatPrompt(checklist),
	})

	if isOK(reply) {
		s.logger.Debug("heartbeat ok")
		return
	}

	s.logger.Info("heartbeat produced output", "chars", len(reply))
	if s.notify != nil {
		s.notify(ctx, reply)
	}
}

// readChecklist loads HEARTBEAT.md and reports whether it contains
// actionable content. Headers, HTML comments, and blank lines do not
// count.
func (s *Service) readChecklist() (string, bool) {
	data, err := os.ReadFile(s.ws.HeartbeatFile())
	if err != nil {
		return "", false
	}

	content := string(data)
	actionable := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "<!--") {
			continue
		}
		actionable = true
		break
	}
	return content, actionable
}

func isOK(reply string) bool {
	return strings.TrimSpace(reply) == prompts.HeartbeatOK || reply == ""
}
