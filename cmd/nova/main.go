// Nova is a personal AI assistant agent.
//
// It talks over Telegram and a local HTTP API, remembers facts about
// its users with semantic recall, keeps long-term markdown memory that
// it consolidates in the background, and wakes itself on a heartbeat
// and on scheduled jobs. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	nova serve               Run the full agent
//	nova init [dir]          Initialize a workspace with defaults
//	nova chat <message>      One-shot exchange (for testing)
//	nova status              Show configuration and provider health
//	nova version             Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/nova-agent/internal/agent"
	"github.com/nugget/nova-agent/internal/api"
	"github.com/nugget/nova-agent/internal/buildinfo"
	"github.com/nugget/nova-agent/internal/bus"
	"github.com/nugget/nova-agent/internal/channels/telegram"
	"github.com/nugget/nova-agent/internal/config"
	"github.com/nugget/nova-agent/internal/cron"
	"github.com/nugget/nova-agent/internal/embeddings"
	"github.com/nugget/nova-agent/internal/facts"
	"github.com/nugget/nova-agent/internal/fetch"
	"github.com/nugget/nova-agent/internal/heartbeat"
	"github.com/nugget/nova-agent/internal/llm"
	"github.com/nugget/nova-agent/internal/memory"
	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/search"
	"github.com/nugget/nova-agent/internal/session"
	"github.com/nugget/nova-agent/internal/tools"
)

// main constructs the OS-level environment and delegates to [run], so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package's global state fights with parallel tests, and the surface
// is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Secrets referenced as ${VAR} in config.yaml commonly live in a
	// .env next to it. A missing file is fine.
	_ = godotenv.Load()

	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "serve", "":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "chat":
		if len(cmdArgs) > 0 && cmdArgs[0] == "-m" {
			cmdArgs = cmdArgs[1:]
		}
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: nova chat [-m] <message>")
		}
		return runChat(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "status":
		return runStatus(ctx, stdout, configPath)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Nova - Personal AI Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: nova [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Run the full agent (default)")
	fmt.Fprintln(w, "  init [dir]     Initialize a workspace with defaults (default: .)")
	fmt.Fprintln(w, "  chat <msg>     One-shot exchange (for testing)")
	fmt.Fprintln(w, "  status         Show configuration and provider health")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>  Path to config file (default: auto-discover)")
	return nil
}

// services is everything runServe constructs, so one-shot commands can
// reuse the assembly with the channels left off.
type services struct {
	cfg          *config.Config
	logger       *slog.Logger
	ws           *paths.Workspace
	bus          *bus.Bus
	llm          llm.Client
	sessions     *session.Manager
	memStore     *memory.Store
	factStore    *facts.Store
	consolidator *memory.Consolidator
	registry     *tools.Registry
	cron         *cron.Service
	loop         *agent.Loop
}

// buildServices wires the core agent stack from configuration.
// Everything is constructed explicitly; there are no globals.
func buildServices(cfg *config.Config, logger *slog.Logger) (*services, error) {
	ws, err := paths.NewWorkspace(paths.ExpandHome(cfg.Workspace.Path))
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	memStore := memory.NewStore(logger, ws)
	if err := memStore.EnsureSeeded(); err != nil {
		return nil, fmt.Errorf("seed memory files: %w", err)
	}

	sessions := session.NewManager(logger, ws)
	b := bus.New(64)

	llmClient := llm.NewOpenAIClient(logger, llm.OpenAIConfig{
		BaseURL:     cfg.Provider.BaseURL,
		APIKey:      cfg.Provider.APIKey,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
	})

	// Semantic memory needs an embedding backend; without one the
	// agent still runs, just without fact recall.
	var factStore *facts.Store
	if cfg.Embeddings.Enabled {
		encoder := embeddings.New(embeddings.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
		factStore = facts.NewStore(logger, ws, encoder)
	} else {
		logger.Warn("embeddings disabled - fact recall unavailable")
	}

	completer := memory.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		resp, err := llmClient.Chat(ctx, cfg.Provider.Model, []llm.Message{{Role: "user", Content: prompt}}, nil)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	})
	consolidator := memory.NewConsolidator(logger, memStore, sessions, completer, memory.ConsolidatorConfig{
		KeepRecent: cfg.Agent.ConsolidateKeep,
	})

	registry := tools.NewRegistry(logger)

	sandbox, err := tools.NewSandbox(ws.Root())
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	tools.RegisterFileTools(registry, sandbox)

	shellCfg := tools.DefaultShellExecConfig()
	shellCfg.Enabled = cfg.ShellExec.Enabled
	shellCfg.WorkingDir = cfg.ShellExec.WorkingDir
	shellCfg.DeniedCmds = append(shellCfg.DeniedCmds, cfg.ShellExec.DeniedPatterns...)
	shellCfg.DefaultTimeout = time.Duration(cfg.ShellExec.DefaultTimeoutSec) * time.Second
	shell, err := tools.NewShellExec(shellCfg, sandbox)
	if err != nil {
		return nil, fmt.Errorf("shell exec: %w", err)
	}
	tools.RegisterShellTool(registry, shell)

	searchMgr := search.NewManager(cfg.Search.Provider)
	if cfg.Search.APIKey != "" {
		searchMgr.Register(search.NewBrave(cfg.Search.APIKey))
	}
	tools.RegisterWebTools(registry, searchMgr, fetch.New())

	if factStore != nil {
		tools.RegisterMemoryTools(registry, factStore)
	}

	cronSvc := cron.NewService(logger, ws, cfg.Cron.CheckInterval, func(ctx context.Context, job cron.Job) {
		channel := job.Channel
		if channel == "" {
			channel = "cron"
		}
		if job.Deliver {
			out := bus.OutboundMessage{
				Channel: channel,
				ChatID:  job.ChatID,
				Content: job.Message,
			}
			if out.ChatID == "" {
				out.ChatID = "cron"
			}
			if err := b.PublishOutbound(ctx, out); err != nil {
				logger.Error("deliver cron job", "job", job.ID, "error", err)
			}
			return
		}
		msg := bus.InboundMessage{
			Channel:  channel,
			SenderID: cfg.DefaultUser,
			ChatID:   job.ChatID,
			Content:  job.Message,
		}
		if msg.ChatID == "" {
			msg.ChatID = "cron"
		}
		if err := b.PublishInbound(ctx, msg); err != nil {
			logger.Error("deliver cron job", "job", job.ID, "error", err)
		}
	})
	tools.RegisterCronTools(registry, cronSvc)

	loop := agent.NewLoop(logger, agent.Config{
		Model:         cfg.Provider.Model,
		MaxIterations: cfg.Agent.MaxIterations,
		MemoryWindow:  cfg.Agent.MemoryWindow,
		DefaultUser:   cfg.DefaultUser,
	}, ws, llmClient, registry, sessions, memStore, factStore, consolidator, b)

	return &services{
		cfg:          cfg,
		logger:       logger,
		ws:           ws,
		bus:          b,
		llm:          llmClient,
		sessions:     sessions,
		memStore:     memStore,
		factStore:    factStore,
		consolidator: consolidator,
		registry:     registry,
		cron:         cronSvc,
		loop:         loop,
	}, nil
}

// runServe runs the full agent until SIGINT/SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level)
	logger.Info("starting Nova",
		"version", buildinfo.Version,
		"config", cfgPath,
		"workspace", cfg.Workspace.Path,
		"model", cfg.Provider.Model,
	)

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}

	if err := svc.llm.Ping(ctx); err != nil {
		logger.Warn("completion provider unreachable at startup", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc.loop.Start(ctx)
	defer svc.loop.Stop()

	if cfg.Cron.Enabled {
		svc.cron.Start(ctx)
		defer svc.cron.Stop()
	}

	if cfg.Heartbeat.Enabled {
		hb := heartbeat.NewService(logger, svc.ws, svc.loop, cfg.Heartbeat.Interval, cfg.DefaultUser, nil)
		hb.Start(ctx)
		defer hb.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Telegram.Enabled {
		bot := telegram.NewBot(logger, telegram.Config{
			Token:        cfg.Telegram.Token,
			AllowedUsers: cfg.Telegram.AllowedUsers,
		}, svc.bus)
		bot.OnCommand("new", func(ctx context.Context, chatID string) string {
			key := telegram.Channel + ":" + chatID
			if err := svc.consolidator.Consolidate(ctx, key, true); err != nil {
				logger.Warn("archive on /new failed", "session", key, "error", err)
				if err := svc.sessions.Reset(key); err != nil {
					return "Sorry, I couldn't reset this conversation."
				}
			}
			return "Started a fresh conversation. The old one is archived to memory."
		})
		bot.Start(ctx)
		defer bot.Stop()
	} else {
		// Nothing consumes the outbound side without Telegram; drain
		// it so the agent never blocks on a full queue.
		g.Go(func() error { return drainOutbound(gctx, logger, svc.bus) })
	}

	if cfg.API.Enabled {
		server := api.NewServer(logger, cfg.API.Address, cfg.API.Port, svc.loop)
		g.Go(func() error {
			if err := server.Start(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Shutdown(context.Background())
		})
	}

	logger.Info("Nova is up")
	if err := g.Wait(); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("Nova stopped")
	return nil
}

// drainOutbound logs replies that have no delivery channel.
func drainOutbound(ctx context.Context, logger *slog.Logger, b *bus.Bus) error {
	for {
		out, err := b.ConsumeOutbound(ctx)
		if err != nil {
			return nil
		}
		logger.Info("reply with no delivery channel",
			"channel", out.Channel, "chat_id", out.ChatID, "content", out.Content)
	}
}

// runChat is a one-shot exchange for smoke testing: build the stack,
// process one message, print the reply.
func runChat(ctx context.Context, stdout io.Writer, configPath, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Keep the terminal clean; warnings still surface.
	logger := newLogger(stdout, slog.LevelWarn)

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}

	reply := svc.loop.Process(ctx, bus.InboundMessage{
		Channel:  "cli",
		SenderID: cfg.DefaultUser,
		ChatID:   "cli",
		Content:  message,
	})
	fmt.Fprintln(stdout, reply)

	svc.consolidator.Wait()
	return nil
}

// runStatus prints configuration and checks provider reachability.
func runStatus(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, buildinfo.String())
	fmt.Fprintf(stdout, "  config:     %s\n", cfgPath)
	fmt.Fprintf(stdout, "  workspace:  %s\n", cfg.Workspace.Path)
	fmt.Fprintf(stdout, "  model:      %s (%s)\n", cfg.Provider.Model, cfg.Provider.BaseURL)

	logger := newLogger(io.Discard, slog.LevelError)
	client := llm.NewOpenAIClient(logger, llm.OpenAIConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		fmt.Fprintf(stdout, "  provider:   unreachable (%v)\n", err)
	} else {
		fmt.Fprintln(stdout, "  provider:   ok")
	}

	fmt.Fprintf(stdout, "  embeddings: enabled=%v model=%s\n", cfg.Embeddings.Enabled, cfg.Embeddings.Model)
	fmt.Fprintf(stdout, "  telegram:   enabled=%v\n", cfg.Telegram.Enabled)
	fmt.Fprintf(stdout, "  api:        enabled=%v port=%d\n", cfg.API.Enabled, cfg.API.Port)
	return nil
}

// newLogger standardizes slog handler configuration across
// subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
