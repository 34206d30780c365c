package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shellherd/internal/adapter/gateway"
	"shellherd/internal/adapter/mcpserver"
	"shellherd/internal/adapter/tool"
	"shellherd/internal/domain"
	"shellherd/internal/infra/config"
	"shellherd/internal/infra/logger"
	"shellherd/internal/infra/tracer"
	"shellherd/internal/usecase/command"
	"shellherd/internal/usecase/eventbus"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Handle help and version flags first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version", "version":
			fmt.Printf("shellherd %s\n", version)
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'shellherd --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`shellherd - Shell command execution server for MCP clients

USAGE:
    shellherd [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the MCP server on stdio (default)
    doctor      Run health checks on your setup
    version     Print the version and exit

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults apply without one)
    Environment: SHELLHERD_* variables override config

EXAMPLES:
    shellherd                    # Serve on stdio with config.yaml or defaults
    shellherd --config /etc/shellherd/config.yaml
    SHELLHERD_GATEWAY_ENABLED=true SHELLHERD_GATEWAY_TOKEN=s3cret shellherd
    shellherd doctor             # Check shell, config and gateway health`)
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Stdout carries MCP protocol frames; logs must stay off it.
	if strings.ToLower(cfg.Logger.Output) == "stdout" {
		return fmt.Errorf("logger.output %q conflicts with the stdio transport (use stderr or a file)", cfg.Logger.Output)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Working directory
	if cfg.Server.WorkDir != "" {
		if err := os.Chdir(cfg.Server.WorkDir); err != nil {
			return fmt.Errorf("workdir: %w", err)
		}
	}

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 5. Command manager
	guard := command.NewGuard(cfg.Guard.Enabled)
	manager := command.NewManager(command.ManagerConfig{
		Shell:          cfg.Server.Shell,
		MaxConcurrent:  cfg.Exec.MaxConcurrent,
		DefaultTimeout: cfg.Exec.DefaultTimeout,
		MaxTimeout:     cfg.Exec.MaxTimeout,
		MaxOutputLines: cfg.Output.MaxLines,
		MaxBufferLines: cfg.Output.MaxBufferLines,
		StripEnv:       cfg.Exec.StripEnv,
	}, guard, bus, log)

	// 6. Retention sweep
	retention, err := command.NewRetention(command.RetentionConfig{
		Schedule: cfg.Retention.Schedule,
		MaxAge:   cfg.Retention.MaxAge,
	}, manager, log)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	if retention != nil {
		retention.Start()
		defer retention.Stop()
	}

	// 7. Tools
	registry := tool.NewRegistry(log)
	commandTools := []domain.Tool{
		tool.NewRunCommandTool(manager, log),
		tool.NewStartCommandTool(manager, log),
		tool.NewGetStatusTool(manager, log),
		tool.NewGetOutputTool(manager, log),
		tool.NewWaitCommandTool(manager, log),
		tool.NewWriteStdinTool(manager, log),
		tool.NewKillCommandTool(manager, log),
		tool.NewListCommandsTool(manager, log),
	}
	for _, t := range commandTools {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("tool %s: %w", t.Name(), err)
		}
	}

	// 8. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 9. Gateway (if enabled)
	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		var entries []struct {
			Token, Name string
			Roles       []string
		}
		for _, t := range cfg.Gateway.Auth.Tokens {
			entries = append(entries, struct {
				Token, Name string
				Roles       []string
			}{Token: t.Token, Name: t.Name, Roles: t.Roles})
		}
		auth := gateway.NewStaticTokenAuth(entries)
		gw = gateway.NewServer(bus, auth, cfg.Gateway.Addr, log)

		deps := gateway.HandlerDeps{
			Commands: manager,
			Tools:    registry,
			Bus:      bus,
		}
		gateway.RegisterDefaultHandlers(gw, deps)
		gateway.RegisterRESTHandlers(gw, deps, version)

		go func() {
			if err := gw.Start(ctx); err != nil {
				log.Error("gateway server error", "error", err)
			}
		}()
		log.Info("gateway enabled", "addr", cfg.Gateway.Addr)
	}

	// 10. Cleanup: drain the gateway before killing commands.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if gw != nil {
			gw.Stop(shutdownCtx)
		}
		manager.Stop(shutdownCtx)
	}()

	// 11. Serve MCP over stdio
	log.Info("shellherd starting",
		"version", version,
		"shell", cfg.Server.Shell,
		"tools", len(commandTools),
		"guard", cfg.Guard.Enabled,
		"gateway", cfg.Gateway.Enabled,
	)

	return mcpserver.New(registry.List(), version, log).Serve(ctx)
}

func configPath() string {
	// Check --config flag in os.Args.
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SHELLHERD_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
