package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hearth/internal/banner"
	"hearth/internal/cli"
	"hearth/internal/config"
	ctxman "hearth/internal/context"
	"hearth/internal/dispatch"
	"hearth/internal/domain"
	"hearth/internal/gateway"
	"hearth/internal/llm"
	"hearth/internal/module"
	"hearth/internal/modules/camera"
	"hearth/internal/modules/dutch"
	"hearth/internal/modules/files"
	"hearth/internal/modules/system"
	"hearth/internal/scheduler"
	"hearth/internal/secrets"
	"hearth/internal/security"
	"hearth/internal/session"
	"hearth/internal/tokenizer"
	"hearth/internal/tooling"
)

// defaultSystemPrompt frames the assistant for the model. Kept short; every
// token here is paid on every turn.
const defaultSystemPrompt = "You are Hearth, a helpful assistant running on a small home device. " +
	"Use the available tools to check system health, read files in your sandbox, " +
	"manage Dutch vocabulary practice, and take camera snapshots. " +
	"Keep answers short; they are often read on a small display."

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("hearth %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:   "hearth",
		Short: "On-device assistant runtime",
		Long:  "Hearth is a local-first assistant runtime for small always-on devices.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return runDaemon(cmd, args, daemonShutdownCh)
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, gateway, and paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			checkArgs := []string{"hearth", "check"}
			if fix {
				checkArgs = append(checkArgs, "--fix")
			}
			code := cli.RunCheck(checkArgs, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config if missing")
	root.AddCommand(checkCmd)

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run device health checks (config, data dir, Ollama, secrets, sensors)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			code := cli.RunDoctor(cli.DoctorOptions{Fix: fix}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	doctorCmd.Flags().Bool("fix", false, "attempt automatic repairs")
	root.AddCommand(doctorCmd)

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the configured modules expose",
		RunE:  runTools,
	}
	root.AddCommand(toolsCmd)

	secretsCmd := &cobra.Command{Use: "secrets", Short: "Store or retrieve API keys and secrets (encrypted, not in config)"}
	secretsSetCmd := &cobra.Command{Use: "set", Short: "Store a secret (e.g. API key) by name", RunE: runSecretsSet}
	secretsSetCmd.Args = cobra.ExactArgs(2)
	secretsGetCmd := &cobra.Command{Use: "get", Short: "Retrieve a secret by name", RunE: runSecretsGet}
	secretsGetCmd.Args = cobra.ExactArgs(1)
	secretsDeleteCmd := &cobra.Command{Use: "delete", Short: "Remove a secret by name", RunE: runSecretsDelete}
	secretsDeleteCmd.Args = cobra.ExactArgs(1)
	secretsCmd.AddCommand(secretsSetCmd, secretsGetCmd, secretsDeleteCmd)
	root.AddCommand(secretsCmd)

	return root
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	m, err := secrets.DefaultManager()
	if err != nil {
		return err
	}
	key, value := args[0], args[1]
	if err := m.Set(key, value); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func runSecretsGet(cmd *cobra.Command, args []string) error {
	m, err := secrets.DefaultManager()
	if err != nil {
		return err
	}
	value, err := m.Get(args[0])
	if err != nil {
		if err == secrets.ErrNotFound {
			return fmt.Errorf("secret %q not found", args[0])
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runSecretsDelete(cmd *cobra.Command, args []string) error {
	m, err := secrets.DefaultManager()
	if err != nil {
		return err
	}
	return m.Delete(args[0])
}

// runTools starts the configured modules (without the gateway) and prints
// every registered tool. Modules that fail to initialize are reported as
// failed rather than aborting the listing.
func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return err
	}
	registry := tooling.NewRegistry()
	host := module.NewHost(registry)
	addModules(host, cfg)
	if err := host.Start(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "  some modules failed: %v\n", err)
	}
	defer host.Stop()

	for _, def := range registry.Definitions() {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-22s %s\n", def.Name, def.Description)
	}
	return nil
}

// addModules registers every enabled capability module on the host.
func addModules(host *module.Host, cfg *domain.Config) {
	if config.ModuleEnabled(cfg, "system") {
		_ = host.Add(system.NewModule())
	}
	if config.ModuleEnabled(cfg, "files") && cfg.Modules.FilesRoot != "" {
		_ = host.Add(files.NewModule(cfg.Modules.FilesRoot))
	}
	if config.ModuleEnabled(cfg, "dutch") && cfg.Modules.DataDir != "" {
		dbURL := "file:" + filepath.Join(cfg.Modules.DataDir, "vocab.db")
		var opts []dutch.Option
		if cfg.Modules.SeedVocab != "" {
			opts = append(opts, dutch.WithSeedFile(cfg.Modules.SeedVocab))
		}
		_ = host.Add(dutch.NewModule(dbURL, opts...))
	}
	if config.ModuleEnabled(cfg, "camera") && cfg.Modules.DataDir != "" {
		source := camera.NewCommandFrameSource(captureBinary, "--nopreview", "--immediate", "--output")
		_ = host.Add(camera.NewModule(source, filepath.Join(cfg.Modules.DataDir, "snapshots")))
	}
}

// captureBinary is the still-capture command used by the camera module.
var captureBinary = "rpicam-still"

// setupLogger builds the process logger from infra config and installs it
// as the slog default.
func setupLogger(cfg domain.InfraConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// runDaemon runs the daemon loop. If shutdownCh is non-nil, it returns when shutdownCh is closed (for tests).
// Otherwise it blocks on OS signals.
func runDaemon(cmd *cobra.Command, args []string, shutdownCh <-chan struct{}) error {
	euidGetter := security.EffectiveUIDGetter()
	if daemonEUIDGetter != nil {
		euidGetter = daemonEUIDGetter
	}
	if err := security.RequireNonRoot(euidGetter); err != nil {
		return err
	}
	version := getVersion()
	banner.Startup(version, nil)

	cfgPath := config.DefaultPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println("  (no config file, using defaults; run `hearth check --fix`)")
	} else {
		auth := "disabled"
		if cfg.Gateway.Auth.AuthToken != "" {
			auth = "token"
		}
		fmt.Printf("  gateway :%d  auth=%s\n", cfg.Gateway.Port, auth)
	}

	var gatewayShutdown chan struct{}
	var sched *scheduler.Scheduler
	var watcher *config.Watcher
	var host *module.Host
	if cfg != nil {
		logger := setupLogger(cfg.Infra)

		registry := tooling.NewRegistry()
		host = module.NewHost(registry, module.WithLogger(logger))
		addModules(host, cfg)
		if err := host.Start(context.Background()); err != nil {
			// Failed modules stay Failed; the rest of the system keeps running.
			logger.Warn("some modules failed to start", "error", err)
		}
		for id, state := range host.Status() {
			fmt.Printf("  module %-8s %s\n", id, state)
		}

		engine := dispatch.NewEngine(registry, dispatch.WithLogger(logger))

		getSecret := llm.SecretGetter(nil)
		if sm, smErr := secrets.DefaultManager(); smErr == nil {
			getSecret = sm.Get
		}
		providers, err := llm.BuildService(cfg.Providers, getSecret, &cfg.Retry)
		if err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		fmt.Printf("  provider %s (available: %s)\n", providers.DefaultName(), strings.Join(providers.List(), ", "))

		coordOpts := []session.Option{
			session.WithLogger(logger),
			session.WithSystemPrompt(defaultSystemPrompt),
		}
		if cfg.Modules.DataDir != "" {
			coordOpts = append(coordOpts, session.WithHistoryDir(filepath.Join(cfg.Modules.DataDir, "sessions")))
		}
		if cfg.Context.MaxTokens > 0 {
			if tok, tokErr := tokenizer.NewTikToken(cfg.Context.Encoding); tokErr == nil {
				coordOpts = append(coordOpts, session.WithContextManager(ctxman.NewManager(tok, cfg.Context.MaxTokens)))
			} else {
				logger.Warn("tokenizer unavailable, context window unmanaged", "error", tokErr)
			}
		}
		coord := session.NewCoordinator(providers, engine, registry, coordOpts...)

		sched = scheduler.NewScheduler(
			scheduler.NewRobfigCronEngine(),
			makeSchedulerHandler(coord, schedulerPrintFn),
			scheduler.WithLogger(logger),
		)
		sched.LoadConfig(cfg.Schedule)
		sched.Start()

		srv, srvErr := gateway.NewServer(&cfg.Gateway, gateway.Deps{
			Chat:      coord,
			Providers: providers,
			Registry:  registry,
			Host:      host,
			Logger:    logger,
		})
		if srvErr != nil {
			fmt.Fprintf(gatewayBindErrWriter, "  gateway start: %v\n", srvErr)
		} else {
			gatewayServerForTest = srv
			gatewayShutdown = make(chan struct{})
			go func() {
				_ = srv.Run(gatewayShutdown)
			}()
			// Wait until the server has bound so "ready." means clients can connect.
			var bound string
			for i := 0; i < daemonBindWaitIterations; i++ {
				if a := srv.Addr(); a != "" {
					bound = a
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			if bound != "" {
				fmt.Printf("  listen %s\n  ready.\n", bound)
			} else {
				if err := srv.ListenErr(); err != nil {
					fmt.Fprintf(gatewayBindErrWriter, "  gateway failed to bind: %v\n", err)
				} else {
					fmt.Fprintln(gatewayBindErrWriter, "  gateway failed to bind (check port or permissions)")
				}
			}
		}

		// Watch the config file so schedule edits apply without a restart.
		watcher = config.NewWatcher(cfgPath, logger)
		schedForReload := sched
		if err := watcher.Start(func(newCfg *domain.Config) {
			for _, job := range schedForReload.ListJobs() {
				_ = schedForReload.RemoveJob(job.ID)
			}
			schedForReload.LoadConfig(newCfg.Schedule)
			logger.Info("schedule reloaded", "jobs", len(newCfg.Schedule))
		}); err != nil {
			logger.Warn("config watcher unavailable", "error", err)
			watcher = nil
		}
	}
	if gatewayShutdown == nil {
		fmt.Println("  ready.")
	}

	shutdown := func() {
		if watcher != nil {
			_ = watcher.Stop()
		}
		if sched != nil {
			sched.Stop()
		}
		if gatewayShutdown != nil {
			close(gatewayShutdown)
		}
		if host != nil {
			_ = host.Stop()
		}
	}

	if shutdownCh != nil {
		<-shutdownCh
		shutdown()
		return nil
	}
	daemonWaitForShutdown()
	shutdown()
	return nil
}

// schedulerPrintFn controls where scheduler handler output goes. Tests override this.
var schedulerPrintFn = func(format string, args ...any) {
	fmt.Printf(format, args...)
}

// makeSchedulerHandler creates an EventHandler that submits the cron job's
// prompt through the session coordinator on a per-job session and waits for
// the turn to finish. printFn is used for output (testable).
func makeSchedulerHandler(coord *session.Coordinator, printFn func(string, ...any)) scheduler.EventHandler {
	return func(ctx context.Context, job scheduler.Job) error {
		prompt := fmt.Sprintf("[Scheduled: %s]\n%s", job.ID, job.Prompt)
		events, err := coord.Submit(ctx, "schedule:"+job.ID, prompt)
		if err != nil {
			printFn("  scheduler: job %q error: %v\n", job.ID, err)
			return err
		}
		var text strings.Builder
		for ev := range events {
			switch {
			case ev.Err != nil:
				printFn("  scheduler: job %q error: %v\n", job.ID, ev.Err)
				return ev.Err
			case ev.Text != "":
				text.WriteString(ev.Text)
			}
		}
		printFn("  scheduler: job %q response: %s\n", job.ID, text.String())
		return nil
	}
}

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// version is set at build time via ldflags for build metadata, e.g.:
//
//	go build -ldflags "-X main.version=0.3.0" -o hearth ./cmd/hearth
var version string

// daemonShutdownCh is set by tests to unblock runDaemon without signals. Production leaves it nil.
var daemonShutdownCh <-chan struct{}

// daemonEUIDGetter is set by tests to avoid RequireNonRoot failing when test runs as root. Production leaves it nil.
var daemonEUIDGetter func() int

// daemonWaitForShutdown is set by init in main_signal*.go so tests can inject a no-op to cover the nil-shutdownCh path.
var daemonWaitForShutdown func()

// gatewayServerForTest is set when the gateway server starts so tests can read Addr().
var gatewayServerForTest *gateway.Server

// daemonBindWaitIterations is the max loop count waiting for gateway to bind. Tests may set to 0 to skip wait and cover the "failed to bind (check port or permissions)" branch.
var daemonBindWaitIterations = 50

// gatewayBindErrWriter is where bind errors are written. Tests set this to capture output; production uses os.Stderr.
var gatewayBindErrWriter interface{ Write([]byte) (int, error) } = os.Stderr

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with the given args and returns the exit code (0, 1, or 2).
func runApp(args []string) int {
	bm := newBuildMeta(version, "", "")
	if bm.Version == "" {
		bm.Version = getVersion()
	}
	root := newRootCommand(bm)
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		if err == security.ErrRunningAsRoot {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if ec, ok := err.(interface{ ExitCode() int }); ok {
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
