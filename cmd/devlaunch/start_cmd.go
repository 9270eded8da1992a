package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"devlaunch/internal/classify"
	"devlaunch/internal/cli/output"
	"devlaunch/internal/config"
	"devlaunch/internal/deps"
	"devlaunch/internal/httpapi"
	"devlaunch/internal/launcher"
	"devlaunch/internal/logs"
	"devlaunch/internal/notify"
	"devlaunch/internal/observability"
	"devlaunch/internal/prompt"
	"devlaunch/internal/reqcontext"
	"devlaunch/internal/runtime"
	"devlaunch/internal/secureenv"
	"devlaunch/internal/storage"
	"devlaunch/internal/toolcheck"
	"devlaunch/internal/tunnel"
)

// startOptions are the flags shared by start and web.
type startOptions struct {
	profile         string
	port            int
	maxAttempts     int
	interactive     string
	graceTimeout    time.Duration
	stallTimeout    time.Duration
	install         bool
	tunnel          bool
	statusListen    string
	notify          bool
	metricsTextfile string
	noBrowser       bool
}

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the dev server for a profile",
		Long: `Start the dev server for a profile and keep it running until interrupted.

When the port is taken the server is restarted on the port it suggests, or on
the next port, up to --max-attempts times. Interactive sessions are asked
before switching to a suggested port.

Examples:
  devlaunch start
  devlaunch start --profile web --port 8000
  devlaunch start --interactive=false --max-attempts 5
  devlaunch start --tunnel --notify`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd, startOpts)
		},
	}

	webCmd = &cobra.Command{
		Use:   "web",
		Short: "Serve the web/ directory (start --profile web)",
		Long: `Serve the web/ directory with the web profile and open it in the browser.

Examples:
  devlaunch web
  devlaunch web --tunnel`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd, webOpts)
		},
	}

	startOpts startOptions
	webOpts   startOptions
)

// GetStartCommand returns the start command
func GetStartCommand() *cobra.Command {
	return startCmd
}

// GetWebCommand returns the web command
func GetWebCommand() *cobra.Command {
	return webCmd
}

func init() {
	addStartFlags(startCmd, &startOpts, "")
	addStartFlags(webCmd, &webOpts, "web")
	webCmd.Flags().Lookup("profile").Hidden = true
}

func addStartFlags(cmd *cobra.Command, o *startOptions, profile string) {
	f := cmd.Flags()
	f.StringVarP(&o.profile, "profile", "p", profile, "Profile to start (default: the configured profile)")
	f.IntVar(&o.port, "port", 0, "Initial port (default: the profile's port)")
	f.IntVar(&o.maxAttempts, "max-attempts", 0, "Maximum launch attempts (default: from config, 3)")
	o.interactive = "auto"
	f.Var((*interactiveValue)(&o.interactive), "interactive", "Ask before switching ports: auto, true or false")
	f.Lookup("interactive").NoOptDefVal = "true"
	f.DurationVar(&o.graceTimeout, "grace-timeout", 0, "Time a stopped server gets to exit before it is killed")
	f.DurationVar(&o.stallTimeout, "stall-timeout", 0, "Quiet period after a conflict that counts as a prompt")
	f.BoolVar(&o.install, "install", false, "Install dependencies before starting")
	f.BoolVar(&o.tunnel, "tunnel", false, "Expose the server through the tunnel command (ngrok)")
	f.StringVar(&o.statusListen, "status-listen", "", "Serve status, health and metrics on this address (e.g. 127.0.0.1:0)")
	f.BoolVar(&o.notify, "notify", false, "Show a desktop notification when the server is reachable")
	f.StringVar(&o.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")
	f.BoolVar(&o.noBrowser, "no-browser", false, "Do not open the browser")
}

// launchPlan is a fully resolved launch request.
type launchPlan struct {
	ProfileName     string
	Profile         *config.Profile
	Params          launcher.Params
	GraceTimeout    time.Duration
	StallTimeout    time.Duration
	PartialFlush    time.Duration
	Install         bool
	Tunnel          bool
	StatusListen    string
	Notify          bool
	MetricsTextfile string
	OpenBrowser     bool
}

// parseInteractive maps --interactive onto an override; auto means detect.
func parseInteractive(value string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return nil, nil
	case "true", "yes", "1", "on":
		v := true
		return &v, nil
	case "false", "no", "0", "off":
		v := false
		return &v, nil
	default:
		return nil, output.NewStructuredError(output.ErrCodeInvalidInput,
			fmt.Sprintf("invalid --interactive value %q (valid: auto, true, false)", value))
	}
}

// interactiveValue validates --interactive while flags are parsed.
type interactiveValue string

var _ pflag.Value = (*interactiveValue)(nil)

func (v *interactiveValue) String() string { return string(*v) }

func (v *interactiveValue) Set(s string) error {
	if _, err := parseInteractive(s); err != nil {
		return err
	}
	*v = interactiveValue(strings.ToLower(strings.TrimSpace(s)))
	return nil
}

func (v *interactiveValue) Type() string { return "mode" }

// resolvePlan merges flags over the configuration. changed reports whether
// a flag was set explicitly.
func resolvePlan(cfg *config.Config, o startOptions, changed func(string) bool) (*launchPlan, error) {
	name := o.profile
	if name == "" {
		name = cfg.Profile
	}
	profile, err := cfg.GetProfile(name)
	if err != nil {
		return nil, output.NewStructuredError(output.ErrCodeProfileNotFound, err.Error()).
			WithRecoveryCommand("devlaunch config show")
	}

	interactive, err := parseInteractive(o.interactive)
	if err != nil {
		return nil, err
	}

	port := profile.DefaultPort
	if o.port != 0 {
		port = o.port
	}
	if port < 1 || port > 65535 {
		return nil, output.NewStructuredError(output.ErrCodeInvalidInput,
			fmt.Sprintf("port must be between 1 and 65535, got %d", port))
	}

	maxAttempts := cfg.Negotiation.MaxAttempts
	if changed("max-attempts") {
		maxAttempts = o.maxAttempts
	}
	if maxAttempts < 1 {
		return nil, output.NewStructuredError(output.ErrCodeInvalidInput,
			fmt.Sprintf("max attempts must be positive, got %d", maxAttempts))
	}

	plan := &launchPlan{
		ProfileName: name,
		Profile:     profile,
		Params: launcher.Params{
			InitialPort: port,
			MaxAttempts: maxAttempts,
			Interactive: interactive,
		},
		GraceTimeout:    cfg.Negotiation.GraceTimeout.Std(),
		StallTimeout:    cfg.Negotiation.StallTimeout.Std(),
		PartialFlush:    cfg.Negotiation.PartialFlush.Std(),
		Install:         o.install || profile.Install,
		Tunnel:          o.tunnel || profile.Tunnel || cfg.Tunnel.Enabled,
		StatusListen:    cfg.StatusListen,
		Notify:          o.notify || cfg.Notify,
		MetricsTextfile: cfg.MetricsTextfile,
		OpenBrowser:     cfg.OpenBrowser && !o.noBrowser && profile.LocalURL != "",
	}
	if changed("grace-timeout") {
		plan.GraceTimeout = o.graceTimeout
	}
	if changed("stall-timeout") {
		plan.StallTimeout = o.stallTimeout
	}
	if o.statusListen != "" {
		plan.StatusListen = o.statusListen
	}
	if o.metricsTextfile != "" {
		plan.MetricsTextfile = o.metricsTextfile
	}
	return plan, nil
}

func runStart(cmd *cobra.Command, o startOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	plan, err := resolvePlan(cfg, o, cmd.Flags().Changed)
	if err != nil {
		return err
	}
	return executeLaunch(cmd.Context(), cfg, plan)
}

// buildClassifier adds the configured patterns to the built-in rules.
func buildClassifier(p config.PatternConfig) (*classify.Classifier, error) {
	conflict, err := classify.CompileRules(classify.ConflictDetected, p.ExtraConflict)
	if err != nil {
		return nil, err
	}
	ready, err := classify.CompileRules(classify.Ready, p.ExtraReady)
	if err != nil {
		return nil, err
	}
	return classify.New(append(conflict, ready...)...), nil
}

// tunnelConfigPaths lists the ngrok config files to search for an authtoken.
func tunnelConfigPaths(cfg *config.Config) []string {
	if cfg.Tunnel.ConfigPath != "" {
		return []string{cfg.Tunnel.ConfigPath}
	}
	home, _ := os.UserHomeDir()
	return tunnel.DefaultConfigPaths(goruntime.GOOS, home, os.Getenv("LOCALAPPDATA"))
}

// executeLaunch runs a resolved plan: checks, install, negotiation, then the
// running server until it exits or ctx is cancelled.
func executeLaunch(ctx context.Context, cfg *config.Config, plan *launchPlan) (err error) {
	logger, sanitizer, err := setupLogger(cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sessionID := reqcontext.NewSessionID()
	ctx = reqcontext.WithSessionID(ctx, sessionID)
	logger = logger.With(zap.String("session_id", sessionID), zap.String("profile", plan.ProfileName))
	defer func() {
		code := exitCodeFor(err)
		logger.Debug("Launch finished", zap.Int("exit_code", code), zap.String("meaning", exitCodeDescription(code)))
		if err != nil {
			err = structuredErrorFor(err).WithSessionID(sessionID)
		}
	}()

	profile := plan.Profile
	env := secureenv.NewManager(secureenv.DefaultEnvConfig(), secureenv.WithSecretRegistrar(sanitizer)).Build(profile.Env)

	installer := deps.Installer{Dir: profile.Dir, Env: env, Logger: logger}
	install := plan.Install || installer.NeedsInstall()
	tools := append([]string(nil), profile.Tools...)
	if install {
		tools = append(tools, installer.Command()[0])
	}
	if len(tools) > 0 {
		report := toolcheck.New(logger, toolcheck.WithEnv(env)).Check(ctx, tools...)
		if failed := report.Failed(); len(failed) > 0 {
			return toolMissingError(failed)
		}
	}

	serverLog, logErr := logs.CreateServerOutputLogger(logConfig(cfg), plan.ProfileName)
	if logErr != nil {
		logger.Warn("Dev server output will not be logged to file", zap.Error(logErr))
		serverLog = zap.NewNop()
	}
	defer func() { _ = serverLog.Sync() }()
	sink := newConsoleSink(os.Stdout, serverLog)

	if install {
		installer.Sink = sink.Line
		if ierr := installer.Run(ctx); ierr != nil {
			if !errors.Is(ierr, deps.ErrNoManifest) {
				return ierr
			}
			logger.Warn("Skipping dependency install", zap.Error(ierr))
		}
	}

	classifier, err := buildClassifier(cfg.Patterns)
	if err != nil {
		return output.NewStructuredError(output.ErrCodeConfigInvalid, err.Error()).
			WithGuidance("Fix patterns.extra_ready / patterns.extra_conflict in the configuration")
	}

	obs, err := observability.NewManager(logger.Sugar(), cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Close(closeCtx)
	}()

	rt := runtime.New(runtime.Info{
		SessionID: sessionID,
		Profile:   plan.ProfileName,
		Command:   strings.Join(profile.Command, " "),
	}, logger)

	gate := prompt.NewConsoleGate(plan.Params.Interactive)
	recorders := launcher.Recorders{rt, obs.Metrics()}

	var lister httpapi.HistoryLister
	history, herr := storage.NewManager(cfg.DataDir, logger.Sugar())
	if herr != nil {
		logger.Warn("Run history unavailable", zap.Error(herr))
	} else {
		defer func() { _ = history.Close() }()
		lister = history
		recorders = append(recorders, &storage.HistoryRecorder{
			Manager:     history,
			SessionID:   sessionID,
			Profile:     plan.ProfileName,
			Command:     rt.Info().Command,
			Interactive: gate.IsInteractive(),
		})
	}

	if plan.StatusListen != "" {
		obs.Health().AddReadinessChecker(observability.NewFuncChecker("dev_server", func(context.Context) error {
			return rt.ReadinessCheck()
		}))
		if history != nil {
			obs.Health().AddHealthChecker(observability.NewDatabaseHealthChecker("history", history.DB()))
		}
		api := httpapi.NewServer(rt, lister, logger.Sugar(), obs)
		addr, serr := api.Start(plan.StatusListen)
		if serr != nil {
			logger.Warn("Status API disabled", zap.String("listen", plan.StatusListen), zap.Error(serr))
		} else {
			logger.Info("Status API listening", zap.String("url", "http://"+addr))
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = api.Shutdown(shutdownCtx)
			}()
		}
	}

	localURL := func() string {
		return expandURL(profile.LocalURL, rt.Status().Negotiation.Attempt.Port)
	}
	if plan.Notify {
		events := rt.SubscribeEvents(runtime.EventTypeNegotiationFinished, runtime.EventTypeTunnelReady)
		watched := make(chan struct{})
		go func() {
			defer close(watched)
			notify.New(logger, nil).Watch(ctx, events, plan.ProfileName, localURL)
		}()
		defer func() {
			rt.UnsubscribeEvents(events)
			<-watched
		}()
	}

	defer func() {
		obs.UpdateMetrics()
		if plan.MetricsTextfile != "" {
			if werr := obs.Metrics().WriteToTextfile(plan.MetricsTextfile); werr == nil {
				logger.Debug("Metrics written", zap.String("path", plan.MetricsTextfile))
			}
		}
	}()

	srv, err := launcher.Launch(ctx, plan.Params, launcher.Options{
		GraceTimeout: plan.GraceTimeout,
		StallTimeout: plan.StallTimeout,
		PartialFlush: plan.PartialFlush,
		Starter: launcher.CommandStarter{
			Argv:     profile.Command,
			PortArgs: profile.PortArgs,
			Dir:      profile.Dir,
			Env:      env,
			Logger:   logger,
		},
		Gate:       gate,
		Classifier: classifier,
		Sink:       sink.Line,
		Recorder:   recorders,
		Logger:     logger,
		Tracer:     obs.Tracing().Tracer(),
		OnMachine:  rt.AttachMachine,
	})
	if err != nil {
		return err
	}

	return serve(ctx, cfg, plan, srv, serveDeps{
		runtime:    rt,
		metrics:    obs.Metrics(),
		sink:       sink,
		env:        env,
		classifier: classifier,
		logger:     logger,
	})
}

type serveDeps struct {
	runtime    *runtime.Runtime
	metrics    *observability.MetricsManager
	sink       *consoleSink
	env        []string
	classifier *classify.Classifier
	logger     *zap.Logger
}

// serve presents a ready server and owns it until it exits or ctx is done.
func serve(ctx context.Context, cfg *config.Config, plan *launchPlan, srv *launcher.RunningServer, d serveDeps) error {
	logger := d.logger.With(zap.Int("port", srv.Port), zap.Int("pid", srv.Process.PID()))

	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		for l := range srv.Output {
			d.sink.Line(l)
		}
	}()

	local := expandURL(plan.Profile.LocalURL, srv.Port)
	d.runtime.SetLocalURL(local)
	public := srv.TunnelURL
	if public != "" {
		d.runtime.SetTunnelURL(public)
	}

	var tun *tunnel.Tunnel
	if plan.Tunnel && public == "" {
		tun, public = startTunnel(ctx, cfg, srv.Port, d)
	}
	d.sink.Print(banner(plan.ProfileName, srv.Port, local, public))

	if plan.OpenBrowser {
		openBrowser(ctx, goruntime.GOOS, local, logger)
	}

	var tunnelDone <-chan struct{}
	if tun != nil {
		tunnelDone = tun.Done()
	}

	var result error
	select {
	case <-ctx.Done():
		logger.Info("Stopping dev server")
		d.runtime.MarkStopping()
		if err := srv.Stop(plan.GraceTimeout); err != nil {
			logger.Warn("Failed to stop dev server", zap.Error(err))
		}
		result = fmt.Errorf("dev server stopped: %w", ctx.Err())
	case <-streamed:
		logger.Info("Dev server output closed")
	case <-tunnelDone:
		logger.Warn("Tunnel exited; the server stays reachable locally")
		select {
		case <-ctx.Done():
			d.runtime.MarkStopping()
			_ = srv.Stop(plan.GraceTimeout)
			result = fmt.Errorf("dev server stopped: %w", ctx.Err())
		case <-streamed:
		}
	}

	if tun != nil {
		if err := tun.Stop(plan.GraceTimeout); err != nil {
			logger.Warn("Failed to stop tunnel", zap.Error(err))
		}
	}

	code, werr := srv.Process.Wait()
	if werr != nil {
		logger.Debug("Wait for dev server failed", zap.Error(werr))
	}
	d.runtime.MarkStopped(code)
	d.metrics.ServerStopped()
	logger.Info("Dev server exited", zap.Int("exit_code", code))

	if result == nil && code != 0 {
		result = output.NewStructuredError(output.ErrCodeLaunchFailed,
			fmt.Sprintf("dev server exited with code %d", code)).
			WithContext("port", srv.Port).
			WithRecoveryCommand("devlaunch logs --profile " + plan.ProfileName)
	}
	return result
}

// startTunnel starts the tunnel for port and waits for its public URL.
// Failures are logged; the local server keeps running either way.
func startTunnel(ctx context.Context, cfg *config.Config, port int, d serveDeps) (*tunnel.Tunnel, string) {
	logger := d.logger
	if !tunnel.Authenticated(os.Getenv, tunnelConfigPaths(cfg)) {
		logger.Warn("No ngrok authtoken configured; the tunnel may be rejected",
			zap.String("hint", "ngrok config add-authtoken <token>"))
	}

	tun, err := tunnel.Start(ctx, port, tunnel.Options{
		Command:         cfg.Tunnel.Command,
		Env:             d.env,
		APIURL:          cfg.Tunnel.APIURL,
		DiscoverTimeout: cfg.Tunnel.DiscoverTimeout.Std(),
		Classifier:      d.classifier,
		Sink:            d.sink.TunnelLine,
		Logger:          logger,
	})
	if err != nil {
		d.metrics.RecordTunnelLookup(err)
		logger.Warn("Tunnel not started", zap.Error(err))
		return nil, ""
	}

	url, err := tun.WaitURL(ctx)
	d.metrics.RecordTunnelLookup(err)
	if err != nil {
		logger.Warn("Tunnel URL not found", zap.Error(err))
		return tun, ""
	}
	d.runtime.SetTunnelURL(url)
	return tun, url
}
