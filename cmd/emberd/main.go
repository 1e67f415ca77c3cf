// Command emberd is the reverse-proxy binary: a master process supervising
// a fixed pool of worker processes, each running the
// directive-configured HTTP phase engine. emberd also answers to `-s`, in
// which mode it never starts a master at all — it just signals one that is
// already running, the nginx.c "signaller" mode folded into the same CLI
// surface.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/emberproxy/ember/internal/adapter/balancer"
	"github.com/emberproxy/ember/internal/adapter/discovery"
	"github.com/emberproxy/ember/internal/adapter/health"
	"github.com/emberproxy/ember/internal/adapter/proxy"
	"github.com/emberproxy/ember/internal/adapter/proxy/cache"
	"github.com/emberproxy/ember/internal/adapter/security"
	"github.com/emberproxy/ember/internal/adapter/stats"
	"github.com/emberproxy/ember/internal/app/middleware"
	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/config/directive"
	"github.com/emberproxy/ember/internal/core/cycle"
	"github.com/emberproxy/ember/internal/env"
	"github.com/emberproxy/ember/internal/httpcore/modules"
	"github.com/emberproxy/ember/internal/logger"
	"github.com/emberproxy/ember/internal/master"
	"github.com/emberproxy/ember/internal/version"
	"github.com/emberproxy/ember/internal/worker"
	"github.com/emberproxy/ember/internal/worker/acceptmutex"
	"github.com/emberproxy/ember/pkg/eventbus"
	"github.com/emberproxy/ember/pkg/format"
	"github.com/emberproxy/ember/pkg/nerdstats"
)

// cliOptions mirrors nginx.c's argv handling: -p/-c prefix
// and config-file resolution, -g directive injection, -t/-T/-q config
// testing, and -s signalling an already-running master.
type cliOptions struct {
	help     bool
	version  bool
	verbose  bool
	test     bool
	testDump bool
	dumpJSON bool
	quiet    bool
	prefix   string
	confFile string
	extra    string
	signal   string
}

func parseFlags() *cliOptions {
	opts := &cliOptions{}
	pflag.BoolVarP(&opts.help, "help", "h", false, "show this help and exit")
	pflag.BoolVarP(&opts.version, "version", "v", false, "show version and exit")
	pflag.BoolVarP(&opts.verbose, "version-verbose", "V", false, "show version and build info and exit")
	pflag.BoolVarP(&opts.test, "test", "t", false, "test the configuration and exit")
	pflag.BoolVarP(&opts.testDump, "test-dump", "T", false, "test the configuration, dump it and exit")
	pflag.BoolVar(&opts.dumpJSON, "dump-json", false, "with -T, dump the parsed tree as JSON instead of directive text")
	pflag.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-error output during -t/-T")
	pflag.StringVarP(&opts.prefix, "prefix", "p", "", "set the prefix path")
	pflag.StringVarP(&opts.confFile, "conf", "c", "", "set the configuration file")
	pflag.StringVarP(&opts.extra, "global", "g", "", "inject configuration directives before loading the config file")
	pflag.StringVarP(&opts.signal, "signal", "s", "", "send a signal to a running master: stop, quit, reopen, reload")
	pflag.CommandLine.SortFlags = false
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-h?vVtTq] [-p prefix] [-c file] [-g directives] [-s signal]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	// "-?" is a bare argv token pflag's getopt parsing doesn't recognise as
	// a defined flag name; treat it identically to -h/--help.
	for _, a := range os.Args[1:] {
		if a == "-?" {
			opts.help = true
		}
	}
	return opts
}

func main() {
	startTime := time.Now()
	opts := parseFlags()

	vlog := log.New(log.Writer(), "", 0)
	switch {
	case opts.help:
		pflag.Usage()
		os.Exit(0)
	case opts.version:
		version.PrintVersionInfo(false, vlog)
		os.Exit(0)
	case opts.verbose:
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}

	prefix, confPath := resolvePaths(opts)

	if opts.signal != "" {
		if err := sendMasterSignal(prefix, opts.signal); err != nil {
			fmt.Fprintf(os.Stderr, "emberd: -s %s: %v\n", opts.signal, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if opts.test || opts.testDump {
		if err := testConfig(confPath, opts.extra, opts.testDump, opts.dumpJSON, opts.quiet); err != nil {
			if !opts.quiet {
				fmt.Fprintf(os.Stderr, "emberd: configuration test failed: %v\n", err)
			}
			os.Exit(1)
		}
		os.Exit(0)
	}

	if master.IsWorker() {
		runWorker()
		return
	}

	runMaster(startTime, prefix, confPath, opts.extra)
}

// resolvePaths applies nginx.c's -p/-c precedence: an explicit -c is used
// as given (resolved against -p when relative); otherwise the prefix's
// conf/emberd.conf is the default configuration file.
func resolvePaths(opts *cliOptions) (prefix, confPath string) {
	prefix = opts.prefix
	if prefix == "" {
		prefix = env.GetEnvOrDefault("EMBERD_PREFIX", ".")
	}
	confPath = opts.confFile
	if confPath == "" {
		confPath = env.GetEnvOrDefault("EMBERD_CONF", filepath.Join(prefix, "conf", "emberd.conf"))
	} else if !filepath.IsAbs(confPath) {
		confPath = filepath.Join(prefix, confPath)
	}
	return prefix, confPath
}

// pidFilePath is the master's PID file location, the target of
// internal/master/pidfile.go's .oldbin dance on binary upgrade.
func pidFilePath(prefix string) string {
	return filepath.Join(prefix, "logs", "emberd.pid")
}

// sendMasterSignal implements `-s {stop|quit|reopen|reload}`: read the pid
// file and deliver the signal nginx.c maps each keyword to.
func sendMasterSignal(prefix, name string) error {
	pid, err := master.ReadPidFile(pidFilePath(prefix))
	if err != nil {
		return fmt.Errorf("reading pid file: %w", err)
	}
	var sig syscall.Signal
	switch name {
	case "stop":
		sig = syscall.SIGTERM
	case "quit":
		sig = syscall.SIGQUIT
	case "reopen":
		sig = syscall.SIGUSR1
	case "reload":
		sig = syscall.SIGHUP
	default:
		return fmt.Errorf("unknown signal name %q (want stop, quit, reopen or reload)", name)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// testConfig implements -t/-T: parse the directive-grammar file (and any
// injected -g directives) and report success or the parse error, without
// starting any process.
func testConfig(confPath, extraDirectives string, dump, dumpJSON, quiet bool) error {
	baseDir := filepath.Dir(confPath)
	src, err := os.ReadFile(confPath)
	if err != nil {
		return err
	}
	text := string(src)
	if extraDirectives != "" {
		text = extraDirectives + "\n" + text
	}

	tmp, err := os.CreateTemp("", "emberd-test-*.conf")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	httpCfg, root, err := config.LoadHTTPConfig(tmp.Name(), baseDir)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "emberd: configuration file %s test is successful\n", confPath)
	}
	if dump {
		if dumpJSON {
			out, jerr := directive.DumpJSON(root)
			if jerr != nil {
				return jerr
			}
			fmt.Fprint(os.Stdout, out)
		} else {
			fmt.Fprint(os.Stdout, directive.Dump(root))
		}
		_ = httpCfg // the typed tree only needs to have parsed cleanly for -T
	}
	return nil
}

// runMaster starts the master supervisor: it opens every configured
// listener through tableflip (so a later binary upgrade inherits them),
// writes the PID file and blocks in Master.Run until a terminal shutdown
// completes.
func runMaster(startTime time.Time, prefix, confPath, extra string) {
	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emberd: failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("emberd master starting", "version", version.Version, "pid", os.Getpid())

	httpCfg, _, err := config.LoadHTTPConfig(confPath, filepath.Dir(confPath))
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to load configuration", "error", err, "path", confPath)
	}

	addrs := listenAddresses(httpCfg)
	workerCount := httpCfg.WorkerProcesses
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	pidPath := pidFilePath(prefix)
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		logger.FatalWithLogger(logInstance, "failed to create pid directory", "error", err)
	}

	args := os.Args[1:]
	if extra != "" {
		args = append(args, "-g", extra)
	}
	m, err := master.New(master.Options{
		WorkerCount:  workerCount,
		Respawn:      true,
		PidFile:      pidPath,
		Args:         args,
		GracefulWait: 30 * time.Second,
		OnReopen: func() {
			if err := logger.Rotate(); err != nil {
				styledLogger.Error("log rotation failed", "error", err)
			}
		},
	}, logInstance)
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to construct master", "error", err)
	}

	var listenerFiles []*os.File
	for _, addr := range addrs {
		f, err := m.Listen("tcp", addr)
		if err != nil {
			logger.FatalWithLogger(logInstance, "failed to listen", "addr", addr, "error", err)
		}
		listenerFiles = append(listenerFiles, f)
	}

	if err := master.WritePidFile(pidPath, os.Getpid()); err != nil {
		styledLogger.Error("failed to write pid file", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	if err := m.Run(ctx, listenerFiles); err != nil {
		styledLogger.Error("master exited with error", "error", err)
		os.Exit(1)
	}

	if cfg, err := config.Load(nil); err == nil && cfg.Engineering.ShowNerdStats {
		reportProcessStats(styledLogger, startTime)
	}

	styledLogger.Info("emberd master has shutdown", "uptime", time.Since(startTime).String())
}

// reportProcessStats logs a runtime snapshot on shutdown when
// engineering.show_nerdstats is enabled (pkg/nerdstats).
func reportProcessStats(rlog *logger.StyledLogger, startTime time.Time) {
	runtime.GC()
	s := nerdstats.Snapshot(startTime)

	rlog.Info("process memory stats",
		"heap_alloc", format.Bytes(s.HeapAlloc),
		"heap_sys", format.Bytes(s.HeapSys),
		"total_alloc", format.Bytes(s.TotalAlloc),
		"memory_pressure", s.GetMemoryPressure(),
	)
	rlog.Info("runtime stats",
		"uptime", format.Duration(s.Uptime),
		"go_version", s.GoVersion,
		"num_cpu", s.NumCPU,
		"gomaxprocs", s.GOMAXPROCS,
		"num_goroutines", s.NumGoroutines,
		"goroutine_health", s.GetGoroutineHealthStatus(),
	)
}

// listenAddresses collects every `listen` directive across the parsed
// server blocks, deduplicated, in first-seen order. A bare port
// (`listen 8080;`) normalises to ":8080".
func listenAddresses(httpCfg *config.HTTPConfig) []string {
	seen := make(map[string]bool)
	var addrs []string
	for _, sb := range httpCfg.Servers {
		for _, l := range sb.Listen {
			if !strings.Contains(l, ":") {
				l = ":" + l
			}
			if !seen[l] {
				seen[l] = true
				addrs = append(addrs, l)
			}
		}
	}
	if len(addrs) == 0 {
		addrs = []string{fmt.Sprintf(":%d", config.DefaultPort)}
	}
	return addrs
}

// runWorker reconstructs one worker process's state from the environment
// the master set (internal/master.OpenListenersFromEnv et al.), wires the
// discovery/health/security/balancer/proxy stack, and serves HTTP until
// the master's channel tells it to stop.
func runWorker() {
	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emberd: worker: failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("emberd worker starting", "pid", os.Getpid())

	lns, err := master.OpenListenersFromEnv()
	if err != nil {
		logger.FatalWithLogger(logInstance, "worker: failed to open inherited listeners", "error", err)
	}
	ch, err := master.OpenChannelFromEnv()
	if err != nil {
		logger.FatalWithLogger(logInstance, "worker: failed to open master channel", "error", err)
	}
	peers, err := master.OpenPeersFromEnv()
	if err != nil {
		styledLogger.Warn("worker: failed to open sibling peer channels", "error", err)
	}

	_, confPath := resolvePaths(&cliOptions{})
	cfg, err := config.Load(nil)
	if err != nil {
		logger.FatalWithLogger(logInstance, "worker: failed to load operational configuration", "error", err)
	}

	httpCfg, _, err := config.LoadHTTPConfig(confPath, filepath.Dir(confPath))
	if err != nil {
		styledLogger.Warn("worker: failed to load directive configuration, serving with no virtual hosts", "error", err, "path", confPath)
		httpCfg = nil
	}

	cyc := cycle.New("emberd", confPath, hostnameOrDefault())
	defer cyc.Release()

	statsCollector := stats.NewCollector(*styledLogger)

	// Backends come from both configuration layers: the YAML mirror and
	// the directive file's upstream blocks / raw proxy_pass URLs.
	endpointsFn := func() []config.EndpointConfig {
		eps := append([]config.EndpointConfig(nil), cfg.Discovery.Static.Endpoints...)
		if httpCfg != nil {
			eps = append(eps, httpCfg.EndpointConfigs()...)
		}
		return eps
	}

	repo := discovery.NewStaticEndpointRepository(*styledLogger)
	healthChecker := health.NewHTTPHealthChecker(repo, styledLogger)
	discoverySvc := discovery.NewStaticDiscoveryService(repo, healthChecker, cfg, styledLogger, endpointsFn)
	if err := discoverySvc.Start(context.Background()); err != nil {
		styledLogger.Error("worker: failed to start discovery service", "error", err)
	}

	balancerFactory := balancer.NewFactory(statsCollector)
	selector, err := balancerFactory.Create(cfg.Proxy.LoadBalancer)
	if err != nil {
		logger.FatalWithLogger(logInstance, "worker: failed to construct load balancer", "error", err, "name", cfg.Proxy.LoadBalancer)
	}

	cacheBus := eventbus.New[string](64)
	defer cacheBus.Close()

	proxyFactory := proxy.NewFactory(statsCollector, *styledLogger)
	var store *cache.Store
	if cfg.Cache.Enabled {
		store, err = cache.New(cache.Config{
			Dir:         cfg.Cache.Dir,
			DefaultTTL:  cfg.Cache.DefaultTTL,
			LockTimeout: cfg.Cache.LockTimeout,
		}, styledLogger)
		if err != nil {
			styledLogger.Error("worker: cache unavailable, serving uncached", "error", err)
		} else {
			store.SetEvents(cacheBus)
			proxyFactory = proxyFactory.WithCache(store)
		}
	}

	proxyConfig := &proxy.Configuration{
		ConnectionTimeout: cfg.Proxy.ConnectionTimeout,
		ResponseTimeout:   cfg.Proxy.ResponseTimeout,
		ReadTimeout:       cfg.Proxy.ReadTimeout,
		StreamBufferSize:  cfg.Proxy.StreamBufferSize,
		BusyBufferLimit:   cfg.Proxy.BusyBufferLimit,
		MaxSpoolFileSize:  cfg.Proxy.MaxSpoolFileSize,
		SpoolDir:          cfg.Proxy.SpoolDir,
		MaxRetries:        cfg.Proxy.MaxRetries,
	}
	proxySvc, err := proxyFactory.Create(cfg.Proxy.Engine, discoverySvc, selector, proxyConfig)
	if err != nil {
		logger.FatalWithLogger(logInstance, "worker: failed to construct proxy service", "error", err)
	}

	securityServices, securityAdapters := security.NewSecurityServices(cfg, statsCollector, styledLogger)
	defer securityAdapters.Stop()

	dispatcher := worker.NewProxyDispatcher(proxySvc, *styledLogger)

	engineOpts := modules.Options{
		Security:   securityServices.Chain,
		Proxy:      dispatcher,
		HTTPConfig: httpCfg,
	}

	// The accept mutex only matters when sibling workers contend for the
	// same listeners.
	var mutex *acceptmutex.Mutex
	if env.GetEnvIntOrDefault(master.WorkerCountEnv, 1) > 1 {
		mutex, err = acceptmutex.Open(filepath.Join(filepath.Dir(confPath), "..", "logs", "emberd.accept.lock"))
		if err != nil {
			styledLogger.Warn("worker: failed to open accept mutex lock file, disabling accept-balancing", "error", err)
			mutex = nil
		}
	}

	rt := worker.New(cyc, engineOpts, mutex, lns, logInstance, middleware.AccessLog(styledLogger))

	ctx, cancel := context.WithCancel(context.Background())
	go watchMasterChannel(ctx, cancel, ch, rt, styledLogger)

	// Bridge local cache events onto the sibling mesh, and consume what
	// siblings send back.
	events, cancelEvents := cacheBus.Subscribe()
	defer cancelEvents()
	go func() {
		for ev := range events {
			for _, p := range peers {
				_ = p.Send(master.Command{Kind: master.CmdCacheNotify, Payload: []byte(ev)})
			}
		}
	}()
	for _, p := range peers {
		go drainPeerChannel(p, styledLogger)
	}

	if err := rt.Serve(ctx, 30*time.Second); err != nil {
		styledLogger.Error("worker: serve exited with error", "error", err)
	}

	_ = discoverySvc.Stop(context.Background())
	styledLogger.Info("emberd worker has shutdown", "pid", os.Getpid())
}

// watchMasterChannel drives shutdown from the master's commands:
// CmdGraceful and CmdQuit cancel ctx so Runtime.Serve stops accepting
// and drains in-flight requests, while CmdTerminate first flags the
// Runtime for a fast stop so the same cancellation abandons connections
// instead of draining them.
func watchMasterChannel(ctx context.Context, cancel context.CancelFunc, ch *master.Channel, rt *worker.Runtime, wlog *logger.StyledLogger) {
	defer ch.Close()
	for {
		cmd, err := ch.Recv()
		if err != nil {
			cancel()
			return
		}
		switch cmd.Kind {
		case master.CmdTerminate:
			wlog.Info("worker: received fast-shutdown command from master")
			rt.Terminate()
			cancel()
			return
		case master.CmdQuit, master.CmdGraceful:
			wlog.Info("worker: received graceful-shutdown command from master", "command", cmd.Kind.String())
			cancel()
			return
		case master.CmdReopen:
			wlog.Info("worker: received reopen-logs command from master")
			if err := logger.Rotate(); err != nil {
				wlog.Error("worker: log rotation failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// drainPeerChannel consumes sibling-worker traffic on the channel mesh.
// Cache notifications are observational: the cache directory is shared
// on one host, so a sibling's fill or purge is already visible on disk
// by the time its notification arrives.
func drainPeerChannel(ch *master.Channel, wlog *logger.StyledLogger) {
	for {
		cmd, err := ch.Recv()
		if err != nil {
			return
		}
		if cmd.Kind == master.CmdCacheNotify {
			wlog.Debug("worker: sibling cache event", "event", string(cmd.Payload))
		}
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "emberd"
	}
	return h
}

// buildLoggerConfig creates logger config from environment variables with
// defaults, identically for both the master and every worker.
func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      env.GetEnvOrDefault("EMBERD_LOG_LEVEL", "info"),
		FileOutput: env.GetEnvBoolOrDefault("EMBERD_FILE_OUTPUT", true),
		LogDir:     env.GetEnvOrDefault("EMBERD_LOG_DIR", "./logs"),
		MaxSize:    env.GetEnvIntOrDefault("EMBERD_MAX_SIZE", 100),
		MaxBackups: env.GetEnvIntOrDefault("EMBERD_MAX_BACKUPS", 5),
		MaxAge:     env.GetEnvIntOrDefault("EMBERD_MAX_AGE", 30),
		Theme:      env.GetEnvOrDefault("EMBERD_THEME", "default"),
	}
}
