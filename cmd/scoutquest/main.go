// Command scoutquest 启动服务发现注册中心。
//
//	scoutquest --config ./scoutquest.yaml --port 8080 --log-level debug
//	scoutquest --issue-token ci-deployer   # 使用 security.jwt_secret 签发访问令牌
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ceyewan/scoutquest/access"
	"github.com/ceyewan/scoutquest/auth"
	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/config"
	"github.com/ceyewan/scoutquest/eventbus"
	"github.com/ceyewan/scoutquest/health"
	"github.com/ceyewan/scoutquest/internal/server"
	"github.com/ceyewan/scoutquest/metrics"
	"github.com/ceyewan/scoutquest/ratelimit"
	"github.com/ceyewan/scoutquest/registry"
	"github.com/ceyewan/scoutquest/trace"
	"github.com/ceyewan/scoutquest/xerrors"
)

var version = "dev"

func main() {
	fs := pflag.NewFlagSet("scoutquest", pflag.ExitOnError)
	config.RegisterFlags(fs)
	issueToken := fs.String("issue-token", "", "issue a JWT for the given subject and exit")
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println("scoutquest", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, fs, *issueToken); err != nil {
		fmt.Fprintln(os.Stderr, "scoutquest:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, fs *pflag.FlagSet, issueToken string) error {
	boot := clog.Must(&clog.Config{Level: "info", Format: "console", Output: "stderr"})

	loader := config.New(config.WithFlags(fs), config.WithLogger(boot))
	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	logger, err := clog.New(&clog.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	}, clog.WithNamespace("scoutquest"))
	if err != nil {
		return xerrors.Wrap(err, "init logger")
	}
	defer logger.Flush()

	if issueToken != "" {
		return printToken(ctx, cfg, logger, issueToken)
	}

	loader.Watch(ctx, func(next *config.AppConfig) {
		level, err := clog.ParseLevel(next.Logging.Level)
		if err != nil {
			return
		}
		if err := logger.SetLevel(level); err == nil {
			logger.Info("log level changed", clog.String("level", next.Logging.Level))
		}
	})

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := app.srv.Start(); err != nil {
		app.close(context.Background())
		return err
	}
	go app.supervisor.Run(ctx)

	logger.Info("scoutquest started",
		clog.String("version", version),
		clog.String("addr", app.srv.Addr()),
		clog.String("config_file", loader.ConfigFileUsed()))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	return app.close(shutdownCtx)
}

// application 持有需要在退出时释放的组件
type application struct {
	logger     clog.Logger
	meter      metrics.Meter
	traceStop  func(context.Context) error
	bus        *eventbus.Bus
	sink       *eventbus.NATSSink
	limiter    ratelimit.Limiter
	supervisor *health.Supervisor
	srv        *server.Server
}

func build(ctx context.Context, cfg *config.AppConfig, logger clog.Logger) (*application, error) {
	app := &application{logger: logger, meter: metrics.Discard()}

	if cfg.Metrics.Enabled {
		meter, err := metrics.New(&metrics.Config{
			Enabled:     true,
			ServiceName: cfg.Metrics.ServiceName,
			Version:     cfg.Metrics.Version,
			Path:        cfg.Metrics.Path,
			Runtime:     cfg.Metrics.Runtime,
		}, metrics.WithLogger(logger))
		if err != nil {
			return nil, xerrors.Wrap(err, "init metrics")
		}
		app.meter = meter
	}

	var err error
	if cfg.Trace.Enabled {
		app.traceStop, err = trace.Init(&trace.Config{
			ServiceName: cfg.Trace.ServiceName,
			Endpoint:    cfg.Trace.Endpoint,
			Sampler:     cfg.Trace.Sampler,
			Insecure:    cfg.Trace.Insecure,
		})
	} else {
		app.traceStop, err = trace.Discard(cfg.Trace.ServiceName)
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "init tracing")
	}

	app.bus = eventbus.New(
		eventbus.WithQueueSize(cfg.Events.QueueSize),
		eventbus.WithLogger(logger),
		eventbus.WithMeter(app.meter),
	)
	if cfg.Events.NATS.URL != "" {
		sink, err := eventbus.NewNATSSink(eventbus.NATSConfig{
			URL:           cfg.Events.NATS.URL,
			SubjectPrefix: cfg.Events.NATS.SubjectPrefix,
			Name:          "scoutquest",
		}, logger)
		if err != nil {
			// 事件导出是可选能力，连接失败不影响注册中心启动
			logger.Error("nats event forwarding disabled", clog.Error(err))
		} else {
			app.sink = sink
			go eventbus.Forward(ctx, app.bus, sink, logger)
		}
	}

	store := registry.New(
		&registry.Config{InitialStatus: registry.Status(cfg.Registry.InitialStatus)},
		registry.WithLogger(logger),
		registry.WithMeter(app.meter),
		registry.WithEventSink(app.bus),
	)

	app.supervisor, err = health.New(store, &health.Config{
		IntervalSeconds:     cfg.HealthCheck.IntervalSeconds,
		TimeoutSeconds:      cfg.HealthCheck.TimeoutSeconds,
		MaxFailures:         cfg.HealthCheck.MaxFailures,
		MaxConcurrentProbes: cfg.HealthCheck.MaxConcurrentProbes,
		TickInterval:        cfg.HealthCheck.TickInterval,
		EvictAfterSeconds:   cfg.HealthCheck.EvictAfterSeconds,
	}, health.WithLogger(logger), health.WithMeter(app.meter))
	if err != nil {
		return nil, err
	}

	filter, err := access.New(access.Policy{
		Enabled:           cfg.Network.Enabled,
		AllowedCIDRs:      cfg.Network.AllowedCIDRs,
		DeniedCIDRs:       cfg.Network.DeniedCIDRs,
		DenyAction:        access.DenyAction(cfg.Network.DenyAction),
		TrustProxyHeaders: cfg.Network.TrustProxyHeaders,
	}, access.WithLogger(logger), access.WithMeter(app.meter))
	if err != nil {
		return nil, err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithEventBus(app.bus),
		server.WithAccessFilter(filter),
		server.WithInfo(server.Info{Version: version}),
		server.WithFeature("nats", app.sink != nil),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMeter(app.meter))
	}
	if cfg.Trace.Enabled {
		opts = append(opts, server.WithTracing(cfg.Trace.ServiceName))
	}
	if cfg.Security.EnableAuth {
		authn, err := newAuthenticator(cfg, logger, app.meter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithAuthenticator(authn))
	}
	if cfg.Security.RateLimitPerMinute > 0 {
		app.limiter, err = ratelimit.New(nil, ratelimit.WithLogger(logger), ratelimit.WithMeter(app.meter))
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithRateLimiter(app.limiter, ratelimit.PerMinute(cfg.Security.RateLimitPerMinute)))
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	app.srv, err = server.New(&server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		EnableCORS:      cfg.Server.EnableCORS,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsPath:     metricsPath,
		TLS: server.TLSConfig{
			Enabled:      cfg.TLS.Enabled,
			CertDir:      cfg.TLS.CertDir,
			CertPath:     cfg.TLS.CertPath,
			KeyPath:      cfg.TLS.KeyPath,
			AutoGenerate: cfg.TLS.AutoGenerate,
			VerifyPeer:   cfg.TLS.VerifyPeer,
			MinVersion:   cfg.TLS.MinVersion,
			MaxVersion:   cfg.TLS.MaxVersion,
			RedirectHTTP: cfg.TLS.RedirectHTTP,
			HTTPPort:     cfg.TLS.HTTPPort,
		},
	}, store, opts...)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newAuthenticator(cfg *config.AppConfig, logger clog.Logger, meter metrics.Meter) (*auth.Authenticator, error) {
	return auth.New(&auth.Config{
		APIKey:    cfg.Security.APIKey,
		JWTSecret: cfg.Security.JWTSecret,
		Issuer:    "scoutquest",
	}, auth.WithLogger(logger), auth.WithMeter(meter))
}

func printToken(ctx context.Context, cfg *config.AppConfig, logger clog.Logger, subject string) error {
	if cfg.Security.JWTSecret == "" {
		return xerrors.New("security.jwt_secret is required to issue tokens")
	}
	authn, err := newAuthenticator(cfg, logger, metrics.Discard())
	if err != nil {
		return err
	}
	claims := &auth.Claims{Roles: []string{"client"}}
	claims.Subject = subject
	token, err := authn.GenerateToken(ctx, claims)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// close 按依赖的逆序释放资源
func (a *application) close(ctx context.Context) error {
	var errs []error
	if a.srv != nil {
		errs = append(errs, a.srv.Shutdown(ctx))
	}
	a.bus.Close()
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.limiter != nil {
		errs = append(errs, a.limiter.Close())
	}
	errs = append(errs, a.meter.Shutdown(ctx))
	if a.traceStop != nil {
		errs = append(errs, a.traceStop(ctx))
	}

	err := xerrors.Combine(errs...)
	if err != nil {
		a.logger.Error("shutdown finished with errors", clog.Error(err))
	}
	return err
}
