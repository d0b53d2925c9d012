// Command gateway runs the graphql-ws transport core wired to the
// in-memory reference collaborators (refimpl), so the whole stack is
// runnable and demoable without a real database, action backend, or
// schema registry.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/relaygate/gqlgw/cors"
	"github.com/relaygate/gqlgw/dispatch"
	"github.com/relaygate/gqlgw/gwserver"
	"github.com/relaygate/gqlgw/livequery"
	"github.com/relaygate/gqlgw/logger"
	"github.com/relaygate/gqlgw/refimpl"
)

func main() {
	var (
		addr         string
		logLevel     string
		keepAlive    time.Duration
		pollInterval time.Duration
		allowOrigins []string
	)

	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "GraphQL-over-WebSocket transport gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), config{
				addr:         addr,
				logLevel:     logLevel,
				keepAlive:    keepAlive,
				pollInterval: pollInterval,
				allowOrigins: allowOrigins,
			})
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&addr, "addr", ":8080", "listen address")
	flags.StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	flags.DurationVar(&keepAlive, "keepalive", 15*time.Second, "connection_ka interval")
	flags.DurationVar(&pollInterval, "poll-interval", 2*time.Second, "live-query and async-action poll interval")
	flags.StringSliceVar(&allowOrigins, "allow-origin", nil, "exact-match allowed Origin values; CORS allows all origins if empty")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %s\n", err)
		os.Exit(1)
	}
}

type config struct {
	addr         string
	logLevel     string
	keepAlive    time.Duration
	pollInterval time.Duration
	allowOrigins []string
}

func run(ctx context.Context, cfg config) error {
	level, err := parseLevel(cfg.logLevel)
	if err != nil {
		return err
	}
	log := logger.New(level)

	schema, err := refimpl.PlaceholderSchema()
	if err != nil {
		return fmt.Errorf("building placeholder schema: %w", err)
	}

	sql := refimpl.NewSQLExecutor()
	actions := refimpl.NewActionExecutor()
	remote := refimpl.NewRemoteSchemaExecutor()
	asyncActions := refimpl.NewAsyncActionStore()
	cache := dispatch.NewCache(time.Minute)
	defer cache.Close()

	engine := &dispatch.Engine{
		SQL:    sql,
		Action: actions,
		Remote: remote,
		Cache:  cache,
		Tracer: otel.Tracer("gqlgw/dispatch"),
		Log:    log,
	}

	poller := refimpl.NewPoller(engine, asyncActions.Fetch, cfg.pollInterval, log)
	bridge := &livequery.Bridge{Poller: poller, Log: log}

	auth := refimpl.NewAuthenticator()
	queryStore := refimpl.NewQueryStore()
	planner := refimpl.NewPlanner()
	schemaCache := refimpl.NewSchemaCache(schema)

	corsPolicy := cors.Policy(cors.AllowAll{})
	if len(cfg.allowOrigins) > 0 {
		corsPolicy = cors.AllowedOrigins{Domains: cfg.allowOrigins}
	}

	srv, err := gwserver.CreateServer(gwserver.Config{
		Log:               log,
		Auth:              auth,
		QueryStore:        queryStore,
		SchemaCache:       schemaCache,
		Planner:           planner,
		Engine:            engine,
		LiveQuery:         bridge,
		Poller:            poller,
		CORS:              corsPolicy,
		KeepAliveInterval: cfg.keepAlive,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpSrv := &http.Server{Addr: cfg.addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.addr).Infof("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warnf("connections did not drain cleanly")
	}
	return httpSrv.Shutdown(shutdownCtx)
}

func parseLevel(s string) (logger.Level, error) {
	switch s {
	case "trace":
		return logger.TraceLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "warn":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", s)
	}
}
