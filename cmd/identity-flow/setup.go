package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/0xsequence/identity-flow/auth"
	"github.com/0xsequence/identity-flow/config"
	"github.com/0xsequence/identity-flow/data"
	"github.com/0xsequence/identity-flow/o11y"
	"github.com/0xsequence/identity-flow/rpc"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/goware/cachestore/memlru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	client   *rpc.Client
	sender   auth.Sender
	metrics  *o11y.Metrics
	registry *prometheus.Registry
	sessions *data.SessionStore
	attempts *data.AttemptTable
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigFile != "" {
		cfg, err = config.Load(opts.ConfigFile)
	} else {
		cfg, err = config.Parse("")
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.APIURL != "" {
		cfg.API.BaseURL = opts.APIURL
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Mock.Port)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("service.log_level: %w", err)
	}
	log := o11y.NewLogger("identity-flow", o11y.LoggerOptions{
		Level:   level,
		Console: cfg.Service.ConsoleLogs || cfg.Mode == config.LocalMode,
		Output:  os.Stderr,
	})

	var clientOpts []rpc.ClientOption
	if cfg.API.MultipartImages {
		clientOpts = append(clientOpts, rpc.WithMultipartImages())
	}
	client := rpc.NewClient(cfg.API.BaseURL, rpc.NewTransport(http.DefaultTransport), cfg.API.Timeout, clientOpts...)

	registry := prometheus.NewRegistry()
	a := &app{
		cfg:      cfg,
		log:      log,
		client:   client,
		sender:   o11y.NewTracedSender("stage-server", client),
		metrics:  o11y.NewMetrics(registry),
		registry: registry,
	}

	a.sessions, err = data.NewSessionStore(memlru.Backend(cfg.Flow.SessionCacheSize), cfg.Flow.SessionTTL)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AttemptsTable != "" {
		db, err := newDynamoDB(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: %w", err)
		}
		a.attempts = data.NewAttemptTable(db, cfg.Database.AttemptsTable, data.AttemptIndices{
			BySession: cfg.Database.SessionIndex,
		}, cfg.Database.Retention)
	}

	return a, nil
}

func newDynamoDB(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	httpClient := o11y.WrapClient(&http.Client{
		Timeout:   30 * time.Second,
		Transport: rpc.NewTransport(http.DefaultTransport),
	})

	options := []func(options *awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Endpoints.AWSEndpoint != "" {
		options = append(options,
			awsconfig.WithBaseEndpoint(cfg.Endpoints.AWSEndpoint),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

func (a *app) orchestratorOptions(deviceID string) []auth.Option {
	opts := []auth.Option{
		auth.WithLogger(a.log),
		auth.WithPolicy(auth.Policy{FatalProtocolErrors: a.cfg.Flow.FatalProtocolErrors}),
		auth.WithDeviceID(deviceID),
		auth.WithSessionStore(a.sessions),
		auth.WithMetrics(a.metrics),
	}
	if a.attempts != nil {
		opts = append(opts, auth.WithAttemptRecorder(a.attempts))
	}
	return opts
}

// serveMetrics exposes the registry until ctx is done. A zero port disables it.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.Service.MetricsPort == 0 {
		return nil
	}
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.MetricsPort))
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			a.log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return nil
}
