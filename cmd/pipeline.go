package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/api"
	"github.com/JakeFAU/ingest-progress/internal/channel"
	"github.com/JakeFAU/ingest-progress/internal/clock/system"
	"github.com/JakeFAU/ingest-progress/internal/model"
	"github.com/JakeFAU/ingest-progress/internal/progress"
	"github.com/JakeFAU/ingest-progress/internal/progress/sinks"
	"github.com/JakeFAU/ingest-progress/internal/snapshot"
	"github.com/JakeFAU/ingest-progress/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// metricsRegisterer receives the progress sink collectors; tests swap it for
// a private registry.
var metricsRegisterer prometheus.Registerer = prometheus.DefaultRegisterer

type pipelineOptions struct {
	// listenAddr serves the read-only API when non-empty.
	listenAddr string
	// follow renders followJob to out after every change touching it. The
	// job may be named later through pipeline.followJob.
	follow    bool
	followJob string
	out       io.Writer
}

// pipeline wires both producers into one progress store and fans committed
// changes out to the sinks.
type pipeline struct {
	logger    *zap.Logger
	store     *progress.Store
	hub       *progress.Hub
	fetcher   *snapshot.Fetcher
	channel   *channel.Manager
	server    *http.Server
	follow    *followSink
	closeRepo func()
}

func newPipeline(ctx context.Context, a App, opts pipelineOptions) (*pipeline, error) {
	cfg := a.Config()
	logger := a.Logger()
	backend := a.Backend()

	repo, closeRepo, err := storage.Open(ctx, storage.Config{
		DSN:          cfg.Storage.DSN,
		MaxConns:     cfg.Storage.MaxConns,
		EnsureSchema: cfg.Storage.EnsureSchema,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open progress repository: %w", err)
	}
	promSink, err := sinks.NewPrometheusSink(metricsRegisterer)
	if err != nil {
		closeRepo()
		return nil, err
	}

	p := &pipeline{logger: logger, closeRepo: closeRepo}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(repo, logger.Named("history")),
	}
	var view func(string) (progress.JobView, bool)
	if opts.follow {
		p.follow = newFollowSink(opts.followJob, func(id string) (progress.JobView, bool) {
			return view(id)
		}, opts.out)
		hubSinks = append(hubSinks, p.follow)
	}
	p.hub = progress.NewHub(progress.HubConfig{
		BufferSize:  cfg.Hub.BufferSize,
		MaxBatch:    cfg.Hub.MaxBatch,
		MaxWait:     cfg.Hub.MaxWait,
		SinkTimeout: cfg.Hub.SinkTimeout,
		Logger:      logger.Named("hub"),
	}, hubSinks...)
	p.store = progress.NewStore(
		progress.WithEmitter(p.hub),
		progress.WithClock(system.New()),
		progress.WithLogger(logger.Named("store")),
	)
	view = p.store.Job

	p.fetcher, err = snapshot.NewFetcher(snapshot.Config{
		Interval: cfg.Snapshot.Interval,
		Timeout:  cfg.Snapshot.Timeout,
		BaseURL:  backend.BaseURL(),
	}, backend, p.store, logger)
	if err != nil {
		p.shutdown()
		return nil, fmt.Errorf("init snapshot fetcher: %w", err)
	}

	streamURL, err := channel.ResolveURL(backend.BaseURL(), cfg.Channel.Path)
	if err != nil {
		p.shutdown()
		return nil, fmt.Errorf("resolve stream url: %w", err)
	}
	chLogger := logger.Named("channel")
	p.channel = channel.New(channel.Config{
		URL:              streamURL,
		ReconnectDelay:   cfg.Channel.ReconnectDelay,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		OnStateChange: func(from, to channel.State) {
			chLogger.Debug("channel state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}, logger)

	if opts.listenAddr != "" {
		p.server = &http.Server{
			Addr:              opts.listenAddr,
			Handler:           api.NewServer(p.store, p.channel, repo, logger.Named("api")).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return p, nil
}

// run starts the producers and the API, calls afterStart, and blocks until ctx
// is done, the API fails, or the followed job finishes. Everything is torn
// down before it returns.
func (p *pipeline) run(ctx context.Context, exitWhenDone bool, afterStart func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := p.channel.Subscribe(func(evt model.ProgressEvent) {
		p.store.ApplyEvent(evt)
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.fetcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		p.channel.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	if p.server != nil {
		p.logger.Info("serving progress api", zap.String("addr", p.server.Addr))
		go func() {
			if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("serve api: %w", err)
			}
		}()
	}

	var finished <-chan struct{}
	if exitWhenDone && p.follow != nil {
		finished = p.follow.Done()
	}

	var runErr error
	if afterStart != nil {
		if err := afterStart(ctx); err != nil {
			runErr = err
			cancel()
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
	case <-finished:
		p.logger.Info("followed job finished")
	}
	cancel()
	wg.Wait()
	p.shutdown()
	return runErr
}

// followJob points the follow sink at jobID and requests an immediate
// snapshot so the job shows up without waiting for the next poll.
func (p *pipeline) followJob(jobID string) {
	if p.follow != nil {
		p.follow.setJob(jobID)
	}
	p.fetcher.Refresh()
}

func (p *pipeline) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			p.logger.Warn("api shutdown failed", zap.Error(err))
		}
	}
	if p.hub != nil {
		if err := p.hub.Close(ctx); err != nil {
			p.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if p.closeRepo != nil {
		p.closeRepo()
	}
}
