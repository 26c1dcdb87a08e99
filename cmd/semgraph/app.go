package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/c360studio/semgraph/api"
	"github.com/c360studio/semgraph/config"
	"github.com/c360studio/semgraph/graph"
	"github.com/c360studio/semgraph/graph/memstore"
	graphmongo "github.com/c360studio/semgraph/graph/mongo"
	"github.com/c360studio/semgraph/ingest"
	"github.com/c360studio/semgraph/jobs"
	"github.com/c360studio/semgraph/llm"
	"github.com/c360studio/semgraph/metrics"
	"github.com/c360studio/semgraph/pipeline"
	"github.com/c360studio/semgraph/query"
	"github.com/c360studio/semgraph/scheduler"
)

// App wires the service components together and owns their lifecycles.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Graph store
	graph       graph.Store
	mongoClient *mongodriver.Client

	// Job machinery
	store     *jobs.Store
	queue     *jobs.Queue
	hub       *jobs.Hub
	scheduler *scheduler.Scheduler
	worker    *scheduler.Worker
	sweeper   *scheduler.Sweeper

	// HTTP
	httpServer *http.Server
	listener   net.Listener

	watcher *ingest.Watcher
	metrics *metrics.Metrics
}

// NewApp creates an application instance. Start does the wiring.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start initializes and starts all components.
func (a *App) Start(ctx context.Context) error {
	if err := a.startNATS(); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	store, err := jobs.NewStore(ctx, a.js, a.logger)
	if err != nil {
		return fmt.Errorf("initialize job store: %w", err)
	}
	a.store = store

	queue, err := jobs.NewQueue(ctx, a.js, a.logger)
	if err != nil {
		return fmt.Errorf("initialize job queue: %w", err)
	}
	a.queue = queue
	a.hub = jobs.NewHub(a.logger)

	if err := a.startGraphStore(ctx); err != nil {
		return fmt.Errorf("initialize graph store: %w", err)
	}

	registry, err := a.cfg.Registry()
	if err != nil {
		return fmt.Errorf("build model registry: %w", err)
	}

	client := llm.NewClient(registry,
		llm.WithLogger(a.logger),
		llm.WithRateLimit(a.cfg.LLM.RPS))
	extractor := llm.NewExtractor(client, a.logger)
	embedder := llm.NewEmbedder(client,
		llm.WithBatchSize(a.cfg.LLM.EmbedBatchSize),
		llm.WithDimension(a.cfg.Graph.EmbeddingDimension))
	vision := llm.NewVision(client)

	a.metrics = metrics.New()
	a.metrics.RegisterQueueDepth(func() float64 {
		depthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		depth, err := a.queue.Depth(depthCtx)
		if err != nil {
			return 0
		}
		return float64(depth)
	})

	pipe := pipeline.New(a.store, a.hub, a.graph, extractor, embedder, vision, a.cfg.Pipeline(), a.logger)
	a.scheduler = scheduler.New(a.store, a.queue, a.hub, a.graph, a.cfg.Scheduler(), a.logger)
	a.sweeper = scheduler.NewSweeper(a.store, a.hub, a.graph, a.cfg.Scheduler(), a.logger)
	a.worker = scheduler.NewWorker(a.store, a.queue, a.hub, pipe, a.cfg.Scheduler(), a.logger).
		WithMetrics(a.metrics)

	if err := a.worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	a.sweeper.Start(ctx)

	engine := query.New(a.graph, embedder, a.cfg.Query(registry), a.logger)

	if a.cfg.Watch.Dir != "" {
		if err := a.startWatcher(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}

	srv := api.New(a.scheduler, a.sweeper, engine, a.hub, a.queue, a.graph, a.metrics, a.cfg.API(), a.logger)

	listener, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.listener = listener
	a.httpServer = &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound HTTP listen address.
func (a *App) Addr() string {
	if a.listener == nil {
		return a.cfg.HTTP.Addr
	}
	return a.listener.Addr().String()
}

func (a *App) startNATS() error {
	if a.cfg.NATS.URL != "" {
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		a.logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1,
			JetStream: true,
			StoreDir:  filepath.Join(os.TempDir(), "semgraph-nats"),
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js
	return nil
}

func (a *App) startGraphStore(ctx context.Context) error {
	if a.cfg.Mongo.URI == "" {
		a.logger.Info("Using in-memory graph store")
		a.graph = memstore.New()
		return nil
	}

	a.logger.Info("Connecting to MongoDB", "database", a.cfg.Mongo.Database)
	client, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(a.cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	a.mongoClient = client

	store, err := graphmongo.New(ctx, graphmongo.Options{
		Client:   client,
		Database: a.cfg.Mongo.Database,
	})
	if err != nil {
		return err
	}
	a.graph = store
	return nil
}

// startWatcher begins directory-watch auto submission. Watched files are
// submitted under the configured ontology by the "watcher" principal.
func (a *App) startWatcher(ctx context.Context) error {
	watcher, err := ingest.NewWatcher(a.cfg.WatcherConfig(), a.cfg.Watch.Dir, a.logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	a.watcher = watcher

	go func() {
		for event := range watcher.Events() {
			if event.Operation == ingest.WatchOpDelete {
				continue
			}
			a.submitWatched(ctx, event)
		}
	}()
	return nil
}

func (a *App) submitWatched(ctx context.Context, event ingest.WatchEvent) {
	content, err := os.ReadFile(event.AbsPath)
	if err != nil {
		a.logger.Error("Failed to read watched file", "path", event.Path, "error", err)
		return
	}

	jobType := jobs.TypeFile
	if ingest.DetectFormat(event.Path) == ingest.FormatImage {
		jobType = jobs.TypeImage
	}

	result, err := a.scheduler.Submit(ctx, scheduler.SubmitRequest{
		Type:      jobType,
		Content:   content,
		Filename:  event.Path,
		Ontology:  a.cfg.Watch.Ontology,
		Principal: "watcher",
		Options:   jobs.Options{AutoApprove: a.cfg.Watch.AutoApprove},
		Metadata:  map[string]string{"watch_path": event.Path},
	})
	if err != nil {
		a.logger.Error("Watched file submission failed", "path", event.Path, "error", err)
		return
	}
	if result.Existing {
		a.logger.Debug("Watched file unchanged", "path", event.Path, "job_id", result.Job.ID)
		return
	}
	a.logger.Info("Watched file submitted",
		"path", event.Path,
		"job_id", result.Job.ID,
		"status", result.Job.Status)
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	a.logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("HTTP shutdown incomplete", "error", err)
		}
	}

	if a.watcher != nil {
		_ = a.watcher.Stop()
	}

	if a.worker != nil {
		a.worker.Wait()
	}

	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	if a.mongoClient != nil {
		if err := a.mongoClient.Disconnect(ctx); err != nil {
			a.logger.Warn("MongoDB disconnect failed", "error", err)
		}
	}
}
