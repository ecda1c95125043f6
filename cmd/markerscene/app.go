package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/rookie-ar/markerscene/internal/api"
	"github.com/rookie-ar/markerscene/internal/config"
	"github.com/rookie-ar/markerscene/internal/content"
	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/internal/engine/headless"
	"github.com/rookie-ar/markerscene/internal/influx"
	"github.com/rookie-ar/markerscene/internal/locator"
	"github.com/rookie-ar/markerscene/internal/logging"
	"github.com/rookie-ar/markerscene/internal/marker"
	"github.com/rookie-ar/markerscene/internal/orchestrator"
	intOtel "github.com/rookie-ar/markerscene/internal/otel"
	"github.com/rookie-ar/markerscene/internal/session"
	"github.com/rookie-ar/markerscene/internal/storage"
	"github.com/rookie-ar/markerscene/internal/storage/memory"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// runtime holds the logging sinks every subcommand shares.
type runtime struct {
	start   time.Time
	session *session.Context

	logFile *os.File
	slog    *logging.SlogManager
	logger  *slog.Logger
	zlog    zerolog.Logger
	otel    *intOtel.Provider
}

// newRuntime loads the config from configDir and sets up logging. Console
// output goes to console, never to stdout, which belongs to the host bridge.
func newRuntime(configDir string, console io.Writer) *runtime {
	rt := &runtime{
		start:   time.Now(),
		session: session.NewContext(),
		slog:    logging.NewSlogManager(),
	}

	rt.slog.Setup(logging.Options{File: console, Level: "info"})
	rt.logger = rt.slog.Logger()

	if err := config.Load(configDir); err != nil {
		rt.logger.Warn("Failed to load config, using defaults!", "dir", configDir, "error", err)
	} else {
		rt.logger.Info("Loaded config", "dir", configDir)
	}
	level := config.GetString("logLevel")

	logPath := logging.LogFilePath(config.GetString("logsDir"), ExtensionName, rt.start)
	f, err := logging.OpenLogFile(logPath)
	if err != nil {
		rt.logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		rt.logFile = f
	}

	var out, fileOut io.Writer = console, nil
	if rt.logFile != nil {
		out = io.MultiWriter(console, rt.logFile)
		fileOut = rt.logFile
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		rt.otel, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    fileOut,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			rt.logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	opts := logging.Options{
		File:    out,
		Level:   level,
		Context: rt.session.LogAttrs,
	}
	if rt.otel != nil {
		opts.Provider = rt.otel.LoggerProvider()
	}
	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := logging.NewGraylogWriter(gl.Address)
		if err != nil {
			rt.logger.Error("Failed to connect to Graylog", "address", gl.Address, "error", err)
		} else {
			opts.Graylog = w
		}
	}
	rt.slog.Setup(opts)
	rt.logger = rt.slog.Logger()
	rt.zlog = logging.NewZerolog(out, level, rt.session.LogAttrs)

	rt.logger.Info("Begin logging in logs directory", "path", logPath, "version", CurrentExtensionVersion)
	return rt
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rt.otel != nil {
		if err := rt.otel.Shutdown(ctx); err != nil {
			rt.logger.Error("Failed to shut down OTel provider", "error", err)
		}
	}
	if err := rt.slog.Close(); err != nil {
		rt.logger.Error("Failed to close Graylog writer", "error", err)
	}
	if rt.logFile != nil {
		_ = rt.logFile.Close()
	}
}

// pipeline is the content side: resolver, HTTP client and loader over a
// headless engine.
type pipeline struct {
	client   *api.Client
	resolver locator.Resolver
	graph    *headless.Graph
	tracker  *headless.Tracker
	loader   *content.Loader
}

func newPipeline(ctx context.Context, rt *runtime) (*pipeline, error) {
	bc := config.GetBackendConfig()
	cc := config.GetContentConfig()

	client := api.New(bc.BaseURL,
		api.WithTimeout(bc.Timeout),
		api.WithUserAgent(bc.UserAgent),
		api.WithMaxBytes(cc.MaxBytes))

	resolver, err := locator.New(ctx, config.GetResolverConfig(), &http.Client{Timeout: bc.Timeout}, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("asset resolver: %w", err)
	}

	graph := headless.NewGraph()
	root := engine.NoNode
	if cc.RootName != "" {
		root, err = graph.CreateNode(cc.RootName, graph.DefaultParent())
		if err != nil {
			_ = locator.Close(resolver)
			return nil, fmt.Errorf("content root: %w", err)
		}
	}

	p := &pipeline{
		client:   client,
		resolver: resolver,
		graph:    graph,
		tracker:  headless.NewTracker(),
	}
	p.loader = content.NewLoader(resolver, client, engine.Engine{
		Graph:   graph,
		Shaders: headless.NewShaders(cc.FallbackShaders...),
		Tracker: p.tracker,
	}, content.Options{
		FallbackShaders: cc.FallbackShaders,
		Root:            root,
	}, rt.logger)
	return p, nil
}

func (p *pipeline) close() error {
	return locator.Close(p.resolver)
}

// stack adds the journal, telemetry and orchestrator on top of a pipeline.
type stack struct {
	*pipeline
	journal storage.Backend
	influx  *influx.Manager
	orch    *orchestrator.Orchestrator
}

func newStack(ctx context.Context, rt *runtime, onReady func(string, core.ActivationRequest)) (*stack, error) {
	p, err := newPipeline(ctx, rt)
	if err != nil {
		return nil, err
	}
	s := &stack{pipeline: p}

	s.journal = openJournal(rt)

	var telemetry orchestrator.Telemetry
	if ic := config.GetInfluxConfig(); ic.Enabled {
		backup := filepath.Join(config.GetString("logsDir"),
			fmt.Sprintf("%s_influx_%s.lp.gz", ExtensionName, rt.start.Format("20060102_150405")))
		s.influx = influx.NewManager(ic, backup, rt.zlog)
		if err := s.influx.Connect(ctx); err != nil {
			rt.logger.Error("Failed to connect to InfluxDB", "error", err)
		}
		telemetry = s.influx
	}

	oc := config.GetOrchestratorConfig()
	cc := config.GetContentConfig()
	s.orch, err = orchestrator.New(orchestrator.Deps{
		Scenes:    p.client,
		Registrar: marker.NewRegistrar(p.tracker, p.client, oc.JobTimeout, rt.logger),
		Loader:    p.loader,
		Graph:     p.graph,
		Tracker:   p.tracker,
		Session:   rt.session,
		Journal:   s.journal,
		Telemetry: telemetry,
		Logger:    rt.logger,
	}, orchestrator.Config{
		WorldRoot:     oc.WorldRoot,
		MailboxSize:   oc.MailboxSize,
		Prefetch:      cc.Prefetch,
		PrefetchLimit: cc.PrefetchLimit,
		OnSceneReady:  onReady,
	})
	if err != nil {
		s.close(rt)
		return nil, err
	}
	return s, nil
}

// openJournal opens the configured backend, falling back to memory when it
// cannot be initialized.
func openJournal(rt *runtime) storage.Backend {
	sc := config.GetStorageConfig()
	b, err := storage.NewBackend(sc, config.GetDBConfig(), rt.zlog)
	if err == nil {
		err = b.Init()
	}
	if err == nil {
		rt.logger.Info("Journal initialized", "type", sc.Type)
		return b
	}

	rt.logger.Error("Failed to initialize journal, falling back to memory", "type", sc.Type, "error", err)
	if b != nil {
		_ = b.Close()
	}
	mem := memory.New(sc.Memory, rt.zlog)
	_ = mem.Init()
	return mem
}

func (s *stack) close(rt *runtime) {
	if s.orch != nil {
		if err := s.orch.Close(); err != nil {
			rt.logger.Error("Failed to close orchestrator", "error", err)
		}
	}
	if s.influx != nil {
		if err := s.influx.Close(); err != nil {
			rt.logger.Error("Failed to close InfluxDB manager", "error", err)
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			rt.logger.Error("Failed to close journal", "error", err)
		}
	}
	if err := s.pipeline.close(); err != nil {
		rt.logger.Error("Failed to close resolver", "error", err)
	}
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, orchestrator.ErrClosed)
}
