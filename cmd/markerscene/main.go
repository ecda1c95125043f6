// Command markerscene runs the marker-activated scene runtime.
//
//	markerscene [serve]        line protocol on stdin/stdout
//	markerscene load <asset>   load one asset into an empty scene and print it
//	markerscene replay <file>  run an activation against a recorded tracking session
//	markerscene inspect <file> print a journal export as JSON
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rookie-ar/markerscene/internal/config"
	"github.com/rookie-ar/markerscene/internal/dispatcher"
	"github.com/rookie-ar/markerscene/internal/handlers"
	"github.com/rookie-ar/markerscene/internal/logging"
	"github.com/rookie-ar/markerscene/internal/monitor"
	"github.com/rookie-ar/markerscene/pkg/bridge"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentExtensionVersion string = "0.0.1"
	BuildDate               string = "unknown"

	ExtensionName string = "markerscene"
)

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = strings.ToLower(args[0]), args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "load":
		err = runLoad(args)
	case "replay":
		err = runReplay(args)
	case "inspect":
		err = runInspect(args)
	case "version":
		fmt.Println(CurrentExtensionVersion, BuildDate)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (serve, load, replay, inspect, version)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "markerscene:", err)
		os.Exit(1)
	}
}

// newFlags returns a flag set with the options every subcommand shares.
func newFlags(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configDir := fs.StringP("config", "c", ".", "directory containing "+config.FileName)
	return fs, configDir
}

func runServe(args []string) error {
	fs, configDir := newFlags("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := newRuntime(*configDir, os.Stderr)
	defer rt.close()
	logger := rt.logger

	var svc *handlers.Service
	s, err := newStack(ctx, rt, func(id string, req core.ActivationRequest) {
		svc.SceneReady(id, req)
	})
	if err != nil {
		return err
	}
	defer s.close(rt)

	d, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	defer d.Close()

	host := bridge.New(d, os.Stdout, logger)

	deps := handlers.Dependencies{
		Orchestrator: s.orch,
		Tracking:     s.tracker,
		Notifier:     host,
		Logger:       logger,
		Version:      CurrentExtensionVersion,
		BuildDate:    BuildDate,
	}
	if config.GetBackendConfig().BaseURL != "" {
		deps.Health = s.client
	}
	svc = handlers.NewService(deps)
	defer svc.Close()
	svc.Register(d)

	if listen := config.GetString("monitor.listen"); listen != "" {
		mdeps := monitor.Dependencies{
			Status:   s.orch,
			Commands: d,
			Logger:   logger,
			Version:  CurrentExtensionVersion,
		}
		if deps.Health != nil {
			mdeps.Backend = s.client
		}
		mon := monitor.NewService(mdeps)
		if err := mon.Start(listen); err != nil {
			logger.Error("Failed to start monitor", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = mon.Stop(sctx)
			}()
		}
	}

	host.Emit("READY", CurrentExtensionVersion)
	logger.Info("Serving host bridge", "commands", d.Commands())

	err = host.Serve(ctx, os.Stdin)
	if isShutdown(err) {
		err = nil
	}
	logger.Info("Shutting down", "error", err)
	return err
}
