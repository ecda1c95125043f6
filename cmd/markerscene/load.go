package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rookie-ar/markerscene/internal/geo"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// runLoad loads a single asset into an empty headless scene, places it in
// front of the origin camera and prints the resulting graph.
func runLoad(args []string) error {
	fs, configDir := newFlags("load")
	at := fs.String("at", "0,0,2", "position of the loaded asset as x,y,z")
	timeout := fs.Duration("timeout", time.Minute, "load timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: markerscene load [--config dir] [--at x,y,z] <locator>")
	}
	pos, err := geo.Vec3FromString(*at)
	if err != nil {
		return fmt.Errorf("--at %q: %w", *at, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	rt := newRuntime(*configDir, os.Stderr)
	defer rt.close()

	p, err := newPipeline(ctx, rt)
	if err != nil {
		return err
	}
	defer p.close()

	loc := fs.Arg(0)
	start := time.Now()
	root, err := p.loader.Load(ctx, loc)
	if err != nil {
		return err
	}

	t := core.IdentityTransform
	t.Position = pos
	if err := p.graph.SetLocalTransform(root, t); err != nil {
		return fmt.Errorf("place asset: %w", err)
	}
	p.loader.DumpMaterials(root)
	rt.logger.Info("Asset loaded", "locator", loc, "node", root, "nodes", p.graph.Len(), "duration", time.Since(start))

	return p.graph.Dump(os.Stdout)
}
