package orchestrator

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/internal/queue"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// startSpawn runs once per activation. The plan is consumed one item at a
// time: each asset fetch suspends the spawn and its completion message
// resumes it, so tracking events keep flowing in between.
func (o *Orchestrator) startSpawn(a *activation) {
	a.spawn = spawnInProgress
	a.spawnStarted = time.Now()
	o.setState(StateSpawning, "marker tracking")

	items := slices.Clone(a.scene.Items)
	slices.SortStableFunc(items, func(x, y core.Item) int {
		return cmp.Compare(x.OrderIndex, y.OrderIndex)
	})
	a.plan = queue.New[core.Item]()
	a.plan.Push(items...)
	o.logger.Info("Spawning scene content", "items", len(items))

	if o.cfg.Prefetch {
		if locators := prefetchLocators(a.scene, items); len(locators) > 0 {
			ctx, gen, limit := a.ctx, a.gen, o.cfg.PrefetchLimit
			go func() {
				n := o.loader.Prefetch(ctx, locators, limit)
				o.post(prefetchedMsg{gen: gen, warmed: n})
			}()
			return
		}
	}
	o.spawnNext(a)
}

// prefetchLocators lists the distinct locators the plan will load, in plan order.
func prefetchLocators(scene *core.SceneDescriptor, items []core.Item) []string {
	var out []string
	seen := make(map[string]bool)
	for _, it := range items {
		if it.Malformed || it.AssetID == "" {
			continue
		}
		asset, ok := scene.AssetByID(it.AssetID)
		if !ok || seen[asset.AssetURL] {
			continue
		}
		seen[asset.AssetURL] = true
		out = append(out, asset.AssetURL)
	}
	return out
}

func (o *Orchestrator) onPrefetched(m prefetchedMsg) {
	a := o.current(m.gen)
	if a == nil || a.spawn != spawnInProgress {
		return
	}
	o.logger.Debug("Prefetch finished", "warmed", m.warmed)
	o.spawnNext(a)
}

// spawnNext skips items that cannot be loaded and starts the fetch of the
// next one that can. With the plan exhausted it finishes the spawn.
func (o *Orchestrator) spawnNext(a *activation) {
	for {
		item, ok := a.plan.Pop()
		if !ok {
			o.finishSpawn(a)
			return
		}
		a.visited++

		var reason string
		switch {
		case item.Malformed:
			reason = "malformed item"
		case item.AssetID == "":
			reason = "empty asset id"
		case o.registry.Has(item.AssetID):
			reason = "already spawned"
		}
		if reason != "" {
			o.logger.Debug("Skipping item", "assetId", item.AssetID, "orderIndex", item.OrderIndex, "reason", reason)
			o.recordSpawn(a, item, core.SpawnSkipped, reason, 0)
			continue
		}

		asset, ok := a.scene.AssetByID(item.AssetID)
		if !ok {
			o.logger.Warn("Item references unknown asset", "assetId", item.AssetID, "orderIndex", item.OrderIndex)
			o.recordSpawn(a, item, core.SpawnUnknownAsset, "asset not in scene", 0)
			continue
		}

		o.fetchAsset(a, item, asset)
		return
	}
}

func (o *Orchestrator) fetchAsset(a *activation, item core.Item, asset core.Asset) {
	ctx, gen := a.ctx, a.gen
	go func() {
		start := time.Now()
		doc, err := o.loader.Fetch(ctx, asset.AssetURL)
		o.post(assetFetchedMsg{
			gen:     gen,
			item:    item,
			asset:   asset,
			doc:     doc,
			err:     err,
			elapsed: time.Since(start),
		})
	}()
}

func (o *Orchestrator) onAssetFetched(m assetFetchedMsg) {
	a := o.current(m.gen)
	if a == nil || a.spawn != spawnInProgress {
		o.logger.Debug("Discarding stale asset", "assetId", m.item.AssetID, "generation", m.gen)
		return
	}

	node, err := engine.NoNode, m.err
	if err == nil {
		node, err = o.loader.Instantiate(m.doc)
	}
	if err == nil {
		err = o.place(a, node, m.item)
		if err != nil {
			if derr := o.loader.Unload(node); derr != nil {
				o.logger.Warn("Failed to destroy unplaced content", "node", node, "error", derr)
			}
		}
	}

	o.metrics.assetLoad(m.elapsed, err)
	if o.telemetry != nil {
		var size int64
		if m.doc != nil {
			size = int64(m.doc.Size)
		}
		o.telemetry.AssetLoaded(a.id, m.item.AssetID, size, m.elapsed, err)
	}

	if err != nil {
		o.logger.Warn("Asset load failed",
			"assetId", m.item.AssetID,
			"url", m.asset.AssetURL,
			"error", err)
		o.recordSpawn(a, m.item, core.SpawnLoadFailed, err.Error(), m.elapsed)
	} else {
		a.spawned++
		o.logger.Info("Item spawned",
			"assetId", m.item.AssetID,
			"node", node,
			"duration", m.elapsed)
		o.recordSpawn(a, m.item, core.SpawnOK, "", m.elapsed)
	}
	o.spawnNext(a)
}

// place names the loaded content, parents it under the anchor and applies
// the sanitized item transform before registering it.
func (o *Orchestrator) place(a *activation, node engine.NodeID, item core.Item) error {
	if err := o.graph.SetName(node, ItemPrefix+item.AssetID); err != nil {
		return fmt.Errorf("name content: %w", err)
	}
	if err := o.graph.SetParent(node, a.anchor, false); err != nil {
		return fmt.Errorf("parent content under anchor: %w", err)
	}
	if err := o.graph.SetLocalTransform(node, Sanitize(item.Transform())); err != nil {
		return fmt.Errorf("set content transform: %w", err)
	}
	if !o.registry.Add(item.AssetID, node) {
		return fmt.Errorf("asset %q already spawned", item.AssetID)
	}
	return nil
}

func (o *Orchestrator) finishSpawn(a *activation) {
	a.spawn = spawnDone
	elapsed := time.Since(a.spawnStarted)
	o.setState(StateSteady, "spawn complete")
	o.logger.Info("Spawn complete",
		"spawned", a.spawned,
		"visited", a.visited,
		"duration", elapsed)
	if o.telemetry != nil {
		o.telemetry.SpawnFinished(a.id, a.req.MarkerID, a.spawned, a.visited, elapsed)
	}
}

func (o *Orchestrator) recordSpawn(a *activation, item core.Item, outcome core.SpawnOutcome, detail string, d time.Duration) {
	o.metrics.item(outcome)
	rec := &core.SpawnRecord{
		ActivationID: a.id,
		AssetID:      item.AssetID,
		OrderIndex:   item.OrderIndex,
		Outcome:      outcome,
		Error:        detail,
		LoadDuration: d,
		Time:         time.Now(),
	}
	if outcome == core.SpawnOK {
		rec.Transform = Sanitize(item.Transform())
	}
	o.record(func(j Journal) error { return j.RecordSpawn(rec) })
}
