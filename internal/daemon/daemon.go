// Package daemon implements the scheduling loop: each tick evaluates every
// auto-materializing asset's condition tree against current state, launches
// runs for the partitions that came out true, and persists the evaluation
// records and the advanced cursor.
package daemon

/*
 * One tick moves through a fixed sequence:
 *
 *   load cursor -> evaluate (layer by layer) -> launch runs ->
 *   persist records -> persist cursor -> finalize tick row
 *
 * The tick's evaluation id is previous+1, fixed before any per-asset work.
 * Records are written before the cursor, and the evaluations table carries a
 * unique (evaluation_id, asset_key) constraint, so a crash between the two
 * writes replays cleanly: the next tick reuses the same id and its records
 * land on the conflict clause.
 *
 * Per-asset failures are isolated. A failing asset is logged and counted,
 * keeps its previous cursor state (plus a consecutive-failure marker), and
 * never blocks its siblings. Only tick-level failures (cursor I/O, record
 * persistence) abort the tick, marked FAILURE on the tick row and retried at
 * the next interval.
 */

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solatis/freshkeeper/internal/conditions"
	"github.com/solatis/freshkeeper/internal/core/storage"
	"github.com/solatis/freshkeeper/internal/cursor"
	"github.com/solatis/freshkeeper/internal/partitions"
	"github.com/solatis/freshkeeper/internal/types"
)

const (
	defaultTickInterval = 30 * time.Second
	defaultConcurrency  = 4
)

// pausedValue is what the paused cursor slot must hold to suspend ticking.
const pausedValue = "true"

// evaluationIDTag names the run tag carrying the originating evaluation id.
const evaluationIDTag = "freshkeeper/evaluation-id"

// Config tunes the scheduling loop. Zero values fall back to defaults.
type Config struct {
	// TickInterval is the pause between scheduling ticks.
	TickInterval time.Duration

	// Concurrency bounds how many assets of one dependency layer evaluate
	// in parallel.
	Concurrency int
}

// Daemon owns the scheduling loop over one asset graph. Exactly one daemon
// instance may own a cursor store at a time; ticks never overlap.
type Daemon struct {
	graph    *Graph
	schedule *storage.ScheduleStorage
	cursors  *storage.CursorStore
	launcher RunLauncher
	logger   *slog.Logger

	interval    time.Duration
	concurrency int

	// snapshotsDone guards one-time condition snapshot registration. Only
	// the single tick owner touches it.
	snapshotsDone bool
}

// New builds a daemon. The launcher may be nil, in which case runs are
// handed to a logging launcher.
func New(cfg Config, graph *Graph, schedule *storage.ScheduleStorage, cursors *storage.CursorStore, launcher RunLauncher, logger *slog.Logger) (*Daemon, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}
	if schedule == nil {
		return nil, fmt.Errorf("schedule storage cannot be nil")
	}
	if cursors == nil {
		return nil, fmt.Errorf("cursor store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if launcher == nil {
		launcher = NewLogLauncher(logger)
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Daemon{
		graph:       graph,
		schedule:    schedule,
		cursors:     cursors,
		launcher:    launcher,
		logger:      logger,
		interval:    interval,
		concurrency: concurrency,
	}, nil
}

// Run ticks immediately and then on every interval until ctx is cancelled.
// Tick failures are logged and retried at the next interval.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("daemon started",
		"assets", d.graph.Len(),
		"tick_interval", d.interval,
		"concurrency", d.concurrency)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				d.logger.Info("daemon stopped")
				return ctx.Err()
			}
			d.logger.Error("tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling pass and returns the finalized tick row.
func (d *Daemon) Tick(ctx context.Context) (storage.Tick, error) {
	now := time.Now().UTC()

	slots, err := d.cursors.Get(ctx, []string{storage.CursorKey, storage.PausedKey})
	if err != nil {
		return d.recordUnstartedFailure(ctx, now, fmt.Errorf("load cursor: %w", err))
	}
	cur := cursor.Decode(slots[storage.CursorKey])

	if slots[storage.PausedKey] == pausedValue {
		d.logger.Info("daemon paused, skipping tick")
		tick, err := d.schedule.CreateTick(ctx, storage.Tick{
			Status:       types.TickStatusSkipped,
			EvaluationID: cur.EvaluationID(),
			StartedAt:    now,
		})
		if err != nil {
			return storage.Tick{}, err
		}
		return d.finishTick(ctx, tick, types.TickStatusSkipped, "")
	}

	evaluationID := cur.NextEvaluationID()
	tick, err := d.schedule.CreateTick(ctx, storage.Tick{
		Status:       types.TickStatusStarted,
		EvaluationID: evaluationID,
		StartedAt:    now,
	})
	if err != nil {
		return storage.Tick{}, fmt.Errorf("create tick: %w", err)
	}
	d.logger.Info("tick started", "tick_id", tick.ID, "evaluation_id", evaluationID)

	if !d.snapshotsDone {
		if err := d.registerSnapshots(ctx); err != nil {
			return d.failTick(ctx, tick, fmt.Errorf("register condition snapshots: %w", err))
		}
		d.snapshotsDone = true
	}

	// The materialization-log high-water mark is taken once, before any
	// evaluation, and becomes every successful asset's new baseline.
	maxStorageID, err := d.schedule.MaxStorageID(ctx)
	if err != nil {
		return d.failTick(ctx, tick, fmt.Errorf("read materialization high-water mark: %w", err))
	}

	results := d.evaluateAll(ctx, cur, now)
	if err := ctx.Err(); err != nil {
		return d.failTick(ctx, tick, err)
	}

	evaluated := d.successfulEvaluations(results)
	requests, requestedAssets := d.buildRunRequests(evaluationID, evaluated)
	runIDs, runsByAsset := d.launchRuns(ctx, requests)

	records := make([]*conditions.EvaluationWithRunIDs, 0, len(evaluated))
	for _, eval := range evaluated {
		records = append(records, eval.WithRunIDs(runsByAsset[eval.AssetKey().String()]))
	}
	if err := d.schedule.AddAssetEvaluations(ctx, evaluationID, records); err != nil {
		return d.failTick(ctx, tick, fmt.Errorf("persist evaluations: %w", err))
	}

	states := d.nextAssetStates(cur, results, maxStorageID, now)
	blob, err := cur.WithUpdates(evaluationID, states).Encode()
	if err != nil {
		return d.failTick(ctx, tick, fmt.Errorf("encode cursor: %w", err))
	}
	if err := d.cursors.Set(ctx, map[string]string{storage.CursorKey: blob}); err != nil {
		return d.failTick(ctx, tick, fmt.Errorf("persist cursor: %w", err))
	}

	tick.RunIDs = runIDs
	tick.RunRequests = requests
	tick.RequestedAssets = requestedAssets
	requestedPartitions.Add(float64(len(requests)))
	d.logger.Info("tick finished",
		"tick_id", tick.ID,
		"evaluation_id", evaluationID,
		"evaluated", len(evaluated),
		"requested", len(requests),
		"runs", len(runIDs))
	return d.finishTick(ctx, tick, types.TickStatusSuccess, "")
}

// assetResult is one asset's outcome within a tick: the evaluation tree, or
// the isolated error that prevented one.
type assetResult struct {
	asset *Asset
	eval  *conditions.Evaluation
	err   error
}

// evaluateAll walks the graph layer by layer, evaluating every policied
// asset of a layer concurrently. Errors stay inside the per-asset result.
func (d *Daemon) evaluateAll(ctx context.Context, cur cursor.Cursor, now time.Time) map[string]*assetResult {
	results := make(map[string]*assetResult)
	var mu sync.Mutex

	for _, layer := range d.graph.Layers() {
		// Cancellation is honored between layers and before each asset,
		// never mid-evaluation.
		if ctx.Err() != nil {
			return results
		}

		g := new(errgroup.Group)
		g.SetLimit(d.concurrency)
		for _, asset := range layer {
			if asset.Condition == nil {
				continue
			}
			g.Go(func() error {
				eval, err := d.evaluateAsset(ctx, asset, cur, now)
				mu.Lock()
				results[asset.Key.String()] = &assetResult{asset: asset, eval: eval, err: err}
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
	}
	return results
}

func (d *Daemon) evaluateAsset(ctx context.Context, asset *Asset, cur cursor.Cursor, now time.Time) (*conditions.Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	state := cur.StateFor(asset.Key)
	candidate, err := partitions.AllSubset(ctx, asset.Key, asset.Def, d.schedule, now)
	if err != nil {
		assetErrors.WithLabelValues(asset.Key.String(), "evaluate").Inc()
		d.logger.Warn("asset evaluation failed", "asset", asset.Key.String(), "error", err)
		return nil, err
	}

	ec := &conditions.Context{
		Key:                  asset.Key,
		Def:                  asset.Def,
		Store:                d.schedule,
		State:                d.schedule,
		Parents:              d.graph.Parents(asset),
		Now:                  now,
		Candidate:            candidate,
		Previous:             state.PreviousEvaluation,
		PreviousMaxStorageID: state.PreviousMaxStorageID,
	}
	eval, err := asset.Condition.Evaluate(ctx, ec)
	evaluationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		assetErrors.WithLabelValues(asset.Key.String(), "evaluate").Inc()
		d.logger.Warn("asset evaluation failed", "asset", asset.Key.String(), "error", err)
		return nil, err
	}
	return eval, nil
}

// successfulEvaluations orders the per-asset results back into topological
// order so everything derived from them is deterministic.
func (d *Daemon) successfulEvaluations(results map[string]*assetResult) []*conditions.Evaluation {
	out := make([]*conditions.Evaluation, 0, len(results))
	for _, asset := range d.graph.Assets() {
		res, ok := results[asset.Key.String()]
		if !ok || res.err != nil {
			continue
		}
		out = append(out, res.eval)
	}
	return out
}

// buildRunRequests derives one request per requested (asset, partition) pair
// from the root true subsets, capped at MaxRunRequestsPerTick.
func (d *Daemon) buildRunRequests(evaluationID types.EvaluationID, evaluated []*conditions.Evaluation) ([]types.RunRequest, []types.AssetKey) {
	tags := map[string]string{
		evaluationIDTag: strconv.FormatInt(int64(evaluationID), 10),
	}

	requests := make([]types.RunRequest, 0)
	requestedAssets := make([]types.AssetKey, 0)
	truncated := false
	for _, eval := range evaluated {
		trueSubset := eval.TrueSubset
		if trueSubset.IsEmpty() {
			continue
		}
		requestedAssets = append(requestedAssets, eval.AssetKey())

		if !trueSubset.IsPartitioned() {
			if len(requests) >= types.MaxRunRequestsPerTick {
				truncated = true
				break
			}
			requests = append(requests, types.RunRequest{
				AssetKeys: []types.AssetKey{eval.AssetKey()},
				Tags:      tags,
			})
			continue
		}

		for _, key := range trueSubset.Partitions().Keys() {
			if len(requests) >= types.MaxRunRequestsPerTick {
				truncated = true
				break
			}
			partitionKey := key
			requests = append(requests, types.RunRequest{
				AssetKeys:    []types.AssetKey{eval.AssetKey()},
				PartitionKey: &partitionKey,
				Tags:         tags,
			})
		}
		if truncated {
			break
		}
	}
	if truncated {
		d.logger.Warn("run requests truncated",
			"evaluation_id", evaluationID,
			"limit", types.MaxRunRequestsPerTick)
	}
	return requests, requestedAssets
}

// launchRuns hands every request to the launcher, returning all launched run
// ids plus the ids grouped per asset key. Launch failures skip the request
// and leave the evaluation to persist without that run.
func (d *Daemon) launchRuns(ctx context.Context, requests []types.RunRequest) ([]types.RunID, map[string][]types.RunID) {
	runIDs := make([]types.RunID, 0, len(requests))
	byAsset := make(map[string][]types.RunID)
	for _, req := range requests {
		id, err := d.launcher.LaunchRun(ctx, req)
		if err != nil {
			for _, key := range req.AssetKeys {
				assetErrors.WithLabelValues(key.String(), "launch").Inc()
			}
			d.logger.Warn("run launch failed", "error", err)
			continue
		}
		runIDs = append(runIDs, id)
		for _, key := range req.AssetKeys {
			byAsset[key.String()] = append(byAsset[key.String()], id)
		}
	}
	return runIDs, byAsset
}

// failureExtra is the consecutive-failure marker stored in a failing asset's
// cursor extras, keyed by its root condition id.
type failureExtra struct {
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// nextAssetStates builds the full replacement state set for the cursor:
// fresh state for every successfully evaluated asset, carried-forward state
// (with an incremented failure marker) for assets whose evaluation failed.
func (d *Daemon) nextAssetStates(cur cursor.Cursor, results map[string]*assetResult, maxStorageID types.StorageID, now time.Time) []cursor.AssetState {
	states := make([]cursor.AssetState, 0, len(results))
	for _, asset := range d.graph.Assets() {
		res, ok := results[asset.Key.String()]
		if !ok {
			continue
		}
		if res.err != nil {
			states = append(states, d.failedAssetState(cur, asset))
			continue
		}
		ts := now
		states = append(states, cursor.AssetState{
			AssetKey:             asset.Key,
			PreviousEvaluation:   res.eval,
			PreviousMaxStorageID: maxStorageID,
			PreviousTimestamp:    &ts,
		})
	}
	return states
}

func (d *Daemon) failedAssetState(cur cursor.Cursor, asset *Asset) cursor.AssetState {
	prev := cur.StateFor(asset.Key)
	rootID := asset.Condition.Snapshot().UniqueID

	var marker failureExtra
	if raw, ok := prev.ExtraFor(rootID); ok {
		// A corrupt marker resets the count rather than failing the tick.
		_ = json.Unmarshal(raw, &marker)
	}
	marker.ConsecutiveFailures++
	d.logger.Warn("asset keeps previous cursor state",
		"asset", asset.Key.String(),
		"consecutive_failures", marker.ConsecutiveFailures)

	raw, err := json.Marshal(marker)
	if err != nil {
		return prev
	}
	return prev.WithExtra(rootID, raw)
}

// registerSnapshots stores the identity of every condition node in the graph
// so stored evaluation records always have resolvable snapshot ids.
func (d *Daemon) registerSnapshots(ctx context.Context) error {
	byID := make(map[string]conditions.Snapshot)
	var collect func(cond conditions.Condition)
	collect = func(cond conditions.Condition) {
		snap := cond.Snapshot()
		if _, seen := byID[snap.UniqueID]; seen {
			return
		}
		byID[snap.UniqueID] = snap
		for _, child := range cond.Children() {
			collect(child)
		}
	}
	for _, asset := range d.graph.Assets() {
		if asset.Condition != nil {
			collect(asset.Condition)
		}
	}

	snapshots := make([]conditions.Snapshot, 0, len(byID))
	for _, snap := range byID {
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].UniqueID < snapshots[j].UniqueID
	})
	return d.schedule.AddConditionSnapshots(ctx, snapshots)
}

// finishTick writes the tick's terminal status and observes tick metrics.
func (d *Daemon) finishTick(ctx context.Context, tick storage.Tick, status types.TickStatus, tickErr string) (storage.Tick, error) {
	ended := time.Now().UTC()
	tick.Status = status
	tick.EndedAt = &ended
	tick.Error = tickErr

	ticksTotal.WithLabelValues(strings.ToLower(string(status))).Inc()
	tickDuration.Observe(ended.Sub(tick.StartedAt).Seconds())

	if err := d.schedule.UpdateTick(ctx, tick); err != nil {
		return tick, fmt.Errorf("finalize tick %d: %w", tick.ID, err)
	}
	return tick, nil
}

// failTick finalizes the tick as FAILURE carrying cause, which remains the
// returned error even if the finalizing write also fails.
func (d *Daemon) failTick(ctx context.Context, tick storage.Tick, cause error) (storage.Tick, error) {
	d.logger.Error("tick failed", "tick_id", tick.ID, "error", cause)
	tick, err := d.finishTick(ctx, tick, types.TickStatusFailure, cause.Error())
	if err != nil {
		d.logger.Error("tick row not finalized", "tick_id", tick.ID, "error", err)
	}
	return tick, cause
}

// recordUnstartedFailure records ticks that failed before a cursor could be
// loaded; the evaluation id is unknown so the row carries zero.
func (d *Daemon) recordUnstartedFailure(ctx context.Context, now time.Time, cause error) (storage.Tick, error) {
	d.logger.Error("tick failed", "error", cause)
	ended := time.Now().UTC()
	tick, err := d.schedule.CreateTick(ctx, storage.Tick{
		Status:    types.TickStatusFailure,
		StartedAt: now,
		Error:     cause.Error(),
	})
	if err != nil {
		d.logger.Error("tick row not recorded", "error", err)
		return storage.Tick{}, cause
	}
	tick.EndedAt = &ended
	if err := d.schedule.UpdateTick(ctx, tick); err != nil {
		d.logger.Error("tick row not finalized", "tick_id", tick.ID, "error", err)
	}
	ticksTotal.WithLabelValues(strings.ToLower(string(types.TickStatusFailure))).Inc()
	return tick, cause
}
