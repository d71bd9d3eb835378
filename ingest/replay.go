package ingest

import (
	"context"
	"fmt"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/detect"
	"go.uber.org/zap"
)

// ReplayResult is the outcome of replaying a scenario
type ReplayResult struct {
	Alerts   []*core.AlertRecord `json:"alerts"`
	Stats    detect.Stats        `json:"stats"`
	Problems []string            `json:"problems,omitempty"`
}

// Passed reports whether every expectation held
func (r *ReplayResult) Passed() bool { return len(r.Problems) == 0 }

// Replay runs a scenario synchronously through a fresh sequencer and
// engine built from cfg with the scenario's overrides applied. Every alert
// is passed to onAlert (if set) as well as collected in the result.
func Replay(ctx context.Context, sc *Scenario, base *config.Config, onAlert detect.AlertHandler, logger *zap.SugaredLogger) (*ReplayResult, error) {
	cfg := sc.Apply(base)
	result := &ReplayResult{}

	handler := func(alert *core.AlertRecord) {
		result.Alerts = append(result.Alerts, alert)
		if onAlert != nil {
			onAlert(alert)
		}
	}

	engine, err := detect.NewEngine(cfg, sc.Verifier(), nil, handler, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine for scenario %q: %w", sc.Name, err)
	}
	if sc.Snapshot != nil {
		snap := *sc.Snapshot
		if snap.TakenAt.IsZero() {
			snap.TakenAt = sc.Start
		}
		engine.Seed(ctx, snap)
	}

	raws := sc.RawEvents()
	capacity := cfg.Engine.IngressCapacity
	if capacity < len(raws) {
		capacity = len(raws)
	}
	seq := detect.NewSequencer(capacity, cfg.Engine.ReorderWindow, logger)
	for _, raw := range raws {
		seq.Push(raw)
	}
	seq.Close()

	emit := func(ev core.Event) { engine.Handle(ctx, ev) }
	seq.Process(0, emit)
	seq.Flush(emit)

	result.Stats = detect.Stats{Sequencer: seq.Stats(), Engine: engine.Stats()}
	result.Problems = sc.Check(result.Alerts)

	logger.Infow("Scenario replayed",
		"scenario", sc.Name,
		"events", len(raws),
		"alerts", len(result.Alerts),
		"passed", result.Passed())
	return result, nil
}
