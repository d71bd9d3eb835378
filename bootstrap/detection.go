package bootstrap

import (
	"context"
	"fmt"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/detect"
	"github.com/TITAN-Softwork-Solutions/Vigil/ingest"
	"go.uber.org/zap"
)

// InitVerifier returns the signature verifier for live runs. With
// engine.signature_table set, results come from that recorded table;
// otherwise there is no verifier and only the name allowlist can trust a
// process.
func InitVerifier(cfg *config.Config, sugar *zap.SugaredLogger) (detect.SignatureVerifier, error) {
	if cfg.Engine.SignatureTable == "" {
		sugar.Warn("No signature table configured, only allowlisted process names are trusted")
		return nil, nil
	}
	table, err := ingest.LoadSignatureTable(cfg.Engine.SignatureTable)
	if err != nil {
		return nil, err
	}
	sugar.Infow("Signature table loaded", "path", cfg.Engine.SignatureTable, "images", len(table))
	return detect.NewStaticVerifier(table), nil
}

// InitDetector builds the sequencer and engine, seeds the engine with the
// pre-trace snapshot and wires alerts to handler. The detector is returned
// unstarted.
func InitDetector(ctx context.Context, cfg *config.Config, opts Options, handler detect.AlertHandler, dlq detect.DeadLetterSink, sugar *zap.SugaredLogger) (*detect.Detector, error) {
	verifier, err := InitVerifier(cfg, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signature verifier: %w", err)
	}

	// pids of a recorded stream do not belong to this host
	var resolver detect.ImageResolver
	if opts.ProcSnapshot {
		resolver = detect.NewProcImageResolver(sugar)
	}

	engine, err := detect.NewEngine(cfg, verifier, resolver, handler, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	snap, err := TakeSnapshot(opts, sugar)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		engine.Seed(ctx, *snap)
	}

	seq := detect.NewSequencer(cfg.Engine.IngressCapacity, cfg.Engine.ReorderWindow, sugar)
	if dlq != nil {
		seq.SetDeadLetter(dlq)
	}

	sugar.Infow("Detector initialized",
		"rules", len(engine.Rules()),
		"ingress_capacity", cfg.Engine.IngressCapacity,
		"reorder_window", cfg.Engine.ReorderWindow)
	return detect.NewDetector(seq, engine, cfg, sugar), nil
}

// TakeSnapshot collects the pre-trace state from procfs and the snapshot
// file, whichever are enabled. It returns nil when neither is.
func TakeSnapshot(opts Options, sugar *zap.SugaredLogger) (*detect.Snapshot, error) {
	var snapshotters []ingest.Snapshotter
	if opts.ProcSnapshot {
		proc, err := ingest.NewProcSnapshotter("", sugar)
		if err != nil {
			// a missing /proc only costs image names for processes that
			// started before tracing
			sugar.Warnw("Process snapshot unavailable", "error", err)
		} else {
			snapshotters = append(snapshotters, proc)
		}
	}
	if opts.SnapshotPath != "" {
		snapshotters = append(snapshotters, ingest.FileSnapshotter{Path: opts.SnapshotPath})
	}
	if len(snapshotters) == 0 {
		return nil, nil
	}

	snaps := make([]*detect.Snapshot, 0, len(snapshotters))
	for _, s := range snapshotters {
		snap, err := s.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to take snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return ingest.MergeSnapshots(snaps...), nil
}
