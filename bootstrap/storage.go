package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/storage"
	"go.uber.org/zap"
)

// StorageComponents holds the SQLite database and the stores built on it.
// Every field is nil when no component needs SQLite.
type StorageComponents struct {
	SQLite     *storage.SQLite
	Archive    *storage.AlertArchive
	DeadLetter *storage.DeadLetterStore
}

// recentAlertLimit bounds the archived alerts listed on /stats
const recentAlertLimit = 10

// StorageStats summarizes what the database holds
type StorageStats struct {
	Archived    int64               `json:"archived"`
	Recent      []*core.AlertRecord `json:"recent,omitempty"`
	DeadLetters map[string]int64    `json:"dead_letters,omitempty"`
}

// InitStorage opens the SQLite database when the alert archive or the
// dead-letter store is enabled
func InitStorage(cfg *config.Config, sessionID string, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	components := &StorageComponents{}
	if !cfg.NeedsSQLite() {
		sugar.Debug("SQLite disabled, no archive or dead-letter store")
		return components, nil
	}

	sqlite, err := storage.NewSQLite(cfg.Storage.SQLitePath, sugar)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", ClassifySQLiteError(err, cfg.Storage.SQLitePath))
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	components.SQLite = sqlite

	if cfg.Sinks.SQLite.Enabled {
		components.Archive = storage.NewAlertArchive(sqlite, sessionID, sugar)
	}
	if cfg.Storage.DeadLetter {
		components.DeadLetter = storage.NewDeadLetterStore(sqlite, sessionID, sugar)
	}

	sugar.Infow("Storage initialized",
		"path", cfg.Storage.SQLitePath,
		"archive", components.Archive != nil,
		"dead_letter", components.DeadLetter != nil)
	return components, nil
}

// Close closes the database. Stores built on it must be done first.
func (s *StorageComponents) Close() error {
	if s == nil || s.SQLite == nil {
		return nil
	}
	return s.SQLite.Close()
}

// Stats reads the archived alert count for sessionID, the newest archived
// alerts and the dead-letter counts per reason. It returns nil when SQLite
// is not in use.
func (s *StorageComponents) Stats(ctx context.Context, sessionID string) (*StorageStats, error) {
	if s == nil || s.SQLite == nil {
		return nil, nil
	}

	stats := &StorageStats{}
	var errs []error
	if s.Archive != nil {
		n, err := s.Archive.Count(ctx, sessionID)
		if err != nil {
			errs = append(errs, err)
		}
		stats.Archived = n

		recent, err := s.Archive.Recent(ctx, recentAlertLimit)
		if err != nil {
			errs = append(errs, err)
		}
		stats.Recent = recent
	}
	if s.DeadLetter != nil {
		reasons, err := s.DeadLetter.CountByReason(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		stats.DeadLetters = reasons
	}
	return stats, errors.Join(errs...)
}
