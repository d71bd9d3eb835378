package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStorageComponents_Stats(t *testing.T) {
	sugar := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Sinks.SQLite.Enabled = true
	cfg.Storage.DeadLetter = true
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "vigil.db")

	stores, err := InitStorage(cfg, "session-a", sugar)
	require.NoError(t, err)
	defer stores.Close()

	alert := &core.AlertRecord{
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		PID:        100,
		ImagePath:  `C:\mal\evil.exe`,
		TargetPath: `C:\data\leveldb\CURRENT`,
		RuleName:   "Token Store",
		EventID:    core.EventIDFileCreate,
		Kind:       core.AlertDirectUntrustedAccess,
	}
	require.NoError(t, stores.Archive.Write(ctx, alert))
	require.NoError(t, stores.DeadLetter.Add(core.RawEvent{Kind: "bogus"}, "unsupported", errors.New("bogus kind")))

	stats, err := stores.Stats(ctx, "session-a")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.Archived)
	require.Len(t, stats.Recent, 1)
	assert.Equal(t, "Token Store", stats.Recent[0].RuleName)
	assert.Equal(t, int64(1), stats.DeadLetters["unsupported"])

	other, err := stores.Stats(ctx, "session-b")
	require.NoError(t, err)
	assert.Zero(t, other.Archived)
}

func TestStorageComponents_StatsWithoutSQLite(t *testing.T) {
	var nilStores *StorageComponents
	stats, err := nilStores.Stats(context.Background(), "s")
	assert.NoError(t, err)
	assert.Nil(t, stats)

	stats, err = (&StorageComponents{}).Stats(context.Background(), "s")
	assert.NoError(t, err)
	assert.Nil(t, stats)
}
