package bootstrap

import (
	"fmt"
	"os"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the colored console logger. verbose lowers the level to
// Debug.
func InitLogger(verbose bool) (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	// stdout carries console alerts, so logs go to stderr
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(zapcore.AddSync(os.Stderr)),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads and validates the configuration file
func InitConfig(path string, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rules := make([]string, 0, len(cfg.Watch.Protected))
	for _, r := range cfg.Watch.Protected {
		rules = append(rules, r.Name)
	}
	if len(rules) == 0 {
		sugar.Warnw("No protected rules configured, nothing will alert", "config", path)
	}

	sugar.Infow("Config loaded",
		"path", path,
		"rules", rules,
		"signer_allow", len(cfg.Allowlist.SignerSubjectAllow),
		"name_allow", len(cfg.Allowlist.ProcessNameAllow),
		"suppress_ms", cfg.General.SuppressMS,
		"reorder_window", cfg.Engine.ReorderWindow)
	sugar.Infow("Data paths",
		"log_dir", cfg.Sinks.LogDir,
		"sqlite_path", cfg.Storage.SQLitePath,
		"sqlite", cfg.NeedsSQLite())

	return cfg, nil
}
