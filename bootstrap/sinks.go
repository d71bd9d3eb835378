package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/config"
	"github.com/TITAN-Softwork-Solutions/Vigil/notify"
	"go.uber.org/zap"
)

// defaultNotifyCommand is used when notifications are enabled without a
// command
var defaultNotifyCommand = []string{"notify-send", "--app-name=Vigil", "{title}", "{body}"}

// redisConnectTimeout bounds the startup PING
const redisConnectTimeout = 5 * time.Second

// InitSinks opens every configured sink. The log file sink is always
// present. On error the sinks opened so far are closed.
func InitSinks(ctx context.Context, cfg *config.Config, opts Options, sessionID string, stores *StorageComponents, sugar *zap.SugaredLogger) ([]notify.Sink, error) {
	var sinks []notify.Sink
	fail := func(err error) ([]notify.Sink, error) {
		var closeErrs []error
		for _, s := range sinks {
			closeErrs = append(closeErrs, s.Close())
		}
		return nil, errors.Join(append([]error{err}, closeErrs...)...)
	}

	logSink, err := notify.NewLogFileSink(notify.LogFileOptions{
		Dir:        cfg.Sinks.LogDir,
		JSONL:      cfg.General.JSONL,
		MaxSizeMB:  cfg.Sinks.LogMaxSizeMB,
		MaxBackups: cfg.Sinks.LogMaxBackups,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to open alert log: %w", err))
	}
	sinks = append(sinks, logSink)
	sugar.Infow("Alert log opened", "path", logSink.Path(), "jsonl", cfg.General.JSONL)

	if !cfg.General.Quiet || opts.Verbose {
		sinks = append(sinks, notify.NewConsoleSink(os.Stdout))
	}

	if cfg.Notify.Enabled {
		argv := cfg.Notify.Command
		if len(argv) == 0 {
			argv = defaultNotifyCommand
		}
		notifier, err := notify.NewCommandNotifier(argv)
		if err != nil {
			return fail(err)
		}
		notifySink, err := notify.NewNotificationSink(notifier, notify.NotificationOptions{
			PerPIDInterval: cfg.Notify.PerPIDInterval,
			RatePerMinute:  cfg.Notify.RatePerMinute,
		}, sugar)
		if err != nil {
			return fail(fmt.Errorf("failed to create notification sink: %w", err))
		}
		sinks = append(sinks, notifySink)
	}

	if cfg.Sinks.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(notify.WebhookOptions{
			URL:       cfg.Sinks.Webhook.URL,
			Timeout:   cfg.Sinks.Webhook.Timeout,
			Headers:   cfg.Sinks.Webhook.Headers,
			SessionID: sessionID,
		}, sugar))
	}

	if cfg.Sinks.Redis.Addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
		redisSink, err := notify.NewRedisSink(pingCtx, notify.RedisOptions{
			Addr:      cfg.Sinks.Redis.Addr,
			Password:  cfg.Sinks.Redis.Password,
			DB:        cfg.Sinks.Redis.DB,
			Channel:   cfg.Sinks.Redis.Channel,
			SessionID: sessionID,
		}, sugar)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", ClassifyConnectionError(err, "Redis", cfg.Sinks.Redis.Addr))
			return fail(fmt.Errorf("failed to open redis sink: %w", err))
		}
		sinks = append(sinks, redisSink)
	}

	if stores != nil && stores.Archive != nil {
		sinks = append(sinks, stores.Archive)
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	sugar.Infow("Sinks ready", "sinks", names)
	return sinks, nil
}
