package bootstrap

import (
	"context"

	"signal_bot/internal/modules/config"
	"signal_bot/pkg/logger"
	"signal_bot/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const serviceName = "signal_bot"

// NewLogger глобальный zap по LOG_LEVEL; компоненты берут logger.Named.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(serviceName)
	return logger.Init(cfg.LogLevel)
}

// InitTracing Jaeger при заданном JAEGER_HOST, иначе остаётся no-op трейсер.
func InitTracing(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) error {
	tracing.SetServiceName(serviceName)
	_, closeFn, err := tracing.InitTracer(tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port})
	if err != nil {
		return err
	}
	if cfg.Tracing.Host != "" {
		log.Info("jaeger tracer enabled", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeFn()
			return nil
		},
	})
	return nil
}

// Module логгер и трейсинг поднимаются раньше остальных модулей.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(NewLogger),
		fx.Invoke(InitTracing),
	)
}
