package main

import (
	"time"

	"signal_bot/internal/modules/bootstrap"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/gateway"
	"signal_bot/internal/modules/health"
	"signal_bot/internal/modules/storage"
	telegram "signal_bot/internal/modules/telegram_bot"
	"signal_bot/internal/runner"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		// закрытие позиций по рынку при остановке может занять дольше дефолта
		fx.StopTimeout(time.Minute),
		config.Module(),
		bootstrap.Module(),
		storage.Module(),
		gateway.Module(),
		runner.Module(),
		telegram.Module(),
		health.Module(),
	)
	// Run ждёт SIGINT/SIGTERM и вызывает OnStop: мониторы закрывают позиции до выхода.
	app.Run()
}
