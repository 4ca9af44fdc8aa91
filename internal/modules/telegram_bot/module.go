package telegram

import (
	"context"

	"signal_bot/internal/modules/config"
	"signal_bot/internal/modules/telegram_bot/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/runner"
	"signal_bot/internal/store"
	"signal_bot/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			func(cfg *config.Config) (*service.Telegram, error) {
				return service.NewTelegram(cfg, logger.Named("telegram"))
			},
			// целевой канал как получатель уведомлений
			func(t *service.Telegram) notify.Sender { return t },
		),
		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram, p *runner.Pipeline, s store.Store) {
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						t.Start(ctx, p, p, s)
						return nil
					},
					OnStop: func(context.Context) error {
						cancel()
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
