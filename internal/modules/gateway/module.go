package gateway

import (
	"context"
	"fmt"

	"signal_bot/internal/exchange"
	binance "signal_bot/internal/modules/binance_client/service"
	"signal_bot/internal/modules/config"
	okx "signal_bot/internal/modules/okx_client/service"
	okxws "signal_bot/internal/modules/okx_websocket/service"
	"signal_bot/pkg/logger"

	"go.uber.org/fx"
)

// runStream push-канал с собственным циклом переподключения.
type runStream interface {
	exchange.OrderStream
	Run(ctx context.Context)
}

type Out struct {
	fx.Out

	Exchange exchange.Exchange
	Stream   exchange.OrderStream
}

// New адаптер биржи по EXCHANGE, обёрнутый общим лимитом запросов.
func New(lc fx.Lifecycle, cfg *config.Config) (Out, error) {
	var (
		raw    exchange.Exchange
		stream runStream
	)
	switch cfg.Exchange.Name {
	case "okx":
		c := okx.NewClient(cfg.Exchange.OKX, cfg.Signal.QuoteAsset, logger.Named("okx"))
		raw, stream = c, okxws.NewStream(cfg.Exchange.OKX.WSURL, c, logger.Named("okx_ws"))
	case "binance":
		c := binance.NewClient(cfg.Exchange.Binance, logger.Named("binance"))
		raw, stream = c, binance.NewStream(c)
	default:
		return Out{}, fmt.Errorf("gateway: unknown exchange %q", cfg.Exchange.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				stream.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})

	return Out{
		Exchange: exchange.NewLimited(raw, cfg.Exchange.RateLimit, cfg.Exchange.RateBurst),
		Stream:   stream,
	}, nil
}

func Module() fx.Option {
	return fx.Module("gateway",
		fx.Provide(New),
	)
}
