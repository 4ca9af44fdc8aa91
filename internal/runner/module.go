package runner

import (
	"context"

	"signal_bot/internal/exchange"
	"signal_bot/internal/executor"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/monitor"
	"signal_bot/internal/notify"
	"signal_bot/internal/profit"
	"signal_bot/internal/risk"
	"signal_bot/internal/signal"
	"signal_bot/pkg/logger"

	"go.uber.org/fx"
)

func retryPolicy(cfg *config.Config) exchange.Policy {
	return exchange.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
}

func NewParser(cfg *config.Config) (*signal.Parser, error) {
	mapper, err := signal.LoadMapper(cfg.Signal.MappingsFile)
	if err != nil {
		return nil, err
	}
	if n := mapper.Len(); n > 0 {
		logger.Info("symbol mappings loaded: %d", n)
	}
	return signal.NewParser(signal.Config{
		QuoteAsset:           cfg.Signal.QuoteAsset,
		AutoStopLoss:         cfg.Signal.AutoStopLoss,
		AutoStopLossPct:      cfg.Signal.AutoStopLossPct,
		ScaleStopByLeverage:  cfg.Signal.ScaleStopByLeverage,
		DefaultTakeProfitPct: cfg.Signal.DefaultTakeProfitPct,
		DefaultAllocationPct: cfg.Signal.DefaultAllocationPct,
	}, mapper), nil
}

func NewEngine(cfg *config.Config) *risk.Engine {
	return risk.NewEngine(risk.Config{
		RiskPercent:        cfg.Risk.RiskPercent,
		MaxLeverage:        cfg.Risk.MaxLeverage,
		WalletAllocation:   cfg.Risk.WalletAllocation,
		MarketTolerancePct: cfg.Risk.MarketTolerancePct,
	})
}

func NewGate(cfg *config.Config, sender notify.Sender) *notify.Gate {
	return notify.NewGate(sender, notify.Toggles{
		Signals:  cfg.Notify.Signals,
		Entries:  cfg.Notify.Entries,
		Fills:    cfg.Notify.Fills,
		Failures: cfg.Notify.Failures,
		Rejects:  cfg.Notify.Rejects,
		Profit:   cfg.Notify.Profit,
	}, logger.Named("notify"))
}

func NewReporter(cfg *config.Config, gate *notify.Gate) *profit.Reporter {
	return profit.NewReporter(profit.Toggles{
		Enabled:    cfg.Notify.Profit,
		ManualOnly: cfg.Notify.ProfitManualOnly,
	}, gate, logger.Named("profit"))
}

// NewAccount кэш баланса; цикл обновления живёт между OnStart и OnStop.
func NewAccount(lc fx.Lifecycle, cfg *config.Config, ex exchange.Exchange) *AccountCache {
	c := NewAccountCache(ex, cfg.Trading.AccountRefresh, retryPolicy(cfg), logger.Named("account"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				c.Run(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
	return c
}

type params struct {
	fx.In

	Config   *config.Config
	Parser   *signal.Parser
	Engine   *risk.Engine
	Exchange exchange.Exchange
	Stream   exchange.OrderStream `optional:"true"`
	Account  *AccountCache
	Registry *Registry
	Gate     *notify.Gate
	Reporter *profit.Reporter
	Archive  Archive
}

// NewPipelineFx на остановке ждёт, пока мониторы закроют позиции и уберут ордера.
func NewPipelineFx(lc fx.Lifecycle, p params) *Pipeline {
	cfg := p.Config
	policy := retryPolicy(cfg)
	pipe := NewPipeline(Deps{
		Parser:   p.Parser,
		Engine:   p.Engine,
		Exchange: p.Exchange,
		Stream:   p.Stream,
		Account:  p.Account,
		Registry: p.Registry,
		Notifier: p.Gate,
		Reporter: p.Reporter,
		Archive:  p.Archive,
		Logger:   logger.Named("pipeline"),
	}, Config{
		DuplicatePolicy: cfg.Trading.DuplicatePolicy,
		Executor:        executor.Config{Retry: policy},
		Monitor: monitor.Config{
			PollInterval:    cfg.Trading.PollInterval,
			Timeout:         cfg.Trading.MonitorTimeout,
			EntryTimeout:    cfg.Trading.EntryTimeout,
			CloseAfterTrade: cfg.Trading.CloseAfterTrade,
			Retry:           policy,
		},
	})
	lc.Append(fx.Hook{
		OnStop: pipe.Wait,
	})
	return pipe
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewParser,
			NewEngine,
			NewGate,
			NewReporter,
			NewRegistry,
			NewAccount,
			NewPipelineFx,
		),
	)
}
