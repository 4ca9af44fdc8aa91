package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/executor"
	"signal_bot/internal/models"
	"signal_bot/internal/monitor"
	"signal_bot/internal/profit"
	"signal_bot/internal/risk"
	"signal_bot/internal/signal"
	"signal_bot/pkg/tracing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	PolicyReject = "reject"
	PolicyQueue  = "queue"
)

type Config struct {
	// DuplicatePolicy reject|queue для второго сигнала по занятому символу.
	DuplicatePolicy string
	Executor        executor.Config
	Monitor         monitor.Config
}

// Notifier всё, что пайплайн сообщает в канал.
type Notifier interface {
	executor.Notifier
	Signal(ctx context.Context, sig models.TradeSignal)
	Rejected(ctx context.Context, symbol string, reason error)
}

// Archive журнал ордеров и архив закрытых позиций.
type Archive interface {
	executor.Auditor
	ArchivePosition(ctx context.Context, pos models.Position, summary models.ProfitSummary) error
}

type Deps struct {
	Parser   *signal.Parser
	Engine   *risk.Engine
	Exchange exchange.Exchange
	Stream   exchange.OrderStream
	Account  *AccountCache
	Registry *Registry
	Notifier Notifier
	Reporter *profit.Reporter
	Archive  Archive
	Logger   *zap.Logger
}

// Pipeline сообщение -> сигнал -> план -> позиция под наблюдением монитора.
type Pipeline struct {
	Deps
	cfg     Config
	monitor *monitor.Monitor
	wg      sync.WaitGroup
	newID   func() string
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = PolicyReject
	}
	return &Pipeline{
		Deps:    deps,
		cfg:     cfg,
		monitor: monitor.New(deps.Exchange, deps.Stream, deps.Archive, cfg.Monitor, deps.Logger.Named("monitor")),
		newID:   uuid.NewString,
	}
}

// OnMessage обрабатывает одно сообщение канала. Ошибка значит, что позиция не открыта.
// Для политики queue ожидание символа и открытие идут в фоне.
func (p *Pipeline) OnMessage(ctx context.Context, text string) error {
	span, ctx := tracing.Start(ctx, "pipeline.OnMessage")
	defer span.Finish()

	sig, err := p.parse(ctx, text)
	if err != nil {
		if signal.IsChatter(err) {
			p.Logger.Debug("message ignored", zap.Error(err))
			return err
		}
		tracing.Fail(span, err)
		p.Logger.Warn("signal rejected by parser", zap.Error(err))
		p.Notifier.Rejected(ctx, "", err)
		return err
	}
	span.SetTag("symbol", sig.Symbol)
	p.Logger.Info("signal accepted",
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(sig.Side)),
		zap.Int("leverage", sig.Leverage),
		zap.String("layout", sig.Layout),
	)
	p.Notifier.Signal(ctx, sig)

	if p.cfg.DuplicatePolicy == PolicyQueue {
		if err := p.Registry.TryAcquire(sig.Symbol); err == nil {
			return p.open(ctx, sig)
		}
		p.Logger.Info("symbol busy, signal queued", zap.String("symbol", sig.Symbol))
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.Registry.Acquire(ctx, sig.Symbol); err != nil {
				return
			}
			_ = p.open(ctx, sig)
		}()
		return nil
	}

	if err := p.Registry.TryAcquire(sig.Symbol); err != nil {
		p.reject(ctx, sig, err)
		return err
	}
	return p.open(ctx, sig)
}

func (p *Pipeline) parse(ctx context.Context, text string) (models.TradeSignal, error) {
	span, _ := tracing.Start(ctx, "signal.Parse")
	defer span.Finish()
	sig, err := p.Parser.Parse(text)
	tracing.Fail(span, err)
	return sig, err
}

// open вызывается с захваченным символом. Лок отпускает супервизор или сам open при отказе.
func (p *Pipeline) open(ctx context.Context, sig models.TradeSignal) (err error) {
	defer func() {
		if err != nil {
			p.Registry.Release(sig.Symbol)
			p.reject(ctx, sig, err)
		}
	}()

	plan, err := p.plan(ctx, sig)
	if err != nil {
		return err
	}

	id := p.newID()
	log := p.Logger.With(zap.String("position_id", id), zap.String("symbol", sig.Symbol))
	exec := executor.New(id, plan, executor.Deps{
		Exchange: p.Exchange,
		Auditor:  p.Archive,
		Notifier: p.Notifier,
		Logger:   log.Named("executor"),
	}, p.cfg.Executor)
	p.Registry.Track(id, exec)

	if err := exec.Start(ctx); err != nil {
		// позиция уже в FAILED, уборку делает супервизор
		log.Error("position start failed", zap.Error(err))
	}

	p.wg.Add(1)
	go p.supervise(ctx, exec)
	return nil
}

func (p *Pipeline) plan(ctx context.Context, sig models.TradeSignal) (models.OrderPlan, error) {
	span, ctx := tracing.Start(ctx, "risk.Plan")
	defer span.Finish()

	acct := p.Account.State()
	if acct.UpdatedAt.IsZero() {
		if err := p.Account.Sync(ctx); err != nil {
			tracing.Fail(span, err)
			return models.OrderPlan{}, fmt.Errorf("account balance: %w", err)
		}
		acct = p.Account.State()
	}
	acct.OpenPositions = p.Registry.Open()

	var inst models.Instrument
	err := exchange.Retry(ctx, p.cfg.Executor.Retry, func(ctx context.Context) error {
		var err error
		inst, err = p.Exchange.GetInstrument(ctx, sig.Symbol)
		return err
	})
	if err != nil {
		tracing.Fail(span, err)
		return models.OrderPlan{}, fmt.Errorf("instrument %s: %w", sig.Symbol, err)
	}

	plan, err := p.Engine.Plan(sig, acct, inst)
	tracing.Fail(span, err)
	return plan, err
}

func (p *Pipeline) reject(ctx context.Context, sig models.TradeSignal, reason error) {
	p.Logger.Warn("signal rejected", zap.String("symbol", sig.Symbol), zap.Error(reason))
	if p.Archive != nil {
		_ = p.Archive.RecordAudit(ctx, models.AuditEvent{
			Symbol: sig.Symbol,
			Action: models.AuditReject,
			Detail: reason.Error(),
			At:     time.Now(),
		})
	}
	p.Notifier.Rejected(ctx, sig.Symbol, reason)
}

// supervise ведёт позицию до конца, затем отчёт, архив и освобождение символа.
func (p *Pipeline) supervise(ctx context.Context, exec *executor.Executor) {
	defer p.wg.Done()

	final := p.monitor.Run(ctx, exec)

	// остановка процесса не должна терять отчёт
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	summary := profit.Compute(final)
	if p.Reporter != nil {
		summary = p.Reporter.Report(bg, final)
	}
	if p.Archive != nil {
		if err := p.Archive.ArchivePosition(bg, final, summary); err != nil {
			p.Logger.Error("archive position failed", zap.String("position_id", final.ID), zap.Error(err))
		}
	}

	p.Registry.Forget(final.ID)
	p.Registry.Release(final.Symbol)
	p.Account.RequestRefresh()
	p.Logger.Info("position finished",
		zap.String("position_id", final.ID),
		zap.String("symbol", final.Symbol),
		zap.String("state", string(final.State)),
		zap.String("outcome", string(final.Outcome)),
		zap.String("net_pnl", summary.NetPnL.String()),
	)
}

// Positions живые позиции для /positions и health.
func (p *Pipeline) Positions() []models.Position {
	return p.Registry.Snapshot()
}

// Wait ждёт завершения всех супервизоров (после отмены корневого контекста).
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("positions still closing: %w", ctx.Err())
	}
}

type nopNotifier struct{}

func (nopNotifier) Signal(context.Context, models.TradeSignal)   {}
func (nopNotifier) Rejected(context.Context, string, error)      {}
func (nopNotifier) EntryFilled(context.Context, models.Position) {}
func (nopNotifier) LegFilled(context.Context, models.Position, models.OrderRole, decimal.Decimal, decimal.Decimal) {
}
func (nopNotifier) PositionFailed(context.Context, models.Position, error) {}
func (nopNotifier) ForcedExit(context.Context, models.Position)            {}
