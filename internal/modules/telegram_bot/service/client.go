package service

import (
	"context"
	"sync"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
	"signal_bot/internal/notify"
	"signal_bot/internal/store"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Intake принимает текст сообщения из канала сигналов.
type Intake interface {
	OnMessage(ctx context.Context, text string) error
}

// PositionLister живые позиции для /positions.
type PositionLister interface {
	Positions() []models.Position
}

// HistoryReader архив закрытых позиций для /history.
type HistoryReader interface {
	RecentPositions(ctx context.Context, limit int) ([]store.Record, error)
}

// Telegram читает канал сигналов и пишет в целевой канал.
// Без токена работает вхолостую: уведомления уходят в лог.
type Telegram struct {
	bot    *tgbot.BotAPI
	source int64
	target int64
	log    *zap.Logger

	deliver func(chatID int64, text string) error

	intake    Intake
	positions PositionLister
	history   HistoryReader

	wg sync.WaitGroup
}

func NewTelegram(cfg *config.Config, log *zap.Logger) (*Telegram, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Telegram{
		source: cfg.Telegram.SourceChannelID,
		target: cfg.Telegram.TargetChannelID,
		log:    log,
	}
	if cfg.Telegram.Token == "" {
		log.Warn("telegram token is empty, notifications go to log only")
		stdout := notify.NewStdout(log)
		t.deliver = func(_ int64, text string) error { return stdout.Send(context.Background(), text) }
		return t, nil
	}

	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}
	t.bot = b
	t.deliver = func(chatID int64, text string) error {
		msg := tgbot.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		_, err := b.Send(msg)
		return err
	}
	log.Info("telegram authorized", zap.String("bot", b.Self.UserName))
	return t, nil
}

var _ notify.Sender = (*Telegram)(nil)

// Send пишет в целевой канал, длинный текст режется на части.
func (t *Telegram) Send(ctx context.Context, text string) error {
	for _, part := range splitMessage(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.deliver(t.target, part); err != nil {
			return err
		}
	}
	return nil
}

// Start запускает long polling. Обработка сообщений последовательная,
// поэтому сигналы из канала идут в пайплайн в порядке публикации.
func (t *Telegram) Start(ctx context.Context, intake Intake, positions PositionLister, history HistoryReader) {
	t.intake, t.positions, t.history = intake, positions, history
	if t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := t.bot.GetUpdatesChan(u)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, upd)
			}
		}
	}()
}

func (t *Telegram) Stop() {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	t.wg.Wait()
}
