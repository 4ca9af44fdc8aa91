package service

import (
	"context"

	"signal_bot/internal/models"
	"signal_bot/internal/notify"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const historyLimit = 10

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	msg := update.ChannelPost
	if msg == nil {
		msg = update.Message
	}
	if msg == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		t.handleCommand(ctx, msg)
		return
	}

	if msg.Chat.ID != t.source {
		return
	}
	// ответы в ветке это обсуждение, не сигнал
	if msg.ReplyToMessage != nil {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" || t.intake == nil {
		return
	}

	if err := t.intake.OnMessage(ctx, text); err != nil {
		t.log.Debug("message not traded", zap.Int("message_id", msg.MessageID), zap.Error(err))
	}
}

func (t *Telegram) handleCommand(ctx context.Context, msg *tgbot.Message) {
	if msg.Chat.ID != t.target {
		return
	}
	switch msg.Command() {
	case "positions":
		if t.positions == nil {
			return
		}
		if err := t.Send(ctx, notify.FormatPositions(t.positions.Positions())); err != nil {
			t.log.Warn("send positions", zap.Error(err))
		}
	case "history":
		if t.history == nil {
			return
		}
		recs, err := t.history.RecentPositions(ctx, historyLimit)
		if err != nil {
			t.log.Warn("read history", zap.Error(err))
			return
		}
		list := make([]models.ProfitSummary, 0, len(recs))
		for _, r := range recs {
			list = append(list, r.Summary)
		}
		if err := t.Send(ctx, notify.FormatHistory(list)); err != nil {
			t.log.Warn("send history", zap.Error(err))
		}
	default:
		// остальные команды не поддерживаем
	}
}
