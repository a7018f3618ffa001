package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdCheck   = "check"
	cmdUnwatch = "unwatch"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	if cb.From != nil && !b.cfg.IsUserAllowed(cb.From.ID) {
		return
	}

	action, id, ok := strings.Cut(data, ":")
	if !ok || id == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"task_id", id,
		"chat_id", chatID,
	)

	switch action {
	case cmdCheck:
		b.handleCheck(ctx, chatID, id)
	case "unwatch_confirm":
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Stop watching #%s?", id))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, stop", cmdUnwatch+":"+id),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send unwatch confirmation", "error", err)
		}
	case cmdUnwatch:
		b.handleUnwatch(ctx, chatID, id)
	}
}
