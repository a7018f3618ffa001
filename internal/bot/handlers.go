package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tixwatch/internal/model"
	"tixwatch/internal/notify"
	"tixwatch/internal/watch"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Ticket Watch Bot!

Send a ticket page and get a message as soon as seats show up.

Quick start:
1. /watch <url> — start watching a page
2. /list — see what you are watching
3. /unwatch <id> — stop watching

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	bounds := b.watches.Bounds()
	b.reply(chatID, fmt.Sprintf(`Commands:
/watch <url> [seconds] — watch a ticket page (every %d-%d s)
/unwatch <id> — stop watching
/list [all|off] — show active, all, or stopped watches
/check <url|id> — check a page once now

Watching the same page again updates the period or restarts a stopped watch.`, bounds.Min, bounds.Max))
}

func (b *Bot) handleWatch(ctx context.Context, chatID int64, kind model.RecipientKind, args string) {
	parsed, err := ParseWatchArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	task, created, err := b.watches.Watch(ctx, recipientID(chatID), kind, parsed.URL, parsed.PeriodSeconds)
	if errors.Is(err, watch.ErrInvalidURL) {
		b.reply(chatID, fmt.Sprintf("Not a valid http(s) URL: %s", parsed.URL))
		return
	}
	if err != nil {
		b.log.Error("watch", "chat_id", chatID, "url", parsed.URL, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, FormatWatchResult(task, created))
}

func (b *Bot) handleUnwatch(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /unwatch <id>")
		return
	}

	err = b.watches.Unwatch(ctx, recipientID(chatID), id)
	if errors.Is(err, watch.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Watch #%s not found.", id))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Watch #%s stopped.", id))
}

func (b *Bot) handleList(ctx context.Context, chatID int64, args string) {
	filter := ParseListArg(args)
	tasks, err := b.watches.List(ctx, recipientID(chatID), filter)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatTaskList(tasks, filter))
	msg.DisableWebPagePreview = true
	if kb := listKeyboard(tasks); kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, args string) {
	target, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /check <url|id>")
		return
	}

	probe, err := b.watches.Check(ctx, recipientID(chatID), target)
	switch {
	case errors.Is(err, watch.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Watch #%s not found.", target))
		return
	case errors.Is(err, watch.ErrInvalidURL):
		b.reply(chatID, fmt.Sprintf("Not a valid http(s) URL: %s", target))
		return
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Check failed: %v", err))
		return
	}

	b.reply(chatID, notify.FormatProbe(probe.URL, probe.Snapshot))
}

// listKeyboard offers check and stop buttons for active watches.
func listKeyboard(tasks []model.WatchTask) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range tasks {
		if !t.Active {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Check "+shortID(t.ID), cmdCheck+":"+t.ID),
			tgbotapi.NewInlineKeyboardButtonData("Stop "+shortID(t.ID), "unwatch_confirm:"+t.ID),
		))
	}
	if len(rows) == 0 {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func shortID(id string) string {
	if len(id) > 6 {
		return "…" + id[len(id)-6:]
	}
	return id
}
