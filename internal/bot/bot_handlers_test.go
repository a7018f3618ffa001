package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"tixwatch/internal/canon"
	"tixwatch/internal/config"
	"tixwatch/internal/extract"
	"tixwatch/internal/model"
	"tixwatch/internal/notify"
	"tixwatch/internal/storage"
	"tixwatch/internal/watch"
)

// --- mocks ---

type sentMsg struct {
	ChatID   int64
	Text     string
	ImageURL string
	Markup   any
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
	case tgbotapi.PhotoConfig:
		url, _ := msg.File.(tgbotapi.FileURL)
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, ImageURL: string(url)})
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) all() []sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMsg, len(m.sent))
	copy(out, m.sent)
	return out
}

type mockFetcher struct {
	pages map[string]string
}

func (m *mockFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	body, ok := m.pages[rawURL]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return []byte(body), nil
}

// --- helpers ---

func newTestBot(t *testing.T, pages map[string]string) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	watches := watch.NewService(store, canon.NewResolver(nil, log), &mockFetcher{pages: pages},
		extract.ForMode("sections"), model.ChatBounds, 60, log)

	api := &mockAPI{}
	b := &Bot{
		api:     api,
		watches: watches,
		cfg:     &config.Config{},
		log:     log,
	}
	return b, api, store
}

func seedWatch(t *testing.T, b *Bot, chatID int64, url string) *model.WatchTask {
	t.Helper()
	task, _, err := b.watches.Watch(context.Background(), recipientID(chatID), model.RecipientIndividual, url, 0)
	if err != nil {
		t.Fatalf("seed watch: %v", err)
	}
	return task
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func command(chatID int64, chatType, text string) *tgbotapi.Message {
	cmd := strings.Fields(text)[0]
	return &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID, Type: chatType},
		From: &tgbotapi.User{ID: 1},
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		},
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newTestBot(t, nil)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Welcome to Ticket Watch Bot")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t, nil)
	b.handleHelp(100)
	requireContains(t, api.lastText(), "/watch <url> [seconds]")
	requireContains(t, api.lastText(), "every 15-3600 s")
}

func TestHandleWatch(t *testing.T) {
	ctx := context.Background()

	t.Run("usage", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		b.handleWatch(ctx, 100, model.RecipientIndividual, "")
		requireContains(t, api.lastText(), "usage: /watch")
	})

	t.Run("invalid url", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		b.handleWatch(ctx, 100, model.RecipientIndividual, "ftp://a.example/")
		requireContains(t, api.lastText(), "Not a valid http(s) URL")
	})

	t.Run("added then updated", func(t *testing.T) {
		b, api, store := newTestBot(t, nil)
		b.handleWatch(ctx, 100, model.RecipientIndividual, "https://a.example/e?utm_source=x 5")
		requireContains(t, api.lastText(), "Watch added.")
		requireContains(t, api.lastText(), "every 15s")

		b.handleWatch(ctx, 100, model.RecipientIndividual, "https://a.example/e 90")
		requireContains(t, api.lastText(), "Watch updated.")
		requireContains(t, api.lastText(), "every 90s")

		tasks, err := store.ListTasks(ctx, "100", model.ListAll)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if diff := cmp.Diff(1, len(tasks)); diff != "" {
			t.Errorf("task count (-want +got):\n%s", diff)
		}
	})
}

func TestHandleCommandRecipientKind(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		chatType string
		want     model.RecipientKind
	}{
		{chatType: "private", want: model.RecipientIndividual},
		{chatType: "group", want: model.RecipientGroup},
		{chatType: "supergroup", want: model.RecipientGroup},
		{chatType: "channel", want: model.RecipientRoom},
	}
	for _, tt := range tests {
		t.Run(tt.chatType, func(t *testing.T) {
			b, _, store := newTestBot(t, nil)
			b.handleCommand(ctx, command(-500, tt.chatType, "/watch https://a.example/e"))

			tasks, err := store.ListTasks(ctx, "-500", model.ListAll)
			if err != nil || len(tasks) != 1 {
				t.Fatalf("list = %v, %v", tasks, err)
			}
			if diff := cmp.Diff(tt.want, tasks[0].RecipientKind); diff != "" {
				t.Errorf("kind mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleUnwatch(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t, nil)
	task := seedWatch(t, b, 100, "https://a.example/e")

	b.handleUnwatch(ctx, 200, task.ID)
	requireContains(t, api.lastText(), "not found")

	b.handleUnwatch(ctx, 100, "#"+task.ID)
	requireContains(t, api.lastText(), "stopped")

	b.handleList(ctx, 100, "")
	requireContains(t, api.lastText(), "You are not watching anything")

	b.handleList(ctx, 100, "off")
	requireContains(t, api.lastText(), task.ID)
}

func TestHandleListKeyboard(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t, nil)
	task := seedWatch(t, b, 100, "https://a.example/e")

	b.handleList(ctx, 100, "")
	msgs := api.all()
	last := msgs[len(msgs)-1]
	requireContains(t, last.Text, "#"+task.ID)

	kb, ok := last.Markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", last.Markup)
	}
	var data []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			data = append(data, *btn.CallbackData)
		}
	}
	want := []string{"check:" + task.ID, "unwatch_confirm:" + task.ID}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("callback data (-want +got):\n%s", diff)
	}
}

func TestHandleCheck(t *testing.T) {
	ctx := context.Background()
	page, err := os.ReadFile("../../testdata/sections_table.html")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	b, api, _ := newTestBot(t, map[string]string{"https://a.example/e": string(page)})

	b.handleCheck(ctx, 100, "https://a.example/e")
	requireContains(t, api.lastText(), "Result: available")
	requireContains(t, api.lastText(), "Total: 1216")

	b.handleCheck(ctx, 100, "https://down.example/")
	requireContains(t, api.lastText(), "Check failed")

	b.handleCheck(ctx, 100, "")
	requireContains(t, api.lastText(), "Usage: /check")
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, nil)
	task := seedWatch(t, b, 100, "https://a.example/e")

	cb := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    "unwatch_confirm:" + task.ID,
	}
	b.handleCallback(ctx, cb)
	requireContains(t, api.lastText(), "Stop watching #"+task.ID+"?")

	cb.Data = "unwatch:" + task.ID
	b.handleCallback(ctx, cb)
	requireContains(t, api.lastText(), "stopped")

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Error("task still active after unwatch callback")
	}
}

func TestAccessDenied(t *testing.T) {
	b, api, _ := newTestBot(t, nil)
	b.cfg = &config.Config{AllowedUsers: []int64{42}}

	updates := make(chan tgbotapi.Update, 1)
	updates <- tgbotapi.Update{Message: command(100, "private", "/list")}
	b.api = &chanAPI{mockAPI: api, updates: updates}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for api.lastText() == "" {
		select {
		case <-deadline:
			t.Fatal("no reply")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	if diff := cmp.Diff("Access denied.", api.lastText()); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

type chanAPI struct {
	*mockAPI
	updates chan tgbotapi.Update
}

func (c *chanAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.updates
}

func TestSendNotification(t *testing.T) {
	ctx := context.Background()

	t.Run("text and image", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		if err := b.Send(ctx, "100", "tickets!", "https://cdn.example.com/p.jpg"); err != nil {
			t.Fatalf("send: %v", err)
		}
		want := []sentMsg{
			{ChatID: 100, ImageURL: "https://cdn.example.com/p.jpg"},
			{ChatID: 100, Text: "tickets!"},
		}
		if diff := cmp.Diff(want, api.all()); diff != "" {
			t.Errorf("sent mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("bad recipient", func(t *testing.T) {
		b, _, _ := newTestBot(t, nil)
		var de *notify.DeliveryError
		if err := b.Send(ctx, "room-7", "x", ""); !errors.As(err, &de) {
			t.Errorf("expected DeliveryError, got %v", err)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		b, api, _ := newTestBot(t, nil)
		api.err = errors.New("Forbidden: bot was blocked by the user")
		var de *notify.DeliveryError
		err := b.Send(ctx, "100", "x", "")
		if !errors.As(err, &de) || de.RecipientID != "100" {
			t.Errorf("expected DeliveryError for 100, got %v", err)
		}
	})
}
