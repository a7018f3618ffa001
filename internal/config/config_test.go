package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tixwatch/internal/model"
)

var envKeys = []string{
	"TELEGRAM_BOT_TOKEN", "DATABASE_DRIVER", "DATABASE_PATH", "DATABASE_URL", "LOG_LEVEL",
	"ALLOWED_USERS", "DEFAULT_PERIOD_SEC", "MAX_TASKS_PER_PASS", "WORKERS", "FETCH_TIMEOUT_SEC",
	"FETCH_MAX_RETRIES", "FETCH_BACKOFF_MS", "FETCH_COOKIES", "HOST_RPS", "EXTRACT_MODE",
	"HTTP_ADDR", "REDIS_URL", "FANOUT_OFFSETS_SEC", "ALWAYS_NOTIFY", "TICK_SOFT_DEADLINE_SEC",
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		variant Variant
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name:    "chat variant requires token",
			variant: VariantChat,
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:    "chat variant defaults",
			variant: VariantChat,
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "test-token"},
			want: func() *Config {
				c := defaults(VariantChat)
				c.TelegramBotToken = "test-token"
				return c
			},
		},
		{
			name:    "worker variant without token",
			variant: VariantWorker,
			env:     map[string]string{},
			want: func() *Config {
				c := defaults(VariantWorker)
				c.Bounds = model.WorkerBounds
				return c
			},
		},
		{
			name:    "all values set",
			variant: VariantServer,
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":     "tok",
				"DATABASE_DRIVER":        "postgres",
				"DATABASE_URL":           "postgres://u:p@localhost/tix",
				"DATABASE_PATH":          "/tmp/x.db",
				"LOG_LEVEL":              "debug",
				"ALLOWED_USERS":          "111, 222 ,",
				"DEFAULT_PERIOD_SEC":     "5",
				"MAX_TASKS_PER_PASS":     "10",
				"WORKERS":                "4",
				"FETCH_TIMEOUT_SEC":      "20",
				"FETCH_MAX_RETRIES":      "3",
				"FETCH_BACKOFF_MS":       "250",
				"FETCH_COOKIES":          "a=1; b=2",
				"HOST_RPS":               "0.5",
				"EXTRACT_MODE":           "text",
				"HTTP_ADDR":              ":9090",
				"REDIS_URL":              "redis://localhost:6379/0",
				"FANOUT_OFFSETS_SEC":     "0,20,40",
				"ALWAYS_NOTIFY":          "true",
				"TICK_SOFT_DEADLINE_SEC": "25",
			},
			want: func() *Config {
				return &Config{
					Variant:          VariantServer,
					TelegramBotToken: "tok",
					DatabaseDriver:   DriverPostgres,
					DatabasePath:     "/tmp/x.db",
					DatabaseURL:      "postgres://u:p@localhost/tix",
					LogLevel:         "debug",
					AllowedUsers:     []int64{111, 222},
					Bounds:           model.ChatBounds,
					DefaultPeriod:    15,
					MaxTasksPerPass:  10,
					Workers:          4,
					TickInterval:     15 * time.Second,
					TickSoftDeadline: 25 * time.Second,
					AlwaysNotify:     true,
					FetchTimeout:     20 * time.Second,
					FetchMaxRetries:  3,
					FetchBackoff:     250 * time.Millisecond,
					FetchCookies:     "a=1; b=2",
					HostRPS:          0.5,
					ExtractMode:      ExtractText,
					HTTPAddr:         ":9090",
					RedisURL:         "redis://localhost:6379/0",
					FanoutOffsets:    []time.Duration{0, 20 * time.Second, 40 * time.Second},
				}
			},
		},
		{
			name:    "postgres without url",
			variant: VariantWorker,
			env:     map[string]string{"DATABASE_DRIVER": "postgres"},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			variant: VariantWorker,
			env:     map[string]string{"DATABASE_DRIVER": "mongo"},
			wantErr: true,
		},
		{
			name:    "invalid user id",
			variant: VariantChat,
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok", "ALLOWED_USERS": "123,abc"},
			wantErr: true,
		},
		{
			name:    "invalid extract mode",
			variant: VariantWorker,
			env:     map[string]string{"EXTRACT_MODE": "xpath"},
			wantErr: true,
		},
		{
			name:    "zero workers",
			variant: VariantWorker,
			env:     map[string]string{"WORKERS": "0"},
			wantErr: true,
		},
		{
			name:    "negative soft deadline",
			variant: VariantServer,
			env:     map[string]string{"TICK_SOFT_DEADLINE_SEC": "-1"},
			wantErr: true,
		},
		{
			name:    "bad offsets",
			variant: VariantServer,
			env:     map[string]string{"FANOUT_OFFSETS_SEC": "0,-5"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load(tt.variant)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDefaultPeriodClampedToVariant(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Setenv("DEFAULT_PERIOD_SEC", "9999")

	got, err := Load(VariantWorker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(300, got.DefaultPeriod); diff != "" {
		t.Errorf("DefaultPeriod mismatch (-want +got):\n%s", diff)
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{
			name:         "empty list allows everyone",
			allowedUsers: nil,
			userID:       42,
			want:         true,
		},
		{
			name:         "user in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
