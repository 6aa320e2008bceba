package config

import (
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	NotifyMode   string
	WebhookURL   string
	WebhookWSURL string

	StockfishPath   string
	EngineSkill     int
	EngineDepth     int
	EngineThreads   int
	EngineHashMB    int
	OracleTimeoutMs int

	TimeLimitMs int64
	ClockTickMs int

	Lang       string
	MessageDir string
	SaveFile   string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8080",
		NotifyMode:      "http",
		EngineSkill:     5,
		EngineDepth:     8,
		EngineThreads:   1,
		EngineHashMB:    64,
		OracleTimeoutMs: 5000,
		TimeLimitMs:     10 * 60 * 1000,
		ClockTickMs:     1000,
		Lang:            "en",
		SaveFile:        "randomchess.save.json",
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("NOTIFY_MODE")); v != "" {
		cfg.NotifyMode = v
	}
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	cfg.WebhookWSURL = strings.TrimSpace(os.Getenv("WEBHOOK_WS_URL"))

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("ENGINE_SKILL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 20 {
			cfg.EngineSkill = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_HASH_MB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineHashMB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORACLE_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OracleTimeoutMs = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("TIME_LIMIT_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.TimeLimitMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLOCK_TICK_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClockTickMs = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("LANG_CODE")); v != "" {
		cfg.Lang = v
	}
	cfg.MessageDir = strings.TrimSpace(os.Getenv("MESSAGE_DIR"))
	if v := strings.TrimSpace(os.Getenv("SAVE_FILE")); v != "" {
		cfg.SaveFile = v
	}

	return cfg, nil
}
