package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir         string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	DBPath              string        `envconfig:"DB_PATH" default:"downloads.db"`
	LogLevel            string        `envconfig:"LOG_LEVEL" default:"INFO"`
	Engine              string        `envconfig:"ENGINE" default:"anacrolix"`
	MaxParallel         int           `envconfig:"MAX_PARALLEL" default:"5"`
	ProgressLogInterval time.Duration `envconfig:"PROGRESS_LOG_INTERVAL" default:"1m"`
	DiscordWebhookURL   string        `envconfig:"DISCORD_WEBHOOK_URL"`
	PruneMissing        bool          `envconfig:"PRUNE_MISSING" default:"false"`
	TrustedSources      []string      `envconfig:"TRUSTED_SOURCES" default:"FitGirl,DODI,ElAmigos,KaOsKrew,CODEX"`

	Scraper struct {
		BaseURL          string        `split_words:"true" default:"https://1337x.to"`
		SearchPath       string        `split_words:"true" default:"/category-search/%s/Games/1/"`
		TopPath          string        `split_words:"true" default:"/cat/Games/1/"`
		RowSelector      string        `split_words:"true" default:"table.table-list tbody tr"`
		NameSelector     string        `split_words:"true" default:"td.coll-1 a[href^='/torrent/']"`
		SourceSelector   string        `split_words:"true" default:"td.coll-5 a"`
		IdentifierPrefix string        `split_words:"true" default:"magnet:"`
		UserAgent        string        `split_words:"true" default:"Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"`
		Timeout          time.Duration `split_words:"true" default:"30s"`
	}

	Catalog struct {
		Provider     string        `split_words:"true"`
		BaseURL      string        `split_words:"true"`
		APIKey       string        `envconfig:"API_KEY"`
		ClientID     string        `split_words:"true"`
		ClientSecret string        `split_words:"true"`
		TokenURL     string        `split_words:"true" default:"https://id.twitch.tv/oauth2/token"`
		Timeout      time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"game_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))
	cfg.Catalog.Provider = strings.ToLower(strings.TrimSpace(cfg.Catalog.Provider))

	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("MAX_PARALLEL must be positive, got %d", cfg.MaxParallel)
	}

	if !strings.Contains(cfg.Scraper.SearchPath, "%s") {
		return nil, fmt.Errorf("SCRAPER_SEARCH_PATH must contain a %%s placeholder for the query")
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
