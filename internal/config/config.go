// Package config carries the server's runtime settings: command-line flags
// with environment overrides, plus an optional HCL file declaring the
// tables to boot with.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/cardroom/cardroom/internal/table"
)

// Config is the kong-parsed server configuration.
type Config struct {
	Addr     string `help:"Listen address." default:":8080" env:"CARDROOM_ADDR"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info" env:"CARDROOM_LOG_LEVEL"`
	Dev      bool   `help:"Accept mock auth tickets instead of calling Steam." env:"CARDROOM_DEV"`

	SteamAPIKey string `help:"Steam web API key." env:"STEAM_API_KEY"`
	SteamAppID  string `help:"Steam application id." env:"STEAM_APP_ID"`

	DatabaseURL string `help:"postgres:// DSN or a SQLite path." default:"cardroom.db" env:"DATABASE_URL"`

	TablesFile string `help:"HCL file declaring the tables to boot." env:"CARDROOM_TABLES" type:"existingfile" optional:""`

	DefaultBuyIn int64 `help:"Chips granted to first-time accounts." default:"1000" env:"CARDROOM_DEFAULT_BUYIN"`
	SmallBlind   int64 `help:"Default small blind." default:"10"`
	BigBlind     int64 `help:"Default big blind." default:"20"`
	MaxSeats     int   `help:"Default seats per table." default:"6"`

	TurnTimeout  time.Duration `help:"Time a player has to act." default:"30s"`
	Countdown    time.Duration `help:"Delay between all-ready and the deal." default:"3s"`
	PayoutDelay  time.Duration `help:"Payout animation window." default:"5s"`
	BanterDelay  time.Duration `help:"Social window between hands." default:"15s"`
	SessionGrace time.Duration `help:"Reconnect window after a drop." default:"60s"`
	SocialTickHz int           `help:"Social event flush rate." default:"10"`
}

// Validate implements kong's validation hook.
func (c *Config) Validate() error {
	if !c.Dev && c.SteamAPIKey == "" {
		return fmt.Errorf("a steam API key is required outside --dev mode")
	}
	if c.SmallBlind <= 0 || c.BigBlind <= c.SmallBlind {
		return fmt.Errorf("blinds must satisfy 0 < small < big, got %d/%d", c.SmallBlind, c.BigBlind)
	}
	if c.MaxSeats < 2 || c.MaxSeats > 9 {
		return fmt.Errorf("seats per table must be between 2 and 9, got %d", c.MaxSeats)
	}
	return nil
}

// TableConfig produces a table configuration with this server's defaults.
func (c *Config) TableConfig(id string) table.Config {
	return table.Config{
		ID:          id,
		MaxSeats:    c.MaxSeats,
		SmallBlind:  c.SmallBlind,
		BigBlind:    c.BigBlind,
		TurnTimeout: c.TurnTimeout,
		Countdown:   c.Countdown,
		PayoutDelay: c.PayoutDelay,
		BanterDelay: c.BanterDelay,
	}
}

type tablesFile struct {
	Tables []tableBlock `hcl:"table,block"`
}

type tableBlock struct {
	ID         string `hcl:"id,label"`
	Seats      int    `hcl:"seats,optional"`
	SmallBlind int64  `hcl:"small_blind,optional"`
	BigBlind   int64  `hcl:"big_blind,optional"`
}

// LoadTables reads the HCL table declarations, filling unset attributes
// from the server defaults. Without a file, one default table is returned.
func (c *Config) LoadTables() ([]table.Config, error) {
	if c.TablesFile == "" {
		return []table.Config{c.TableConfig("main")}, nil
	}
	src, err := os.ReadFile(c.TablesFile)
	if err != nil {
		return nil, fmt.Errorf("config: read tables file: %w", err)
	}
	return c.parseTables(c.TablesFile, src)
}

func (c *Config) parseTables(filename string, src []byte) ([]table.Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parse %s: %w", filename, diags)
	}

	var decoded tablesFile
	if diags := gohcl.DecodeBody(file.Body, nil, &decoded); diags.HasErrors() {
		return nil, fmt.Errorf("config: decode %s: %w", filename, diags)
	}
	if len(decoded.Tables) == 0 {
		return nil, fmt.Errorf("config: %s declares no tables", filename)
	}

	seen := map[string]bool{}
	out := make([]table.Config, 0, len(decoded.Tables))
	for _, block := range decoded.Tables {
		if seen[block.ID] {
			return nil, fmt.Errorf("config: duplicate table %q", block.ID)
		}
		seen[block.ID] = true

		cfg := c.TableConfig(block.ID)
		if block.Seats != 0 {
			cfg.MaxSeats = block.Seats
		}
		if block.SmallBlind != 0 {
			cfg.SmallBlind = block.SmallBlind
		}
		if block.BigBlind != 0 {
			cfg.BigBlind = block.BigBlind
		}
		if cfg.BigBlind <= cfg.SmallBlind {
			return nil, fmt.Errorf("config: table %q has blinds %d/%d", block.ID, cfg.SmallBlind, cfg.BigBlind)
		}
		out = append(out, cfg)
	}
	return out, nil
}
