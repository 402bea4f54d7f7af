package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() *Config {
	return &Config{
		Addr:         ":8080",
		LogLevel:     "info",
		Dev:          true,
		DatabaseURL:  ":memory:",
		DefaultBuyIn: 1000,
		SmallBlind:   10,
		BigBlind:     20,
		MaxSeats:     6,
		TurnTimeout:  30 * time.Second,
		Countdown:    3 * time.Second,
		PayoutDelay:  5 * time.Second,
		BanterDelay:  15 * time.Second,
		SessionGrace: time.Minute,
		SocialTickHz: 10,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	c := defaults()
	require.NoError(t, c.Validate())

	c = defaults()
	c.Dev = false
	assert.Error(t, c.Validate(), "non-dev needs a steam key")
	c.SteamAPIKey = "k"
	assert.NoError(t, c.Validate())

	c = defaults()
	c.BigBlind = 10
	assert.Error(t, c.Validate(), "big blind must exceed small")

	c = defaults()
	c.MaxSeats = 1
	assert.Error(t, c.Validate())
}

func TestLoadTablesDefault(t *testing.T) {
	t.Parallel()
	c := defaults()

	tables, err := c.LoadTables()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "main", tables[0].ID)
	assert.Equal(t, 6, tables[0].MaxSeats)
	assert.EqualValues(t, 20, tables[0].BigBlind)
	assert.Equal(t, 30*time.Second, tables[0].TurnTimeout)
}

func TestParseTables(t *testing.T) {
	t.Parallel()
	c := defaults()

	src := []byte(`
table "low" {
  seats = 4
}

table "high" {
  small_blind = 100
  big_blind   = 200
}
`)
	tables, err := c.parseTables("tables.hcl", src)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Equal(t, "low", tables[0].ID)
	assert.Equal(t, 4, tables[0].MaxSeats)
	assert.EqualValues(t, 10, tables[0].SmallBlind, "unset attributes inherit defaults")

	assert.Equal(t, "high", tables[1].ID)
	assert.Equal(t, 6, tables[1].MaxSeats)
	assert.EqualValues(t, 200, tables[1].BigBlind)
}

func TestParseTablesRejectsBadInput(t *testing.T) {
	t.Parallel()
	c := defaults()

	_, err := c.parseTables("tables.hcl", []byte("table \"a\" {\n}\ntable \"a\" {\n}\n"))
	assert.ErrorContains(t, err, "duplicate table")

	_, err = c.parseTables("tables.hcl", []byte(`table "a" { small_blind = 50 }`))
	assert.ErrorContains(t, err, "blinds", "inherited big blind below the override")

	_, err = c.parseTables("tables.hcl", []byte(``))
	assert.ErrorContains(t, err, "no tables")

	_, err = c.parseTables("tables.hcl", []byte(`table {`))
	assert.Error(t, err)
}
