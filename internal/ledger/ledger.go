// Package ledger is the durable money store. Chip balances live in SQL with
// a non-negative constraint; a finished hand commits its balance deltas and
// its history record in one transaction, so either everyone is paid or
// nobody is.
//
// Postgres is the production backend; SQLite serves development and tests.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cardroom/cardroom/internal/table"
)

var (
	// ErrInsufficientChips means a debit would take a balance below zero.
	ErrInsufficientChips = errors.New("ledger: insufficient chips")
	// ErrUnknownUser means the steam id has no ledger row.
	ErrUnknownUser = errors.New("ledger: unknown user")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// User is one ledger account.
type User struct {
	SteamID     string
	DisplayName string
	Chips       int64
	CreatedAt   time.Time
}

// Store wraps the SQL backend.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *log.Logger
}

// Open connects, pings, and migrates. A postgres:// DSN selects the pq
// driver; anything else is treated as a SQLite path such as ":memory:".
func Open(ctx context.Context, dsn string, logger *log.Logger) (*Store, error) {
	driver, d := "sqlite3", dialectSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, d = "postgres", dialectPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", driver, err)
	}
	if d == dialectSQLite {
		// A shared in-memory database dies with its last connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}

	s := &Store{db: db, dialect: d, log: logger.WithPrefix("ledger")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("ledger ready", "driver", driver)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	historyID := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		historyID = "id BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			steam_id     TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			chips        BIGINT NOT NULL CHECK (chips >= 0),
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hand_histories (
			` + historyID + `,
			table_id  TEXT NOT NULL,
			hand_num  BIGINT NOT NULL,
			played_at TIMESTAMP NOT NULL,
			winners   TEXT NOT NULL,
			pot_total BIGINT NOT NULL,
			record    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hand_histories_table
			ON hand_histories (table_id, hand_num)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: migrate: %w", err)
		}
	}
	return nil
}

// rebind converts ?-style placeholders for the active dialect.
func (s *Store) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FindOrCreate loads an account, seeding a new one with the default stake
// on first login.
func (s *Store) FindOrCreate(ctx context.Context, steamID, displayName string, defaultChips int64) (User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (steam_id, display_name, chips, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (steam_id) DO NOTHING`),
		steamID, displayName, defaultChips, now, now)
	if err != nil {
		return User{}, fmt.Errorf("ledger: create user: %w", err)
	}

	// Keep the display name current with what the platform reports.
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET display_name = ?, updated_at = ? WHERE steam_id = ?`),
		displayName, now, steamID); err != nil {
		return User{}, fmt.Errorf("ledger: update name: %w", err)
	}

	var u User
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT steam_id, display_name, chips, created_at FROM users WHERE steam_id = ?`),
		steamID).Scan(&u.SteamID, &u.DisplayName, &u.Chips, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ledger: load user: %w", err)
	}
	return u, nil
}

// Balance returns the chip count for an account.
func (s *Store) Balance(ctx context.Context, steamID string) (int64, error) {
	var chips int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT chips FROM users WHERE steam_id = ?`), steamID).Scan(&chips)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownUser
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return chips, nil
}

// Adjust applies a single signed delta atomically.
func (s *Store) Adjust(ctx context.Context, steamID string, delta int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.adjustTx(ctx, tx, steamID, delta)
	})
}

// AdjustMany applies a set of deltas in one transaction, locking rows in
// sorted id order so concurrent settlements cannot deadlock. Any failure
// rolls everything back.
func (s *Store) AdjustMany(ctx context.Context, deltas map[string]int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.adjustManyTx(ctx, tx, deltas)
	})
}

func (s *Store) adjustManyTx(ctx context.Context, tx *sql.Tx, deltas map[string]int64) error {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.adjustTx(ctx, tx, id, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

// SaveHand appends a hand-history row outside of any settlement.
func (s *Store) SaveHand(ctx context.Context, record *table.HandRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveHandTx(ctx, tx, record)
	})
}

func (s *Store) saveHandTx(ctx context.Context, tx *sql.Tx, record *table.HandRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("ledger: encode record: %w", err)
	}
	winnerIDs := make([]string, 0, len(record.Winners))
	for _, w := range record.Winners {
		winnerIDs = append(winnerIDs, w.SteamID)
	}
	winners, err := json.Marshal(winnerIDs)
	if err != nil {
		return fmt.Errorf("ledger: encode winners: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO hand_histories (table_id, hand_num, played_at, winners, pot_total, record)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		record.TableID, record.HandNum, record.EndedAt.UTC(), string(winners),
		record.PotTotal, string(blob))
	if err != nil {
		return fmt.Errorf("ledger: insert history: %w", err)
	}
	return nil
}

// CommitHand settles a hand: every delta and the history record land in one
// transaction. Implements the table package's Ledger interface.
func (s *Store) CommitHand(ctx context.Context, tableID string, deltas map[string]int64, record *table.HandRecord) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.adjustManyTx(ctx, tx, deltas); err != nil {
			return err
		}
		return s.saveHandTx(ctx, tx, record)
	})
	if err != nil {
		return err
	}
	s.log.Debug("hand committed", "table", tableID, "hand", record.HandNum, "players", len(deltas))
	return nil
}

func (s *Store) adjustTx(ctx context.Context, tx *sql.Tx, steamID string, delta int64) error {
	query := `SELECT chips FROM users WHERE steam_id = ?`
	if s.dialect == dialectPostgres {
		query += ` FOR UPDATE`
	}
	var chips int64
	err := tx.QueryRowContext(ctx, s.rebind(query), steamID).Scan(&chips)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownUser, steamID)
	}
	if err != nil {
		return fmt.Errorf("ledger: lock row: %w", err)
	}
	if chips+delta < 0 {
		return fmt.Errorf("%w: %s has %d, delta %d", ErrInsufficientChips, steamID, chips, delta)
	}
	_, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE users SET chips = chips + ?, updated_at = ? WHERE steam_id = ?`),
		delta, time.Now().UTC(), steamID)
	if err != nil {
		return fmt.Errorf("ledger: update chips: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// Hands returns the most recent hand records for a table, newest first.
func (s *Store) Hands(ctx context.Context, tableID string, limit int) ([]table.HandRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT record FROM hand_histories WHERE table_id = ?
		 ORDER BY hand_num DESC LIMIT ?`), tableID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query hands: %w", err)
	}
	defer rows.Close()

	var out []table.HandRecord
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("ledger: scan hand: %w", err)
		}
		var rec table.HandRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			return nil, fmt.Errorf("ledger: decode hand: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
