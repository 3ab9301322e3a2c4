// Package store backs the watchlist CRUD surface with a pure-Go sqlite
// database and keeps the eligibility on-disk snapshot as a JSON file
// (snapshot.go). The sqlite side is grounded on
// AlejandroRuiz99-polybot/internal/adapters/storage/sqlite.go's
// single-writer connection discipline and
// poorman-SynapseStrike/SynapseStrike/store/strategy.go's CRUD shape.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS watchlist (
	symbol TEXT NOT NULL,
	instrument_token INTEGER NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	date TEXT NOT NULL,
	PRIMARY KEY (symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_watchlist_date ON watchlist(date);
`

// WatchlistRow is one candidate symbol for a session date. Mirrors
// spec.md §3's WatchlistRow verbatim.
type WatchlistRow struct {
	Symbol          string  `json:"symbol"`
	InstrumentToken int64   `json:"instrument_token"`
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	Date            string  `json:"date"` // YYYY-MM-DD
}

// Validate enforces the WatchlistRow invariant (low < high, both positive).
func (r WatchlistRow) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("watchlist row: empty symbol")
	}
	if r.High <= 0 || r.Low <= 0 {
		return fmt.Errorf("watchlist row %s: high/low must be positive", r.Symbol)
	}
	if !(r.Low < r.High) {
		return fmt.Errorf("watchlist row %s: low (%v) must be < high (%v)", r.Symbol, r.Low, r.High)
	}
	return nil
}

// WatchlistStore is the sqlite-backed CRUD surface per spec.md §6.
type WatchlistStore struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// the schema. Single-writer discipline (SetMaxOpenConns(1)) matches the
// polybot teacher's sqlite adapter — sqlite's own writer-serialization
// model, not an application-level lock.
func Open(path string) (*WatchlistStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &WatchlistStore{db: db}, nil
}

func (s *WatchlistStore) Close() error {
	return s.db.Close()
}

// Add upserts by (symbol, date) — R1's round-trip contract.
func (s *WatchlistStore) Add(row WatchlistRow) error {
	if err := row.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO watchlist (symbol, instrument_token, high, low, date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			instrument_token = excluded.instrument_token,
			high = excluded.high,
			low = excluded.low
	`, row.Symbol, row.InstrumentToken, row.High, row.Low, row.Date)
	if err != nil {
		return fmt.Errorf("store: add %s/%s: %w", row.Symbol, row.Date, err)
	}
	return nil
}

// Update identifies the row by its original (symbol, date) and allows any
// field to change, including moving it to a new date.
func (s *WatchlistStore) Update(origSymbol, origDate string, row WatchlistRow) error {
	if err := row.Validate(); err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE watchlist SET symbol=?, instrument_token=?, high=?, low=?, date=?
		WHERE symbol=? AND date=?
	`, row.Symbol, row.InstrumentToken, row.High, row.Low, row.Date, origSymbol, origDate)
	if err != nil {
		return fmt.Errorf("store: update %s/%s: %w", origSymbol, origDate, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: update %s/%s: %w", origSymbol, origDate, sql.ErrNoRows)
	}
	return nil
}

func (s *WatchlistStore) Delete(symbol, date string) error {
	_, err := s.db.Exec(`DELETE FROM watchlist WHERE symbol=? AND date=?`, symbol, date)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", symbol, date, err)
	}
	return nil
}

// List returns rows for date, or every row if date is empty.
func (s *WatchlistStore) List(date string) ([]WatchlistRow, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if date == "" {
		rows, err = s.db.Query(`SELECT symbol, instrument_token, high, low, date FROM watchlist ORDER BY symbol`)
	} else {
		rows, err = s.db.Query(`SELECT symbol, instrument_token, high, low, date FROM watchlist WHERE date=? ORDER BY symbol`, date)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []WatchlistRow
	for rows.Next() {
		var r WatchlistRow
		if err := rows.Scan(&r.Symbol, &r.InstrumentToken, &r.High, &r.Low, &r.Date); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadForDate is C3's pure loader: selects rows equal to date, dropping
// (with a caller-supplied warning) any row that fails validation rather
// than failing the whole batch.
func (s *WatchlistStore) LoadForDate(date string, warn func(row WatchlistRow, err error)) ([]WatchlistRow, error) {
	all, err := s.List(date)
	if err != nil {
		return nil, err
	}
	out := make([]WatchlistRow, 0, len(all))
	for _, r := range all {
		if err := r.Validate(); err != nil {
			if warn != nil {
				warn(r, err)
			}
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Today returns the current session date in the YYYY-MM-DD shape the
// watchlist table keys on.
func Today() string {
	return time.Now().Format("2006-01-02")
}
