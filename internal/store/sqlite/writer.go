package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"nsebse-gap/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/gaps.db"
	Logger *slog.Logger

	// OnCommit is called after each successful batch commit.
	OnCommit func(rows int, took time.Duration)
}

// Writer is a single-connection SQLite writer. Each call commits one
// transaction.
type Writer struct {
	db       *sql.DB
	log      *slog.Logger
	onCommit func(int, time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	w := &Writer{
		db:       db,
		log:      cfg.Logger,
		onCommit: cfg.OnCommit,
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	w.log.Info("sqlite opened", slog.String("path", cfg.DBPath))
	return w, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gap_snapshots (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			ts             INTEGER NOT NULL,
			company_name   TEXT    NOT NULL,
			nse_symbol     TEXT    NOT NULL,
			bse_scrip_code TEXT    NOT NULL,
			nse_price      TEXT,
			bse_price      TEXT,
			price_diff     TEXT,
			pct_diff       TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_gap_snapshots_symbol_ts
			ON gap_snapshots (nse_symbol, ts);

		CREATE TABLE IF NOT EXISTS instruments (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			token           TEXT    NOT NULL,
			exchange        TEXT    NOT NULL,
			symbol          TEXT    NOT NULL,
			name            TEXT    NOT NULL,
			instrument_type TEXT    NOT NULL,
			lot_size        INTEGER NOT NULL
		);
	`)
	return err
}

// WriteRows inserts rows in a single transaction. Absent prices and gaps are
// stored as NULL; present ones as decimal text.
func (w *Writer) WriteRows(ctx context.Context, rows []model.ComparisonRow) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gap_snapshots (ts, company_name, nse_symbol, bse_scrip_code, nse_price, bse_price, price_diff, pct_diff)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		ts := r.AsOf
		if ts.IsZero() {
			ts = start
		}
		_, err := stmt.ExecContext(ctx, ts.UnixMilli(), r.CompanyName, r.NSESymbol, r.BSEScripCode,
			r.NSEPrice, r.BSEPrice, r.PriceDiff, r.PctDiff)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	took := time.Since(start)
	w.log.Debug("sqlite committed snapshots", slog.Int("rows", len(rows)), slog.Duration("took", took))
	if w.onCommit != nil {
		w.onCommit(len(rows), took)
	}
	return nil
}

// SaveInstruments replaces the stored instrument table with recs, keeping
// their order so a resolver rebuilt from it picks the same first records.
func (w *Writer) SaveInstruments(ctx context.Context, recs []model.Instrument) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments`); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite clear instruments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments (token, exchange, symbol, name, instrument_type, lot_size)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range recs {
		r := &recs[i]
		if _, err := stmt.ExecContext(ctx, r.Token, string(r.Exchange), r.Symbol, r.Name, r.InstrumentType, r.LotSize); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert instrument %s: %w", r.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	w.log.Info("sqlite saved instruments", slog.Int("count", len(recs)))
	return nil
}

// Prune deletes snapshots older than cutoff and returns how many went.
func (w *Writer) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := w.db.ExecContext(ctx, `DELETE FROM gap_snapshots WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
