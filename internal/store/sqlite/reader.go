package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nsebse-gap/internal/model"
)

// Reader provides read-only access to gap history and the stored instrument table.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	return &Reader{db: db}, nil
}

// Recent returns up to n snapshots for nseSymbol, newest first.
func (r *Reader) Recent(ctx context.Context, nseSymbol string, n int) ([]model.ComparisonRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, company_name, nse_symbol, bse_scrip_code, nse_price, bse_price, price_diff, pct_diff
		FROM gap_snapshots
		WHERE nse_symbol = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, nseSymbol, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query gap_snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.ComparisonRow
	for rows.Next() {
		var c model.ComparisonRow
		var tsMilli int64
		if err := rows.Scan(&tsMilli, &c.CompanyName, &c.NSESymbol, &c.BSEScripCode,
			&c.NSEPrice, &c.BSEPrice, &c.PriceDiff, &c.PctDiff); err != nil {
			return nil, fmt.Errorf("sqlite scan gap_snapshots: %w", err)
		}
		c.AsOf = time.UnixMilli(tsMilli).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// LoadInstruments returns the stored instrument table in insertion order.
func (r *Reader) LoadInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, exchange, symbol, name, instrument_type, lot_size
		FROM instruments
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var in model.Instrument
		var ex string
		if err := rows.Scan(&in.Token, &ex, &in.Symbol, &in.Name, &in.InstrumentType, &in.LotSize); err != nil {
			return nil, fmt.Errorf("sqlite scan instruments: %w", err)
		}
		in.Exchange = model.Exchange(ex)
		out = append(out, in)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
