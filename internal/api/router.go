// Package api exposes the gap table over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"nsebse-gap/internal/delta"
	"nsebse-gap/internal/gateway"
	"nsebse-gap/internal/model"
)

// HistoryReader returns stored snapshots for one NSE symbol, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, nseSymbol string, n int) ([]model.ComparisonRow, error)
}

// SnapshotReader returns the last snapshot kept outside the process, so the
// table survives a restart before the first cycle completes.
type SnapshotReader interface {
	Latest(ctx context.Context) (model.GapSnapshot, error)
}

const (
	defaultHistory = 50
	maxHistory     = 1000
)

// NewRouter sets up the HTTP routes. history and stored may be nil when no
// database or Redis is configured.
func NewRouter(hub *gateway.Hub, history HistoryReader, stored SnapshotReader) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": hub.ClientCount(),
		})
	})

	// GET /api/v1/gaps?min=0.5&sort=pct_diff
	mux.HandleFunc("/api/v1/gaps", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		view, err := parseView(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		snap := hub.Latest()
		if snap.Seq == 0 && stored != nil {
			if s, err := stored.Latest(r.Context()); err == nil {
				snap = s
			}
		}
		snap.Rows = view.Apply(snap.Rows)
		writeJSON(w, http.StatusOK, snap)
	})

	// GET /api/v1/gaps/history?symbol=TCS&n=50
	mux.HandleFunc("/api/v1/gaps/history", func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			writeError(w, http.StatusNotImplemented, "history store not configured")
			return
		}
		q := r.URL.Query()
		symbol := q.Get("symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		n := defaultHistory
		if s := q.Get("n"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v <= 0 {
				writeError(w, http.StatusBadRequest, "n must be a positive integer")
				return
			}
			n = min(v, maxHistory)
		}
		rows, err := history.Recent(r.Context(), symbol, n)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rows == nil {
			rows = []model.ComparisonRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	})

	mux.Handle("/ws", hub)

	return mux
}

func parseView(r *http.Request) (delta.View, error) {
	var v delta.View
	q := r.URL.Query()
	if s := q.Get("min"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return v, err
		}
		v.MinPct = d
	}
	mode, err := delta.ParseSortMode(q.Get("sort"))
	if err != nil {
		return v, err
	}
	v.Sort = mode
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
