package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsebse-gap/internal/gateway"
	"nsebse-gap/internal/model"
)

type fakeHistory struct {
	symbol string
	n      int
	rows   []model.ComparisonRow
	err    error
}

func (f *fakeHistory) Recent(ctx context.Context, symbol string, n int) ([]model.ComparisonRow, error) {
	f.symbol, f.n = symbol, n
	return f.rows, f.err
}

func pctRow(company, pct string) model.ComparisonRow {
	r := model.ComparisonRow{CompanyName: company, NSESymbol: company}
	if pct != "" {
		p := decimal.RequireFromString(pct)
		r.PctDiff = decimal.NewNullDecimal(p)
		r.PriceDiff = decimal.NewNullDecimal(p)
	}
	return r
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestGaps_FilterAndSort(t *testing.T) {
	hub := gateway.NewHub(4, nil)
	hub.Publish(model.GapSnapshot{AsOf: time.Now(), Rows: []model.ComparisonRow{
		pctRow("A", "0.1"), pctRow("B", "-0.9"), pctRow("C", ""), pctRow("D", "0.5"),
	}})
	mux := NewRouter(hub, nil, nil)

	rec := get(t, mux, "/api/v1/gaps?min=0.5&sort=pct_diff")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap model.GapSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "B", snap.Rows[0].CompanyName)
	assert.Equal(t, "D", snap.Rows[1].CompanyName)
	assert.Equal(t, int64(1), snap.Seq)

	// unfiltered keeps input order and the published snapshot is untouched
	rec = get(t, mux, "/api/v1/gaps")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Len(t, snap.Rows, 4)
	assert.Equal(t, "A", snap.Rows[0].CompanyName)
}

type fakeStored struct {
	snap  model.GapSnapshot
	err   error
	calls int
}

func (f *fakeStored) Latest(context.Context) (model.GapSnapshot, error) {
	f.calls++
	return f.snap, f.err
}

func TestGaps_FallsBackToStoredSnapshot(t *testing.T) {
	stored := &fakeStored{snap: model.GapSnapshot{Seq: 41, Rows: []model.ComparisonRow{pctRow("A", "0.1"), pctRow("B", "2")}}}
	hub := gateway.NewHub(4, nil)
	mux := NewRouter(hub, nil, stored)

	var snap model.GapSnapshot
	rec := get(t, mux, "/api/v1/gaps?min=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(41), snap.Seq)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "B", snap.Rows[0].CompanyName)

	// once a cycle has run the hub wins
	hub.Publish(model.GapSnapshot{Rows: []model.ComparisonRow{pctRow("C", "0.3")}})
	rec = get(t, mux, "/api/v1/gaps")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Seq)
	assert.Equal(t, "C", snap.Rows[0].CompanyName)
	assert.Equal(t, 1, stored.calls)
}

func TestGaps_StoredSnapshotErrorServesEmpty(t *testing.T) {
	mux := NewRouter(gateway.NewHub(4, nil), nil, &fakeStored{err: errors.New("redis: nil")})

	rec := get(t, mux, "/api/v1/gaps")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap model.GapSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.Seq)
	assert.Empty(t, snap.Rows)
}

func TestGaps_BadQuery(t *testing.T) {
	mux := NewRouter(gateway.NewHub(4, nil), nil, nil)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/api/v1/gaps?min=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/api/v1/gaps?sort=volume").Code)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/gaps", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{rows: []model.ComparisonRow{pctRow("TCS", "0.2")}}
	mux := NewRouter(gateway.NewHub(4, nil), hist, nil)

	rec := get(t, mux, "/api/v1/gaps/history?symbol=TCS&n=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TCS", hist.symbol)
	assert.Equal(t, maxHistory, hist.n)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/api/v1/gaps/history").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/api/v1/gaps/history?symbol=TCS&n=-1").Code)

	hist.err = errors.New("disk")
	assert.Equal(t, http.StatusInternalServerError, get(t, mux, "/api/v1/gaps/history?symbol=TCS").Code)
}

func TestHistory_NotConfigured(t *testing.T) {
	mux := NewRouter(gateway.NewHub(4, nil), nil, nil)
	assert.Equal(t, http.StatusNotImplemented, get(t, mux, "/api/v1/gaps/history?symbol=TCS").Code)
}

func TestHealth(t *testing.T) {
	rec := get(t, NewRouter(gateway.NewHub(4, nil), nil, nil), "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, rec.Body.String())
}
