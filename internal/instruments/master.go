// Package instruments builds the (symbol, exchange) -> token lookup used to
// request quotes, from the Angel One instrument master file.
package instruments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMasterURL is the public Angel One OpenAPI scrip master.
const DefaultMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// ErrEmptyMaster is returned when the master file decodes to zero records.
var ErrEmptyMaster = errors.New("instrument master is empty")

// RawInstrument is one record of the master file. The vendor publishes every
// field as a string, but numbers have been seen in the wild, so the fields
// accept either.
type RawInstrument struct {
	Token          looseString `json:"token"`
	Symbol         looseString `json:"symbol"`
	Name           looseString `json:"name"`
	Expiry         looseString `json:"expiry"`
	Strike         looseString `json:"strike"`
	LotSize        looseString `json:"lotsize"`
	InstrumentType looseString `json:"instrumenttype"`
	ExchSeg        looseString `json:"exch_seg"`
	TickSize       looseString `json:"tick_size"`
}

// looseString decodes a JSON string, number or null into a string.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = ""
		return nil
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("instrument field %s: %w", b, err)
		}
		*s = looseString(n.String())
		return nil
	}
}

// Downloader fetches the instrument master over HTTP.
type Downloader struct {
	URL    string
	Client *http.Client
}

// NewDownloader returns a Downloader for url. The master file is tens of
// megabytes, so the timeout should be generous.
func NewDownloader(url string, timeout time.Duration) *Downloader {
	if url == "" {
		url = DefaultMasterURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Downloader{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Download retrieves and decodes the master file. Any failure is returned;
// callers must not build a resolver from a partial download.
func (d *Downloader) Download(ctx context.Context) ([]RawInstrument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("instrument master: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instrument master: get %s: %w", d.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("instrument master: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var raw []RawInstrument
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("instrument master: decode: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyMaster
	}
	return raw, nil
}
