package instruments

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"nsebse-gap/internal/csvutil"
	"nsebse-gap/internal/model"
)

// Column layout of instrument_list.csv.
var csvHeader = []string{"token", "api_symbol", "name", "exch_seg", "lotsize"}

// WriteCSV writes records in instrument_list.csv layout.
func WriteCSV(w io.Writer, recs []model.Instrument) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write([]string{r.Token, r.Symbol, r.Name, r.Exchange.String(), strconv.Itoa(r.LotSize)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses instrument_list.csv. Rows on other exchanges are skipped.
func ReadCSV(r io.Reader) ([]model.Instrument, error) {
	tbl, err := csvutil.Read(r, "token", "api_symbol", "exch_seg")
	if err != nil {
		return nil, fmt.Errorf("instrument list: %w", err)
	}
	out := make([]model.Instrument, 0, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		ex, ok := model.ParseExchange(tbl.Get(i, "exch_seg"))
		if !ok {
			continue
		}
		out = append(out, model.Instrument{
			Token:    tbl.Get(i, "token"),
			Exchange: ex,
			Symbol:   tbl.Get(i, "api_symbol"),
			Name:     tbl.Get(i, "name"),
			LotSize:  parseLotSize(tbl.Get(i, "lotsize")),
		})
	}
	return out, nil
}

// SaveFile writes recs to path, creating parent directories.
func SaveFile(path string, recs []model.Instrument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteCSV(bw, recs); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads an instrument list from path.
func LoadFile(path string) ([]model.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(bufio.NewReader(f))
}
