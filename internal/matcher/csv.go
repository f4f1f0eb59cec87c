package matcher

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"nsebse-gap/internal/csvutil"
	"nsebse-gap/internal/model"
)

// ReadNSE parses an NSE listing export (columns nseSymbol, companyName).
// Rows without a symbol are kept so the merged mapping lists every company;
// ReadPairs drops them later because they cannot be quoted.
func ReadNSE(r io.Reader) ([]NSEListing, error) {
	tbl, err := csvutil.Read(r, "nseSymbol", "companyName")
	if err != nil {
		return nil, fmt.Errorf("nse listing: %w", err)
	}
	out := make([]NSEListing, 0, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		out = append(out, NSEListing{Symbol: tbl.Get(i, "nseSymbol"), CompanyName: tbl.Get(i, "companyName")})
	}
	return out, nil
}

// ReadBSE parses a BSE listing export (columns bseScripCode, companyName).
func ReadBSE(r io.Reader) ([]BSEListing, error) {
	tbl, err := csvutil.Read(r, "bseScripCode", "companyName")
	if err != nil {
		return nil, fmt.Errorf("bse listing: %w", err)
	}
	out := make([]BSEListing, 0, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		out = append(out, BSEListing{
			ScripCode:   NormalizeScripCode(tbl.Get(i, "bseScripCode")),
			CompanyName: tbl.Get(i, "companyName"),
		})
	}
	return out, nil
}

// NormalizeScripCode undoes the float formatting spreadsheet tools apply to
// numeric codes ("500325.0" -> "500325").
func NormalizeScripCode(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ".0") && len(s) > 2 && strings.Trim(s[:len(s)-2], "0123456789") == "" {
		return s[:len(s)-2]
	}
	return s
}

var pairsHeader = []string{"companyName", "nseSymbol", "bseScripCode"}

// WritePairs writes the merged mapping (companyName, nseSymbol, bseScripCode).
func WritePairs(w io.Writer, pairs []model.ListingPair) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pairsHeader); err != nil {
		return err
	}
	for _, p := range pairs {
		code := p.BSEScripCode
		if code == "" {
			code = model.Unresolved
		}
		if err := cw.Write([]string{p.CompanyName, p.NSESymbol, code}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadPairs parses a merged mapping. Blank codes become model.Unresolved.
func ReadPairs(r io.Reader) ([]model.ListingPair, error) {
	tbl, err := csvutil.Read(r, "nseSymbol", "bseScripCode")
	if err != nil {
		return nil, fmt.Errorf("listing pairs: %w", err)
	}
	out := make([]model.ListingPair, 0, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		sym := tbl.Get(i, "nseSymbol")
		if sym == "" {
			continue
		}
		code := NormalizeScripCode(tbl.Get(i, "bseScripCode"))
		if code == "" {
			code = model.Unresolved
		}
		name := tbl.Get(i, "companyName")
		if name == "" {
			name = sym
		}
		out = append(out, model.ListingPair{CompanyName: name, NSESymbol: sym, BSEScripCode: code})
	}
	return out, nil
}

// LoadNSEFile, LoadBSEFile and LoadPairsFile open path and delegate to the
// matching reader.
func LoadNSEFile(path string) ([]NSEListing, error) {
	var out []NSEListing
	err := withFile(path, func(r io.Reader) (err error) { out, err = ReadNSE(r); return })
	return out, err
}

func LoadBSEFile(path string) ([]BSEListing, error) {
	var out []BSEListing
	err := withFile(path, func(r io.Reader) (err error) { out, err = ReadBSE(r); return })
	return out, err
}

func LoadPairsFile(path string) ([]model.ListingPair, error) {
	var out []model.ListingPair
	err := withFile(path, func(r io.Reader) (err error) { out, err = ReadPairs(r); return })
	return out, err
}

// SavePairsFile writes pairs to path, creating parent directories.
func SavePairsFile(path string, pairs []model.ListingPair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WritePairs(bw, pairs); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(bufio.NewReader(f))
}
