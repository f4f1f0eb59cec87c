// Package render prints the gap table for a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"nsebse-gap/internal/markethours"
	"nsebse-gap/internal/model"
)

// NA is shown for any absent value.
const NA = "N/A"

var headers = []string{"Company", "NSE Price (₹)", "BSE Price (₹)", "Difference (₹)", "Difference (%)"}

// ANSI SGR sequences. All three openers have the same byte length so
// tabwriter keeps coloured columns aligned.
const (
	sgrRed   = "\x1b[1;31m"
	sgrGreen = "\x1b[1;32m"
	sgrPlain = "\x1b[0;39m"
	sgrReset = "\x1b[0m"
)

// Options controls terminal output.
type Options struct {
	// Clear homes the cursor and clears the screen before the frame.
	Clear bool
	// Color paints the difference columns red when NSE trades above BSE
	// and green when below.
	Color bool
}

// Table writes rows as an aligned text table. Values are rendered with two
// decimals: prices grouped as ₹1,234.50, differences signed.
func Table(w io.Writer, rows []model.ComparisonRow) error {
	return table(w, rows, false)
}

func table(w io.Writer, rows []model.ComparisonRow, color bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	head := append([]string(nil), headers...)
	if color {
		head[3] = paint(sgrPlain, head[3])
		head[4] = paint(sgrPlain, head[4])
	}
	fmt.Fprintln(tw, strings.Join(head, "\t")+"\t")
	for i := range rows {
		r := &rows[i]
		diff, pct := Signed(r.PriceDiff), Percent(r.PctDiff)
		if color {
			sgr := signColor(r.PriceDiff)
			diff, pct = paint(sgr, diff), paint(sgr, pct)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			r.CompanyName,
			Price(r.NSEPrice),
			Price(r.BSEPrice),
			diff,
			pct,
		)
	}
	return tw.Flush()
}

func signColor(d decimal.NullDecimal) string {
	switch {
	case !d.Valid:
		return sgrPlain
	case d.Decimal.IsPositive():
		return sgrRed
	case d.Decimal.IsNegative():
		return sgrGreen
	}
	return sgrPlain
}

func paint(sgr, s string) string { return sgr + s + sgrReset }

// Frame writes a title line, the table and a footer with counts. Used by
// the live loop to redraw the screen each cycle.
func Frame(w io.Writer, rows []model.ComparisonRow, at time.Time, opts Options) error {
	if opts.Clear {
		// home cursor and clear screen
		io.WriteString(w, "\x1b[H\x1b[2J")
	}
	fmt.Fprintf(w, "NSE vs BSE  %s  %s\n\n",
		at.In(markethours.IST).Format("2006-01-02 15:04:05 IST"), markethours.StatusString(at))
	if err := table(w, rows, opts.Color); err != nil {
		return err
	}
	compared := 0
	for i := range rows {
		if rows[i].Compared() {
			compared++
		}
	}
	_, err := fmt.Fprintf(w, "\n%d rows, %d compared\n", len(rows), compared)
	return err
}

// Price formats a price as ₹1,234.50, or N/A.
func Price(d decimal.NullDecimal) string {
	if !d.Valid {
		return NA
	}
	return "₹" + group(d.Decimal.StringFixed(2))
}

// Signed formats a difference as +1.00 / -1.00, or N/A.
func Signed(d decimal.NullDecimal) string {
	if !d.Valid {
		return NA
	}
	s := d.Decimal.StringFixed(2)
	if !strings.HasPrefix(s, "-") {
		s = "+" + s
	}
	return s
}

// Percent formats a percentage as +1.00%, or N/A.
func Percent(d decimal.NullDecimal) string {
	if !d.Valid {
		return NA
	}
	return Signed(d) + "%"
}

// group inserts thousands separators into a fixed-point string.
func group(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}
