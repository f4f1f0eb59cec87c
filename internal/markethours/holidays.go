package markethours

import (
	"fmt"
	"time"
)

// Equity segment trading holidays for 2026. NSE and BSE publish the same
// calendar for the cash market, so one list serves both exchanges.
var holidays2026 = map[string]string{
	"2026-01-26": "Republic Day",
	"2026-03-03": "Holi",
	"2026-03-26": "Shri Ram Navami",
	"2026-03-31": "Shri Mahavir Jayanti",
	"2026-04-03": "Good Friday",
	"2026-04-14": "Dr. Baba Saheb Ambedkar Jayanti",
	"2026-05-01": "Maharashtra Day",
	"2026-05-28": "Bakri Id",
	"2026-06-26": "Muharram",
	"2026-09-14": "Ganesh Chaturthi",
	"2026-10-02": "Mahatma Gandhi Jayanti",
	"2026-10-20": "Dussehra",
	"2026-11-10": "Diwali Balipratipada",
	"2026-11-24": "Guru Nanak Jayanti",
	"2026-12-25": "Christmas",
}

// Holiday returns the holiday name for the IST date of t, or "".
func Holiday(t time.Time) string {
	return holidays2026[dateKey(t)]
}

// IsHoliday returns true if the date (in IST) is an exchange holiday.
func IsHoliday(t time.Time) bool {
	return Holiday(t) != ""
}

func dateKey(t time.Time) string {
	ist := t.In(IST)
	return fmt.Sprintf("%04d-%02d-%02d", ist.Year(), ist.Month(), ist.Day())
}
