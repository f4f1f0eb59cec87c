package model

import "strings"

// Exchange identifies a cash-market venue.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// ParseExchange maps an exch_seg value from the instrument master onto an Exchange.
// Only the two cash segments are recognised.
func ParseExchange(s string) (Exchange, bool) {
	switch Exchange(strings.ToUpper(strings.TrimSpace(s))) {
	case NSE:
		return NSE, true
	case BSE:
		return BSE, true
	}
	return "", false
}

func (e Exchange) String() string { return string(e) }
