package model

import "time"

// GapSnapshot is the set of rows produced by one refresh cycle, as pushed to
// Redis and WebSocket consumers.
type GapSnapshot struct {
	Seq  int64           `json:"seq"`
	AsOf time.Time       `json:"as_of"`
	Rows []ComparisonRow `json:"rows"`
}
