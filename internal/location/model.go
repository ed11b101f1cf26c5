// Package location implements the Location Engine (spec.md §4.6):
// per-chat streaming schedule, location recording, KML emit/parse, and
// the timer loop that keeps emitting pending positions. Grounded on the
// teacher's internal/sync.Scheduler ticker-and-callback pattern,
// generalized from per-account mail sync to per-chat location streaming.
package location

// Location is one row of the locations table.
type Location struct {
	ID          int64
	Timestamp   int64
	FromID      int64
	ChatID      int64
	Latitude    float64
	Longitude   float64
	Accuracy    float64
	Independent bool
}
