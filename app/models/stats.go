package models

// DailyStats is one day's aggregated call count for reporting queries.
type DailyStats struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}
