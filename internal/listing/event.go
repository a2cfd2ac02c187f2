package listing

import "time"

// UpsertedEvent is published after a committed upsert so the vectoriser
// knows new work is pending.
type UpsertedEvent struct {
	ListingID string    `json:"listing_id"`
	Action    string    `json:"action"`
	EventID   int64     `json:"event_id"`
	Changed   []string  `json:"changed,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// NewUpsertedEvent builds the notification for a finished upsert.
func NewUpsertedEvent(id string, res UpsertResult, c Capture) UpsertedEvent {
	return UpsertedEvent{
		ListingID: id,
		Action:    res.Label(),
		EventID:   res.EventID,
		Changed:   res.Changed,
		ScrapedAt: c.ScrapedAt,
	}
}
