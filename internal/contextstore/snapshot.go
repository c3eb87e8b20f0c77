package contextstore

import (
	"time"

	"github.com/google/uuid"
)

// PreferenceSnapshot is the effective answer-shaping preferences of a user in
// their active organization at FetchedAt. It is only valid for that user and
// organization and is refetched on every request.
type PreferenceSnapshot struct {
	UserID           uuid.UUID `json:"user_id"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	Locale           string    `json:"locale"`
	Timezone         string    `json:"timezone"`
	UnitSystem       string    `json:"unit_system"`
	DateFormat       string    `json:"date_format"`
	NumberFormat     string    `json:"number_format"`
	Currency         string    `json:"currency"`
	FetchedAt        time.Time `json:"fetched_at"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
