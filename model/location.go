package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Location is a canonical organization/address record.
type Location struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Address   *string   `json:"address,omitempty"`
	City      *string   `json:"city,omitempty"`
	State     *string   `json:"state,omitempty"`
	Zip       *string   `json:"zip,omitempty"`
	Country   *string   `json:"country,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Website   *string   `json:"website,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	// Embedding is only ever written; similarity queries run in the
	// database and selects do not return the vector.
	Embedding  []float32 `json:"-"`
	Similarity float64   `json:"similarity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdentityText returns the text embedded for semantic matching:
// name plus whatever address parts are present.
func (l *Location) IdentityText() string {
	parts := []string{l.Name}
	for _, p := range []*string{l.Address, l.City, l.State} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	return strings.Join(parts, " ")
}
