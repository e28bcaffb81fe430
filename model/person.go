package model

import (
	"time"

	"github.com/google/uuid"
)

// Person is a canonical identity record. The id is the immutable identity
// key; name and date of birth may be corrected later through review
// resolution, but records are never merged automatically.
type Person struct {
	ID         uuid.UUID  `json:"id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	DOB        *time.Time `json:"dob,omitempty"`
	LegalFlags Metadata   `json:"legal_flags,omitempty"`
	// Embedding is only ever written; similarity queries run in the
	// database and selects do not return the vector.
	Embedding  []float32 `json:"-"`
	Similarity float64   `json:"similarity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FullName returns the display name used for embedding and candidates.
func (p *Person) FullName() string {
	return p.FirstName + " " + p.LastName
}
