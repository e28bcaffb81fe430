package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sfroehler/docmatch/helper"
)

// ReviewStatus is the lifecycle state of a review queue item.
// Both resolved and skipped are terminal.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusResolved ReviewStatus = "resolved"
	ReviewStatusSkipped  ReviewStatus = "skipped"
)

// QueryKind records why resolution could not close a slot automatically.
type QueryKind string

const (
	QueryKindNoResults       QueryKind = "no_results"
	QueryKindMultipleResults QueryKind = "multiple_results"
)

// Candidate is one ranked semantic match attached to a review item.
type Candidate struct {
	ID         uuid.UUID         `json:"id"`
	Display    map[string]string `json:"display"`
	Similarity float64           `json:"similarity"`
}

// CandidateList is the ranked candidate set stored as JSONB.
type CandidateList []Candidate

// Value implements the driver.Valuer interface for database storage
func (c CandidateList) Value() (driver.Value, error) {
	if len(c) == 0 {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for database retrieval
func (c *CandidateList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}
	return json.Unmarshal(b, c)
}

// ReviewQueueItem is one adjudication task for an entity slot that
// resolution could not close automatically. It is created exactly once per
// unresolved slot and mutated exactly once, by review resolution.
type ReviewQueueItem struct {
	ID               uuid.UUID     `json:"id"`
	ParseID          uuid.UUID     `json:"parse_id"`
	EntityKind       EntityKind    `json:"entity_kind"`
	QueryKind        QueryKind     `json:"query_kind"`
	RawData          FieldMapping  `json:"raw_data"`
	Candidates       CandidateList `json:"candidates,omitempty"`
	Status           ReviewStatus  `json:"status"`
	ReviewedBy       *string       `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time    `json:"reviewed_at,omitempty"`
	ResolvedEntityID *uuid.UUID    `json:"resolved_entity_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// ReviewStats summarizes the review queue. The per-kind splits count
// pending items only.
type ReviewStats struct {
	TotalPending        int                `json:"total_pending"`
	TotalResolved       int                `json:"total_resolved"`
	TotalSkipped        int                `json:"total_skipped"`
	PendingByEntityKind map[EntityKind]int `json:"pending_by_entity_kind"`
	PendingByQueryKind  map[QueryKind]int  `json:"pending_by_query_kind"`
}
