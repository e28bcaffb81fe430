package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentParse holds the segmented text blocks of one ingested document and
// the field mappings extracted from them. It is created once per upload and
// only mutated by the resolution pass writing back matched entity ids.
type DocumentParse struct {
	ID                uuid.UUID    `json:"id"`
	DocType           *string      `json:"doc_type,omitempty"`
	RawText           string       `json:"raw_text"`
	SenderText        *string      `json:"sender_text,omitempty"`
	RecipientText     *string      `json:"recipient_text,omitempty"`
	BodyText          string       `json:"body_text"`
	ParsedSender      FieldMapping `json:"parsed_sender,omitempty"`
	ParsedRecipient   FieldMapping `json:"parsed_recipient,omitempty"`
	MatchedLocationID *uuid.UUID   `json:"matched_location_id,omitempty"`
	MatchedPersonID   *uuid.UUID   `json:"matched_person_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// SegmentResult is the output of text segmentation: the attributed
// sender/recipient blocks, the remaining body, and an optional
// document-type label from the segmentation assist.
type SegmentResult struct {
	SenderText    *string `json:"sender_text"`
	RecipientText *string `json:"recipient_text"`
	BodyText      string  `json:"body_text"`
	DocTypeHint   *string `json:"doc_type_hint,omitempty"`
}
