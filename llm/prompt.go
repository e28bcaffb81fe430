package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxPromptText caps how much document text is sent to a provider.
const maxPromptText = 4000

const segmentSystemMessage = "You are a precise document parser. Return only valid JSON."

const extractSystemMessage = "You are a precise data extractor. Return only valid JSON."

// buildSegmentPrompt asks the provider to split a document into sender,
// recipient and body blocks.
func buildSegmentPrompt(text string) string {
	if len(text) > maxPromptText {
		text = text[:maxPromptText]
	}

	return fmt.Sprintf(`You are a document processing assistant. Analyze the following document text and extract:

1. SENDER information (usually organization in top left corner or letterhead)
2. RECIPIENT information (usually person's name and address, may have "To:" or "Re:" prefix)
3. BODY text (main content of the document)

Return a JSON object with these keys:
- "sender_text": The raw text block containing sender info (or null if not found)
- "recipient_text": The raw text block containing recipient info (or null if not found)
- "body_text": The main document content
- "doc_type_hint": One of "letter", "receipt", "quote" or null if unclear

Document text:
%s

Return ONLY valid JSON, no explanation.`, text)
}

// buildExtractPrompt asks the provider for the flat field vocabulary of the
// given block role.
func buildExtractPrompt(textBlock string, role BlockRole) string {
	if role == RoleSender {
		return fmt.Sprintf(`Extract structured information from this sender/organization text block.

CRITICAL RULES:
1. "organization_name" = Company/agency name ONLY (e.g. "Minnesota Department of Human Services")
2. "department" = Department/division if present (e.g. "Legislative Mailing")
3. "address" = MAILING address ONLY - look for PO Box or street numbers (e.g. "PO Box 64989" or "123 Main St")
4. NEVER put organization name in address field
5. Return FLAT JSON - no nested objects

Extract these fields (use null if not found):
- "organization_name": string
- "department": string
- "address": string (PO Box or street address ONLY)
- "city": string
- "state": string (2 letters)
- "zip": string (keep hyphen if present)
- "phone": string
- "email": string

Text:
%s

Return ONLY valid JSON with NO nested objects.`, textBlock)
	}

	return fmt.Sprintf(`Extract structured information from this recipient/person text block.

CRITICAL RULES:
1. Look for FULL NAME (first and last) - often appears first as "FIRSTNAME LASTNAME"
2. "address" = COMPLETE street address including number AND street name (e.g. "1085 Willow View Dr")
3. "zip" = COMPLETE ZIP code, may have hyphen (e.g. "55356-4304")
4. Return FLAT JSON - no nested objects

Extract these fields (use null if not found):
- "first_name": string (first name only)
- "last_name": string (last name only)
- "address": string (FULL street address)
- "city": string
- "state": string (2 letters)
- "zip": string (COMPLETE zip code with hyphen if present)

Text:
%s

Return ONLY valid JSON with NO nested objects.`, textBlock)
}

// stripJSONFences removes markdown code fences that chat models like to
// wrap JSON answers in.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseSegmentPayload decodes a segmentation answer, falling back to the
// full text as body when the provider omitted it.
func parseSegmentPayload(answer string, fullText string) (*SegmentPayload, error) {
	payload := &SegmentPayload{}
	if err := json.Unmarshal([]byte(stripJSONFences(answer)), payload); err != nil {
		return nil, fmt.Errorf("unmarshal segment payload: %w", err)
	}
	if payload.BodyText == "" {
		payload.BodyText = fullText
	}
	return payload, nil
}

// parseFieldPayload decodes a flat field extraction answer. Null values and
// non-scalar values are dropped, numbers are stringified.
func parseFieldPayload(answer string) (map[string]string, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(stripJSONFences(answer)), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal field payload: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			if v != "" {
				fields[key] = v
			}
		case float64:
			fields[key] = strings.TrimSuffix(fmt.Sprintf("%v", v), ".0")
		}
	}
	return fields, nil
}
