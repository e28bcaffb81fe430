package extract

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sfroehler/docmatch/llm"
	"github.com/sfroehler/docmatch/model"
)

// Assist is the optional language-model extraction capability.
// The extractor runs correctly without one.
type Assist interface {
	IsAvailable(ctx context.Context) bool
	ExtractFields(ctx context.Context, textBlock string, role llm.BlockRole) (map[string]string, error)
}

// Extractor turns a raw text block into a flat field mapping. The pattern
// layer always runs; an assist may enrich the result, but every assist value
// is validated against the source block before it is accepted.
type Extractor struct {
	assist Assist
	logger *slog.Logger
}

// NewExtractor creates an extractor. The assist may be nil.
func NewExtractor(assist Assist, logger *slog.Logger) *Extractor {
	return &Extractor{
		assist: assist,
		logger: logger,
	}
}

var (
	addressPattern = regexp.MustCompile(`(?i)(\d+\s+[\w\s]+?(street|st|avenue|ave|road|rd|drive|dr|lane|ln|blvd|boulevard|way|court|ct|place|pl))[,\s]+([a-zA-Z\s]+?)[,\s]+([A-Za-z]{2})\s+(\d{5}(-\d{4})?)`)
	// Separators stay intra-line so a zip code ending one line can never
	// bleed into a phone number starting the next.
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	namePattern  = regexp.MustCompile(`(?m)^([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)\s*$`)
	digitPattern = regexp.MustCompile(`\d`)
)

// verbatimFields must appear in the source block as written. Postal codes
// additionally match with whitespace and hyphens stripped.
var verbatimFields = map[string]bool{
	"address": true,
	"zip":     true,
	"phone":   true,
	"email":   true,
}

// Extract builds the field mapping for one block. Absent fields are missing
// keys, never empty strings.
func (e *Extractor) Extract(ctx context.Context, blockText string, role llm.BlockRole) model.FieldMapping {
	patternFields := extractPatterns(blockText, role)

	if e.assist == nil || !e.assist.IsAvailable(ctx) {
		return patternFields
	}

	assisted, err := e.assist.ExtractFields(ctx, blockText, role)
	if err != nil {
		e.logger.Warn("extraction assist failed, keeping pattern fields", slog.String("error", err.Error()))
		return patternFields
	}

	fields := model.FieldMapping{}
	for key, value := range assisted {
		if value == "" {
			continue
		}
		if !supportedBySource(key, value, blockText) {
			e.logger.Debug("dropping assist field unsupported by source",
				slog.String("field", key),
				slog.String("value", value),
			)
			continue
		}
		fields[key] = value
	}

	// Pattern hits backfill whatever the assist did not produce.
	for key, value := range patternFields {
		if _, ok := fields[key]; !ok {
			fields[key] = value
		}
	}
	return fields
}

// extractPatterns is the rule layer: first hit of each pattern wins.
func extractPatterns(blockText string, role llm.BlockRole) model.FieldMapping {
	fields := model.FieldMapping{}

	if m := addressPattern.FindStringSubmatch(blockText); m != nil {
		fields["address"] = strings.TrimSpace(m[1])
		fields["city"] = strings.TrimSpace(m[3])
		fields["state"] = strings.ToUpper(m[4])
		fields["zip"] = m[5]
	}

	if m := phonePattern.FindString(blockText); m != "" {
		fields["phone"] = strings.TrimSpace(m)
	}
	if m := emailPattern.FindString(blockText); m != "" {
		fields["email"] = m
	}

	if m := namePattern.FindStringSubmatch(blockText); m != nil {
		tokens := strings.Fields(m[1])
		fields["first_name"] = tokens[0]
		fields["last_name"] = strings.Join(tokens[1:], " ")
	} else if role == llm.RoleSender {
		// Digit-free first line as organization name fallback.
		for _, line := range strings.Split(blockText, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !digitPattern.MatchString(line) {
				fields["organization_name"] = line
			}
			break
		}
	}

	return fields
}

// supportedBySource is the hallucination guard: an assist value is only
// accepted when the source block actually contains it. Verbatim fields must
// appear as written; descriptive fields need at least one word token longer
// than two characters in the source, or the whole value for short tokens
// like region codes.
func supportedBySource(field string, value string, source string) bool {
	if verbatimFields[field] {
		if strings.Contains(source, value) {
			return true
		}
		if field == "zip" {
			return strings.Contains(stripZip(source), stripZip(value))
		}
		return false
	}

	lowerSource := strings.ToLower(source)
	hasLongToken := false
	for _, token := range strings.Fields(strings.ToLower(value)) {
		if len(token) <= 2 {
			continue
		}
		hasLongToken = true
		if strings.Contains(lowerSource, token) {
			return true
		}
	}
	if !hasLongToken {
		// Short values like 2-letter region codes match as a whole.
		return strings.Contains(lowerSource, strings.ToLower(value))
	}
	return false
}

func stripZip(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return -1
		}
		return r
	}, s)
}
