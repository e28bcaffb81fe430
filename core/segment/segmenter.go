package segment

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sfroehler/docmatch/llm"
	"github.com/sfroehler/docmatch/model"
)

// Assist is the optional language-model segmentation capability.
// The segmenter runs correctly without one.
type Assist interface {
	IsAvailable(ctx context.Context) bool
	SegmentDocument(ctx context.Context, text string) (*llm.SegmentPayload, error)
}

// Segmenter splits raw document text into sender, recipient and body
// blocks. It tries the assist first and falls back to layout heuristics.
// Stateless across calls.
type Segmenter struct {
	assist Assist
	logger *slog.Logger
}

// NewSegmenter creates a segmenter. The assist may be nil.
func NewSegmenter(assist Assist, logger *slog.Logger) *Segmenter {
	return &Segmenter{
		assist: assist,
		logger: logger,
	}
}

var (
	salutationPattern = regexp.MustCompile(`(?i)^(hi|hello|hey)\s+([A-Za-z][A-Za-z.'-]*)\s*[,!]?\s*$`)
	// Letter salutations end in a comma or colon, which keeps address lines
	// like "Dear John Smith" (no trailing punctuation) from matching.
	dearPattern    = regexp.MustCompile(`^\s*Dear\s+.+[,:]\s*$`)
	phonePattern   = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	emailPattern   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	closingPattern = regexp.MustCompile(`(?i)^\s*(thank you|thanks|sincerely|best|regards|best regards|kind regards)\b`)
)

const (
	salutationWindow = 20
	signatureWindow  = 50
	receiptWindow    = 30
	// When no closing phrase precedes a signature marker, the sender block
	// starts this many lines above the marker.
	signatureFallbackOffset = 2
)

// Segment splits raw text into blocks. The filename hint only influences
// the document-type label, never the block boundaries.
func (s *Segmenter) Segment(ctx context.Context, rawText string, filenameHint string) *model.SegmentResult {
	if s.assist != nil && s.assist.IsAvailable(ctx) {
		payload, err := s.assist.SegmentDocument(ctx, rawText)
		if err != nil {
			s.logger.Warn("segmentation assist failed, falling back to heuristics", slog.String("error", err.Error()))
		} else if payload.SenderText != nil || payload.RecipientText != nil {
			return &model.SegmentResult{
				SenderText:    payload.SenderText,
				RecipientText: payload.RecipientText,
				BodyText:      payload.BodyText,
				DocTypeHint:   payload.DocTypeHint,
			}
		} else {
			// Nothing recognizable; run heuristics but keep the label.
			result := s.segmentHeuristic(rawText, filenameHint)
			if result.DocTypeHint == nil {
				result.DocTypeHint = payload.DocTypeHint
			}
			return result
		}
	}

	return s.segmentHeuristic(rawText, filenameHint)
}

func (s *Segmenter) segmentHeuristic(rawText string, filenameHint string) *model.SegmentResult {
	lines := strings.Split(strings.TrimSpace(rawText), "\n")

	if result := segmentQuoteStyle(lines); result != nil {
		return result
	}
	if result := segmentLetterStyle(lines); result != nil {
		return result
	}
	if result := segmentReceiptStyle(lines); result != nil {
		return result
	}

	result := segmentDefault(lines)
	result.DocTypeHint = docTypeFromFilename(filenameHint)
	return result
}

// segmentQuoteStyle handles email-style documents: a "Hi <name>," opening
// with the sender buried in a signature block near the end.
func segmentQuoteStyle(lines []string) *model.SegmentResult {
	salutationIdx := -1
	var recipientName string
	for i, line := range lines {
		if i >= salutationWindow {
			break
		}
		if m := salutationPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			salutationIdx = i
			recipientName = m[2]
			break
		}
	}
	if salutationIdx < 0 {
		return nil
	}

	// Find the first signature marker after the salutation.
	markerIdx := -1
	end := salutationIdx + 1 + signatureWindow
	if end > len(lines) {
		end = len(lines)
	}
	for i := salutationIdx + 1; i < end; i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if emailPattern.MatchString(line) || phonePattern.MatchString(line) {
			markerIdx = i
			break
		}
	}
	if markerIdx < 0 {
		// Salutation without a signature: recipient only, rest is body.
		body := strings.TrimSpace(strings.Join(lines[salutationIdx+1:], "\n"))
		docType := "quote"
		return &model.SegmentResult{
			RecipientText: &recipientName,
			BodyText:      body,
			DocTypeHint:   &docType,
		}
	}

	// Walk backward from the marker to the nearest closing phrase, or use
	// a fixed offset when none is found.
	senderStart := markerIdx - signatureFallbackOffset
	for i := markerIdx - 1; i >= salutationIdx+1 && i >= markerIdx-5; i-- {
		if closingPattern.MatchString(lines[i]) {
			senderStart = i + 1
			break
		}
	}
	if senderStart <= salutationIdx {
		senderStart = salutationIdx + 1
	}

	// Extend forward through contiguous phone/email lines so the whole
	// signature block lands in the sender text.
	senderEnd := markerIdx
	for i := markerIdx + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			break
		}
		if !emailPattern.MatchString(line) && !phonePattern.MatchString(line) {
			break
		}
		senderEnd = i
	}

	sender := strings.TrimSpace(strings.Join(lines[senderStart:senderEnd+1], "\n"))
	body := strings.TrimSpace(strings.Join(lines[salutationIdx+1:senderStart], "\n"))
	docType := "quote"

	return &model.SegmentResult{
		SenderText:    &sender,
		RecipientText: &recipientName,
		BodyText:      body,
		DocTypeHint:   &docType,
	}
}

// segmentLetterStyle handles classic letters: letterhead, then a recipient
// address block, then a "Dear ...," salutation opening the body.
func segmentLetterStyle(lines []string) *model.SegmentResult {
	dearIdx := -1
	for i, line := range lines {
		if dearPattern.MatchString(line) {
			dearIdx = i
			break
		}
	}
	if dearIdx < 0 {
		return nil
	}

	// Recipient block: non-empty lines immediately preceding the
	// salutation, back to the previous blank line.
	recipientEnd := dearIdx
	for recipientEnd > 0 && strings.TrimSpace(lines[recipientEnd-1]) == "" {
		recipientEnd--
	}
	recipientStart := recipientEnd
	for recipientStart > 0 && strings.TrimSpace(lines[recipientStart-1]) != "" {
		recipientStart--
	}

	var result model.SegmentResult
	if recipientStart < recipientEnd {
		recipient := strings.TrimSpace(strings.Join(lines[recipientStart:recipientEnd], "\n"))
		result.RecipientText = &recipient
	}
	if recipientStart > 0 {
		sender := strings.TrimSpace(strings.Join(lines[:recipientStart], "\n"))
		if sender != "" {
			result.SenderText = &sender
		}
	}
	result.BodyText = strings.TrimSpace(strings.Join(lines[dearIdx:], "\n"))
	docType := "letter"
	result.DocTypeHint = &docType

	return &result
}

// segmentReceiptStyle handles receipts: a "payer information" or
// "recipient information" header followed by the addressee. Receipts carry
// no sender block.
func segmentReceiptStyle(lines []string) *model.SegmentResult {
	headerIdx := -1
	for i, line := range lines {
		if i >= receiptWindow {
			break
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "payer information") || strings.Contains(lower, "recipient information") {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil
	}

	var recipientLines []string
	blockEnd := headerIdx
	for i := headerIdx + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			break
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "account information") ||
			strings.Contains(lower, "transaction") ||
			strings.Contains(lower, "summary") {
			break
		}
		recipientLines = append(recipientLines, line)
		blockEnd = i
	}

	var result model.SegmentResult
	if len(recipientLines) > 0 {
		recipient := strings.Join(recipientLines, "\n")
		result.RecipientText = &recipient
	}

	var bodyLines []string
	bodyLines = append(bodyLines, lines[:headerIdx]...)
	bodyLines = append(bodyLines, lines[blockEnd+1:]...)
	result.BodyText = strings.TrimSpace(strings.Join(bodyLines, "\n"))
	docType := "receipt"
	result.DocTypeHint = &docType

	return &result
}

// segmentDefault is the last-resort split: the first block of non-empty
// lines becomes the sender, and a "To:"/"Re:" indicator marks the
// recipient.
func segmentDefault(lines []string) *model.SegmentResult {
	var result model.SegmentResult

	var firstBlock []string
	bodyStart := 0
	for i, line := range lines {
		if i >= 15 {
			break
		}
		line = strings.TrimSpace(line)
		if line != "" {
			firstBlock = append(firstBlock, line)
			if len(firstBlock) >= 5 {
				sender := strings.Join(firstBlock, "\n")
				result.SenderText = &sender
				bodyStart = i + 1
				break
			}
		}
	}

	// Look for recipient indicators in the remaining lines.
	remaining := lines[bodyStart:]
	var recipientBlock []string
	foundIndicator := false
	for i, line := range remaining {
		if i >= 20 {
			break
		}
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if !foundIndicator && (strings.Contains(lower, "to:") || strings.Contains(lower, "re:")) {
			foundIndicator = true
			// Keep whatever follows the indicator on the same line.
			if idx := strings.Index(line, ":"); idx >= 0 {
				if rest := strings.TrimSpace(line[idx+1:]); rest != "" {
					recipientBlock = append(recipientBlock, rest)
				}
			}
			continue
		}
		if foundIndicator && line != "" {
			recipientBlock = append(recipientBlock, line)
			if len(recipientBlock) >= 4 {
				recipient := strings.Join(recipientBlock, "\n")
				result.RecipientText = &recipient
				bodyStart += i + 1
				break
			}
		}
	}
	if foundIndicator && result.RecipientText == nil && len(recipientBlock) > 0 {
		recipient := strings.Join(recipientBlock, "\n")
		result.RecipientText = &recipient
		bodyStart = len(lines)
	}

	if bodyStart < len(lines) {
		result.BodyText = strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
	}
	if result.SenderText == nil && result.RecipientText == nil && result.BodyText == "" {
		result.BodyText = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	return &result
}

// docTypeFromFilename derives a label from the upload's filename when the
// layout itself gave no signal.
func docTypeFromFilename(hint string) *string {
	lower := strings.ToLower(hint)
	for _, label := range []string{"receipt", "invoice", "letter", "quote"} {
		if strings.Contains(lower, label) {
			return &label
		}
	}
	return nil
}
