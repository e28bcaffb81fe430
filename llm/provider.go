package llm

import (
	"context"
)

// BlockRole tells the extractor which side of the correspondence a text
// block belongs to, which changes the field vocabulary it asks for.
type BlockRole string

const (
	RoleSender    BlockRole = "sender"
	RoleRecipient BlockRole = "recipient"
)

// Provider defines the interface for LLM assist providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool

	// SegmentDocument splits raw document text into sender, recipient and
	// body blocks. Nil pointers mean the block was not found.
	SegmentDocument(ctx context.Context, text string) (*SegmentPayload, error)

	// ExtractFields pulls structured fields out of a text block.
	// Keys follow the flat vocabulary of the role's prompt; absent fields
	// are missing keys.
	ExtractFields(ctx context.Context, textBlock string, role BlockRole) (map[string]string, error)
}

// SegmentPayload is the provider's answer to a segmentation request.
type SegmentPayload struct {
	SenderText    *string `json:"sender_text"`
	RecipientText *string `json:"recipient_text"`
	BodyText      string  `json:"body_text"`
	DocTypeHint   *string `json:"doc_type_hint"`
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Model:     "",
		Timeout:   30,
		MaxTokens: 1500,
	}
}
