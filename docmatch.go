package docmatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sfroehler/docmatch/core/extract"
	"github.com/sfroehler/docmatch/core/pipeline"
	"github.com/sfroehler/docmatch/core/resolve"
	"github.com/sfroehler/docmatch/core/segment"
	"github.com/sfroehler/docmatch/database"
	"github.com/sfroehler/docmatch/helper"
	"github.com/sfroehler/docmatch/llm"
	"github.com/sfroehler/docmatch/model"
	loadSql "github.com/sfroehler/docmatch/sql"
)

// Matcher provides a unified interface to the full pipeline: segmentation,
// extraction, entity resolution and the review queue.
type Matcher struct {
	DB        *helper.Database
	Persons   *database.PersonsDBHandler
	Locations *database.LocationsDBHandler
	Parses    *database.ParsesDBHandler
	Reviews   *database.ReviewsDBHandler
	Segmenter *segment.Segmenter
	Extractor *extract.Extractor
	Resolver  *resolve.Resolver
	// Logging
	log    *slog.Logger
	config model.ResolverConfig
	embed  pipeline.EmbedFunc
}

// ProcessOptions tunes a single ProcessText call. Manual field mappings are
// merged over the extracted ones, key by key, so a caller can correct single
// fields without losing the rest of the extraction.
type ProcessOptions struct {
	FilenameHint    string
	SenderFields    model.FieldMapping
	RecipientFields model.FieldMapping
}

// ProcessResult reports what one document upload ended up as. A nil entity
// id means that slot is sitting in the review queue (or had no text block).
type ProcessResult struct {
	ParseID           uuid.UUID  `json:"parse_id"`
	SenderLocationID  *uuid.UUID `json:"sender_location_id,omitempty"`
	RecipientPersonID *uuid.UUID `json:"recipient_person_id,omitempty"`
	PendingReviews    int        `json:"pending_reviews"`
	DocType           *string    `json:"doc_type,omitempty"`
}

// New creates a Matcher with all database handlers initialized.
func New(config *helper.DatabaseConfiguration, resolverConfig model.ResolverConfig) (*Matcher, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("docmatch", config, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// force=false to not reload if functions already exist
	persons, err := database.NewPersonsDBHandler(db, resolverConfig.EmbeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create persons handler", err)
	}

	locations, err := database.NewLocationsDBHandler(db, resolverConfig.EmbeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create locations handler", err)
	}

	parses, err := database.NewParsesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create parses handler", err)
	}

	reviews, err := database.NewReviewsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create reviews handler", err)
	}

	return &Matcher{
		DB:        db,
		Persons:   persons,
		Locations: locations,
		Parses:    parses,
		Reviews:   reviews,
		Segmenter: segment.NewSegmenter(nil, logger),
		Extractor: extract.NewExtractor(nil, logger),
		Resolver:  resolve.NewResolver(persons, locations, reviews, nil, resolverConfig, logger),
		log:       logger,
		config:    resolverConfig,
	}, nil
}

// Close closes the database connection
func (m *Matcher) Close() error {
	if m.DB != nil && m.DB.Instance != nil {
		return m.DB.Instance.Close()
	}
	return nil
}

// SetEmbedder sets the embedding function used by the semantic matching
// tier. Without one the resolver runs on the deterministic tier alone.
func (m *Matcher) SetEmbedder(embed pipeline.EmbedFunc) {
	m.embed = embed
	m.Resolver.SetEmbedder(embed)
}

// UseDefaultEmbedder sets up the default embedding backend with the
// all-MiniLM-L6-v2 model (384 dimensions), wrapped in a short-lived cache
// so repeated identity strings are only embedded once.
func (m *Matcher) UseDefaultEmbedder() error {
	embedder, err := pipeline.DefaultEmbedder()
	if err != nil {
		return helper.NewError("create default embedder", err)
	}

	m.SetEmbedder(pipeline.NewCachedEmbedder(embedder, 10*time.Minute))
	return nil
}

// SetAssist sets the language-model assist used by segmentation and
// extraction. Both run correctly without one.
func (m *Matcher) SetAssist(provider llm.Provider) {
	m.Segmenter = segment.NewSegmenter(provider, m.log)
	m.Extractor = extract.NewExtractor(provider, m.log)
}

// UseAssistFromEnv configures the assist from LLM_PROVIDER and friends.
// An empty LLM_PROVIDER leaves the assist disabled without error.
func (m *Matcher) UseAssistFromEnv() error {
	provider, err := llm.NewProvider(llm.LoadConfigFromEnv())
	if err != nil {
		return helper.NewError("create assist provider", err)
	}
	if provider != nil {
		m.SetAssist(provider)
	}
	return nil
}

// ProcessText runs the full pipeline for one document: segment the raw
// text, extract fields per block, persist the parse, then resolve the
// sender slot against locations and the recipient slot against persons.
// Slots that cannot be closed automatically end up in the review queue.
func (m *Matcher) ProcessText(ctx context.Context, rawText string, opts *ProcessOptions) (*ProcessResult, error) {
	if rawText == "" {
		return nil, helper.NewError("process text", fmt.Errorf("raw text is empty"))
	}
	if opts == nil {
		opts = &ProcessOptions{}
	}

	segmented := m.Segmenter.Segment(ctx, rawText, opts.FilenameHint)

	var parsedSender, parsedRecipient model.FieldMapping
	if segmented.SenderText != nil {
		parsedSender = m.Extractor.Extract(ctx, *segmented.SenderText, llm.RoleSender)
	}
	if segmented.RecipientText != nil {
		parsedRecipient = m.Extractor.Extract(ctx, *segmented.RecipientText, llm.RoleRecipient)
	}
	parsedSender = mergeFields(parsedSender, opts.SenderFields)
	parsedRecipient = mergeFields(parsedRecipient, opts.RecipientFields)

	parse := &model.DocumentParse{
		DocType:         segmented.DocTypeHint,
		RawText:         rawText,
		SenderText:      segmented.SenderText,
		RecipientText:   segmented.RecipientText,
		BodyText:        segmented.BodyText,
		ParsedSender:    parsedSender,
		ParsedRecipient: parsedRecipient,
	}
	if err := m.Parses.InsertParse(parse); err != nil {
		return nil, helper.NewError("insert parse", err)
	}

	m.log.Info("Inserted parse", slog.String("parse_id", parse.ID.String()))

	result := &ProcessResult{
		ParseID: parse.ID,
		DocType: segmented.DocTypeHint,
	}

	if len(parsedSender) > 0 {
		locationID, err := m.Resolver.Resolve(parsedSender, model.EntityKindLocation, parse.ID)
		if err != nil {
			return nil, helper.NewError("resolve sender", err)
		}
		result.SenderLocationID = locationID
	}
	if len(parsedRecipient) > 0 {
		personID, err := m.Resolver.Resolve(parsedRecipient, model.EntityKindPerson, parse.ID)
		if err != nil {
			return nil, helper.NewError("resolve recipient", err)
		}
		result.RecipientPersonID = personID
	}

	if result.SenderLocationID != nil || result.RecipientPersonID != nil {
		if err := m.Parses.UpdateMatchedEntities(parse.ID, result.SenderLocationID, result.RecipientPersonID); err != nil {
			return nil, helper.NewError("update matched entities", err)
		}
	}

	pending, err := m.Reviews.CountPendingForParse(parse.ID)
	if err != nil {
		return nil, helper.NewError("count pending reviews", err)
	}
	result.PendingReviews = pending

	m.log.Info("Processed document",
		slog.String("parse_id", parse.ID.String()),
		slog.Bool("sender_resolved", result.SenderLocationID != nil),
		slog.Bool("recipient_resolved", result.RecipientPersonID != nil),
		slog.Int("pending_reviews", pending),
	)

	return result, nil
}

// ListPendingReviews returns pending review items, optionally filtered by
// entity kind. Oldest first.
func (m *Matcher) ListPendingReviews(kind *model.EntityKind) ([]*model.ReviewQueueItem, error) {
	return m.Reviews.SelectPendingReviews(kind)
}

// GetReview returns one review item by id.
func (m *Matcher) GetReview(id uuid.UUID) (*model.ReviewQueueItem, error) {
	return m.Reviews.SelectReview(id)
}

// GetReviewContext returns a review item together with the document parse
// that queued it, so a reviewer sees the original text blocks next to the
// extracted fields.
func (m *Matcher) GetReviewContext(id uuid.UUID) (*model.ReviewQueueItem, *model.DocumentParse, error) {
	item, err := m.Reviews.SelectReview(id)
	if err != nil {
		return nil, nil, err
	}
	parse, err := m.Parses.SelectParse(item.ParseID)
	if err != nil {
		return nil, nil, helper.NewError("select parse for review", err)
	}
	return item, parse, nil
}

// ReviewDecision is one adjudication: exactly one of PickEntityID,
// CreatePerson, CreateLocation or Skip must be set.
type ReviewDecision struct {
	PickEntityID   *uuid.UUID
	CreatePerson   *model.Person
	CreateLocation *model.Location
	Skip           bool
	ReviewedBy     string
}

// ResolveReview applies one decision to a pending review item. Resolving an
// item that is not pending fails with database.ErrReviewNotPending; a prior
// decision is never overwritten.
func (m *Matcher) ResolveReview(id uuid.UUID, decision ReviewDecision) (*model.ReviewQueueItem, error) {
	choices := 0
	for _, set := range []bool{decision.PickEntityID != nil, decision.CreatePerson != nil, decision.CreateLocation != nil, decision.Skip} {
		if set {
			choices++
		}
	}
	if choices != 1 {
		return nil, helper.NewError("resolve review", fmt.Errorf("exactly one of pick, create or skip must be set, got %d", choices))
	}
	if decision.ReviewedBy == "" {
		return nil, helper.NewError("resolve review", fmt.Errorf("reviewed by is empty"))
	}

	item, err := m.Reviews.SelectReview(id)
	if err != nil {
		return nil, err
	}

	switch {
	case decision.PickEntityID != nil:
		return m.Reviews.ResolvePick(id, *decision.PickEntityID, decision.ReviewedBy)
	case decision.CreatePerson != nil:
		if item.EntityKind != model.EntityKindPerson {
			return nil, helper.NewError("resolve review", fmt.Errorf("cannot create a person for a %s review item", item.EntityKind))
		}
		if decision.CreatePerson.FirstName == "" || decision.CreatePerson.LastName == "" {
			return nil, helper.NewError("resolve review", fmt.Errorf("creating a person requires first and last name"))
		}
		m.attachPersonEmbedding(decision.CreatePerson)
		return m.Reviews.ResolveCreatePerson(id, decision.CreatePerson, decision.ReviewedBy)
	case decision.CreateLocation != nil:
		if item.EntityKind != model.EntityKindLocation {
			return nil, helper.NewError("resolve review", fmt.Errorf("cannot create a location for a %s review item", item.EntityKind))
		}
		if decision.CreateLocation.Name == "" {
			return nil, helper.NewError("resolve review", fmt.Errorf("creating a location requires a name"))
		}
		m.attachLocationEmbedding(decision.CreateLocation)
		return m.Reviews.ResolveCreateLocation(id, decision.CreateLocation, decision.ReviewedBy)
	default:
		return m.Reviews.SkipReview(id, decision.ReviewedBy)
	}
}

// ApplyResolvedReview writes a resolved review item's entity id back onto
// the document parse that queued it. This reconciliation is deliberately a
// separate call, resolution never mutates the parse behind the caller's
// back.
func (m *Matcher) ApplyResolvedReview(id uuid.UUID) error {
	item, err := m.Reviews.SelectReview(id)
	if err != nil {
		return err
	}
	if item.Status != model.ReviewStatusResolved || item.ResolvedEntityID == nil {
		return helper.NewError("apply resolved review", fmt.Errorf("review item %s is %s, not resolved with an entity", id, item.Status))
	}

	switch item.EntityKind {
	case model.EntityKindLocation:
		return m.Parses.UpdateMatchedEntities(item.ParseID, item.ResolvedEntityID, nil)
	default:
		return m.Parses.UpdateMatchedEntities(item.ParseID, nil, item.ResolvedEntityID)
	}
}

// ReviewStats summarizes the review queue.
func (m *Matcher) ReviewStats() (*model.ReviewStats, error) {
	return m.Reviews.ReviewStats()
}

// BackfillEmbeddings embeds up to batchSize persons and batchSize locations
// that are still invisible to the semantic tier. Returns the number of
// records updated.
func (m *Matcher) BackfillEmbeddings(batchSize int) (int, error) {
	if m.embed == nil {
		return 0, helper.NewError("backfill embeddings", fmt.Errorf("embedder not set, use SetEmbedder() first"))
	}

	updated := 0

	persons, err := m.Persons.SelectPersonsMissingEmbedding(batchSize)
	if err != nil {
		return updated, helper.NewError("select persons missing embedding", err)
	}
	for _, person := range persons {
		embedding, err := m.embed(person.FullName())
		if err != nil {
			return updated, helper.NewError("embed person", err)
		}
		if err := m.Persons.UpdatePersonEmbedding(person.ID, embedding); err != nil {
			return updated, helper.NewError("update person embedding", err)
		}
		updated++
	}

	locations, err := m.Locations.SelectLocationsMissingEmbedding(batchSize)
	if err != nil {
		return updated, helper.NewError("select locations missing embedding", err)
	}
	for _, location := range locations {
		embedding, err := m.embed(location.IdentityText())
		if err != nil {
			return updated, helper.NewError("embed location", err)
		}
		if err := m.Locations.UpdateLocationEmbedding(location.ID, embedding); err != nil {
			return updated, helper.NewError("update location embedding", err)
		}
		updated++
	}

	if updated > 0 {
		m.log.Info("Backfilled embeddings", slog.Int("updated", updated))
	}
	return updated, nil
}

func (m *Matcher) attachPersonEmbedding(person *model.Person) {
	if m.embed == nil || len(person.Embedding) > 0 {
		return
	}
	embedding, err := m.embed(person.FullName())
	if err != nil {
		m.log.Warn("embedding new person failed, record stays invisible to the semantic tier", slog.String("error", err.Error()))
		return
	}
	person.Embedding = embedding
}

func (m *Matcher) attachLocationEmbedding(location *model.Location) {
	if m.embed == nil || len(location.Embedding) > 0 {
		return
	}
	embedding, err := m.embed(location.IdentityText())
	if err != nil {
		m.log.Warn("embedding new location failed, record stays invisible to the semantic tier", slog.String("error", err.Error()))
		return
	}
	location.Embedding = embedding
}

// mergeFields lays manual corrections over extracted fields, key by key.
func mergeFields(extracted model.FieldMapping, manual model.FieldMapping) model.FieldMapping {
	if len(manual) == 0 {
		return extracted
	}
	merged := model.FieldMapping{}
	for key, value := range extracted {
		merged[key] = value
	}
	for key, value := range manual {
		if value == "" {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	return merged
}
