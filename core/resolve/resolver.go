package resolve

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sfroehler/docmatch/core/pipeline"
	"github.com/sfroehler/docmatch/helper"
	"github.com/sfroehler/docmatch/model"
)

// PersonStore is the person persistence the resolver depends on.
type PersonStore interface {
	InsertPerson(person *model.Person) error
	SelectPersonsExact(firstName string, lastName string, dob *time.Time) ([]*model.Person, error)
	SelectPersonsBySimilarity(embedding []float32, threshold float64, limit int) ([]*model.Person, error)
}

// LocationStore is the location persistence the resolver depends on.
type LocationStore interface {
	SelectLocationsByAddressZip(address string, zip string) ([]*model.Location, error)
	SelectLocationsByNameCityState(name string, city string, state string) ([]*model.Location, error)
	SelectLocationsBySimilarity(embedding []float32, threshold float64, limit int) ([]*model.Location, error)
}

// ReviewStore is the review queue persistence the resolver depends on.
type ReviewStore interface {
	InsertReview(item *model.ReviewQueueItem) error
	HasOpenReview(parseID uuid.UUID, kind model.EntityKind) (bool, error)
}

// Resolver matches an extracted field mapping against the canonical entity
// records: deterministic match first, semantic match second, review queue
// last. A nil returned id means the slot was queued (or already had an open
// review item), never silently dropped.
type Resolver struct {
	persons   PersonStore
	locations LocationStore
	reviews   ReviewStore
	embed     pipeline.EmbedFunc
	config    model.ResolverConfig
	logger    *slog.Logger
}

// NewResolver creates a resolver. The embedder may be nil, which disables
// the semantic tier.
func NewResolver(persons PersonStore, locations LocationStore, reviews ReviewStore, embed pipeline.EmbedFunc, config model.ResolverConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		persons:   persons,
		locations: locations,
		reviews:   reviews,
		embed:     embed,
		config:    config,
		logger:    logger,
	}
}

// SetEmbedder swaps the embedding function, enabling or disabling the
// semantic tier.
func (r *Resolver) SetEmbedder(embed pipeline.EmbedFunc) {
	r.embed = embed
}

// Resolve matches one entity slot. It returns the matched or created entity
// id, or nil when the slot was queued for review.
func (r *Resolver) Resolve(fields model.FieldMapping, kind model.EntityKind, parseID uuid.UUID) (*uuid.UUID, error) {
	normalized := fields.Normalize()

	switch kind {
	case model.EntityKindPerson:
		return r.resolvePerson(normalized, parseID)
	case model.EntityKindLocation:
		return r.resolveLocation(normalized, parseID)
	default:
		return nil, helper.NewError("resolve", fmt.Errorf("invalid entity kind: %s", kind))
	}
}

func (r *Resolver) resolvePerson(fields model.FieldMapping, parseID uuid.UUID) (*uuid.UUID, error) {
	firstName := fields["first_name"]
	lastName := fields["last_name"]

	if firstName != "" && lastName != "" {
		dob := model.ParseDOB(fields["dob"])
		matches, err := r.persons.SelectPersonsExact(firstName, lastName, dob)
		if err != nil {
			return nil, helper.NewError("select persons exact", err)
		}
		if len(matches) == 1 {
			id := matches[0].ID
			return &id, nil
		}
		if len(matches) > 1 {
			// Ambiguous deterministic match, the data itself is the
			// problem. Hand it to a human with the exact rows attached.
			candidates := make(model.CandidateList, 0, len(matches))
			for _, p := range matches {
				candidates = append(candidates, personCandidate(p, 1.0))
			}
			return r.queue(parseID, model.EntityKindPerson, model.QueryKindMultipleResults, fields, capCandidates(candidates, r.config.MaxCandidates))
		}
	}

	embedding, candidates, err := r.semanticPersons(fields)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 1:
		id := candidates[0].ID
		return &id, nil
	case 0:
		if firstName != "" && lastName != "" {
			person := &model.Person{
				FirstName: firstName,
				LastName:  lastName,
				DOB:       model.ParseDOB(fields["dob"]),
				Embedding: embedding,
			}
			if err := r.persons.InsertPerson(person); err != nil {
				return nil, helper.NewError("insert person", err)
			}
			r.logger.Info("created person from unmatched slot",
				slog.String("person_id", person.ID.String()),
				slog.String("parse_id", parseID.String()),
			)
			id := person.ID
			return &id, nil
		}
		return r.queue(parseID, model.EntityKindPerson, model.QueryKindNoResults, fields, nil)
	default:
		ranked := make(model.CandidateList, 0, len(candidates))
		for _, p := range candidates {
			ranked = append(ranked, personCandidate(p, p.Similarity))
		}
		return r.queue(parseID, model.EntityKindPerson, model.QueryKindMultipleResults, fields, capCandidates(ranked, r.config.MaxCandidates))
	}
}

func (r *Resolver) resolveLocation(fields model.FieldMapping, parseID uuid.UUID) (*uuid.UUID, error) {
	if fields.Has("address", "zip") {
		matches, err := r.locations.SelectLocationsByAddressZip(fields["address"], fields["zip"])
		if err != nil {
			return nil, helper.NewError("select locations by address", err)
		}
		if len(matches) == 1 {
			id := matches[0].ID
			return &id, nil
		}
	}
	if fields.Has("name", "city", "state") {
		matches, err := r.locations.SelectLocationsByNameCityState(fields["name"], fields["city"], fields["state"])
		if err != nil {
			return nil, helper.NewError("select locations by name", err)
		}
		if len(matches) == 1 {
			id := matches[0].ID
			return &id, nil
		}
	}

	_, candidates, err := r.semanticLocations(fields)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 1:
		id := candidates[0].ID
		return &id, nil
	case 0:
		// Locations are never auto-created, a wrong organization record
		// poisons every later deterministic match.
		return r.queue(parseID, model.EntityKindLocation, model.QueryKindNoResults, fields, nil)
	default:
		ranked := make(model.CandidateList, 0, len(candidates))
		for _, l := range candidates {
			ranked = append(ranked, locationCandidate(l, l.Similarity))
		}
		return r.queue(parseID, model.EntityKindLocation, model.QueryKindMultipleResults, fields, capCandidates(ranked, r.config.MaxCandidates))
	}
}

// semanticPersons runs the semantic tier for persons. An absent embedder, an
// empty search string or an embedding failure all count as zero candidates.
func (r *Resolver) semanticPersons(fields model.FieldMapping) ([]float32, []*model.Person, error) {
	embedding := r.embedSearchText(fields, model.EntityKindPerson)
	if embedding == nil {
		return nil, nil, nil
	}
	candidates, err := r.persons.SelectPersonsBySimilarity(embedding, r.config.SimilarityThreshold, r.config.MaxCandidates)
	if err != nil {
		return nil, nil, helper.NewError("select persons by similarity", err)
	}
	return embedding, candidates, nil
}

func (r *Resolver) semanticLocations(fields model.FieldMapping) ([]float32, []*model.Location, error) {
	embedding := r.embedSearchText(fields, model.EntityKindLocation)
	if embedding == nil {
		return nil, nil, nil
	}
	candidates, err := r.locations.SelectLocationsBySimilarity(embedding, r.config.SimilarityThreshold, r.config.MaxCandidates)
	if err != nil {
		return nil, nil, helper.NewError("select locations by similarity", err)
	}
	return embedding, candidates, nil
}

func (r *Resolver) embedSearchText(fields model.FieldMapping, kind model.EntityKind) []float32 {
	if r.embed == nil {
		return nil
	}
	searchText := fields.SearchText(kind)
	if searchText == "" {
		return nil
	}
	embedding, err := r.embed(searchText)
	if err != nil {
		r.logger.Warn("embedding failed, skipping semantic tier",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return embedding
}

// queue creates one pending review item for the slot. A slot that already
// has an open item is left alone, re-processing a document must not pile up
// duplicate reviews.
func (r *Resolver) queue(parseID uuid.UUID, kind model.EntityKind, queryKind model.QueryKind, fields model.FieldMapping, candidates model.CandidateList) (*uuid.UUID, error) {
	open, err := r.reviews.HasOpenReview(parseID, kind)
	if err != nil {
		return nil, helper.NewError("check open review", err)
	}
	if open {
		r.logger.Info("slot already has an open review item",
			slog.String("parse_id", parseID.String()),
			slog.String("entity_kind", string(kind)),
		)
		return nil, nil
	}

	item := &model.ReviewQueueItem{
		ParseID:    parseID,
		EntityKind: kind,
		QueryKind:  queryKind,
		RawData:    fields,
		Candidates: candidates,
		Status:     model.ReviewStatusPending,
	}
	if err := r.reviews.InsertReview(item); err != nil {
		return nil, helper.NewError("insert review", err)
	}
	r.logger.Info("queued slot for review",
		slog.String("review_id", item.ID.String()),
		slog.String("parse_id", parseID.String()),
		slog.String("entity_kind", string(kind)),
		slog.String("query_kind", string(queryKind)),
	)
	return nil, nil
}

func personCandidate(p *model.Person, similarity float64) model.Candidate {
	display := map[string]string{
		"first_name": p.FirstName,
		"last_name":  p.LastName,
	}
	if p.DOB != nil {
		display["dob"] = p.DOB.Format("2006-01-02")
	}
	return model.Candidate{
		ID:         p.ID,
		Display:    display,
		Similarity: similarity,
	}
}

func locationCandidate(l *model.Location, similarity float64) model.Candidate {
	display := map[string]string{
		"name": l.Name,
	}
	for key, value := range map[string]*string{
		"address": l.Address,
		"city":    l.City,
		"state":   l.State,
		"zip":     l.Zip,
	} {
		if value != nil && *value != "" {
			display[key] = *value
		}
	}
	return model.Candidate{
		ID:         l.ID,
		Display:    display,
		Similarity: similarity,
	}
}

func capCandidates(candidates model.CandidateList, limit int) model.CandidateList {
	if limit > 0 && len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}
