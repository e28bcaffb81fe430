package resolve

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sfroehler/docmatch/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakePersonStore keeps persons in memory and answers the exact query the
// way the database predicate does.
type fakePersonStore struct {
	persons       []*model.Person
	similar       []*model.Person
	inserted      []*model.Person
	exactErr      error
	similarityErr error
}

func (f *fakePersonStore) InsertPerson(person *model.Person) error {
	person.ID = uuid.New()
	f.persons = append(f.persons, person)
	f.inserted = append(f.inserted, person)
	return nil
}

func (f *fakePersonStore) SelectPersonsExact(firstName string, lastName string, dob *time.Time) ([]*model.Person, error) {
	if f.exactErr != nil {
		return nil, f.exactErr
	}
	var matches []*model.Person
	for _, p := range f.persons {
		if !strings.EqualFold(p.FirstName, firstName) || !strings.EqualFold(p.LastName, lastName) {
			continue
		}
		if dob != nil && (p.DOB == nil || !p.DOB.Equal(*dob)) {
			continue
		}
		matches = append(matches, p)
	}
	return matches, nil
}

func (f *fakePersonStore) SelectPersonsBySimilarity(embedding []float32, threshold float64, limit int) ([]*model.Person, error) {
	if f.similarityErr != nil {
		return nil, f.similarityErr
	}
	var matches []*model.Person
	for _, p := range f.similar {
		if p.Similarity >= threshold && len(matches) < limit {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

type fakeLocationStore struct {
	locations []*model.Location
	similar   []*model.Location
}

func (f *fakeLocationStore) SelectLocationsByAddressZip(address string, zip string) ([]*model.Location, error) {
	var matches []*model.Location
	for _, l := range f.locations {
		if l.Address != nil && strings.EqualFold(*l.Address, address) && l.Zip != nil && *l.Zip == zip {
			matches = append(matches, l)
		}
	}
	return matches, nil
}

func (f *fakeLocationStore) SelectLocationsByNameCityState(name string, city string, state string) ([]*model.Location, error) {
	var matches []*model.Location
	for _, l := range f.locations {
		if !strings.EqualFold(l.Name, name) {
			continue
		}
		if l.City == nil || !strings.EqualFold(*l.City, city) {
			continue
		}
		if l.State == nil || !strings.EqualFold(*l.State, state) {
			continue
		}
		matches = append(matches, l)
	}
	return matches, nil
}

func (f *fakeLocationStore) SelectLocationsBySimilarity(embedding []float32, threshold float64, limit int) ([]*model.Location, error) {
	var matches []*model.Location
	for _, l := range f.similar {
		if l.Similarity >= threshold && len(matches) < limit {
			matches = append(matches, l)
		}
	}
	return matches, nil
}

type fakeReviewStore struct {
	items []*model.ReviewQueueItem
}

func (f *fakeReviewStore) InsertReview(item *model.ReviewQueueItem) error {
	item.ID = uuid.New()
	f.items = append(f.items, item)
	return nil
}

func (f *fakeReviewStore) HasOpenReview(parseID uuid.UUID, kind model.EntityKind) (bool, error) {
	for _, item := range f.items {
		if item.ParseID == parseID && item.EntityKind == kind && item.Status == model.ReviewStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func fixedEmbedder(calls *int) func(string) ([]float32, error) {
	return func(text string) ([]float32, error) {
		if calls != nil {
			*calls++
		}
		return []float32{0.1, 0.2, 0.3}, nil
	}
}

func dob(value string) *time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return &t
}

func newTestResolver(persons *fakePersonStore, locations *fakeLocationStore, reviews *fakeReviewStore, embedCalls *int) *Resolver {
	return NewResolver(persons, locations, reviews, fixedEmbedder(embedCalls), model.DefaultResolverConfig(), testLogger())
}

func TestResolvePersonDeterministic(t *testing.T) {
	t.Run("Unique exact match wins without the semantic tier", func(t *testing.T) {
		existing := &model.Person{ID: uuid.New(), FirstName: "John", LastName: "Smith"}
		persons := &fakePersonStore{persons: []*model.Person{existing}}
		reviews := &fakeReviewStore{}
		embedCalls := 0
		resolver := newTestResolver(persons, &fakeLocationStore{}, reviews, &embedCalls)

		id, err := resolver.Resolve(model.FieldMapping{"first_name": "john", "last_name": "SMITH"}, model.EntityKindPerson, uuid.New())

		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, existing.ID, *id)
		assert.Equal(t, 0, embedCalls, "Expected no embedding call on a deterministic hit")
		assert.Empty(t, reviews.items)
	})

	t.Run("Birth date must match when present", func(t *testing.T) {
		existing := &model.Person{ID: uuid.New(), FirstName: "John", LastName: "Smith", DOB: dob("1990-05-01")}
		persons := &fakePersonStore{persons: []*model.Person{existing}}
		embedCalls := 0
		resolver := newTestResolver(persons, &fakeLocationStore{}, &fakeReviewStore{}, &embedCalls)

		id, err := resolver.Resolve(model.FieldMapping{
			"first_name": "John",
			"last_name":  "Smith",
			"dob":        "1991-05-01",
		}, model.EntityKindPerson, uuid.New())

		require.NoError(t, err)
		require.NotNil(t, id, "Expected a new person from the zero-candidate path")
		assert.NotEqual(t, existing.ID, *id)
		require.Len(t, persons.inserted, 1)
		assert.Equal(t, "1991-05-01", persons.inserted[0].DOB.Format("2006-01-02"))
	})

	t.Run("Ambiguous exact match queues for review", func(t *testing.T) {
		twinA := &model.Person{ID: uuid.New(), FirstName: "John", LastName: "Smith"}
		twinB := &model.Person{ID: uuid.New(), FirstName: "John", LastName: "Smith"}
		persons := &fakePersonStore{persons: []*model.Person{twinA, twinB}}
		reviews := &fakeReviewStore{}
		resolver := newTestResolver(persons, &fakeLocationStore{}, reviews, nil)

		id, err := resolver.Resolve(model.FieldMapping{"first_name": "John", "last_name": "Smith"}, model.EntityKindPerson, uuid.New())

		require.NoError(t, err)
		assert.Nil(t, id)
		require.Len(t, reviews.items, 1)
		assert.Equal(t, model.QueryKindMultipleResults, reviews.items[0].QueryKind)
		assert.Len(t, reviews.items[0].Candidates, 2)
	})
}

func TestResolvePersonSemantic(t *testing.T) {
	t.Run("Single candidate above threshold is accepted", func(t *testing.T) {
		match := &model.Person{ID: uuid.New(), FirstName: "Jon", LastName: "Smith", Similarity: 0.88}
		persons := &fakePersonStore{similar: []*model.Person{match}}
		resolver := newTestResolver(persons, &fakeLocationStore{}, &fakeReviewStore{}, nil)

		id, err := resolver.Resolve(model.FieldMapping{"first_name": "John", "last_name": "Smith"}, model.EntityKindPerson, uuid.New())

		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, match.ID, *id)
		assert.Empty(t, persons.inserted, "Expected no auto-create on a semantic hit")
	})

	t.Run("Multiple candidates queue ranked by similarity", func(t *testing.T) {
		best := &model.Person{ID: uuid.New(), FirstName: "John", LastName: "Smith", Similarity: 0.81}
		second := &model.Person{ID: uuid.New(), FirstName: "Jon", LastName: "Smith", Similarity: 0.77}
		persons := &fakePersonStore{similar: []*model.Person{best, second}}
		reviews := &fakeReviewStore{}
		resolver := newTestResolver(persons, &fakeLocationStore{}, reviews, nil)

		id, err := resolver.Resolve(model.FieldMapping{"first_name": "John", "last_name": "Smith"}, model.EntityKindPerson, uuid.New())

		require.NoError(t, err)
		assert.Nil(t, id)
		require.Len(t, reviews.items, 1)
		item := reviews.items[0]
		assert.Equal(t, model.QueryKindMultipleResults, item.QueryKind)
		require.Len(t, item.Candidates, 2)
		assert.Equal(t, best.ID, item.Candidates[0].ID)
		assert.Equal(t, 0.81, item.Candidates[0].Similarity)
		assert.Equal(t, second.ID, item.Candidates[1].ID)
		assert.Equal(t, 0.77, item.Candidates[1].Similarity)
		assert.Equal(t, "John", item.Candidates[0].Display["first_name"])
	})

	t.Run("Zero candidates with a full name creates the person", func(t *testing.T) {
		persons := &fakePersonStore{}
		reviews := &fakeReviewStore{}
		resolver := newTestResolver(persons, &fakeLocationStore{}, reviews, nil)

		id, err := resolver.Resolve(model.FieldMapping{"first_name": "John", "last_name": "Smith"}, model.EntityKindPerson, uuid.New())

		require.NoError(t, err)
		require.NotNil(t, id)
		require.Len(t, persons.inserted, 1)
		assert.Equal(t, persons.inserted[0].ID, *id)
		assert.NotEmpty(t, persons.inserted[0].Embedding, "Expected the search embedding to be stored on the new person")
		assert.Empty(t, reviews.items)
	})

	t.Run("Created person resolves deterministically next time", func(t *testing.T) {
		persons := &fakePersonStore{}
		resolver := newTestResolver(persons, &fakeLocationStore{}, &fakeReviewStore{}, nil)
		fields := model.FieldMapping{"first_name": "John", "last_name": "Smith"}

		first, err := resolver.Resolve(fields, model.EntityKindPerson, uuid.New())
		require.NoError(t, err)
		second, err := resolver.Resolve(fields, model.EntityKindPerson, uuid.New())
		require.NoError(t, err)

		require.NotNil(t, first)
		require.NotNil(t, second)
		assert.Equal(t, *first, *second, "Expected the second pass to match the created person")
		assert.Len(t, persons.inserted, 1, "Expected no duplicate creation")
	})

	t.Run("Zero candidates without a full name queues no_results", func(t *testing.T) {
		persons := &fakePersonStore{}
		reviews := &fakeReviewStore{}
		resolver := newTestResolver(persons, &fakeLocationStore{}, reviews, nil)

		id, err := resolver.Resolve(model.FieldMapping{"last_name": "Smith"}, model.EntityKindPerson, uuid.New())

		require.NoError(t, err)
		assert.Nil(t, id)
		assert.Empty(t, persons.inserted)
		require.Len(t, reviews.items, 1)
		assert.Equal(t, model.QueryKindNoResults, reviews.items[0].QueryKind)
		assert.Equal(t, model.ReviewStatusPending, reviews.items[0].Status)
		assert.Equal(t, "Smith", reviews.items[0].RawData["last_name"])
	})
}

func TestResolveLocation(t *testing.T) {
	addr := "1024 Main St"
	city := "Springfield"
	state := "IL"
	zip := "62701"

	t.Run("Address and zip match wins", func(t *testing.T) {
		existing := &model.Location{ID: uuid.New(), Name: "Mercy General Hospital", Address: &addr, Zip: &zip}
		locations := &fakeLocationStore{locations: []*model.Location{existing}}
		resolver := newTestResolver(&fakePersonStore{}, locations, &fakeReviewStore{}, nil)

		id, err := resolver.Resolve(model.FieldMapping{
			"address": "1024 MAIN ST",
			"zip":     "62701",
		}, model.EntityKindLocation, uuid.New())

		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, existing.ID, *id)
	})

	t.Run("Name, city and state match wins", func(t *testing.T) {
		existing := &model.Location{ID: uuid.New(), Name: "Mercy General Hospital", City: &city, State: &state}
		locations := &fakeLocationStore{locations: []*model.Location{existing}}
		resolver := newTestResolver(&fakePersonStore{}, locations, &fakeReviewStore{}, nil)

		id, err := resolver.Resolve(model.FieldMapping{
			"name":  "mercy general hospital",
			"city":  "Springfield",
			"state": "IL",
		}, model.EntityKindLocation, uuid.New())

		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, existing.ID, *id)
	})

	t.Run("Organization name synonym is normalized before matching", func(t *testing.T) {
		existing := &model.Location{ID: uuid.New(), Name: "Mercy General Hospital", City: &city, State: &state}
		locations := &fakeLocationStore{locations: []*model.Location{existing}}
		resolver := newTestResolver(&fakePersonStore{}, locations, &fakeReviewStore{}, nil)

		id, err := resolver.Resolve(model.FieldMapping{
			"organization_name": "Mercy General Hospital",
			"city":              "Springfield",
			"state":             "IL",
		}, model.EntityKindLocation, uuid.New())

		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, existing.ID, *id)
	})

	t.Run("Zero candidates always queue, locations are never auto-created", func(t *testing.T) {
		reviews := &fakeReviewStore{}
		resolver := newTestResolver(&fakePersonStore{}, &fakeLocationStore{}, reviews, nil)

		id, err := resolver.Resolve(model.FieldMapping{
			"name":  "Mercy General Hospital",
			"city":  "Springfield",
			"state": "IL",
		}, model.EntityKindLocation, uuid.New())

		require.NoError(t, err)
		assert.Nil(t, id)
		require.Len(t, reviews.items, 1)
		assert.Equal(t, model.QueryKindNoResults, reviews.items[0].QueryKind)
		assert.Equal(t, model.EntityKindLocation, reviews.items[0].EntityKind)
	})

	t.Run("Candidate list is capped at the configured maximum", func(t *testing.T) {
		var similar []*model.Location
		for i := 0; i < 8; i++ {
			similar = append(similar, &model.Location{ID: uuid.New(), Name: "Clinic", Similarity: 0.9})
		}
		locations := &fakeLocationStore{similar: similar}
		reviews := &fakeReviewStore{}
		resolver := newTestResolver(&fakePersonStore{}, locations, reviews, nil)

		id, err := resolver.Resolve(model.FieldMapping{"name": "Clinic"}, model.EntityKindLocation, uuid.New())

		require.NoError(t, err)
		assert.Nil(t, id)
		require.Len(t, reviews.items, 1)
		assert.Len(t, reviews.items[0].Candidates, 5)
	})
}

func TestResolveWithoutSemanticTier(t *testing.T) {
	t.Run("Nil embedder counts as zero candidates", func(t *testing.T) {
		reviews := &fakeReviewStore{}
		resolver := NewResolver(&fakePersonStore{}, &fakeLocationStore{}, reviews, nil, model.DefaultResolverConfig(), testLogger())

		id, err := resolver.Resolve(model.FieldMapping{"name": "Mercy General Hospital"}, model.EntityKindLocation, uuid.New())

		require.NoError(t, err)
		assert.Nil(t, id)
		require.Len(t, reviews.items, 1)
		assert.Equal(t, model.QueryKindNoResults, reviews.items[0].QueryKind)
	})

	t.Run("Embedding failure falls through to the no-match path", func(t *testing.T) {
		persons := &fakePersonStore{similar: []*model.Person{{ID: uuid.New(), Similarity: 0.9}}}
		resolver := NewResolver(persons, &fakeLocationStore{}, &fakeReviewStore{}, func(text string) ([]float32, error) {
			return nil, errors.New("model not loaded")
		}, model.DefaultResolverConfig(), testLogger())

		id, err := resolver.Resolve(model.FieldMapping{"first_name": "John", "last_name": "Smith"}, model.EntityKindPerson, uuid.New())

		require.NoError(t, err, "Expected an embedding failure to degrade, not abort")
		require.NotNil(t, id, "Expected the zero-candidate auto-create path")
		require.Len(t, persons.inserted, 1)
		assert.Empty(t, persons.inserted[0].Embedding)
	})
}

func TestResolveQueueGuard(t *testing.T) {
	t.Run("Open review item suppresses a duplicate", func(t *testing.T) {
		reviews := &fakeReviewStore{}
		resolver := newTestResolver(&fakePersonStore{}, &fakeLocationStore{}, reviews, nil)
		parseID := uuid.New()
		fields := model.FieldMapping{"name": "Mercy General Hospital"}

		first, err := resolver.Resolve(fields, model.EntityKindLocation, parseID)
		require.NoError(t, err)
		second, err := resolver.Resolve(fields, model.EntityKindLocation, parseID)
		require.NoError(t, err)

		assert.Nil(t, first)
		assert.Nil(t, second)
		assert.Len(t, reviews.items, 1, "Expected no duplicate review item for the same slot")
	})

	t.Run("Invalid entity kind returns an error", func(t *testing.T) {
		resolver := newTestResolver(&fakePersonStore{}, &fakeLocationStore{}, &fakeReviewStore{}, nil)

		_, err := resolver.Resolve(model.FieldMapping{}, model.EntityKind("benefit"), uuid.New())

		assert.Error(t, err)
	})
}
