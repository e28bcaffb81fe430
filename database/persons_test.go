package database

import (
	"testing"
	"time"

	"github.com/sfroehler/docmatch/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEmbedding returns a 384-dim unit-ish vector dominated by one axis,
// so vectors built from different axes are dissimilar.
func testEmbedding(axis int) []float32 {
	embedding := make([]float32, 384)
	for i := range embedding {
		embedding[i] = 0.01
	}
	embedding[axis] = 1.0
	return embedding
}

func TestPersonsNewPersonsDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewPersonsDBHandler", func(t *testing.T) {
		personsDbHandler, err := NewPersonsDBHandler(database, 384, true)
		assert.NoError(t, err, "Expected NewPersonsDBHandler to not return an error")
		require.NotNil(t, personsDbHandler, "Expected NewPersonsDBHandler to return a non-nil instance")
		require.NotNil(t, personsDbHandler.db, "Expected NewPersonsDBHandler to have a non-nil database instance")
		require.NotNil(t, personsDbHandler.db.Instance, "Expected NewPersonsDBHandler to have a non-nil database connection instance")
	})

	t.Run("Invalid call NewPersonsDBHandler with nil database", func(t *testing.T) {
		_, err := NewPersonsDBHandler(nil, 384, false)
		assert.Error(t, err, "Expected error when creating PersonsDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func TestPersonsInsert(t *testing.T) {
	database := initDB(t)

	personsDbHandler, err := NewPersonsDBHandler(database, 384, true)
	require.NoError(t, err, "Expected NewPersonsDBHandler to not return an error")

	t.Run("Insert person", func(t *testing.T) {
		dob := time.Date(1985, 3, 14, 0, 0, 0, 0, time.UTC)
		person := &model.Person{
			FirstName:  "John",
			LastName:   "Smith",
			DOB:        &dob,
			LegalFlags: model.Metadata{"power_of_attorney": true},
		}

		err := personsDbHandler.InsertPerson(person)
		assert.NoError(t, err, "Expected Insert to not return an error")
		assert.NotEmpty(t, person.ID, "Expected inserted person to have an ID")
		assert.WithinDuration(t, person.CreatedAt, time.Now(), 2*time.Second, "Expected CreatedAt to be set")

		// Cleanup
		personsDbHandler.DeletePerson(person.ID)
	})

	t.Run("Insert person without embedding", func(t *testing.T) {
		person := &model.Person{
			FirstName: "Jane",
			LastName:  "Doe",
		}

		err := personsDbHandler.InsertPerson(person)
		assert.NoError(t, err, "Expected Insert without embedding to not return an error")
		assert.NotEmpty(t, person.ID, "Expected inserted person to have an ID")

		// Cleanup
		personsDbHandler.DeletePerson(person.ID)
	})

	t.Run("Insert person with embedding", func(t *testing.T) {
		person := &model.Person{
			FirstName: "Erika",
			LastName:  "Mustermann",
			Embedding: testEmbedding(0),
		}

		err := personsDbHandler.InsertPerson(person)
		assert.NoError(t, err, "Expected Insert with embedding to not return an error")

		// Cleanup
		personsDbHandler.DeletePerson(person.ID)
	})
}

func TestPersonsGet(t *testing.T) {
	database := initDB(t)

	personsDbHandler, err := NewPersonsDBHandler(database, 384, true)
	require.NoError(t, err)

	dob := time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)
	person := &model.Person{
		FirstName:  "Heather",
		LastName:   "Brown",
		DOB:        &dob,
		LegalFlags: model.Metadata{},
	}
	err = personsDbHandler.InsertPerson(person)
	require.NoError(t, err)

	retrievedPerson, err := personsDbHandler.SelectPerson(person.ID)
	assert.NoError(t, err, "Expected Get to not return an error")
	assert.NotNil(t, retrievedPerson, "Expected Get to return a non-nil person")
	assert.Equal(t, person.ID, retrievedPerson.ID, "Expected person IDs to match")
	assert.Equal(t, person.FirstName, retrievedPerson.FirstName, "Expected first names to match")
	assert.Equal(t, person.LastName, retrievedPerson.LastName, "Expected last names to match")
	require.NotNil(t, retrievedPerson.DOB, "Expected DOB to be set")
	assert.Equal(t, dob.Format("2006-01-02"), retrievedPerson.DOB.Format("2006-01-02"), "Expected DOB to match")

	// Cleanup
	personsDbHandler.DeletePerson(person.ID)
}

func TestPersonsSelectExact(t *testing.T) {
	database := initDB(t)

	personsDbHandler, err := NewPersonsDBHandler(database, 384, true)
	require.NoError(t, err)

	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	person := &model.Person{
		FirstName: "Marcus",
		LastName:  "Webb",
		DOB:       &dob,
	}
	err = personsDbHandler.InsertPerson(person)
	require.NoError(t, err)

	t.Run("Exact match is case insensitive", func(t *testing.T) {
		results, err := personsDbHandler.SelectPersonsExact("marcus", "WEBB", nil)
		assert.NoError(t, err, "Expected SelectPersonsExact to not return an error")
		require.Len(t, results, 1, "Expected exactly one match")
		assert.Equal(t, person.ID, results[0].ID, "Expected person IDs to match")
	})

	t.Run("Exact match with matching birth date", func(t *testing.T) {
		results, err := personsDbHandler.SelectPersonsExact("Marcus", "Webb", &dob)
		assert.NoError(t, err)
		assert.Len(t, results, 1, "Expected exactly one match with matching DOB")
	})

	t.Run("Exact match with wrong birth date", func(t *testing.T) {
		wrongDob := time.Date(1991, 6, 15, 0, 0, 0, 0, time.UTC)
		results, err := personsDbHandler.SelectPersonsExact("Marcus", "Webb", &wrongDob)
		assert.NoError(t, err)
		assert.Empty(t, results, "Expected no match with a different DOB")
	})

	t.Run("Exact match with unknown name", func(t *testing.T) {
		results, err := personsDbHandler.SelectPersonsExact("Nobody", "Here", nil)
		assert.NoError(t, err)
		assert.Empty(t, results, "Expected no match for unknown name")
	})

	// Cleanup
	personsDbHandler.DeletePerson(person.ID)
}

func TestPersonsSelectBySimilarity(t *testing.T) {
	database := initDB(t)

	personsDbHandler, err := NewPersonsDBHandler(database, 384, true)
	require.NoError(t, err)

	near := &model.Person{
		FirstName: "Jon",
		LastName:  "Smith",
		Embedding: testEmbedding(0),
	}
	far := &model.Person{
		FirstName: "Alice",
		LastName:  "Quartermaine",
		Embedding: testEmbedding(200),
	}
	noEmbedding := &model.Person{
		FirstName: "Ghost",
		LastName:  "Row",
	}
	for _, person := range []*model.Person{near, far, noEmbedding} {
		err = personsDbHandler.InsertPerson(person)
		require.NoError(t, err)
	}

	t.Run("Similarity search returns rows above threshold ranked descending", func(t *testing.T) {
		results, err := personsDbHandler.SelectPersonsBySimilarity(testEmbedding(0), 0.75, 5)
		assert.NoError(t, err, "Expected SelectPersonsBySimilarity to not return an error")
		require.Len(t, results, 1, "Expected only the near person above threshold")
		assert.Equal(t, near.ID, results[0].ID, "Expected the near person to match")
		assert.GreaterOrEqual(t, results[0].Similarity, 0.75, "Expected similarity at or above threshold")
	})

	t.Run("Similarity search skips rows without embedding", func(t *testing.T) {
		results, err := personsDbHandler.SelectPersonsBySimilarity(testEmbedding(0), 0.0, 10)
		assert.NoError(t, err)
		for _, result := range results {
			assert.NotEqual(t, noEmbedding.ID, result.ID, "Expected rows without embedding to be invisible")
		}
	})

	t.Run("Similarity search respects limit", func(t *testing.T) {
		results, err := personsDbHandler.SelectPersonsBySimilarity(testEmbedding(0), 0.0, 1)
		assert.NoError(t, err)
		assert.Len(t, results, 1, "Expected at most one result")
	})

	// Cleanup
	for _, person := range []*model.Person{near, far, noEmbedding} {
		personsDbHandler.DeletePerson(person.ID)
	}
}

func TestPersonsEmbeddingBackfill(t *testing.T) {
	database := initDB(t)

	personsDbHandler, err := NewPersonsDBHandler(database, 384, true)
	require.NoError(t, err)

	person := &model.Person{
		FirstName: "Pending",
		LastName:  "Embedding",
	}
	err = personsDbHandler.InsertPerson(person)
	require.NoError(t, err)

	t.Run("Person without embedding is listed as missing", func(t *testing.T) {
		missing, err := personsDbHandler.SelectPersonsMissingEmbedding(10)
		assert.NoError(t, err, "Expected SelectPersonsMissingEmbedding to not return an error")

		found := false
		for _, m := range missing {
			if m.ID == person.ID {
				found = true
			}
		}
		assert.True(t, found, "Expected person without embedding to be listed")
	})

	t.Run("Update embedding makes person visible to similarity search", func(t *testing.T) {
		err := personsDbHandler.UpdatePersonEmbedding(person.ID, testEmbedding(5))
		assert.NoError(t, err, "Expected UpdatePersonEmbedding to not return an error")

		results, err := personsDbHandler.SelectPersonsBySimilarity(testEmbedding(5), 0.75, 5)
		assert.NoError(t, err)
		require.Len(t, results, 1, "Expected backfilled person to match")
		assert.Equal(t, person.ID, results[0].ID)

		missing, err := personsDbHandler.SelectPersonsMissingEmbedding(10)
		assert.NoError(t, err)
		for _, m := range missing {
			assert.NotEqual(t, person.ID, m.ID, "Expected backfilled person to no longer be missing")
		}
	})

	// Cleanup
	personsDbHandler.DeletePerson(person.ID)
}

func TestPersonsDelete(t *testing.T) {
	database := initDB(t)

	personsDbHandler, err := NewPersonsDBHandler(database, 384, true)
	require.NoError(t, err)

	person := &model.Person{
		FirstName: "To",
		LastName:  "Delete",
	}
	err = personsDbHandler.InsertPerson(person)
	require.NoError(t, err)

	err = personsDbHandler.DeletePerson(person.ID)
	assert.NoError(t, err, "Expected Delete to not return an error")

	// Verify deletion
	_, err = personsDbHandler.SelectPerson(person.ID)
	assert.Error(t, err, "Expected Get to return an error for deleted person")
}
