package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/sfroehler/docmatch/helper"
	"github.com/sfroehler/docmatch/model"
	loadSql "github.com/sfroehler/docmatch/sql"
)

// PersonsDBHandlerFunctions defines the interface for Persons database operations.
type PersonsDBHandlerFunctions interface {
	InsertPerson(person *model.Person) error
	SelectPerson(id uuid.UUID) (*model.Person, error)
	SelectPersonsExact(firstName string, lastName string, dob *time.Time) ([]*model.Person, error)
	SelectPersonsBySimilarity(embedding []float32, threshold float64, limit int) ([]*model.Person, error)
	SelectPersonsMissingEmbedding(limit int) ([]*model.Person, error)
	UpdatePersonEmbedding(id uuid.UUID, embedding []float32) error
	DeletePerson(id uuid.UUID) error
}

// PersonsDBHandler handles person-related database operations
type PersonsDBHandler struct {
	db *helper.Database
}

// NewPersonsDBHandler creates a new persons database handler.
// It initializes the database connection and loads person-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewPersonsDBHandler(db *helper.Database, embeddingDim int, force bool) (*PersonsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	personsDbHandler := &PersonsDBHandler{
		db: db,
	}

	err := loadSql.LoadPersonsSql(personsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load persons sql", err)
	}

	err = personsDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized PersonsDBHandler")

	return personsDbHandler, nil
}

// CreateTable creates the 'persons' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *PersonsDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_persons($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing persons table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table persons")

	return nil
}

// InsertPerson inserts a new person record. The embedding may be nil when
// the embedder is unavailable; such rows are invisible to the semantic tier
// until backfilled.
func (h *PersonsDBHandler) InsertPerson(person *model.Person) error {
	var embedding interface{}
	if len(person.Embedding) > 0 {
		embedding = pgvector.NewVector(person.Embedding)
	}

	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_person($1, $2, $3, $4, $5)`,
		person.FirstName,
		person.LastName,
		person.DOB,
		person.LegalFlags,
		embedding,
	)

	err := row.Scan(
		&person.ID,
		&person.FirstName,
		&person.LastName,
		&person.DOB,
		&person.LegalFlags,
		&person.CreatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectPerson retrieves a person by ID
func (h *PersonsDBHandler) SelectPerson(id uuid.UUID) (*model.Person, error) {
	person := &model.Person{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_person($1)`,
		id,
	)

	err := row.Scan(
		&person.ID,
		&person.FirstName,
		&person.LastName,
		&person.DOB,
		&person.LegalFlags,
		&person.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return person, nil
}

// SelectPersonsExact runs the deterministic match predicate:
// case-insensitive equality on given+family name, with the birth date
// required to match exactly when non-nil.
func (h *PersonsDBHandler) SelectPersonsExact(firstName string, lastName string, dob *time.Time) ([]*model.Person, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_persons_exact($1, $2, $3)`,
		firstName,
		lastName,
		dob,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var persons []*model.Person
	for rows.Next() {
		person := &model.Person{}
		err := rows.Scan(
			&person.ID,
			&person.FirstName,
			&person.LastName,
			&person.DOB,
			&person.LegalFlags,
			&person.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		persons = append(persons, person)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return persons, nil
}

// SelectPersonsBySimilarity performs vector similarity search over persons
// with stored embeddings, returning rows at or above the threshold ranked
// by similarity descending.
func (h *PersonsDBHandler) SelectPersonsBySimilarity(embedding []float32, threshold float64, limit int) ([]*model.Person, error) {
	embeddingVector := pgvector.NewVector(embedding)

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_persons_by_similarity($1, $2, $3)`,
		embeddingVector,
		threshold,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var persons []*model.Person
	for rows.Next() {
		person := &model.Person{}
		err := rows.Scan(
			&person.ID,
			&person.FirstName,
			&person.LastName,
			&person.DOB,
			&person.LegalFlags,
			&person.CreatedAt,
			&person.Similarity,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		persons = append(persons, person)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return persons, nil
}

// SelectPersonsMissingEmbedding retrieves persons without a stored embedding
func (h *PersonsDBHandler) SelectPersonsMissingEmbedding(limit int) ([]*model.Person, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_persons_missing_embedding($1)`,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var persons []*model.Person
	for rows.Next() {
		person := &model.Person{}
		err := rows.Scan(
			&person.ID,
			&person.FirstName,
			&person.LastName,
			&person.DOB,
			&person.LegalFlags,
			&person.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		persons = append(persons, person)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return persons, nil
}

// UpdatePersonEmbedding stores the embedding of a person
func (h *PersonsDBHandler) UpdatePersonEmbedding(id uuid.UUID, embedding []float32) error {
	_, err := h.db.Instance.Exec(
		`SELECT update_person_embedding($1, $2)`,
		id,
		pgvector.NewVector(embedding),
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeletePerson deletes a person by ID
func (h *PersonsDBHandler) DeletePerson(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_person($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
