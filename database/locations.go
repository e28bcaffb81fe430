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

// LocationsDBHandlerFunctions defines the interface for Locations database operations.
type LocationsDBHandlerFunctions interface {
	InsertLocation(location *model.Location) error
	SelectLocation(id uuid.UUID) (*model.Location, error)
	SelectLocationsByAddressZip(address string, zip string) ([]*model.Location, error)
	SelectLocationsByNameCityState(name string, city string, state string) ([]*model.Location, error)
	SelectLocationsBySimilarity(embedding []float32, threshold float64, limit int) ([]*model.Location, error)
	SelectLocationsMissingEmbedding(limit int) ([]*model.Location, error)
	UpdateLocationEmbedding(id uuid.UUID, embedding []float32) error
	DeleteLocation(id uuid.UUID) error
}

// LocationsDBHandler handles location-related database operations
type LocationsDBHandler struct {
	db *helper.Database
}

// NewLocationsDBHandler creates a new locations database handler.
// It initializes the database connection and loads location-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewLocationsDBHandler(db *helper.Database, embeddingDim int, force bool) (*LocationsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	locationsDbHandler := &LocationsDBHandler{
		db: db,
	}

	err := loadSql.LoadLocationsSql(locationsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load locations sql", err)
	}

	err = locationsDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized LocationsDBHandler")

	return locationsDbHandler, nil
}

// CreateTable creates the 'locations' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *LocationsDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_locations($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing locations table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table locations")

	return nil
}

// scanLocation scans one location row without a similarity column.
func scanLocation(row interface{ Scan(...interface{}) error }, location *model.Location, withSimilarity bool) error {
	dest := []interface{}{
		&location.ID,
		&location.Name,
		&location.Address,
		&location.City,
		&location.State,
		&location.Zip,
		&location.Country,
		&location.Phone,
		&location.Email,
		&location.Website,
		&location.Latitude,
		&location.Longitude,
		&location.CreatedAt,
	}
	if withSimilarity {
		dest = append(dest, &location.Similarity)
	}
	return row.Scan(dest...)
}

// InsertLocation inserts a new location record. The embedding may be nil
// when the embedder is unavailable.
func (h *LocationsDBHandler) InsertLocation(location *model.Location) error {
	var embedding interface{}
	if len(location.Embedding) > 0 {
		embedding = pgvector.NewVector(location.Embedding)
	}

	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_location($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		location.Name,
		location.Address,
		location.City,
		location.State,
		location.Zip,
		location.Country,
		location.Phone,
		location.Email,
		location.Website,
		location.Latitude,
		location.Longitude,
		embedding,
	)

	err := scanLocation(row, location, false)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectLocation retrieves a location by ID
func (h *LocationsDBHandler) SelectLocation(id uuid.UUID) (*model.Location, error) {
	location := &model.Location{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_location($1)`,
		id,
	)

	err := scanLocation(row, location, false)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return location, nil
}

// SelectLocationsByAddressZip runs the first deterministic match clause:
// exact equality on address and postal code.
func (h *LocationsDBHandler) SelectLocationsByAddressZip(address string, zip string) ([]*model.Location, error) {
	return h.selectLocations(
		`SELECT * FROM select_locations_by_address_zip($1, $2)`,
		address, zip,
	)
}

// SelectLocationsByNameCityState runs the second deterministic match clause:
// exact equality on name, city and state.
func (h *LocationsDBHandler) SelectLocationsByNameCityState(name string, city string, state string) ([]*model.Location, error) {
	return h.selectLocations(
		`SELECT * FROM select_locations_by_name_city_state($1, $2, $3)`,
		name, city, state,
	)
}

// SelectLocationsMissingEmbedding retrieves locations without a stored embedding
func (h *LocationsDBHandler) SelectLocationsMissingEmbedding(limit int) ([]*model.Location, error) {
	return h.selectLocations(
		`SELECT * FROM select_locations_missing_embedding($1)`,
		limit,
	)
}

func (h *LocationsDBHandler) selectLocations(query string, args ...interface{}) ([]*model.Location, error) {
	rows, err := h.db.Instance.Query(query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var locations []*model.Location
	for rows.Next() {
		location := &model.Location{}
		err := scanLocation(rows, location, false)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		locations = append(locations, location)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return locations, nil
}

// SelectLocationsBySimilarity performs vector similarity search over
// locations with stored embeddings, returning rows at or above the
// threshold ranked by similarity descending.
func (h *LocationsDBHandler) SelectLocationsBySimilarity(embedding []float32, threshold float64, limit int) ([]*model.Location, error) {
	embeddingVector := pgvector.NewVector(embedding)

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_locations_by_similarity($1, $2, $3)`,
		embeddingVector,
		threshold,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var locations []*model.Location
	for rows.Next() {
		location := &model.Location{}
		err := scanLocation(rows, location, true)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		locations = append(locations, location)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return locations, nil
}

// UpdateLocationEmbedding stores the embedding of a location
func (h *LocationsDBHandler) UpdateLocationEmbedding(id uuid.UUID, embedding []float32) error {
	_, err := h.db.Instance.Exec(
		`SELECT update_location_embedding($1, $2)`,
		id,
		pgvector.NewVector(embedding),
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteLocation deletes a location by ID
func (h *LocationsDBHandler) DeleteLocation(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_location($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
