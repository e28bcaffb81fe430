package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sfroehler/docmatch/helper"
	"github.com/sfroehler/docmatch/model"
	loadSql "github.com/sfroehler/docmatch/sql"
)

// ParsesDBHandlerFunctions defines the interface for DocumentParse database operations.
type ParsesDBHandlerFunctions interface {
	InsertParse(parse *model.DocumentParse) error
	SelectParse(id uuid.UUID) (*model.DocumentParse, error)
	UpdateMatchedEntities(id uuid.UUID, locationID *uuid.UUID, personID *uuid.UUID) error
	DeleteParse(id uuid.UUID) error
}

// ParsesDBHandler handles document-parse-related database operations
type ParsesDBHandler struct {
	db *helper.Database
}

// NewParsesDBHandler creates a new document parses database handler.
// It initializes the database connection and loads parse-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewParsesDBHandler(db *helper.Database, force bool) (*ParsesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	parsesDbHandler := &ParsesDBHandler{
		db: db,
	}

	err := loadSql.LoadParsesSql(parsesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load parses sql", err)
	}

	err = parsesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ParsesDBHandler")

	return parsesDbHandler, nil
}

// CreateTable creates the 'document_parses' table in the database.
// If the table already exists, it does not create it again.
func (h *ParsesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_parses();`)
	if err != nil {
		log.Panicf("error initializing document_parses table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table document_parses")

	return nil
}

func scanParse(row interface{ Scan(...interface{}) error }, parse *model.DocumentParse) error {
	return row.Scan(
		&parse.ID,
		&parse.DocType,
		&parse.RawText,
		&parse.SenderText,
		&parse.RecipientText,
		&parse.BodyText,
		&parse.ParsedSender,
		&parse.ParsedRecipient,
		&parse.MatchedLocationID,
		&parse.MatchedPersonID,
		&parse.CreatedAt,
	)
}

// InsertParse inserts a new document parse
func (h *ParsesDBHandler) InsertParse(parse *model.DocumentParse) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_parse($1, $2, $3, $4, $5, $6, $7)`,
		parse.DocType,
		parse.RawText,
		parse.SenderText,
		parse.RecipientText,
		parse.BodyText,
		parse.ParsedSender,
		parse.ParsedRecipient,
	)

	err := scanParse(row, parse)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectParse retrieves a document parse by ID
func (h *ParsesDBHandler) SelectParse(id uuid.UUID) (*model.DocumentParse, error) {
	parse := &model.DocumentParse{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_parse($1)`,
		id,
	)

	err := scanParse(row, parse)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return parse, nil
}

// UpdateMatchedEntities writes resolved entity ids back onto a parse.
// Nil arguments leave the corresponding reference untouched, so the
// sender and recipient slots can be written independently.
func (h *ParsesDBHandler) UpdateMatchedEntities(id uuid.UUID, locationID *uuid.UUID, personID *uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT update_parse_matched($1, $2, $3)`,
		id,
		locationID,
		personID,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteParse deletes a document parse by ID
func (h *ParsesDBHandler) DeleteParse(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_parse($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
