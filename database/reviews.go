package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/sfroehler/docmatch/helper"
	"github.com/sfroehler/docmatch/model"
	loadSql "github.com/sfroehler/docmatch/sql"
)

// ReviewsDBHandlerFunctions defines the interface for review queue database operations.
type ReviewsDBHandlerFunctions interface {
	InsertReview(item *model.ReviewQueueItem) error
	SelectReview(id uuid.UUID) (*model.ReviewQueueItem, error)
	SelectPendingReviews(kind *model.EntityKind) ([]*model.ReviewQueueItem, error)
	HasOpenReview(parseID uuid.UUID, kind model.EntityKind) (bool, error)
	CountPendingForParse(parseID uuid.UUID) (int, error)
	ResolvePick(id uuid.UUID, entityID uuid.UUID, reviewedBy string) (*model.ReviewQueueItem, error)
	ResolveCreatePerson(id uuid.UUID, person *model.Person, reviewedBy string) (*model.ReviewQueueItem, error)
	ResolveCreateLocation(id uuid.UUID, location *model.Location, reviewedBy string) (*model.ReviewQueueItem, error)
	SkipReview(id uuid.UUID, reviewedBy string) (*model.ReviewQueueItem, error)
	ReviewStats() (*model.ReviewStats, error)
	DeleteReview(id uuid.UUID) error
}

// ReviewsDBHandler handles review-queue-related database operations
type ReviewsDBHandler struct {
	db *helper.Database
}

// NewReviewsDBHandler creates a new review queue database handler.
// It initializes the database connection and loads review-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewReviewsDBHandler(db *helper.Database, force bool) (*ReviewsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	reviewsDbHandler := &ReviewsDBHandler{
		db: db,
	}

	err := loadSql.LoadReviewsSql(reviewsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load reviews sql", err)
	}

	err = reviewsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ReviewsDBHandler")

	return reviewsDbHandler, nil
}

// CreateTable creates the 'review_queue' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *ReviewsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_reviews();`)
	if err != nil {
		log.Panicf("error initializing review_queue table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table review_queue")

	return nil
}

func scanReview(row interface{ Scan(...interface{}) error }, item *model.ReviewQueueItem) error {
	return row.Scan(
		&item.ID,
		&item.ParseID,
		&item.EntityKind,
		&item.QueryKind,
		&item.RawData,
		&item.Candidates,
		&item.Status,
		&item.ReviewedBy,
		&item.ReviewedAt,
		&item.ResolvedEntityID,
		&item.CreatedAt,
	)
}

// InsertReview queues a new review item. The partial unique index on
// (parse_id, entity_kind) rejects a second pending item for the same slot.
func (h *ReviewsDBHandler) InsertReview(item *model.ReviewQueueItem) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_review($1, $2, $3, $4, $5)`,
		item.ParseID,
		string(item.EntityKind),
		string(item.QueryKind),
		item.RawData,
		item.Candidates,
	)

	err := scanReview(row, item)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectReview retrieves a review item by ID
func (h *ReviewsDBHandler) SelectReview(id uuid.UUID) (*model.ReviewQueueItem, error) {
	item := &model.ReviewQueueItem{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_review($1)`,
		id,
	)

	err := scanReview(row, item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return item, nil
}

// SelectPendingReviews lists pending items oldest first. A nil kind
// returns pending items of both kinds.
func (h *ReviewsDBHandler) SelectPendingReviews(kind *model.EntityKind) ([]*model.ReviewQueueItem, error) {
	var kindArg interface{}
	if kind != nil {
		kindArg = string(*kind)
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_pending_reviews($1)`,
		kindArg,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var items []*model.ReviewQueueItem
	for rows.Next() {
		item := &model.ReviewQueueItem{}
		err := scanReview(rows, item)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		items = append(items, item)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return items, nil
}

// HasOpenReview reports whether a pending item exists for the given
// parse and entity kind.
func (h *ReviewsDBHandler) HasOpenReview(parseID uuid.UUID, kind model.EntityKind) (bool, error) {
	var open bool
	err := h.db.Instance.QueryRow(
		`SELECT has_open_review($1, $2)`,
		parseID,
		string(kind),
	).Scan(&open)
	if err != nil {
		return false, helper.NewError("scan", err)
	}
	return open, nil
}

// CountPendingForParse counts pending items attached to a parse.
func (h *ReviewsDBHandler) CountPendingForParse(parseID uuid.UUID) (int, error) {
	var count int
	err := h.db.Instance.QueryRow(
		`SELECT count_pending_reviews_for_parse($1)`,
		parseID,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// ResolvePick resolves a pending item with one of its listed candidates
// (or any existing entity id). Returns ErrReviewNotFound when the item
// does not exist and ErrReviewNotPending when it is already terminal.
func (h *ReviewsDBHandler) ResolvePick(id uuid.UUID, entityID uuid.UUID, reviewedBy string) (*model.ReviewQueueItem, error) {
	item := &model.ReviewQueueItem{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM resolve_review($1, $2, $3, $4)`,
		id,
		string(model.ReviewStatusResolved),
		entityID,
		reviewedBy,
	)

	err := scanReview(row, item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, h.notPendingError(id)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return item, nil
}

// ResolveCreatePerson creates a new person and resolves the pending item
// with it in one transaction. The insert rolls back when the item turned
// out not to be pending.
func (h *ReviewsDBHandler) ResolveCreatePerson(id uuid.UUID, person *model.Person, reviewedBy string) (*model.ReviewQueueItem, error) {
	item := &model.ReviewQueueItem{}

	err := h.inTransaction(func(tx *sql.Tx) error {
		var embedding interface{}
		if len(person.Embedding) > 0 {
			embedding = pgvector.NewVector(person.Embedding)
		}

		row := tx.QueryRow(
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
			return helper.NewError("insert person", err)
		}

		return h.resolveInTx(tx, id, model.ReviewStatusResolved, &person.ID, reviewedBy, item)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// ResolveCreateLocation creates a new location and resolves the pending
// item with it in one transaction.
func (h *ReviewsDBHandler) ResolveCreateLocation(id uuid.UUID, location *model.Location, reviewedBy string) (*model.ReviewQueueItem, error) {
	item := &model.ReviewQueueItem{}

	err := h.inTransaction(func(tx *sql.Tx) error {
		var embedding interface{}
		if len(location.Embedding) > 0 {
			embedding = pgvector.NewVector(location.Embedding)
		}

		row := tx.QueryRow(
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
			return helper.NewError("insert location", err)
		}

		return h.resolveInTx(tx, id, model.ReviewStatusResolved, &location.ID, reviewedBy, item)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// SkipReview marks a pending item skipped without resolving the slot.
func (h *ReviewsDBHandler) SkipReview(id uuid.UUID, reviewedBy string) (*model.ReviewQueueItem, error) {
	item := &model.ReviewQueueItem{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM resolve_review($1, $2, $3, $4)`,
		id,
		string(model.ReviewStatusSkipped),
		nil,
		reviewedBy,
	)

	err := scanReview(row, item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, h.notPendingError(id)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return item, nil
}

// ReviewStats aggregates queue counts. The per-kind splits cover pending
// items only.
func (h *ReviewsDBHandler) ReviewStats() (*model.ReviewStats, error) {
	rows, err := h.db.Instance.Query(`SELECT * FROM select_review_counts()`)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	stats := &model.ReviewStats{
		PendingByEntityKind: map[model.EntityKind]int{},
		PendingByQueryKind:  map[model.QueryKind]int{},
	}

	for rows.Next() {
		var status, entityKind, queryKind string
		var total int
		err := rows.Scan(&status, &entityKind, &queryKind, &total)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		switch model.ReviewStatus(status) {
		case model.ReviewStatusPending:
			stats.TotalPending += total
			stats.PendingByEntityKind[model.EntityKind(entityKind)] += total
			stats.PendingByQueryKind[model.QueryKind(queryKind)] += total
		case model.ReviewStatusResolved:
			stats.TotalResolved += total
		case model.ReviewStatusSkipped:
			stats.TotalSkipped += total
		}
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return stats, nil
}

// DeleteReview deletes a review item by ID
func (h *ReviewsDBHandler) DeleteReview(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_review($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func (h *ReviewsDBHandler) inTransaction(fn func(tx *sql.Tx) error) error {
	tx, err := h.db.Instance.Begin()
	if err != nil {
		return helper.NewError("begin transaction", err)
	}

	err = fn(tx)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return helper.NewError("rollback", rollbackErr)
		}
		return err
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit transaction", err)
	}

	return nil
}

func (h *ReviewsDBHandler) resolveInTx(tx *sql.Tx, id uuid.UUID, status model.ReviewStatus, entityID *uuid.UUID, reviewedBy string, item *model.ReviewQueueItem) error {
	row := tx.QueryRow(
		`SELECT * FROM resolve_review($1, $2, $3, $4)`,
		id,
		string(status),
		entityID,
		reviewedBy,
	)

	err := scanReview(row, item)
	if errors.Is(err, sql.ErrNoRows) {
		return h.notPendingError(id)
	}
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// notPendingError distinguishes a missing item from one that is already
// in a terminal state.
func (h *ReviewsDBHandler) notPendingError(id uuid.UUID) error {
	_, err := h.SelectReview(id)
	if errors.Is(err, ErrReviewNotFound) {
		return ErrReviewNotFound
	}
	if err != nil {
		return err
	}
	return ErrReviewNotPending
}
