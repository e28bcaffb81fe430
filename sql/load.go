package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed persons.sql
var personsSQL string

//go:embed locations.sql
var locationsSQL string

//go:embed parses.sql
var parsesSQL string

//go:embed reviews.sql
var reviewsSQL string

// Function lists for verification
var PersonsFunctions = []string{
	"init_persons",
	"insert_person",
	"select_person",
	"select_persons_exact",
	"select_persons_by_similarity",
	"select_persons_missing_embedding",
	"update_person_embedding",
	"delete_person",
}

var LocationsFunctions = []string{
	"init_locations",
	"insert_location",
	"select_location",
	"select_locations_by_address_zip",
	"select_locations_by_name_city_state",
	"select_locations_by_similarity",
	"select_locations_missing_embedding",
	"update_location_embedding",
	"delete_location",
}

var ParsesFunctions = []string{
	"init_parses",
	"insert_parse",
	"select_parse",
	"update_parse_matched",
	"delete_parse",
}

var ReviewsFunctions = []string{
	"init_reviews",
	"insert_review",
	"select_review",
	"select_pending_reviews",
	"has_open_review",
	"count_pending_reviews_for_parse",
	"resolve_review",
	"select_review_counts",
	"delete_review",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	log.Println("Database extensions initialized successfully")
	return nil
}

// LoadPersonsSql loads person-related SQL functions
func LoadPersonsSql(db *sql.DB, force bool) error {
	return loadSql(db, force, personsSQL, PersonsFunctions, "persons")
}

// LoadLocationsSql loads location-related SQL functions
func LoadLocationsSql(db *sql.DB, force bool) error {
	return loadSql(db, force, locationsSQL, LocationsFunctions, "locations")
}

// LoadParsesSql loads document-parse-related SQL functions
func LoadParsesSql(db *sql.DB, force bool) error {
	return loadSql(db, force, parsesSQL, ParsesFunctions, "parses")
}

// LoadReviewsSql loads review-queue-related SQL functions
func LoadReviewsSql(db *sql.DB, force bool) error {
	return loadSql(db, force, reviewsSQL, ReviewsFunctions, "reviews")
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	if err := LoadPersonsSql(db, force); err != nil {
		return err
	}

	if err := LoadLocationsSql(db, force); err != nil {
		return err
	}

	if err := LoadParsesSql(db, force); err != nil {
		return err
	}

	if err := LoadReviewsSql(db, force); err != nil {
		return err
	}

	return nil
}

func loadSql(db *sql.DB, force bool, sqlText string, functions []string, name string) error {
	if !force {
		exist, err := checkFunctions(db, functions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(sqlText)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, functions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Printf("SQL %s functions loaded successfully", name)
	return nil
}

// checkFunctions reports whether every named function exists in pg_proc.
func checkFunctions(db *sql.DB, functions []string) (bool, error) {
	for _, funcName := range functions {
		var exists bool
		err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`, funcName).Scan(&exists)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}
