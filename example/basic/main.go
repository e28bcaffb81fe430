package main

import (
	"context"
	"fmt"
	"log"

	"github.com/sfroehler/docmatch"
	"github.com/sfroehler/docmatch/helper"
	"github.com/sfroehler/docmatch/model"
)

const sampleLetter = `Mercy General Hospital
Department of Radiology
1024 Main Street
Springfield, IL 62701
(555) 867-5309
To: John Smith
1085 Willow View Dr, Long Lake, MN 55356
Your recent imaging results are enclosed. Please contact our office
to schedule a follow-up appointment.`

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	m, err := docmatch.New(dbConfig, model.DefaultResolverConfig())
	if err != nil {
		log.Fatalf("Failed to create matcher: %v", err)
	}
	defer m.Close()

	// Set up the default embedding backend for the semantic matching tier
	if err := m.UseDefaultEmbedder(); err != nil {
		log.Fatalf("Failed to set up embedder: %v", err)
	}

	// Optionally enable the language-model assist from LLM_PROVIDER
	if err := m.UseAssistFromEnv(); err != nil {
		log.Fatalf("Failed to configure assist: %v", err)
	}

	ctx := context.Background()

	// Process a scanned letter: segment, extract, resolve
	fmt.Println("Processing document...")
	result, err := m.ProcessText(ctx, sampleLetter, &docmatch.ProcessOptions{
		FilenameHint: "scan_letter_0001.pdf",
	})
	if err != nil {
		log.Fatalf("Failed to process document: %v", err)
	}

	fmt.Printf("Parse ID: %s\n", result.ParseID)
	if result.RecipientPersonID != nil {
		person, err := m.Persons.SelectPerson(*result.RecipientPersonID)
		if err != nil {
			log.Fatalf("Failed to load person: %v", err)
		}
		fmt.Printf("Recipient resolved: %s (%s)\n", person.FullName(), person.ID)
	}
	if result.SenderLocationID != nil {
		fmt.Printf("Sender resolved: %s\n", result.SenderLocationID)
	}
	fmt.Printf("Pending reviews: %d\n", result.PendingReviews)

	// Walk the review queue and adjudicate whatever resolution left open
	items, err := m.ListPendingReviews(nil)
	if err != nil {
		log.Fatalf("Failed to list reviews: %v", err)
	}
	for _, item := range items {
		fmt.Printf("\nReview %s (%s, %s)\n", item.ID, item.EntityKind, item.QueryKind)
		for key, value := range item.RawData {
			fmt.Printf("  %s: %s\n", key, value)
		}

		if item.EntityKind != model.EntityKindLocation {
			continue
		}

		// Create the location the document was sent from
		name := item.RawData["name"]
		if name == "" {
			name = "Mercy General Hospital"
		}
		address := item.RawData["address"]
		resolved, err := m.ResolveReview(item.ID, docmatch.ReviewDecision{
			CreateLocation: &model.Location{
				Name:    name,
				Address: &address,
			},
			ReviewedBy: "example@docmatch.dev",
		})
		if err != nil {
			log.Fatalf("Failed to resolve review: %v", err)
		}
		fmt.Printf("Resolved with new location %s\n", resolved.ResolvedEntityID)

		// Write the decision back onto the originating parse
		if err := m.ApplyResolvedReview(item.ID); err != nil {
			log.Fatalf("Failed to apply review: %v", err)
		}
	}

	// Summary of the queue after adjudication
	stats, err := m.ReviewStats()
	if err != nil {
		log.Fatalf("Failed to load review stats: %v", err)
	}
	fmt.Printf("\nQueue: %d pending, %d resolved, %d skipped\n",
		stats.TotalPending, stats.TotalResolved, stats.TotalSkipped)
}
