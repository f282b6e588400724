// cmd/tools/index-seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/database"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/search"
)

// index-seeder creates the entity index and loads a demo backlog so the
// interpret endpoint has something to retrieve against in a fresh
// environment.
func main() {
	tenant := flag.String("tenant", "demo", "Tenant ID to seed entities under")
	skipEmbed := flag.Bool("skip-embeddings", false, "Index without vectors (lexical leg only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, "console")
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elasticsearch client failed: %v\n", err)
		os.Exit(1)
	}
	if err := esClient.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "elasticsearch unreachable: %v\n", err)
		os.Exit(1)
	}

	index := search.NewElasticIndex(esClient, cfg.Database.Elasticsearch.EntityIndex, log)
	if err := index.EnsureIndex(ctx, cfg.APIs.OpenAI.EmbeddingDimensions); err != nil {
		fmt.Fprintf(os.Stderr, "index setup failed: %v\n", err)
		os.Exit(1)
	}

	var embedder search.Embedder
	if !*skipEmbed {
		embedder = search.NewOpenAIEmbedder(cfg.APIs.OpenAI)
	}

	docs := demoBacklog(*tenant)
	for _, doc := range docs {
		if embedder != nil {
			vector, err := embedder.Embed(ctx, doc.TenantID, doc.Title+" "+doc.Description)
			if err != nil {
				fmt.Fprintf(os.Stderr, "embedding %q failed: %v\n", doc.Title, err)
				os.Exit(1)
			}
			doc.Embedding = vector
		}
		if err := index.IndexEntity(ctx, doc); err != nil {
			fmt.Fprintf(os.Stderr, "indexing %q failed: %v\n", doc.Title, err)
			os.Exit(1)
		}
		fmt.Printf("indexed %-7s %-30s (%s)\n", doc.EntityType, doc.Title, doc.ID)
	}

	fmt.Printf("Seeded %d entities for tenant %q\n", len(docs), *tenant)
}

func demoBacklog(tenant string) []search.EntityDocument {
	now := time.Now().UTC()
	return []search.EntityDocument{
		{
			ID: "story-login", TenantID: tenant, EntityType: "story",
			Title:       "Login flow rework",
			Description: "Replace the legacy session login with OAuth and remember-me",
			Status:      "in_progress", Assignee: "dana",
			UpdatedAt:     now.Add(-24 * time.Hour),
			LinkedPRs:     []string{"#482"},
			LinkedCommits: []string{"a1f09bc"},
			Mentions:      []string{"dana"},
		},
		{
			ID: "story-logout", TenantID: tenant, EntityType: "story",
			Title:       "Logout everywhere",
			Description: "Invalidate every device session on logout",
			Status:      "todo",
			UpdatedAt:   now.Add(-30 * 24 * time.Hour),
		},
		{
			ID: "story-payment", TenantID: tenant, EntityType: "story",
			Title:       "Payment checkout flow",
			Description: "One-page checkout with saved cards",
			Status:      "in_progress", Assignee: "mara",
			UpdatedAt: now.Add(-48 * time.Hour),
			LinkedPRs: []string{"#495", "#501"},
		},
		{
			ID: "story-payment-page", TenantID: tenant, EntityType: "story",
			Title:       "Payment settings page",
			Description: "Manage saved cards and billing address",
			Status:      "todo",
			UpdatedAt:   now.Add(-10 * 24 * time.Hour),
		},
		{
			ID: "task-docs", TenantID: tenant, EntityType: "task",
			Title:       "Write checkout API docs",
			Description: "Document the new checkout endpoints",
			Status:      "todo", Assignee: "sam",
			UpdatedAt: now.Add(-3 * 24 * time.Hour),
			Mentions:  []string{"sam"},
		},
		{
			ID: "task-flaky", TenantID: tenant, EntityType: "task",
			Title:       "Fix flaky payment test",
			Description: "checkout_e2e_test intermittently times out",
			Status:      "in_progress", Assignee: "dana",
			UpdatedAt: now.Add(-6 * time.Hour),
		},
		{
			ID: "sprint-9", TenantID: tenant, EntityType: "sprint",
			Title:       "Sprint 9",
			Description: "Checkout milestone",
			Status:      "active",
			UpdatedAt:   now.Add(-5 * 24 * time.Hour),
		},
		{
			ID: "sprint-10", TenantID: tenant, EntityType: "sprint",
			Title:       "Sprint 10",
			Description: "Hardening and docs",
			Status:      "planned",
			UpdatedAt:   now.Add(-2 * 24 * time.Hour),
		},
	}
}
