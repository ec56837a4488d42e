//go:build integration && postgres

package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	app "github.com/R3E-Network/issuance_ledger/internal/app"
	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
	"github.com/R3E-Network/issuance_ledger/internal/app/storage/postgres"
	"github.com/R3E-Network/issuance_ledger/internal/platform/migrations"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Integration test against Postgres to ensure migrations + core flows work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("DATABASE_DSN not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := postgres.NewFromDB(db)
	application, err := app.New(app.Stores{Catalog: store, Holdings: store}, app.Options{
		Authorizer: auth.NewOwnerPolicy(testOwner),
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler, err := Wrap(application, Config{JWTSecret: testSecret}, nil)
	if err != nil {
		t.Fatalf("wrap handler: %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	now := time.Now().UTC()
	body := marshal(map[string]any{
		"start_mint_time": now.Add(time.Hour),
		"end_mint_time":   now.Add(2 * time.Hour),
		"display_name":    "pg-integration",
		"unit_price":      "0",
		"max_supply":      5,
	})
	req := authedRequest(t, http.MethodPost, server.URL+"/items", body, testOwner)
	req.RequestURI = ""
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("launch status: %d", resp.StatusCode)
	}

	if resp, err := server.Client().Get(server.URL + "/healthz"); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v", err)
	}
}
