package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, "issuance-ledger:", cfg.Redis.LockPrefix)
	assert.Equal(t, "@every 15s", cfg.Catalog.WindowSchedule)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LEDGER_ADDR", ":9090")
	t.Setenv("DATABASE_DSN", "postgres://ledger@localhost/ledger?sslmode=disable")
	t.Setenv("REDIS_LOCK_TTL", "5s")
	t.Setenv("LEDGER_RATE_LIMIT", "2.5")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres://ledger@localhost/ledger?sslmode=disable", cfg.Database.DSN)
	assert.Equal(t, 5*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_OWNER=NdotenvOwner\n"), 0o600))
	t.Setenv("LEDGER_OWNER", "")
	os.Unsetenv("LEDGER_OWNER")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "NdotenvOwner", cfg.Auth.Owner)
	os.Unsetenv("LEDGER_OWNER")
}

func TestValidate(t *testing.T) {
	cfg := Config{Server: ServerConfig{RateLimit: -1}}
	assert.Error(t, cfg.Validate())

	cfg = Config{Database: DatabaseConfig{MaxOpenConns: 2, MaxIdleConns: 3}}
	assert.Error(t, cfg.Validate())

	cfg = Config{Auth: AuthConfig{Minters: "m"}}
	assert.Error(t, cfg.Validate())
}

func TestValidateLockLeaseCoversRailRoundTrips(t *testing.T) {
	cfg := Config{
		Redis: RedisConfig{Addr: "localhost:6379", LockTTL: 20 * time.Second},
		Rail:  RailConfig{Endpoint: "https://rail.example", Timeout: 10 * time.Second},
	}
	assert.ErrorContains(t, cfg.Validate(), "REDIS_LOCK_TTL")

	cfg.Redis.LockTTL = 21 * time.Second
	assert.NoError(t, cfg.Validate())

	// the in-memory rail never blocks on the network
	cfg.Rail.Endpoint = ""
	cfg.Redis.LockTTL = time.Second
	assert.NoError(t, cfg.Validate())
}

func TestAuthorizer(t *testing.T) {
	ctx := context.Background()

	owner := AuthConfig{Owner: "root"}.Authorizer()
	assert.NoError(t, owner.Authorize(ctx, "root", auth.ActionWithdraw))
	assert.ErrorIs(t, owner.Authorize(ctx, "other", auth.ActionWithdraw), auth.ErrUnauthorized)

	roles := AuthConfig{Owner: "root", Admins: "ops", Minters: "minter-a, minter-b"}.Authorizer()
	assert.NoError(t, roles.Authorize(ctx, "root", auth.ActionLaunch))
	assert.NoError(t, roles.Authorize(ctx, "ops", auth.ActionLaunch))
	assert.NoError(t, roles.Authorize(ctx, "minter-b", auth.ActionOwnerMint))
	assert.ErrorIs(t, roles.Authorize(ctx, "minter-b", auth.ActionLaunch), auth.ErrUnauthorized)

	assert.Equal(t, "root", AuthConfig{Owner: "root", Admins: "ops"}.SeedCaller())
	assert.Equal(t, "ops", AuthConfig{Admins: "ops"}.SeedCaller())
}

func TestLoadCatalogSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
metadata_base: "ipfs://catalog/"
payment_currency: "d2a4cff31913016155e38e474a2c06d08be276cf"
items:
  - display_name: Helm
    start_mint_time: 2026-03-01T00:00:00Z
    end_mint_time: 2026-03-08T00:00:00Z
    unit_price: "1000000000000000000000"
    max_supply: 20
    public_supply: 10
    max_per_address: 1
  - display_name: Boots
    unit_price: "0"
    max_supply: 5
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	seed, err := LoadCatalogSeed(path)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://catalog/", seed.MetadataBase)
	require.Len(t, seed.Items, 2)

	specs, err := seed.Specs()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", specs[0].UnitPrice.String())
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), specs[0].EndMintTime.UTC())
	assert.Equal(t, uint64(5), specs[1].MaxSupply)
}

func TestLoadCatalogSeedRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCatalogSeed(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	unnamed := filepath.Join(dir, "unnamed.yaml")
	require.NoError(t, os.WriteFile(unnamed, []byte("items:\n  - max_supply: 1\n"), 0o600))
	_, err = LoadCatalogSeed(unnamed)
	assert.Error(t, err)

	badPrice := CatalogSeed{Items: []SeedItem{{DisplayName: "x", UnitPrice: "-3"}}}
	_, err = badPrice.Specs()
	assert.Error(t, err)
}
