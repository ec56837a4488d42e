package app

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
	"github.com/R3E-Network/issuance_ledger/internal/app/services/issuance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToMemory(t *testing.T) {
	application, err := New(Stores{}, Options{Authorizer: auth.NewOwnerPolicy("owner")}, nil)
	require.NoError(t, err)
	require.NotNil(t, application.Issuance)
	require.NotNil(t, application.Rail)

	ctx := context.Background()
	it, err := application.Issuance.Launch(ctx, "owner", item.Spec{DisplayName: "Cape", UnitPrice: big.NewInt(2)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), it.ID)
}

func TestNewWithoutPolicyDeniesPrivilegedCalls(t *testing.T) {
	application, err := New(Stores{}, Options{}, nil)
	require.NoError(t, err)
	_, err = application.Issuance.Launch(context.Background(), "anyone", item.Spec{DisplayName: "x"})
	assert.ErrorIs(t, err, issuance.ErrUnauthorized)
}

func TestSeedOnlyRunsOnEmptyCatalog(t *testing.T) {
	application, err := New(Stores{}, Options{Authorizer: auth.NewOwnerPolicy("owner")}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	specs := []item.Spec{
		{DisplayName: "Sword", UnitPrice: big.NewInt(5), MaxSupply: 10},
		{DisplayName: "Shield", UnitPrice: big.NewInt(3), MaxSupply: 10},
	}

	n, err := application.Seed(ctx, "owner", specs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = application.Seed(ctx, "owner", specs)
	require.NoError(t, err)
	assert.Zero(t, n)

	items, err := application.Issuance.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestStartStop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	application, err := New(Stores{}, Options{
		Clock:          func() time.Time { return now },
		WindowSchedule: "@every 1h",
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))

	// a stopped engine refuses new work
	_, err = application.Issuance.Mint(ctx, "alice", 1, 1, big.NewInt(0))
	assert.ErrorIs(t, err, issuance.ErrStopped)
}
