package rail

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gas = "d2a4cff31913016155e38e474a2c06d08be276cf"

func TestMemoryPullRequiresAllowanceAndFunds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Deposit(gas, "alice", big.NewInt(10)))

	err := m.Pull(ctx, gas, "alice", big.NewInt(4))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, m.Approve(gas, "alice", big.NewInt(100)))
	err = m.Pull(ctx, gas, "alice", big.NewInt(11))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, m.Pull(ctx, gas, "alice", big.NewInt(4)))
	custody, err := m.Custody(ctx, gas)
	require.NoError(t, err)
	assert.Equal(t, int64(4), custody.Int64())
	assert.Equal(t, int64(6), m.BalanceOf(gas, "alice").Int64())
	assert.Len(t, m.Transfers(), 1)
}

func TestMemoryPushDrainsCustody(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Deposit(gas, "alice", big.NewInt(5)))
	require.NoError(t, m.Approve(gas, "alice", big.NewInt(5)))
	require.NoError(t, m.Pull(ctx, gas, "alice", big.NewInt(5)))

	err := m.Push(ctx, gas, "treasury", big.NewInt(6))
	assert.ErrorIs(t, err, ErrInsufficientCustody)

	require.NoError(t, m.Push(ctx, gas, "treasury", big.NewInt(5)))
	assert.Equal(t, int64(5), m.BalanceOf(gas, "treasury").Int64())
	custody, _ := m.Custody(ctx, gas)
	assert.Zero(t, custody.Sign())
}

func TestMemoryRejectsNegativeAmount(t *testing.T) {
	m := NewMemory()
	assert.ErrorIs(t, m.Pull(context.Background(), gas, "alice", big.NewInt(-1)), ErrInvalidAmount)
	assert.ErrorIs(t, m.Push(context.Background(), gas, "alice", nil), ErrInvalidAmount)
}

func TestMemoryCurrenciesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Deposit("neo", "alice", big.NewInt(5)))
	require.NoError(t, m.Approve("neo", "alice", big.NewInt(5)))

	assert.ErrorIs(t, m.Pull(ctx, gas, "alice", big.NewInt(1)), ErrInsufficientAllowance)
}

func TestHTTPRailPull(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rail/v1/transfers/pull", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"settled","tx_id":"0xabc"}`))
	}))
	defer srv.Close()

	r, err := NewHTTPRail(srv.Client(), srv.URL+"/rail", "secret", nil)
	require.NoError(t, err)

	require.NoError(t, r.Pull(context.Background(), gas, "alice", big.NewInt(42)))
	assert.Equal(t, "42", got["amount"])
	assert.Equal(t, "alice", got["from"])
}

func TestMemoryRefundRestoresAllowance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Deposit(gas, "alice", big.NewInt(10)))
	require.NoError(t, m.Approve(gas, "alice", big.NewInt(10)))
	require.NoError(t, m.Pull(ctx, gas, "alice", big.NewInt(10)))
	assert.Equal(t, int64(0), m.Allowance(gas, "alice").Int64())

	require.NoError(t, m.Refund(ctx, gas, "alice", big.NewInt(10)))
	assert.Equal(t, int64(10), m.BalanceOf(gas, "alice").Int64())
	assert.Equal(t, int64(10), m.Allowance(gas, "alice").Int64())
	custody, err := m.Custody(ctx, gas)
	require.NoError(t, err)
	assert.Equal(t, int64(0), custody.Int64())

	// the payer can pull again without a fresh approval
	require.NoError(t, m.Pull(ctx, gas, "alice", big.NewInt(10)))

	transfers := m.Transfers()
	require.Len(t, transfers, 3)
	assert.Equal(t, TransferRefund, transfers[1].Kind)

	assert.ErrorIs(t, m.Refund(ctx, gas, "bob", big.NewInt(11)), ErrInsufficientCustody)
}

func TestHTTPRailSendsIdempotencyKey(t *testing.T) {
	seen := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[r.URL.Path] = r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{"status":"settled"}`))
	}))
	defer srv.Close()

	r, err := NewHTTPRail(srv.Client(), srv.URL, "", nil)
	require.NoError(t, err)

	ctx := WithIdempotencyKey(context.Background(), "mint-1")
	require.NoError(t, r.Pull(ctx, gas, "alice", big.NewInt(1)))
	require.NoError(t, r.Refund(WithIdempotencyKey(context.Background(), "mint-1:refund"), gas, "alice", big.NewInt(1)))
	require.NoError(t, r.Push(context.Background(), gas, "bob", big.NewInt(1)))

	assert.Equal(t, "mint-1", seen["/v1/transfers/pull"])
	assert.Equal(t, "mint-1:refund", seen["/v1/transfers/refund"])
	_, pushed := seen["/v1/transfers/push"]
	assert.True(t, pushed)
	assert.Empty(t, seen["/v1/transfers/push"])
}

func TestHTTPRailMapsFailureCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"insufficient_allowance","message":"approve first"}}`))
	}))
	defer srv.Close()

	r, err := NewHTTPRail(srv.Client(), srv.URL, "", nil)
	require.NoError(t, err)

	err = r.Pull(context.Background(), gas, "alice", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.ErrorContains(t, err, "approve first")
}

func TestHTTPRailRejectedStatusInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"rejected","error":{"code":"insufficient_custody"}}`))
	}))
	defer srv.Close()

	r, err := NewHTTPRail(srv.Client(), srv.URL, "", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Push(context.Background(), gas, "bob", big.NewInt(1)), ErrInsufficientCustody)
}

func TestHTTPRailCustody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, gas, r.URL.Query().Get("currency"))
		_, _ = w.Write([]byte(`{"currency":"` + gas + `","balance":"123456789012345678901234567890"}`))
	}))
	defer srv.Close()

	r, err := NewHTTPRail(nil, srv.URL, "", nil)
	require.NoError(t, err)

	bal, err := r.Custody(context.Background(), gas)
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", bal.String())
}

func TestNewHTTPRailRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPRail(nil, "  ", "", nil)
	assert.Error(t, err)
}
