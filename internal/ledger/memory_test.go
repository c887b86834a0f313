package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenShape(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, "abl_"))
	assert.Len(t, token, 4+43, "abl_ prefix plus 43 chars of url-safe base64")

	other, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashTokenTrims(t *testing.T) {
	assert.Equal(t, HashToken("abl_x"), HashToken("  abl_x  "))
	assert.Len(t, HashToken("abl_x"), 64)
}

func TestCreateAccountAndLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, token, err := s.CreateAccount(ctx)
	require.NoError(t, err)

	got, err := s.AccountIDByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	balance, err := s.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = s.AccountIDByToken(ctx, "abl_unknown")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDebitTokenWritesUsage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, token, err := s.CreateAccount(ctx)
	require.NoError(t, err)
	_, err = s.Credit(ctx, id, 100)
	require.NoError(t, err)

	balance, err := s.DebitToken(ctx, token, 30, "openai:/v1/chat/completions")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)

	entries := s.UsageEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].AccountID)
	assert.Equal(t, "openai:/v1/chat/completions", entries[0].Endpoint)
	assert.Equal(t, int64(30), entries[0].AmountSats)
}

func TestDebitInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, token, err := s.CreateAccount(ctx)
	require.NoError(t, err)
	_, err = s.Credit(ctx, id, 20)
	require.NoError(t, err)

	_, err = s.DebitToken(ctx, token, 80, "hire:task")
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(20), insufficient.BalanceSats)
	assert.Equal(t, int64(80), insufficient.RequiredSats)

	// Failed debit leaves the balance and log untouched.
	balance, err := s.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
	assert.Empty(t, s.UsageEntries())
}

func TestClaimTopupAutoAccount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateTopupInvoice(ctx, "hash1", "", 1000))

	res, err := s.ClaimTopup(ctx, "hash1", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Token, "abl_"))
	assert.Equal(t, int64(1000), res.BalanceSats)

	// The minted token resolves to the credited account.
	id, err := s.AccountIDByToken(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.AccountID, id)
}

func TestClaimTopupExistingAccount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, token, err := s.CreateAccount(ctx)
	require.NoError(t, err)

	require.NoError(t, s.CreateTopupInvoice(ctx, "hash2", id, 500))

	res, err := s.ClaimTopup(ctx, "hash2", token)
	require.NoError(t, err)
	assert.Equal(t, id, res.AccountID)
	assert.Equal(t, token, res.Token)
	assert.Equal(t, int64(500), res.BalanceSats)
}

func TestClaimTopupMatrixErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ownerID, _, err := s.CreateAccount(ctx)
	require.NoError(t, err)
	_, otherToken, err := s.CreateAccount(ctx)
	require.NoError(t, err)

	require.NoError(t, s.CreateTopupInvoice(ctx, "bound", ownerID, 500))

	t.Run("unknown hash", func(t *testing.T) {
		_, err := s.ClaimTopup(ctx, "nope", "")
		assert.ErrorIs(t, err, ErrInvalidPayment)
	})

	t.Run("bound invoice requires token", func(t *testing.T) {
		_, err := s.ClaimTopup(ctx, "bound", "")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("bound invoice rejects other account", func(t *testing.T) {
		_, err := s.ClaimTopup(ctx, "bound", otherToken)
		assert.ErrorIs(t, err, ErrInvalidPayment)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := s.ClaimTopup(ctx, "bound", "abl_bogus")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestClaimTopupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateTopupInvoice(ctx, "once", "", 1000))

	res, err := s.ClaimTopup(ctx, "once", "")
	require.NoError(t, err)

	_, err = s.ClaimTopup(ctx, "once", res.Token)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	balance, err := s.GetBalance(ctx, res.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance, "double claim must not double credit")
}
