package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPinRepo(t *testing.T) (*PinRepository, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return NewPinRepository(client, logger), mr
}

func TestPinStoreAndMatch(t *testing.T) {
	repo, mr := newTestPinRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, "user.u1.phone.111", "1234", 3, time.Minute))
	assert.True(t, mr.Exists("user.u1.phone.111.pin"))
	assert.True(t, mr.Exists("user.u1.phone.111.attempts"))

	result, err := repo.Consume(ctx, "user.u1.phone.111", "1234")
	require.NoError(t, err)
	assert.Equal(t, ConsumeMatch, result)

	// Record is consumed; even the correct PIN no longer matches.
	assert.False(t, mr.Exists("user.u1.phone.111.pin"))
	result, err = repo.Consume(ctx, "user.u1.phone.111", "1234")
	require.NoError(t, err)
	assert.Equal(t, ConsumeNotFound, result)
}

func TestPinMismatchSpendsAttempt(t *testing.T) {
	repo, mr := newTestPinRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, "user.u1.phone.222", "1234", 3, time.Minute))

	result, err := repo.Consume(ctx, "user.u1.phone.222", "0000")
	require.NoError(t, err)
	assert.Equal(t, ConsumeMismatch, result)
	attempts, err := mr.Get("user.u1.phone.222.attempts")
	require.NoError(t, err)
	assert.Equal(t, "2", attempts)

	// The correct PIN still works while attempts remain.
	result, err = repo.Consume(ctx, "user.u1.phone.222", "1234")
	require.NoError(t, err)
	assert.Equal(t, ConsumeMatch, result)
}

func TestPinExhaustion(t *testing.T) {
	repo, _ := newTestPinRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, "user.u1.phone.333", "1234", 3, time.Minute))

	result, err := repo.Consume(ctx, "user.u1.phone.333", "0000")
	require.NoError(t, err)
	assert.Equal(t, ConsumeMismatch, result)

	result, err = repo.Consume(ctx, "user.u1.phone.333", "1111")
	require.NoError(t, err)
	assert.Equal(t, ConsumeMismatch, result)

	// Third wrong guess spends the final attempt.
	result, err = repo.Consume(ctx, "user.u1.phone.333", "2222")
	require.NoError(t, err)
	assert.Equal(t, ConsumeExhausted, result)

	// The record is dead: the correct PIN fails from here on.
	result, err = repo.Consume(ctx, "user.u1.phone.333", "1234")
	require.NoError(t, err)
	assert.Equal(t, ConsumeDead, result)
}

func TestPinStoreOverwritesRecord(t *testing.T) {
	repo, _ := newTestPinRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, "user.u1.phone.444", "1234", 1, time.Minute))

	result, err := repo.Consume(ctx, "user.u1.phone.444", "0000")
	require.NoError(t, err)
	assert.Equal(t, ConsumeExhausted, result)

	// A fresh record restarts the budget.
	require.NoError(t, repo.Store(ctx, "user.u1.phone.444", "5678", 1, time.Minute))
	result, err = repo.Consume(ctx, "user.u1.phone.444", "5678")
	require.NoError(t, err)
	assert.Equal(t, ConsumeMatch, result)
}

func TestPinExpiry(t *testing.T) {
	repo, mr := newTestPinRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, "user.u1.phone.555", "1234", 3, time.Minute))

	mr.FastForward(2 * time.Minute)

	result, err := repo.Consume(ctx, "user.u1.phone.555", "1234")
	require.NoError(t, err)
	assert.Equal(t, ConsumeNotFound, result)
}

func TestPinDelete(t *testing.T) {
	repo, mr := newTestPinRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, "user.u1.phone.666", "1234", 3, time.Minute))
	require.NoError(t, repo.Delete(ctx, "user.u1.phone.666"))
	assert.False(t, mr.Exists("user.u1.phone.666.pin"))
	assert.False(t, mr.Exists("user.u1.phone.666.attempts"))
}
