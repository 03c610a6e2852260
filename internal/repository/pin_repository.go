package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConsumeResult is the outcome of one verification attempt against a stored
// PIN. Every call against a live record spends one attempt, whatever the
// outcome of the comparison.
type ConsumeResult int

const (
	// ConsumeMatch means the candidate matched; the record is deleted.
	ConsumeMatch ConsumeResult = iota
	// ConsumeMismatch means the candidate was wrong; attempts remain.
	ConsumeMismatch
	// ConsumeExhausted means this wrong guess spent the last attempt.
	ConsumeExhausted
	// ConsumeDead means the budget was already spent before this call; the
	// record is useless even for the correct PIN.
	ConsumeDead
	// ConsumeNotFound means no record exists (never created or TTL elapsed).
	ConsumeNotFound
)

// consumePinLua performs load → decrement → compare → delete in one atomic
// step, so concurrent attempts against the same record cannot observe a
// stale attempt count.
// KEYS[1] = pin key, KEYS[2] = attempts key, ARGV[1] = candidate pin.
var consumePinLua = redis.NewScript(`
local pin = redis.call('GET', KEYS[1])
if not pin then
  return 'not_found'
end
local attempts = redis.call('DECR', KEYS[2])
if attempts < 0 then
  return 'dead'
end
if pin == ARGV[1] then
  redis.call('DEL', KEYS[1])
  redis.call('DEL', KEYS[2])
  return 'match'
end
if attempts == 0 then
  return 'exhausted'
end
return 'mismatch'
`)

// PinRepository stores phone verification PINs in Redis. A record is two
// keys sharing one TTL: "<key>.pin" holds the code, "<key>.attempts" the
// remaining budget.
type PinRepository struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPinRepository(client *redis.Client, logger *logrus.Logger) *PinRepository {
	return &PinRepository{
		client: client,
		logger: logger,
	}
}

// Store writes a fresh record, replacing any prior one for the same key and
// restarting both the attempt budget and the TTL.
func (r *PinRepository) Store(ctx context.Context, key, pin string, attempts int, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key+".pin", pin, ttl)
	pipe.Set(ctx, key+".attempts", attempts, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).Error("Failed to store PIN in Redis")
		return fmt.Errorf("failed to store PIN: %w", err)
	}
	return nil
}

// Consume spends one attempt comparing candidate against the stored PIN.
func (r *PinRepository) Consume(ctx context.Context, key, candidate string) (ConsumeResult, error) {
	res, err := consumePinLua.Run(ctx, r.client, []string{key + ".pin", key + ".attempts"}, candidate).Text()
	if err != nil {
		r.logger.WithError(err).Error("Failed to run PIN consume script")
		return ConsumeNotFound, fmt.Errorf("failed to consume PIN attempt: %w", err)
	}

	switch res {
	case "match":
		return ConsumeMatch, nil
	case "mismatch":
		return ConsumeMismatch, nil
	case "exhausted":
		return ConsumeExhausted, nil
	case "dead":
		return ConsumeDead, nil
	case "not_found":
		return ConsumeNotFound, nil
	default:
		return ConsumeNotFound, fmt.Errorf("unexpected PIN consume result %q", res)
	}
}

// Delete removes a record regardless of its state.
func (r *PinRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key+".pin", key+".attempts").Err(); err != nil {
		return fmt.Errorf("failed to delete PIN: %w", err)
	}
	return nil
}
