// Package kvc is the KV Service Client: every other module reaches Redis
// only through this package. It owns connection pooling, retry/backoff on
// transient failures, and the approximate-membership-filter fallback when
// RedisBloom is not loaded on the server.
package kvc

/*
Responsibilities

- Hold one pooled connection per logical client (text, binary)
- Bound in-flight operations below the pool size so callers block on a
  semaphore instead of piling up inside the driver's own wait queue
- Retry idempotent operations on connection/timeout failures
- Provide BF.* filter operations with a local fallback
*/

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rohmanhakim/polite-crawler/internal/bloomfilter"
	"github.com/rohmanhakim/polite-crawler/pkg/concurrency"
	"github.com/rohmanhakim/polite-crawler/pkg/failure"
	"github.com/rohmanhakim/polite-crawler/pkg/retry"
	"github.com/rohmanhakim/polite-crawler/pkg/timeutil"
)

const (
	defaultPoolPermits = 50
	defaultDialTimeout = 5 * time.Second
	defaultOpTimeout   = 3 * time.Second
)

// Options configures a Client's connection to the KV service.
type Options struct {
	Addr        string
	Password    string
	DB          int
	PoolPermits int // max operations admitted at once; 0 uses defaultPoolPermits
}

// Client wraps a *redis.Client with a bounded admission semaphore and
// retry/backoff, and falls back to a local bloom filter when the server
// has no RedisBloom module loaded.
type Client struct {
	rdb     *redis.Client
	sem     *concurrency.Semaphore
	fallbackFilter *bloomfilter.Filter
	bfUnsupported  bool
	retryParam     retry.RetryParam
}

// New dials a KVC client. It does not block on connectivity; the first
// operation surfaces any dial failure.
func New(opts Options) *Client {
	permits := opts.PoolPermits
	if permits <= 0 {
		permits = defaultPoolPermits
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: defaultDialTimeout,
		Dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{
				Timeout: defaultDialTimeout,
				KeepAliveConfig: net.KeepAliveConfig{
					Enable:   true,
					Idle:     120 * time.Second,
					Interval: 20 * time.Second,
					Count:    5,
				},
			}
			return d.DialContext(ctx, network, addr)
		},
	})

	return &Client{
		rdb:            rdb,
		sem:            concurrency.NewSemaphore(permits),
		fallbackFilter: bloomfilter.New(),
		retryParam: retry.NewRetryParam(
			50*time.Millisecond,
			10*time.Millisecond,
			time.Now().UnixNano(),
			5,
			timeutil.NewBackoffParam(50*time.Millisecond, 2.0, 2*time.Second),
		),
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PoolInUse reports how many operations are currently admitted, for the
// KVC pool-saturation gauge.
func (c *Client) PoolInUse() int {
	return c.sem.InUse()
}

// PoolCapacity reports the configured admission limit.
func (c *Client) PoolCapacity() int {
	return c.sem.Capacity()
}

// withSlot runs fn after acquiring an admission permit, releasing it on
// return. It is the single choke point every operation passes through.
func (c *Client) withSlot(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := c.sem.Acquire(ctx); err != nil {
		return nil, &KVCError{Message: err.Error(), Retryable: false, Cause: ErrCausePoolExhausted}
	}
	defer c.sem.Release()
	return fn(ctx)
}

// retryOp runs op with the client's retry policy, classifying driver
// errors into KVCError so the retry handler can tell transient failures
// from permanent ones (a nil key, a type mismatch) that should not retry.
func retryOp[T any](c *Client, ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	result := retry.Retry(c.retryParam, func() (T, failure.ClassifiedError) {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		return val, classifyRedisError(err)
	})
	return result.Value(), result.Err()
}

func classifyRedisError(err error) failure.ClassifiedError {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return &KVCError{Message: "key not found", Retryable: false, Cause: ErrCauseBadResponse}
	}
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &KVCError{Message: msg, Retryable: true, Cause: ErrCauseTimeout}
	case strings.Contains(msg, "connection"), strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "EOF"):
		return &KVCError{Message: msg, Retryable: true, Cause: ErrCauseConnection}
	default:
		return &KVCError{Message: msg, Retryable: false, Cause: ErrCauseBadResponse}
	}
}

// HGet reads a single hash field.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (string, error) {
			return c.rdb.HGet(ctx, key, field).Result()
		})
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// HSet sets one or more hash fields, given as alternating field/value pairs.
func (c *Client) HSet(ctx context.Context, key string, values ...any) error {
	_, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.HSet(ctx, key, values...).Result()
		})
	})
	return err
}

// HMGet reads several hash fields in one round trip.
func (c *Client) HMGet(ctx context.Context, key string, fields ...string) ([]any, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) ([]any, error) {
			return c.rdb.HMGet(ctx, key, fields...).Result()
		})
	})
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

// HMSet sets several hash fields in one round trip.
func (c *Client) HMSet(ctx context.Context, key string, fields map[string]any) error {
	_, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (bool, error) {
			return c.rdb.HMSet(ctx, key, fields).Result()
		})
	})
	return err
}

// HSetNX sets a hash field only if it does not already exist, reporting
// whether the set happened. It is how the frontier claims a host's domain
// record exactly once.
func (c *Client) HSetNX(ctx context.Context, key, field string, value any) (bool, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (bool, error) {
			return c.rdb.HSetNX(ctx, key, field, value).Result()
		})
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// HIncrBy atomically increments a hash field by delta.
func (c *Client) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.HIncrBy(ctx, key, field, delta).Result()
		})
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// LPop pops from the head of a list, returning (value, false, nil) when
// the list is empty rather than an error.
func (c *Client) LPop(ctx context.Context, key string) (string, bool, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (string, error) {
			val, err := c.rdb.LPop(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				return "", nil
			}
			return val, err
		})
	})
	if err != nil {
		return "", false, err
	}
	val := out.(string)
	return val, val != "", nil
}

// RPush appends one or more values to the tail of a list.
func (c *Client) RPush(ctx context.Context, key string, values ...any) (int64, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.RPush(ctx, key, values...).Result()
		})
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// BLPop blocks up to timeout waiting for an item on any of keys. A nil
// slice with ok=false means the timeout elapsed with nothing to pop; this
// is the fetch queue's main wait point and is not treated as an error.
func (c *Client) BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, bool, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) ([]string, error) {
			val, err := c.rdb.BLPop(ctx, timeout, keys...).Result()
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return val, err
		})
	})
	if err != nil {
		return nil, false, err
	}
	val, _ := out.([]string)
	return val, len(val) > 0, nil
}

// LLen reports a list's length.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.LLen(ctx, key).Result()
		})
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// ZAdd adds a member with the given score to a sorted set, used by the
// frontier's domains:ready readiness queue.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member any) error {
	_, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Result()
		})
	})
	return err
}

// ZPopMin atomically removes and returns the lowest-scored member, the
// frontier's claim-a-ready-host primitive.
func (c *Client) ZPopMin(ctx context.Context, key string) (member string, score float64, ok bool, err error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) ([]redis.Z, error) {
			return c.rdb.ZPopMin(ctx, key, 1).Result()
		})
	})
	if err != nil {
		return "", 0, false, err
	}
	zs := out.([]redis.Z)
	if len(zs) == 0 {
		return "", 0, false, nil
	}
	m, _ := zs[0].Member.(string)
	return m, zs[0].Score, true, nil
}

// ZCard reports a sorted set's cardinality.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.ZCard(ctx, key).Result()
		})
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// ZRange returns members in [start, stop] by rank.
func (c *Client) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) ([]string, error) {
			return c.rdb.ZRange(ctx, key, start, stop).Result()
		})
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// ZRem removes a member from a sorted set.
func (c *Client) ZRem(ctx context.Context, key string, member any) error {
	_, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.ZRem(ctx, key, member).Result()
		})
	})
	return err
}

// Pipeline exposes a raw pipeline for callers that need to batch several
// commands atomically from the caller's perspective (but not via MULTI);
// it is admitted through the same semaphore as single commands.
func (c *Client) Pipeline(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) ([]redis.Cmder, error) {
			return c.rdb.Pipelined(ctx, fn)
		})
	})
	if err != nil {
		return nil, err
	}
	return out.([]redis.Cmder), nil
}

// Info returns the server's INFO report, used by the orchestrator's
// periodic health export.
func (c *Client) Info(ctx context.Context, section string) (string, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (string, error) {
			return c.rdb.Info(ctx, section).Result()
		})
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// DBSize reports the number of keys in the selected database.
func (c *Client) DBSize(ctx context.Context) (int64, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.DBSize(ctx).Result()
		})
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// LastSave returns the time of the server's last successful persistence.
func (c *Client) LastSave(ctx context.Context) (time.Time, error) {
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (int64, error) {
			return c.rdb.LastSave(ctx).Result()
		})
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(out.(int64), 0), nil
}

// FilterAdd records key in the approximate-membership filter named name,
// preferring the server's BF.ADD and falling back to the in-process
// bloomfilter.Filter once BF.* is confirmed unavailable.
func (c *Client) FilterAdd(ctx context.Context, name string, key []byte) error {
	if c.bfUnsupported {
		c.fallbackFilter.Add(key)
		return nil
	}
	_, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (bool, error) {
			return c.rdb.Do(ctx, "BF.ADD", name, key).Bool()
		})
	})
	if isUnknownCommand(err) {
		c.bfUnsupported = true
		c.fallbackFilter.Add(key)
		return nil
	}
	return err
}

// FilterExists reports whether key was possibly added before via
// FilterAdd, using the same server-or-fallback policy.
func (c *Client) FilterExists(ctx context.Context, name string, key []byte) (bool, error) {
	if c.bfUnsupported {
		return c.fallbackFilter.MayContain(key), nil
	}
	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) (bool, error) {
			return c.rdb.Do(ctx, "BF.EXISTS", name, key).Bool()
		})
	})
	if isUnknownCommand(err) {
		c.bfUnsupported = true
		return c.fallbackFilter.MayContain(key), nil
	}
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// FilterMExists checks several keys in one round trip.
func (c *Client) FilterMExists(ctx context.Context, name string, keys [][]byte) ([]bool, error) {
	if c.bfUnsupported {
		results := make([]bool, len(keys))
		for i, k := range keys {
			results[i] = c.fallbackFilter.MayContain(k)
		}
		return results, nil
	}

	args := make([]any, 0, len(keys)+2)
	args = append(args, "BF.MEXISTS", name)
	for _, k := range keys {
		args = append(args, k)
	}

	out, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return retryOp(c, ctx, func(ctx context.Context) ([]any, error) {
			return c.rdb.Do(ctx, args...).Slice()
		})
	})
	if isUnknownCommand(err) {
		c.bfUnsupported = true
		results := make([]bool, len(keys))
		for i, k := range keys {
			results[i] = c.fallbackFilter.MayContain(k)
		}
		return results, nil
	}
	if err != nil {
		return nil, err
	}

	raw := out.([]any)
	results := make([]bool, len(raw))
	for i, v := range raw {
		switch n := v.(type) {
		case int64:
			results[i] = n != 0
		case bool:
			results[i] = n
		}
	}
	return results, nil
}

func isUnknownCommand(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unknown command")
}
