package cache

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/port"
)

const defaultOpTimeout = 250 * time.Millisecond

// ErrCircuitOpen is reported in CacheResult.Err when the remote call was skipped.
var ErrCircuitOpen = errors.New("cache circuit open")

var _ port.Cache = (*Client)(nil)

// Client is the resilient cache. Every call goes through the breaker; when the
// remote is unreachable reads are served from the fallback store and atomic
// operations report CacheUnavailable.
type Client struct {
	remote    redis.UniversalClient
	breaker   *Breaker
	fallback  *FallbackCache
	counters  Counters
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	opTimeout time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithOpTimeout bounds every remote call.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// WithMetrics mirrors counters into Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithCounters replaces the default counter set.
func WithCounters(counters Counters) Option {
	return func(c *Client) {
		if counters != nil {
			c.counters = counters
		}
	}
}

// WithTracer overrides the tracer used for remote call spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewClient wires the remote client, breaker and fallback store together.
func NewClient(remote redis.UniversalClient, breaker *Breaker, fallback *FallbackCache, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		remote:    remote,
		breaker:   breaker,
		fallback:  fallback,
		counters:  NewCounters(),
		tracer:    otel.Tracer("github.com/arklim/authcore/internal/infra/cache"),
		logger:    logger,
		opTimeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the breaker state.
func (c *Client) State() CircuitState {
	return c.breaker.State()
}

// Health reports breaker state and counters.
func (c *Client) Health() port.CacheHealth {
	snap := c.breaker.Snapshot()
	health := port.CacheHealth{
		State:           snap.State.String(),
		FailureCount:    int64(snap.FailureCount),
		TotalCalls:      c.counters.Load(CounterTotal),
		SuccessfulCalls: c.counters.Load(CounterSuccess),
		FailedCalls:     c.counters.Load(CounterFailed),
		FallbackCalls:   c.counters.Load(CounterFallback),
		CacheHits:       c.counters.Load(CounterHit),
		CacheMisses:     c.counters.Load(CounterMiss),
		CacheSize:       c.fallback.Len(),
		RedisAvailable:  snap.State == StateClosed,
		DegradedMode:    snap.State != StateClosed,
	}
	if !snap.LastFailureTime.IsZero() {
		last := snap.LastFailureTime.UTC()
		health.LastFailureTime = &last
	}
	return health
}

func (c *Client) Get(ctx context.Context, key string) port.CacheResult[[]byte] {
	rep, outcome, err := c.execute(ctx, operation{kind: opGet, key: key})
	return port.CacheResult[[]byte]{Value: rep.data, Found: rep.found, Outcome: outcome, Err: err}
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) port.CacheResult[bool] {
	rep, outcome, err := c.execute(ctx, operation{kind: opSet, key: key, value: value, ttl: ttl})
	return port.CacheResult[bool]{Value: rep.ok, Found: rep.ok, Outcome: outcome, Err: err}
}

// SetNX claims key when absent. It has no local answer.
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) port.CacheResult[bool] {
	rep, outcome, err := c.execute(ctx, operation{kind: opSetNX, key: key, value: value, ttl: ttl})
	return port.CacheResult[bool]{Value: rep.ok, Found: rep.ok, Outcome: outcome, Err: err}
}

func (c *Client) Delete(ctx context.Context, key string) port.CacheResult[int64] {
	rep, outcome, err := c.execute(ctx, operation{kind: opDelete, key: key})
	return port.CacheResult[int64]{Value: rep.n, Found: rep.n > 0, Outcome: outcome, Err: err}
}

func (c *Client) Exists(ctx context.Context, key string) port.CacheResult[bool] {
	rep, outcome, err := c.execute(ctx, operation{kind: opExists, key: key})
	return port.CacheResult[bool]{Value: rep.ok, Found: rep.found, Outcome: outcome, Err: err}
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) port.CacheResult[bool] {
	rep, outcome, err := c.execute(ctx, operation{kind: opExpire, key: key, ttl: ttl})
	return port.CacheResult[bool]{Value: rep.ok, Found: rep.ok, Outcome: outcome, Err: err}
}

func (c *Client) HGet(ctx context.Context, key, field string) port.CacheResult[string] {
	rep, outcome, err := c.execute(ctx, operation{kind: opHGet, key: key, field: field})
	return port.CacheResult[string]{Value: rep.str, Found: rep.found, Outcome: outcome, Err: err}
}

func (c *Client) HGetAll(ctx context.Context, key string) port.CacheResult[map[string]string] {
	rep, outcome, err := c.execute(ctx, operation{kind: opHGetAll, key: key})
	return port.CacheResult[map[string]string]{Value: rep.fields, Found: rep.found, Outcome: outcome, Err: err}
}

func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) port.CacheResult[int64] {
	rep, outcome, err := c.execute(ctx, operation{kind: opHSet, key: key, fields: fields})
	return port.CacheResult[int64]{Value: rep.n, Found: rep.n > 0, Outcome: outcome, Err: err}
}

// CompareAndSwapField sets field to next only if it currently equals expected.
func (c *Client) CompareAndSwapField(ctx context.Context, key, field, expected, next string) port.CacheResult[bool] {
	rep, outcome, err := c.execute(ctx, operation{kind: opCompareAndSwap, key: key, field: field, expected: expected, next: next})
	return port.CacheResult[bool]{Value: rep.ok, Found: rep.ok, Outcome: outcome, Err: err}
}

func (c *Client) SAdd(ctx context.Context, key string, members ...string) port.CacheResult[int64] {
	rep, outcome, err := c.execute(ctx, operation{kind: opSAdd, key: key, members: members})
	return port.CacheResult[int64]{Value: rep.n, Found: rep.n > 0, Outcome: outcome, Err: err}
}

// SRem removes member and reports how many were removed; a value of 1 means
// this caller consumed the member.
func (c *Client) SRem(ctx context.Context, key, member string) port.CacheResult[int64] {
	rep, outcome, err := c.execute(ctx, operation{kind: opSRem, key: key, members: []string{member}})
	return port.CacheResult[int64]{Value: rep.n, Found: rep.n > 0, Outcome: outcome, Err: err}
}

func (c *Client) SMembers(ctx context.Context, key string) port.CacheResult[[]string] {
	rep, outcome, err := c.execute(ctx, operation{kind: opSMembers, key: key})
	return port.CacheResult[[]string]{Value: rep.members, Found: rep.found, Outcome: outcome, Err: err}
}

// SlidingWindowHit trims the window, counts it and records the hit when under the limit, atomically.
func (c *Client) SlidingWindowHit(ctx context.Context, key string, hit port.WindowHit) port.CacheResult[port.WindowReply] {
	rep, outcome, err := c.execute(ctx, operation{kind: opWindowHit, key: key, hit: hit})
	return port.CacheResult[port.WindowReply]{Value: rep.window, Found: outcome == port.CacheFresh, Outcome: outcome, Err: err}
}

func (c *Client) Ping(ctx context.Context) port.CacheResult[bool] {
	rep, outcome, err := c.execute(ctx, operation{kind: opPing})
	return port.CacheResult[bool]{Value: rep.ok, Found: rep.ok, Outcome: outcome, Err: err}
}

// execute is the single path every operation takes.
func (c *Client) execute(ctx context.Context, op operation) (reply, port.CacheOutcome, error) {
	c.count(op.kind, CounterTotal)

	if !c.breaker.Allow() {
		rep, outcome := c.degrade(op)
		return rep, outcome, ErrCircuitOpen
	}

	start := time.Now()
	rep, err := c.call(ctx, op)
	c.metrics.observe(op.kind, time.Since(start).Seconds())

	if err == nil {
		c.breaker.RecordSuccess()
		c.count(op.kind, CounterSuccess)
		c.remember(op, rep)
		return rep, port.CacheFresh, nil
	}

	if ctx.Err() != nil {
		// The caller went away; that says nothing about the remote.
		c.breaker.Release()
	} else {
		c.breaker.RecordFailure()
		c.count(op.kind, CounterFailed)
	}

	c.logger.Warn("cache call failed, serving fallback",
		zap.String("op", op.kind.String()),
		zap.String("breaker_state", c.breaker.State().String()),
		zap.Error(err),
	)

	rep, outcome := c.degrade(op)
	return rep, outcome, err
}

func (c *Client) call(ctx context.Context, op operation) (reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "cache."+op.kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "redis")),
	)
	defer span.End()

	rep, err := c.dispatch(ctx, op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rep, err
}

func (c *Client) dispatch(ctx context.Context, op operation) (reply, error) {
	switch op.kind {
	case opGet:
		data, err := c.remote.Get(ctx, op.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return reply{}, nil
		}
		if err != nil {
			return reply{}, err
		}
		return reply{found: true, data: data}, nil

	case opSet:
		if err := c.remote.Set(ctx, op.key, op.value, op.ttl).Err(); err != nil {
			return reply{}, err
		}
		return reply{ok: true}, nil

	case opSetNX:
		ok, err := c.remote.SetNX(ctx, op.key, op.value, op.ttl).Result()
		return reply{ok: ok}, err

	case opDelete:
		n, err := c.remote.Del(ctx, op.key).Result()
		return reply{n: n}, err

	case opExists:
		n, err := c.remote.Exists(ctx, op.key).Result()
		return reply{ok: n > 0, found: n > 0}, err

	case opExpire:
		ok, err := c.remote.Expire(ctx, op.key, op.ttl).Result()
		return reply{ok: ok}, err

	case opHGet:
		value, err := c.remote.HGet(ctx, op.key, op.field).Result()
		if errors.Is(err, redis.Nil) {
			return reply{}, nil
		}
		if err != nil {
			return reply{}, err
		}
		return reply{found: true, str: value}, nil

	case opHGetAll:
		fields, err := c.remote.HGetAll(ctx, op.key).Result()
		if err != nil {
			return reply{}, err
		}
		return reply{found: len(fields) > 0, fields: fields}, nil

	case opHSet:
		args := make([]any, 0, len(op.fields)*2)
		for field, value := range op.fields {
			args = append(args, field, value)
		}
		n, err := c.remote.HSet(ctx, op.key, args...).Result()
		return reply{n: n, ok: err == nil}, err

	case opCompareAndSwap:
		n, err := casFieldScript.Run(ctx, c.remote, []string{op.key}, op.field, op.expected, op.next).Int64()
		return reply{ok: n == 1}, err

	case opSAdd:
		n, err := c.remote.SAdd(ctx, op.key, toArgs(op.members)...).Result()
		return reply{n: n}, err

	case opSRem:
		n, err := c.remote.SRem(ctx, op.key, toArgs(op.members)...).Result()
		return reply{n: n}, err

	case opSMembers:
		members, err := c.remote.SMembers(ctx, op.key).Result()
		if err != nil {
			return reply{}, err
		}
		return reply{found: len(members) > 0, members: members}, nil

	case opWindowHit:
		values, err := windowHitScript.Run(ctx, c.remote, []string{op.key},
			op.hit.Now.UnixMilli(),
			op.hit.Window.Milliseconds(),
			op.hit.Limit,
			op.hit.Member,
		).Int64Slice()
		if err != nil {
			return reply{}, err
		}
		if len(values) != 3 {
			return reply{}, errors.New("unexpected window script reply")
		}
		return reply{found: true, window: port.WindowReply{
			Allowed: values[0] == 1,
			Count:   int(values[1]),
			Oldest:  time.UnixMilli(values[2]),
		}}, nil

	case opPing:
		if err := c.remote.Ping(ctx).Err(); err != nil {
			return reply{}, err
		}
		return reply{ok: true}, nil

	default:
		return reply{}, errors.New("unknown cache operation")
	}
}

// degrade answers op without the remote.
func (c *Client) degrade(op operation) (reply, port.CacheOutcome) {
	c.count(op.kind, CounterFallback)
	defer c.metrics.setFallbackSize(c.fallback.Len())

	if op.kind.atomic() {
		return reply{}, port.CacheUnavailable
	}

	switch op.kind {
	case opGet:
		entry, ok := c.lookup(op.kind, op.key)
		if !ok || entry.Value == nil {
			return reply{}, port.CacheUnavailable
		}
		return reply{found: true, data: slices.Clone(entry.Value)}, port.CacheFallback

	case opExists:
		if _, ok := c.lookup(op.kind, op.key); ok {
			return reply{found: true, ok: true}, port.CacheFallback
		}
		return reply{}, port.CacheUnavailable

	case opHGet:
		entry, ok := c.lookup(op.kind, op.key)
		if !ok {
			return reply{}, port.CacheUnavailable
		}
		value, has := entry.Fields[op.field]
		if !has {
			return reply{}, port.CacheUnavailable
		}
		return reply{found: true, str: value}, port.CacheFallback

	case opHGetAll:
		entry, ok := c.lookup(op.kind, op.key)
		if !ok || len(entry.Fields) == 0 {
			return reply{}, port.CacheUnavailable
		}
		return reply{found: true, fields: maps.Clone(entry.Fields)}, port.CacheFallback

	case opSMembers:
		entry, ok := c.lookup(op.kind, op.key)
		if !ok || entry.Members == nil {
			return reply{}, port.CacheUnavailable
		}
		members := make([]string, 0, len(entry.Members))
		for m := range entry.Members {
			members = append(members, m)
		}
		slices.Sort(members)
		return reply{found: len(members) > 0, members: members}, port.CacheFallback

	case opSet:
		c.fallback.PutValue(op.key, op.value)
		return reply{}, port.CacheFallback

	case opHSet:
		c.fallback.MergeFields(op.key, op.fields)
		return reply{}, port.CacheFallback

	case opSAdd:
		c.fallback.AddMembers(op.key, op.members...)
		return reply{}, port.CacheFallback

	case opDelete:
		c.fallback.Remove(op.key)
		return reply{}, port.CacheFallback

	case opExpire:
		return reply{}, port.CacheFallback

	default:
		return reply{}, port.CacheUnavailable
	}
}

// remember keeps the fallback store in line with fresh answers.
func (c *Client) remember(op operation, rep reply) {
	switch op.kind {
	case opGet:
		if rep.found {
			c.fallback.PutValue(op.key, rep.data)
		} else {
			c.fallback.Remove(op.key)
		}
	case opSet:
		c.fallback.PutValue(op.key, op.value)
	case opDelete:
		c.fallback.Remove(op.key)
	case opHGet:
		if rep.found {
			c.fallback.SetField(op.key, op.field, rep.str)
		}
	case opHGetAll:
		if rep.found {
			c.fallback.PutFields(op.key, rep.fields)
		} else {
			c.fallback.Remove(op.key)
		}
	case opHSet:
		c.fallback.MergeFields(op.key, op.fields)
	case opCompareAndSwap:
		if rep.ok {
			c.fallback.SetField(op.key, op.field, op.next)
		}
	case opSAdd:
		if c.fallback.Contains(op.key) {
			c.fallback.AddMembers(op.key, op.members...)
		}
	case opSRem:
		if rep.n > 0 {
			c.fallback.RemoveMember(op.key, op.members[0])
		}
	case opSMembers:
		if rep.found {
			c.fallback.PutMembers(op.key, rep.members)
		} else {
			c.fallback.Remove(op.key)
		}
	default:
		return
	}
	c.metrics.setFallbackSize(c.fallback.Len())
}

func (c *Client) lookup(kind opKind, key string) (CacheEntry, bool) {
	entry, ok := c.fallback.Get(key)
	if ok {
		c.count(kind, CounterHit)
	} else {
		c.count(kind, CounterMiss)
	}
	return entry, ok
}

func (c *Client) count(kind opKind, counter Counter) {
	c.counters.Inc(counter)
	c.metrics.count(kind, counter)
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
