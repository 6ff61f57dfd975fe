package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"toneshift/pkg/contract"
)

// LimitKey: 限流分组键（client + API Key 摘要，或 provider 名称）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次提示词 token 上限，0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。同一 Gate 由分类调用与全部改写任务共享。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败（ErrBudgetExceeded）。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	now := clk()
	for k, lim := range m {
		g.m[k] = newEntry(lim, now)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req bucket // RPM 维度
	tok bucket // TPM 维度
}

func newEntry(lim Limits, now time.Time) *entry {
	return &entry{lim: lim, req: newBucket(lim.RPM, now), tok: newBucket(lim.TPM, now)}
}

// bucket: 每分钟补满 cap 的令牌桶；cap<=0 表示关闭。
type bucket struct {
	cap   int
	level float64
	rate  float64 // 每秒补充量
	last  time.Time
}

func newBucket(capacity int, now time.Time) bucket {
	if capacity <= 0 {
		return bucket{}
	}
	return bucket{cap: capacity, level: float64(capacity), rate: float64(capacity) / 60.0, last: now}
}

func (b *bucket) enabled() bool { return b.cap > 0 }

func (b *bucket) refill(now time.Time) {
	if !b.enabled() || !now.After(b.last) {
		// 时钟回拨视为无时间流逝
		return
	}
	b.level += now.Sub(b.last).Seconds() * b.rate
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

// wait 返回可消费 n 前还需等待的时长；0 表示立即可用。
func (b *bucket) wait(n int) time.Duration {
	if !b.enabled() || n <= 0 {
		return 0
	}
	deficit := float64(n) - b.level
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.rate * float64(time.Second))
}

func (b *bucket) take(n int) {
	if !b.enabled() || n <= 0 {
		return
	}
	b.level -= float64(n)
	if b.level < 0 {
		b.level = 0
	}
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{}, g.clk())
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Tokens < 0 {
		return nil, fmt.Errorf("rate: %w: requests=%d tokens=%d", contract.ErrInvalidInput, a.Requests, a.Tokens)
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return nil, fmt.Errorf("rate: %w: %d tokens exceeds per-request limit %d", contract.ErrBudgetExceeded, a.Tokens, e.lim.MaxTokensPerReq)
	}
	return e, nil
}

// reserve 在持锁状态下尝试扣减；失败时返回建议等待时长。
func (g *gate) reserve(e *entry, a Ask) (bool, time.Duration) {
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	wr, wt := e.req.wait(a.Requests), e.tok.wait(a.Tokens)
	if wr == 0 && wt == 0 {
		e.req.take(a.Requests)
		e.tok.take(a.Tokens)
		return true, 0
	}
	return false, max(wr, wt)
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	ok, _ := g.reserve(e, a)
	return ok
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	// 最小睡眠粒度，避免忙等
	const minSleep = 10 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, d := g.reserve(e, a)
		if ok {
			return nil
		}
		if err := sleepCtx(ctx, max(d+minSleep, minSleep)); err != nil {
			return err
		}
	}
}

// sleepCtx 分片睡眠（每片最多 200ms）以及时响应取消。
func sleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := min(d, step)
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

// Snapshot: 返回当前可用请求/令牌的向下取整估值（仅诊断）；未启用维度返回 0。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	if e.req.enabled() {
		rpmAvail = int(e.req.level)
	}
	if e.tok.enabled() {
		tpmAvail = int(e.tok.level)
	}
	return rpmAvail, tpmAvail
}

var (
	_ Gate       = (*gate)(nil)
	_ Snapshoter = (*gate)(nil)
)
