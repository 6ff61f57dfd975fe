package rate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toneshift/pkg/contract"
)

// UT-RTE-01: 超过 RPM
func TestGateTryLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1, TPM: 10, MaxTokensPerReq: 5}}, clk)
	require.True(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}), "首次应通过")
	assert.False(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}), "应因 RPM 拒绝")

	// 一分钟后补满
	now = now.Add(time.Minute)
	assert.True(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}))
}

// UT-RTE-02: 取消上下文
func TestGateWaitCancel(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, clk)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := g.Wait(ctx, Ask{Key: "k", Requests: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

// UT-RTE-03: 单请求上限与非法申请
func TestGateWaitRejects(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {MaxTokensPerReq: 5}}, nil)
	err := g.Wait(context.Background(), Ask{Key: "k", Requests: 1, Tokens: 6})
	assert.ErrorIs(t, err, contract.ErrBudgetExceeded)
	err = g.Wait(context.Background(), Ask{Key: "k", Requests: 0})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.False(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 6}))
}

// 未配置 key 不限额，并发获取不应竞争
func TestGateUnknownKeyConcurrent(t *testing.T) {
	g := NewGate(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Wait(context.Background(), Ask{Key: "free", Requests: 1, Tokens: 100}))
		}()
	}
	wg.Wait()
}

func TestGateSnapshot(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 10, TPM: 100}}, clk)
	require.True(t, g.Try(Ask{Key: "k", Requests: 2, Tokens: 30}))
	s := g.(Snapshoter)
	rpm, tpm := s.Snapshot("k")
	assert.Equal(t, 8, rpm)
	assert.Equal(t, 70, tpm)
}

// Wait 在额度补充后放行
func TestGateWaitRefill(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 600}}, nil)
	for i := 0; i < 600; i++ {
		require.True(t, g.Try(Ask{Key: "k", Requests: 1}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, g.Wait(ctx, Ask{Key: "k", Requests: 1}))
	// 600 RPM = 10/s，单个请求约 100ms 后可用
	assert.Less(t, time.Since(start), time.Second)
}

func TestDeriveKey(t *testing.T) {
	t.Setenv("TEST_KEY", "abc")
	raw, _ := json.Marshal(map[string]any{"api_key_env": "TEST_KEY"})
	k, err := DeriveKey("openai", raw)
	require.NoError(t, err)
	assert.NotEmpty(t, k)

	k2, err := DeriveKey("openai", json.RawMessage(`{"api_key":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, k, k2, "同一密钥应得到同一分组键")

	t.Setenv("OPENAI_API_KEY", "")
	_, err = DeriveKey("openai", json.RawMessage(`{}`))
	assert.Error(t, err, "缺少 key 应失败")

	mk, err := DeriveKey("mock", nil)
	require.NoError(t, err)
	assert.Contains(t, string(mk), "mock:")
}
