package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genesis/internal/market"
)

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRU(2)
	k1 := Key{BarIndex: 1, WindowHash: 11, ConfigHash: "a"}
	k2 := Key{BarIndex: 2, WindowHash: 22, ConfigHash: "a"}
	k3 := Key{BarIndex: 3, WindowHash: 33, ConfigHash: "a"}

	c.Put(k1, "v1")
	c.Put(k2, "v2")
	_, ok := c.Get(k1) // 刷新 k1 热度
	require.True(t, ok)
	c.Put(k3, "v3") // 淘汰 k2

	_, ok = c.Get(k2)
	assert.False(t, ok)
	v, ok := c.Get(k1)
	require.True(t, ok)
	assert.Equal(t, "v1", v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUKeyComponentsAllMatter(t *testing.T) {
	c := NewLRU(8)
	base := Key{BarIndex: 5, WindowHash: 99, ConfigHash: "cfg"}
	c.Put(base, "hit")

	variants := []Key{
		{BarIndex: 6, WindowHash: 99, ConfigHash: "cfg"},
		{BarIndex: 5, WindowHash: 98, ConfigHash: "cfg"},
		{BarIndex: 5, WindowHash: 99, ConfigHash: "other"},
	}
	for _, k := range variants {
		_, ok := c.Get(k)
		assert.False(t, ok, "key %+v 不应命中", k)
	}
	v, ok := c.Get(base)
	require.True(t, ok)
	assert.Equal(t, "hit", v)
}

func TestLRUStats(t *testing.T) {
	c := NewLRU(4)
	k := Key{BarIndex: 1, WindowHash: 1, ConfigHash: "x"}
	c.Get(k)
	c.Put(k, 1)
	c.Get(k)
	c.Get(k)

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func makeWindow(seed float64, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		base := seed + float64(i)
		out[i] = market.Candle{
			OpenTime:  int64(i+1) * 60_000,
			CloseTime: int64(i+2)*60_000 - 1,
			Open:      base, High: base + 1, Low: base - 1, Close: base + 0.5,
			Volume: 100 + seed,
		}
	}
	return out
}

func TestHashWindowSensitiveToEveryField(t *testing.T) {
	base := makeWindow(100, 50)
	h := HashWindow(base)

	// 同内容同哈希。
	assert.Equal(t, h, HashWindow(makeWindow(100, 50)))

	// 任一字段的改动都必须改变哈希（不同 bar 数同理）。
	mutations := []func([]market.Candle){
		func(w []market.Candle) { w[10].Close += 1e-9 },
		func(w []market.Candle) { w[10].High += 0.01 },
		func(w []market.Candle) { w[10].Low -= 0.01 },
		func(w []market.Candle) { w[10].Open += 0.01 },
		func(w []market.Candle) { w[10].Volume += 1 },
		func(w []market.Candle) { w[10].OpenTime += 1 },
		func(w []market.Candle) { w[49].Close *= 1.0001 },
	}
	for i, mutate := range mutations {
		w := makeWindow(100, 50)
		mutate(w)
		assert.NotEqual(t, h, HashWindow(w), "mutation %d 未改变哈希", i)
	}

	assert.NotEqual(t, h, HashWindow(base[:49]))
}
