package cache

import (
	"container/list"
	"encoding/binary"
	"hash/fnv"
	"math"

	"genesis/internal/market"
)

// Key 唯一标识一次特征计算：bar 的全局下标、窗口内容哈希、配置哈希。
// 三者缺一不可——窗口哈希区分不同历史内容，配置哈希防止并发扫参时
// 不同 trial 之间串缓存。
type Key struct {
	BarIndex   int
	WindowHash uint64
	ConfigHash string
}

type entry struct {
	key   Key
	value any
}

// LRU 为单次回放 run 私有的有界缓存，不做任何内部加锁：
// run 内严格串行，跨 run 之间各持有独立实例。
type LRU struct {
	capacity int
	items    map[Key]*list.Element
	order    *list.List

	hits   int64
	misses int64
}

// NewLRU 构造容量固定的缓存；capacity<=0 时取 256。
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 256
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[Key]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get 查询缓存并刷新热度。
func (c *LRU) Get(key Key) (any, bool) {
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*entry).value, true
}

// Put 写入缓存，超出容量时淘汰最久未用的条目。
func (c *LRU) Put(key Key, value any) {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{key: key, value: value})
	c.items[key] = el
	for c.order.Len() > c.capacity {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		c.order.Remove(tail)
		delete(c.items, tail.Value.(*entry).key)
	}
}

// Len 返回当前条目数。
func (c *LRU) Len() int { return c.order.Len() }

// Stats 返回命中/未命中计数，供 run 结束时的诊断输出。
func (c *LRU) Stats() (hits, misses int64) { return c.hits, c.misses }

// HashWindow 对窗口内容做 FNV-1a 哈希。窗口哈希必须覆盖全部 OHLCV 字段，
// 只取末根收盘价之类的粗粒度代理会让不同窗口落到同一个 key 上。
func HashWindow(candles []market.Candle) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	writeI64 := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	writeF64 := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	for _, c := range candles {
		writeI64(c.OpenTime)
		writeF64(c.Open)
		writeF64(c.High)
		writeF64(c.Low)
		writeF64(c.Close)
		writeF64(c.Volume)
	}
	return h.Sum64()
}
