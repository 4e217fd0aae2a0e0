// Package gctable 分桶存储带过期时间的对象, 在访问时顺带回收过期对象.
package gctable

import (
	"hash/crc32"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	defaultBucketNum = 64
	minThreshold     = 100
	gcInterval       = 10 * time.Minute
)

func SetGC(interval time.Duration) (previous time.Duration) {
	previous = gcInterval
	gcInterval = interval
	return
}

type Object interface {
	Key() string
	CanGC(now time.Time) bool
	ExecuteGC()
}

// Table 对象表, 零值可用
type Table struct {
	Clock     clockwork.Clock
	BucketNum int

	once    sync.Once
	buckets []bucket
}

// Add 返回key对应的对象, 不存在或已过期则由alloc创建.
func (t *Table) Add(key string, alloc func() Object) (Object, bool) {
	b := t.getBucket(key)
	return b.add(key, t.now(), alloc)
}

// Get 返回key对应的未过期对象.
func (t *Table) Get(key string) (Object, bool) {
	b := t.getBucket(key)
	return b.get(key, t.now())
}

func (t *Table) Remove(key string) {
	b := t.getBucket(key)
	b.remove(key, t.now())
}

// Len 返回对象数量, 包含尚未回收的过期对象.
func (t *Table) Len() int {
	t.init()
	n := 0
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		n += len(b.m)
		b.mu.Unlock()
	}
	return n
}

// GC 回收全部过期对象.
func (t *Table) GC() {
	t.init()
	now := t.now()
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		b.performGC(now)
		b.mu.Unlock()
	}
}

func (t *Table) now() time.Time {
	if t.Clock == nil {
		return time.Now()
	}
	return t.Clock.Now()
}

func (t *Table) init() {
	t.once.Do(func() {
		n := t.BucketNum
		if n <= 0 {
			n = defaultBucketNum
		}
		t.buckets = make([]bucket, n)
	})
}

func (t *Table) getBucket(key string) *bucket {
	t.init()
	hash := crc32.ChecksumIEEE([]byte(key))
	index := hash % uint32(len(t.buckets))
	return &t.buckets[index]
}

type bucket struct {
	mu        sync.Mutex
	m         map[string]Object
	threshold int
	lastGC    time.Time
}

func (b *bucket) add(key string, now time.Time, alloc func() Object) (Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gc(now)
	if b.m == nil {
		b.m = make(map[string]Object)
		b.threshold = minThreshold
		b.lastGC = now
	}
	object, ok := b.m[key]
	if ok && !object.CanGC(now) {
		return object, false
	}
	if ok {
		object.ExecuteGC()
	}
	object = alloc()
	b.m[key] = object
	return object, true
}

func (b *bucket) remove(key string, now time.Time) {
	b.mu.Lock()
	b.gc(now)
	if object, ok := b.m[key]; ok {
		delete(b.m, key)
		object.ExecuteGC()
	}
	b.mu.Unlock()
}

func (b *bucket) get(key string, now time.Time) (Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gc(now)
	object, ok := b.m[key]
	if !ok {
		return nil, false
	}
	if object.CanGC(now) {
		delete(b.m, key)
		object.ExecuteGC()
		return nil, false
	}
	return object, true
}

func (b *bucket) gc(now time.Time) {
	if len(b.m) <= b.threshold && now.Sub(b.lastGC) < gcInterval {
		return
	}
	b.performGC(now)
	b.threshold = 2 * len(b.m)
	if b.threshold < minThreshold {
		b.threshold = minThreshold
	}
	b.lastGC = now
}

func (b *bucket) performGC(now time.Time) {
	for key, object := range b.m {
		if object.CanGC(now) {
			delete(b.m, key)
			object.ExecuteGC()
		}
	}
}
