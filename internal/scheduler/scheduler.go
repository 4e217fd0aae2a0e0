// Package scheduler 提供以键标识的定时任务, 重传/缓存过期/观察刷新共用一个时钟.
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Key 定时任务键
type Key struct {
	Kind string
	ID   string
}

type entry struct {
	gen   uint64
	timer clockwork.Timer
}

// Scheduler 定时任务调度器
//
// 同一个Key同时只存在一个任务, 重复调度会替换之前的任务.
// 任务被取消或替换后不会再执行.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	gen     uint64
	stopped bool
	entries map[Key]*entry
}

// New 构造调度器, clock为nil时使用真实时钟.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:   clock,
		entries: make(map[Key]*entry),
	}
}

func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Schedule 在d之后执行fn.
func (s *Scheduler) Schedule(key Key, d time.Duration, fn func()) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if old, ok := s.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	e := &entry{gen: gen}
	s.entries[key] = e
	s.mu.Unlock()

	t := s.clock.AfterFunc(d, func() { s.fire(key, gen, fn) })

	s.mu.Lock()
	if cur, ok := s.entries[key]; ok && cur == e {
		e.timer = t
	} else {
		t.Stop()
	}
	s.mu.Unlock()
	return true
}

// Cancel 取消任务, 返回任务是否还未执行.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

// Pending 任务是否等待执行.
func (s *Scheduler) Pending(key Key) bool {
	s.mu.Lock()
	_, ok := s.entries[key]
	s.mu.Unlock()
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	return n
}

// Stop 取消全部任务, 之后的调度请求被忽略.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

func (s *Scheduler) fire(key Key, gen uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()
	fn()
}
