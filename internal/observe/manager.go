// Package observe 管理客户端的观察关系.
package observe

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/internal/metrics"
	"github.com/ironzhang/coapengine/internal/scheduler"
	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/message"
)

// ReorderWindow 超过该时间的通知总是视为更新的通知
const ReorderWindow = 128 * time.Second

// Fresher 判断序号为v2, 到达时间为t2的通知是否比(v1, t1)更新.
func Fresher(v1, v2 uint32, t1, t2 time.Time) bool {
	v1 &= 0xffff
	v2 &= 0xffff
	switch {
	case v1 < v2 && v2-v1 < 1<<15:
		return true
	case v1 > v2 && v1-v2 > 1<<15:
		return true
	}
	return t2.After(t1.Add(ReorderWindow))
}

// Observer 观察者标识, 必须可比较
type Observer interface{}

// Subscription 订阅结果
//
// Send为true时需要发送观察请求; Cached非空时直接把缓存的通知交给新观察者.
type Subscription struct {
	Send   bool
	Cached *message.Message
}

// Event 通知处理结果
type Event struct {
	URI        string
	Observers  []Observer
	Deliver    bool
	Terminated bool
}

type resource struct {
	uri       string
	request   message.Message
	observers []Observer

	seq     uint32
	last    time.Time
	hasSeq  bool
	cached  *message.Message
	expires time.Time
}

func (r *resource) index(o Observer) int {
	for i, x := range r.observers {
		if x == o {
			return i
		}
	}
	return -1
}

func (r *resource) snapshot() []Observer {
	return append([]Observer(nil), r.observers...)
}

// Manager 观察关系管理器, 以资源URI索引
type Manager struct {
	base.BaseLayer
	Metrics *metrics.Metrics

	// OnRefresh 缓存的通知过期后调用, 需要重新发送观察请求
	OnRefresh func(req message.Message)

	sched     *scheduler.Scheduler
	mu        sync.Mutex
	resources map[string]*resource
	tokens    map[message.TokenKey]string
}

func NewManager(sched *scheduler.Scheduler) *Manager {
	return &Manager{
		BaseLayer: base.BaseLayer{Name: "observe"},
		sched:     sched,
		resources: make(map[string]*resource),
		tokens:    make(map[message.TokenKey]string),
	}
}

// Subscribe 为观察者o订阅req所指向的资源.
//
// req为带Observe选项和令牌的GET请求.
func (m *Manager) Subscribe(req message.Message, o Observer) (Subscription, error) {
	key := req.TokenKey()
	if key.Token == "" {
		return Subscription{}, m.Errorf(base.ErrNoToken, "observe %v", req)
	}
	uri := req.URI()
	now := m.sched.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[uri]; ok {
		if r.index(o) < 0 {
			r.observers = append(r.observers, o)
		}
		if r.cached != nil && now.Before(r.expires) {
			cached := r.cached.Clone()
			return Subscription{Cached: &cached}, nil
		}
		return Subscription{}, nil
	}

	m.resources[uri] = &resource{uri: uri, request: req.Clone(), observers: []Observer{o}}
	m.tokens[key] = uri
	m.Metrics.SetObservations(len(m.resources))
	m.Log().Debug("observe", zap.String("uri", uri))
	return Subscription{Send: true}, nil
}

// Observing 令牌是否属于某个观察关系.
func (m *Manager) Observing(key message.TokenKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[key]
	return ok
}

// Request 返回uri上的观察请求.
func (m *Manager) Request(uri string) (message.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[uri]
	if !ok {
		return message.Message{}, false
	}
	return r.request, true
}

// Notify 处理观察通知.
//
// 不带Observe选项的响应结束观察关系; 不比上一次更新的通知被丢弃.
func (m *Manager) Notify(resp message.Message) Event {
	key := resp.TokenKey()
	now := m.sched.Now()

	m.mu.Lock()
	uri, ok := m.tokens[key]
	if !ok {
		m.mu.Unlock()
		return Event{}
	}
	r := m.resources[uri]

	seq, ok := resp.Observe()
	if !ok {
		m.remove(r)
		m.mu.Unlock()
		m.Log().Debug("observation terminated", zap.String("uri", uri), zap.Stringer("code", resp.Code))
		return Event{URI: uri, Observers: r.snapshot(), Terminated: true}
	}
	if r.hasSeq && !Fresher(r.seq, seq, r.last, now) {
		m.mu.Unlock()
		m.Log().Debug("discard stale notification", zap.String("uri", uri), zap.Uint32("seq", seq), zap.Uint32("last", r.seq))
		return Event{URI: uri}
	}

	r.seq, r.last, r.hasSeq = seq, now, true
	cached := resp.Clone()
	r.cached = &cached
	age := lifetime(resp)
	r.expires = now.Add(age)
	observers := r.snapshot()
	m.sched.Schedule(m.timerKey(uri), age, func() { m.refresh(uri) })
	m.mu.Unlock()

	return Event{URI: uri, Observers: observers, Deliver: true}
}

// lifetime 返回通知的缓存时间 Max-Age + Max-OFE.
func lifetime(resp message.Message) time.Duration {
	age := uint32(message.DefaultMaxAge)
	if v, ok := resp.Uint(message.MaxAge); ok {
		age = v
	}
	ofe, _ := resp.Uint(message.MaxOFE)
	return time.Duration(age+ofe) * time.Second
}

func (m *Manager) refresh(uri string) {
	m.mu.Lock()
	r, ok := m.resources[uri]
	if !ok {
		m.mu.Unlock()
		return
	}
	r.cached = nil
	r.hasSeq = false
	req := r.request.Clone()
	m.mu.Unlock()

	m.Log().Debug("refresh observation", zap.String("uri", uri))
	if m.OnRefresh != nil {
		m.OnRefresh(req)
	}
}

// Sent 记录观察请求重新发送时使用的消息ID.
func (m *Manager) Sent(req message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uri, ok := m.tokens[req.TokenKey()]; ok {
		m.resources[uri].request.MessageID = req.MessageID
	}
}

// Retry 刷新请求未能发送, d之后再次刷新. 观察关系已结束时返回false.
func (m *Manager) Retry(key message.TokenKey, d time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri, ok := m.tokens[key]
	if !ok {
		return false
	}
	m.sched.Schedule(m.timerKey(uri), d, func() { m.refresh(uri) })
	return true
}

// Unsubscribe 移除观察者o.
//
// 最后一个观察者离开时删除资源, 并返回用于结束观察关系的普通GET请求.
// 返回请求的消息ID是最近一次发送的观察请求的ID, 调用方据此取消其重传.
func (m *Manager) Unsubscribe(uri string, o Observer) (message.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[uri]
	if !ok {
		return message.Message{}, false
	}
	if i := r.index(o); i >= 0 {
		r.observers = append(r.observers[:i], r.observers[i+1:]...)
	}
	if len(r.observers) > 0 {
		return message.Message{}, false
	}

	m.remove(r)
	req := r.request.Clone()
	req.DelOption(message.Observe, message.Token)
	return req, true
}

// Fail 观察请求被重置或超时, 结束令牌上的观察关系.
func (m *Manager) Fail(key message.TokenKey) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri, ok := m.tokens[key]
	if !ok {
		return Event{}
	}
	r := m.resources[uri]
	m.remove(r)
	return Event{URI: uri, Observers: r.snapshot(), Terminated: true}
}

// Observers 返回uri上的观察者.
func (m *Manager) Observers(uri string) []Observer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[uri]; ok {
		return r.snapshot()
	}
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

func (m *Manager) remove(r *resource) {
	delete(m.resources, r.uri)
	delete(m.tokens, r.request.TokenKey())
	m.sched.Cancel(m.timerKey(r.uri))
	m.Metrics.SetObservations(len(m.resources))
}

func (m *Manager) timerKey(uri string) scheduler.Key {
	return scheduler.Key{Kind: "observe-refresh", ID: uri}
}
