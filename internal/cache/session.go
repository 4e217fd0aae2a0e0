package cache

import (
	"sync"
	"time"

	"github.com/ironzhang/coapengine/internal/scheduler"
	"github.com/ironzhang/coapengine/message"
)

// DefaultSessionTimeout 块传输会话的空闲超时
const DefaultSessionTimeout = 10 * time.Second

type svalue struct {
	resp     message.Message
	deadline time.Time
}

// SessionCache 服务端Block2会话缓存
//
// 以(客户端地址, 资源路径, 排序后的查询参数)索引, 每次访问重置空闲计时.
type SessionCache struct {
	Timeout time.Duration

	sched  *scheduler.Scheduler
	mu     sync.Mutex
	values map[string]*svalue
}

func NewSessionCache(sched *scheduler.Scheduler) *SessionCache {
	return &SessionCache{
		Timeout: DefaultSessionTimeout,
		sched:   sched,
		values:  make(map[string]*svalue),
	}
}

// SessionKey 返回请求对应的会话键.
func SessionKey(req message.Message) string {
	return message.AddrString(req.Addr) + " /" + req.Path() + "?" + req.SortedQuery()
}

// Put 保存完整响应.
func (c *SessionCache) Put(req, resp message.Message) {
	key := SessionKey(req)
	c.mu.Lock()
	c.values[key] = &svalue{resp: resp.Clone(), deadline: c.sched.Now().Add(c.Timeout)}
	c.mu.Unlock()
	c.touch(key)
}

// Get 返回会话中的完整响应并重置空闲计时.
func (c *SessionCache) Get(req message.Message) (message.Message, bool) {
	key := SessionKey(req)
	now := c.sched.Now()

	c.mu.Lock()
	v, ok := c.values[key]
	if !ok {
		c.mu.Unlock()
		return message.Message{}, false
	}
	if !now.Before(v.deadline) {
		delete(c.values, key)
		c.mu.Unlock()
		return message.Message{}, false
	}
	v.deadline = now.Add(c.Timeout)
	resp := v.resp
	c.mu.Unlock()

	c.touch(key)
	return resp, true
}

// Remove 结束会话.
func (c *SessionCache) Remove(req message.Message) {
	key := SessionKey(req)
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
	c.sched.Cancel(c.timerKey(key))
}

func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

func (c *SessionCache) touch(key string) {
	c.sched.Schedule(c.timerKey(key), c.Timeout, func() {
		c.mu.Lock()
		delete(c.values, key)
		c.mu.Unlock()
	})
}

func (c *SessionCache) timerKey(key string) scheduler.Key {
	return scheduler.Key{Kind: "block-session", ID: key}
}
