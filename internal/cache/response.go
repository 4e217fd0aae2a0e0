// Package cache 实现客户端响应缓存和服务端块传输会话缓存.
package cache

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ironzhang/coapengine/internal/metrics"
	"github.com/ironzhang/coapengine/internal/scheduler"
	"github.com/ironzhang/coapengine/message"
)

// Cacheable 响应码是否可缓存: 2.03, 2.05及全部4.xx/5.xx.
func Cacheable(code message.Code) bool {
	switch code {
	case message.Valid, message.Content:
		return true
	}
	c := code.Class()
	return c == 4 || c == 5
}

// noCacheKey 不参与缓存匹配的选项
func noCacheKey(id message.OptionID) bool {
	switch id {
	case message.Token, message.MaxAge, message.ETag:
		return true
	}
	return false
}

func cacheKeyOptions(options []message.Option) []message.Option {
	dst := make([]message.Option, 0, len(options))
	for _, o := range options {
		if noCacheKey(o.ID) {
			continue
		}
		dst = append(dst, o)
	}
	sort.SliceStable(dst, func(i, j int) bool {
		if dst[i].ID != dst[j].ID {
			return dst[i].ID < dst[j].ID
		}
		return fmt.Sprint(dst[i].Value) < fmt.Sprint(dst[j].Value)
	})
	return dst
}

func optionsEqual(x, y []message.Option) bool {
	return reflect.DeepEqual(cacheKeyOptions(x), cacheKeyOptions(y))
}

// normalizeURI 对查询参数排序, 使参数顺序不同的URI指向同一缓存项.
func normalizeURI(uri string) string {
	i := strings.IndexByte(uri, '?')
	if i < 0 {
		return uri
	}
	queries := strings.Split(uri[i+1:], "&")
	sort.Strings(queries)
	return uri[:i+1] + strings.Join(queries, "&")
}

type rvalue struct {
	req     message.Message
	resp    message.Message
	expires time.Time
}

// ResponseCache 客户端响应缓存, 以资源URI索引
type ResponseCache struct {
	DefaultMaxAge time.Duration
	Metrics       *metrics.Metrics

	sched  *scheduler.Scheduler
	mu     sync.Mutex
	values map[string]*rvalue
}

func NewResponseCache(sched *scheduler.Scheduler) *ResponseCache {
	return &ResponseCache{
		DefaultMaxAge: message.DefaultMaxAge * time.Second,
		sched:         sched,
		values:        make(map[string]*rvalue),
	}
}

// Put 缓存请求req收到的响应resp, 返回是否缓存.
func (c *ResponseCache) Put(req, resp message.Message) bool {
	if !Cacheable(resp.Code) {
		return false
	}
	if resp.HasOption(message.Block1) || resp.HasOption(message.Block2) {
		return false
	}

	key := normalizeURI(req.URI())
	age := c.DefaultMaxAge
	if v, ok := resp.Uint(message.MaxAge); ok {
		age = time.Duration(v) * time.Second
	}
	if age <= 0 {
		c.Invalidate(key)
		return false
	}

	v := &rvalue{req: req.Clone(), resp: resp.Clone(), expires: c.sched.Now().Add(age)}
	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()
	c.sched.Schedule(c.timerKey(key), age, func() {
		c.mu.Lock()
		if cur, ok := c.values[key]; ok && cur == v {
			delete(c.values, key)
		}
		c.mu.Unlock()
	})
	return true
}

// Get 查找可复用的缓存响应.
//
// 方法相同, 且除Token/Max-Age/ETag外的选项排序后逐一相等时命中.
// 返回的响应替换为req的令牌, Max-Age为剩余的有效期.
func (c *ResponseCache) Get(req message.Message) (message.Message, bool) {
	resp, ok := c.get(req)
	c.Metrics.CacheLookup(ok)
	return resp, ok
}

func (c *ResponseCache) get(req message.Message) (message.Message, bool) {
	key := normalizeURI(req.URI())
	now := c.sched.Now()

	c.mu.Lock()
	v, ok := c.values[key]
	if ok && !now.Before(v.expires) {
		delete(c.values, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return message.Message{}, false
	}

	if v.req.Code != req.Code {
		return message.Message{}, false
	}
	if !optionsEqual(v.req.Options, req.Options) {
		return message.Message{}, false
	}
	if v.resp.HasOption(message.Block2) {
		return message.Message{}, false
	}

	resp := v.resp.Clone()
	resp.Addr = req.Addr
	resp.SetToken(req.Token())
	resp.SetOption(message.MaxAge, uint32(v.expires.Sub(now)/time.Second))
	return resp, true
}

// Invalidate 删除uri对应的缓存.
func (c *ResponseCache) Invalidate(uri string) bool {
	uri = normalizeURI(uri)
	c.mu.Lock()
	_, ok := c.values[uri]
	delete(c.values, uri)
	c.mu.Unlock()
	c.sched.Cancel(c.timerKey(uri))
	return ok
}

func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

func (c *ResponseCache) timerKey(uri string) scheduler.Key {
	return scheduler.Key{Kind: "response-cache", ID: uri}
}
