package coap

import (
	"sort"
	"strings"
	"sync"
)

// Handler 响应COAP请求的接口
type Handler interface {
	ServeCOAP(ResponseWriter, *Request)
}

// HandlerFunc 函数形式的Handler
type HandlerFunc func(ResponseWriter, *Request)

func (f HandlerFunc) ServeCOAP(w ResponseWriter, r *Request) {
	f(w, r)
}

type muxEntry struct {
	path  string
	h     Handler
	attrs LinkAttrs
}

// ServeMux 按路径分发请求, 并以注册的资源应答/.well-known/core发现请求.
//
// 路径精确匹配, 首尾的"/"被忽略. 未注册任何资源时回复5.01, 路径不存在时回复4.04.
type ServeMux struct {
	mu sync.RWMutex
	m  map[string]muxEntry
}

func NewServeMux() *ServeMux {
	return &ServeMux{m: make(map[string]muxEntry)}
}

func cleanPath(path string) string {
	return strings.Trim(path, "/")
}

// Handle 注册path上的处理函数, attrs为资源发现时输出的链接属性.
func (mux *ServeMux) Handle(path string, h Handler, attrs LinkAttrs) {
	if h == nil {
		panic("coap: nil handler")
	}
	path = cleanPath(path)
	if path == WellKnownCore {
		panic("coap: " + WellKnownCore + " is reserved")
	}
	mux.mu.Lock()
	defer mux.mu.Unlock()
	if mux.m == nil {
		mux.m = make(map[string]muxEntry)
	}
	mux.m[path] = muxEntry{path: path, h: h, attrs: attrs}
}

func (mux *ServeMux) HandleFunc(path string, f func(ResponseWriter, *Request), attrs LinkAttrs) {
	mux.Handle(path, HandlerFunc(f), attrs)
}

// Handler 返回path上的处理函数.
func (mux *ServeMux) Handler(path string) (Handler, bool) {
	mux.mu.RLock()
	defer mux.mu.RUnlock()
	e, ok := mux.m[cleanPath(path)]
	return e.h, ok
}

func (mux *ServeMux) Len() int {
	mux.mu.RLock()
	defer mux.mu.RUnlock()
	return len(mux.m)
}

func (mux *ServeMux) entries() []muxEntry {
	mux.mu.RLock()
	es := make([]muxEntry, 0, len(mux.m))
	for _, e := range mux.m {
		es = append(es, e)
	}
	mux.mu.RUnlock()
	sort.Slice(es, func(i, j int) bool { return es[i].path < es[j].path })
	return es
}

func (mux *ServeMux) ServeCOAP(w ResponseWriter, r *Request) {
	path := cleanPath(r.Path())
	if path == WellKnownCore {
		mux.serveDiscovery(w, r)
		return
	}
	if mux.Len() == 0 {
		w.WriteCode(NotImplemented)
		return
	}
	h, ok := mux.Handler(path)
	if !ok {
		w.WriteCode(NotFound)
		return
	}
	h.ServeCOAP(w, r)
}
