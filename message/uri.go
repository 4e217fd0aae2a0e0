package message

import (
	"net"
	"sort"
	"strconv"
	"strings"
)

// Key 以(远端地址, 消息ID)标识一次交互, 用于ACK/RST匹配及去重
type Key struct {
	Remote    string
	MessageID uint16
}

// TokenKey 以(远端地址, 令牌)标识一次交互, 用于单独响应和观察通知匹配
type TokenKey struct {
	Remote string
	Token  string
}

// AddrString 返回地址的字符串形式, nil返回空串.
func AddrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

func (m *Message) Key() Key {
	return Key{Remote: AddrString(m.Addr), MessageID: m.MessageID}
}

func (m *Message) TokenKey() TokenKey {
	return TokenKey{Remote: AddrString(m.Addr), Token: string(m.Token())}
}

// Path 返回以"/"连接的Uri-Path.
func (m *Message) Path() string {
	return strings.Join(m.Strings(URIPath), "/")
}

// Queries 返回Uri-Query列表.
func (m *Message) Queries() []string {
	return m.Strings(URIQuery)
}

// SortedQuery 返回排序后以"&"连接的Uri-Query.
func (m *Message) SortedQuery() string {
	queries := append([]string(nil), m.Queries()...)
	sort.Strings(queries)
	return strings.Join(queries, "&")
}

// URI 返回请求所指向的资源URI.
//
// 存在Proxy-Uri时直接返回其值; 否则由Uri-Host/Uri-Port/Uri-Path/Uri-Query与目标地址组合而成.
func (m *Message) URI() string {
	if proxy, ok := m.GetOption(ProxyURI).(string); ok {
		return proxy
	}

	var host, port string
	if m.Addr != nil {
		host, port, _ = net.SplitHostPort(m.Addr.String())
	}
	if h, ok := m.GetOption(URIHost).(string); ok {
		host = h
	}
	if p, ok := m.Uint(URIPort); ok {
		port = strconv.FormatUint(uint64(p), 10)
	}

	var b strings.Builder
	b.WriteString("coap://")
	if port != "" {
		b.WriteString(net.JoinHostPort(host, port))
	} else {
		b.WriteString(host)
	}
	b.WriteString("/")
	b.WriteString(m.Path())
	if q := m.Queries(); len(q) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(q, "&"))
	}
	return b.String()
}
