package coap

import (
	"sort"
	"strconv"
	"strings"
)

// LinkAttrs 资源的链接属性, 如rt, if, ct, title, obs
//
// ct与sz按数值输出, 值为空的属性只输出名字, 其余属性值加引号.
type LinkAttrs map[string]string

func (attrs LinkAttrs) format(path string) string {
	var b strings.Builder
	b.WriteString("</")
	b.WriteString(path)
	b.WriteString(">")

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := attrs[k]
		b.WriteString(";")
		b.WriteString(k)
		switch {
		case v == "":
		case k == "ct" || k == "sz":
			b.WriteString("=")
			b.WriteString(v)
		default:
			b.WriteString("=")
			b.WriteString(strconv.Quote(v))
		}
	}
	return b.String()
}

// match 判断资源是否满足查询条件name=value, value以"*"结尾时按前缀匹配.
func (attrs LinkAttrs) match(path, name, value string) bool {
	var candidates []string
	switch name {
	case "href":
		candidates = []string{"/" + path}
	case "rt", "if":
		v, ok := attrs[name]
		if !ok {
			return false
		}
		candidates = strings.Fields(v)
	default:
		v, ok := attrs[name]
		if !ok {
			return false
		}
		candidates = []string{v}
	}

	prefix := strings.HasSuffix(value, "*")
	value = strings.TrimSuffix(value, "*")
	for _, c := range candidates {
		if prefix && strings.HasPrefix(c, value) {
			return true
		}
		if !prefix && c == value {
			return true
		}
	}
	return false
}

// LinkFormat 返回满足全部查询条件的资源的链接格式描述.
func (mux *ServeMux) LinkFormat(queries []string) string {
	var links []string
	for _, e := range mux.entries() {
		if matchQueries(e, queries) {
			links = append(links, e.attrs.format(e.path))
		}
	}
	return strings.Join(links, ",")
}

func matchQueries(e muxEntry, queries []string) bool {
	for _, q := range queries {
		i := strings.IndexByte(q, '=')
		if i <= 0 {
			continue
		}
		if !e.attrs.match(e.path, q[:i], q[i+1:]) {
			return false
		}
	}
	return true
}

func (mux *ServeMux) serveDiscovery(w ResponseWriter, r *Request) {
	if r.Method != GET {
		w.WriteCode(MethodNotAllowed)
		return
	}
	w.Options().Set(ContentFormat, uint32(AppLinkFormat))
	w.WriteCode(Content)
	w.Write([]byte(mux.LinkFormat(r.Options.Strings(URIQuery))))
}

// Discover 向remote(host[:port])发送资源发现请求, query为过滤条件, 如"rt=temperature".
func (e *Endpoint) Discover(remote, query string, l RequestListener) (*Request, error) {
	uri := "coap://" + remote + "/" + WellKnownCore
	if query != "" {
		uri += "?" + query
	}
	req, err := NewRequest(true, GET, uri, nil)
	if err != nil {
		return nil, err
	}
	if err = e.SendRequest(req, l); err != nil {
		return nil, err
	}
	return req, nil
}
