package coap

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/message"
)

var (
	ErrNoHost        = errors.New("coap: url has no host")
	ErrInvalidScheme = errors.New("coap: invalid scheme")
	ErrFragment      = errors.New("coap: unsupport fragment")
	ErrNoToken       = base.ErrNoToken
)

// Request COAP请求
type Request struct {
	// 是否为可靠消息
	Confirmable bool

	// 请求方法
	Method Code

	// COAP选项
	Options Options

	// 目标url
	URL *url.URL

	// 消息令牌, 发送时为空则自动生成并回填
	Token []byte

	// 消息负载
	Payload []byte

	// 远端地址, 消息接收端使用
	RemoteAddr net.Addr

	// 入站请求的原始消息
	msg message.Message

	// 入站可靠请求是否已确认
	acked bool
}

// NewRequest 构造COAP请求.
//
// 主机名不是IP地址时添加Uri-Host选项, 显式指定的端口添加Uri-Port选项.
func NewRequest(confirmable bool, method Code, urlstr string, payload []byte) (*Request, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q", urlstr)
	}
	if u.Scheme != "coap" && u.Scheme != "coaps" {
		return nil, errors.Wrapf(ErrInvalidScheme, "%q", u.Scheme)
	}
	if u.Fragment != "" {
		return nil, ErrFragment
	}
	host, port, err := splitHostPort(u.Host)
	if err != nil {
		return nil, err
	}

	var options Options
	if net.ParseIP(host) == nil {
		if err = options.Set(URIHost, host); err != nil {
			return nil, err
		}
	}
	if port == 0 {
		if u.Scheme == "coaps" {
			u.Host = net.JoinHostPort(host, strconv.Itoa(DefaultSecurePort))
		} else {
			u.Host = net.JoinHostPort(host, strconv.Itoa(DefaultPort))
		}
	} else if err = options.Set(URIPort, port); err != nil {
		return nil, err
	}
	if err = options.SetPath(u.Path); err != nil {
		return nil, err
	}
	if err = options.SetQuery(u.RawQuery); err != nil {
		return nil, err
	}
	r := &Request{
		Confirmable: confirmable,
		Method:      method,
		Options:     options,
		URL:         u,
		Payload:     payload,
	}
	return r, nil
}

func splitHostPort(hostport string) (string, uint32, error) {
	if hostport == "" {
		return "", 0, ErrNoHost
	}
	if strings.HasPrefix(hostport, "[") && strings.HasSuffix(hostport, "]") {
		return hostport[1 : len(hostport)-1], 0, nil
	}
	if strings.Count(hostport, ":") != 1 && !strings.HasPrefix(hostport, "[") {
		return hostport, 0, nil
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, errors.Wrapf(err, "split %q", hostport)
	}
	if len(host) <= 0 {
		return "", 0, ErrNoHost
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", 0, errors.Wrapf(err, "port %q", port)
	}
	return host, uint32(n), nil
}

// Path 返回请求路径.
func (r *Request) Path() string {
	return r.Options.GetPath()
}

// message 构造发往addr的请求消息.
func (r *Request) message(mid uint16, addr net.Addr) (message.Message, error) {
	m := message.Message{
		Type:      message.NON,
		Code:      r.Method,
		MessageID: mid,
		Options:   r.Options.clone(),
		Payload:   r.Payload,
		Addr:      addr,
	}
	if r.Confirmable {
		m.Type = message.CON
	}
	if err := m.SetToken(r.Token); err != nil {
		return message.Message{}, err
	}
	if err := m.Validate(); err != nil {
		return message.Message{}, err
	}
	return m, nil
}

// newServerRequest 由入站消息构造请求, 缺少Uri-Host/Uri-Port时取本地地址.
func newServerRequest(m message.Message, local net.Addr) *Request {
	var host, port string
	if local != nil {
		host, port, _ = net.SplitHostPort(local.String())
	}
	if h, ok := m.GetOption(message.URIHost).(string); ok {
		host = h
	}
	if p, ok := m.Uint(message.URIPort); ok {
		port = strconv.FormatUint(uint64(p), 10)
	}
	u := &url.URL{
		Scheme:   "coap",
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + m.Path(),
		RawQuery: strings.Join(m.Queries(), "&"),
	}
	return &Request{
		Confirmable: m.Type == message.CON,
		Method:      m.Code,
		Options:     Options(m.Options),
		URL:         u,
		Token:       m.Token(),
		Payload:     m.Payload,
		RemoteAddr:  m.Addr,
		msg:         m,
	}
}
