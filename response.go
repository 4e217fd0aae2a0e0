package coap

import (
	"net"

	"github.com/ironzhang/coapengine/message"
)

// Response COAP响应
type Response struct {
	// 是否为附带在ACK中的响应
	Ack bool

	// 单独响应是否为可靠消息
	Confirmable bool

	Status     Code
	Options    Options
	Token      []byte
	Payload    []byte
	RemoteAddr net.Addr
}

func newResponse(m message.Message) *Response {
	return &Response{
		Ack:         m.Type == message.ACK,
		Confirmable: m.Type == message.CON,
		Status:      m.Code,
		Options:     Options(m.Options),
		Token:       m.Token(),
		Payload:     m.Payload,
		RemoteAddr:  m.Addr,
	}
}

// Observe 返回通知序号.
func (r *Response) Observe() (uint32, bool) {
	v, ok := r.Options.Get(Observe).(uint32)
	return v, ok
}

// MaxAge 返回响应的有效期, 单位秒.
func (r *Response) MaxAge() uint32 {
	if v, ok := r.Options.Get(MaxAge).(uint32); ok {
		return v
	}
	return message.DefaultMaxAge
}
