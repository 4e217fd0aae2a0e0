// Package coaptest 提供测试COAP处理函数的工具.
package coaptest

import (
	"bytes"
	"net"

	coap "github.com/ironzhang/coapengine"
)

// ResponseRecorder 记录处理函数写入的响应
type ResponseRecorder struct {
	Acked       bool
	Confirmable bool
	Code        coap.Code
	Header      coap.Options
	Body        bytes.Buffer
}

func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{
		Code:   coap.Content,
		Header: make(coap.Options, 0),
	}
}

func (rw *ResponseRecorder) Ack() {
	rw.Acked = true
}

func (rw *ResponseRecorder) SetConfirmable() {
	rw.Confirmable = true
}

func (rw *ResponseRecorder) Options() *coap.Options {
	return &rw.Header
}

func (rw *ResponseRecorder) WriteCode(code coap.Code) {
	rw.Code = code
}

func (rw *ResponseRecorder) Write(buf []byte) (int, error) {
	return rw.Body.Write(buf)
}

// Result 返回记录的响应. 处理函数调用过Ack时响应作为单独响应返回.
func (rw *ResponseRecorder) Result() *coap.Response {
	return &coap.Response{
		Ack:         !rw.Acked,
		Confirmable: rw.Acked && rw.Confirmable,
		Status:      rw.Code,
		Options:     append(coap.Options(nil), rw.Header...),
		Payload:     append([]byte(nil), rw.Body.Bytes()...),
	}
}

// NewRequest 构造发给处理函数的可靠请求, target无效时panic.
//
// target为完整的coap url, 如"coap://127.0.0.1/temp?unit=c".
func NewRequest(method coap.Code, target string, payload []byte) *coap.Request {
	req, err := coap.NewRequest(true, method, target, payload)
	if err != nil {
		panic("coaptest: invalid target: " + err.Error())
	}
	req.Token = []byte{0x01}
	req.RemoteAddr = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: coap.DefaultPort}
	return req
}
