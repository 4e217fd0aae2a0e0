package base

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/message"
)

// Sender 消息发送接口, 由下层(最终为传输层)实现
type Sender interface {
	Send(m message.Message) error
}

// SenderFunc 函数形式的Sender
type SenderFunc func(m message.Message) error

func (f SenderFunc) Send(m message.Message) error {
	return f(m)
}

type BaseLayer struct {
	Name   string
	Sender Sender
	Logger *zap.Logger
}

// Log 返回层日志, 未设置时返回空日志.
func (l *BaseLayer) Log() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func (l *BaseLayer) NewError(cause error) error {
	return Error{Layer: l.Name, Cause: cause}
}

func (l *BaseLayer) Errorf(cause error, format string, a ...interface{}) error {
	return Error{Layer: l.Name, Cause: cause, Details: fmt.Sprintf(format, a...)}
}

func (l *BaseLayer) Send(m message.Message) error {
	if l.Sender == nil {
		return l.NewError(ErrLayerClosed)
	}
	return l.Sender.Send(m)
}

// SendRST 对消息m回复RST.
func (l *BaseLayer) SendRST(m message.Message) error {
	return l.Send(EmptyReply(message.RST, m))
}

// SendACK 对消息m回复空ACK.
func (l *BaseLayer) SendACK(m message.Message) error {
	return l.Send(EmptyReply(message.ACK, m))
}

// EmptyReply 构造对m的空ACK或RST.
func EmptyReply(t message.Type, m message.Message) message.Message {
	return message.Message{
		Type:      t,
		Code:      0,
		MessageID: m.MessageID,
		Addr:      m.Addr,
	}
}

type NopSender struct {
	Writer io.Writer
}

func (p NopSender) Send(m message.Message) error {
	if p.Writer != nil {
		fmt.Fprintf(p.Writer, "Send: %v\n", m.String())
	}
	return nil
}
