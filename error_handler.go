package coap

import (
	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/message"
)

// BadOptionPayload 可靠请求包含无法识别的关键选项时4.02响应的负载
const BadOptionPayload = `Unrecognized options of class "critical" that occur in a Confirmable request`

type errorHandler struct {
	name           string
	requestHandler func(e *Endpoint, m message.Message) message.Message
}

func (h errorHandler) handle(e *Endpoint, m message.Message) {
	switch m.Type {
	case message.CON, message.NON:
		h.handleMSG(e, m)
	default:
		e.logger.Debug("ignore", zap.String("handler", h.name), zap.Stringer("message", m))
	}
}

func (h errorHandler) handleMSG(e *Endpoint, m message.Message) {
	switch {
	case m.Code == 0:
	case m.IsRequest():
		h.handleRequest(e, m)
	case m.IsResponse():
		h.handleResponse(e, m)
	default:
		e.logger.Debug("reserved code", zap.String("handler", h.name), zap.Stringer("code", m.Code))
	}
}

func (h errorHandler) handleRequest(e *Endpoint, m message.Message) {
	h.send(e, h.requestHandler(e, m))
}

func (h errorHandler) handleResponse(e *Endpoint, m message.Message) {
	h.send(e, base.EmptyReply(message.RST, m))
}

func (h errorHandler) send(e *Endpoint, reply message.Message) {
	e.metrics.Reject(h.name)
	if err := e.sendReply(reply); err != nil {
		e.logger.Warn("send reply", zap.String("handler", h.name), zap.Stringer("reply", reply), zap.Error(err))
	}
}

func rstHandler(e *Endpoint, m message.Message) message.Message {
	return base.EmptyReply(message.RST, m)
}

// badOptionHandler 可靠请求以ACK附带4.02响应, 非可靠请求以NON响应.
func badOptionHandler(e *Endpoint, m message.Message) message.Message {
	reply := message.Message{
		Type:    message.NON,
		Code:    message.BadOption,
		Payload: []byte(BadOptionPayload),
		Addr:    m.Addr,
	}
	if m.Type == message.CON {
		reply.Type, reply.MessageID = message.ACK, m.MessageID
	}
	if err := reply.SetToken(m.Token()); err != nil {
		e.logger.Debug("bad option token", zap.Error(err))
	}
	return reply
}

var formatErrorHandler = errorHandler{
	name:           "format_error",
	requestHandler: rstHandler,
}

var badOptionsErrorHandler = errorHandler{
	name:           "bad_option",
	requestHandler: badOptionHandler,
}

// handleError 处理无法解码的消息.
//
// 响应一律回复RST; 消息头完整但选项非法或不完整的请求回复4.02,
// 消息头无法识别(如版本错误)的请求回复RST. ACK, RST和空消息不回复.
func handleError(e *Endpoint, m message.Message, err error) {
	switch {
	case message.IsMalformedOptions(err):
		badOptionsErrorHandler.handle(e, m)
	case message.IsFormatError(err):
		formatErrorHandler.handle(e, m)
	default:
		e.logger.Debug("unmarshal", zap.Stringer("message", m), zap.Error(err))
	}
}
