package coap

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/message"
)

// ResponseWriter 用于构造COAP响应
type ResponseWriter interface {
	// Ack 回复空ACK, 服务器无法立即响应的情况下, 可先调用该方法返回一个空的ACK
	Ack()

	// SetConfirmable 设置响应为可靠消息, 作为单独响应或处理非可靠消息时生效
	SetConfirmable()

	// Options 返回Options
	Options() *Options

	// WriteCode 写入响应状态码, 默认为Content
	WriteCode(Code)

	// Write 写入payload
	Write([]byte) (int, error)
}

// response 实现了ResponseWriter接口
type response struct {
	endpoint    *Endpoint
	req         *Request
	confirmable bool
	code        Code
	options     Options
	buffer      bytes.Buffer
}

func (r *response) Ack() {
	if !r.req.Confirmable || r.req.acked {
		return
	}
	r.req.acked = true
	ack := base.EmptyReply(message.ACK, r.req.msg)
	if err := r.endpoint.sendReply(ack); err != nil {
		r.endpoint.logger.Warn("send ack", zap.Stringer("request", r.req.msg), zap.Error(err))
	}
}

func (r *response) SetConfirmable() {
	r.confirmable = true
}

func (r *response) Options() *Options {
	return &r.options
}

func (r *response) WriteCode(code Code) {
	r.code = code
}

func (r *response) Write(p []byte) (int, error) {
	return r.buffer.Write(p)
}

// finish 处理函数返回后发送响应.
//
// 已回复空ACK且未写入任何内容时不发送, 由处理函数稍后调用SendResponse.
func (r *response) finish() {
	if r.req.acked && r.code == Content && len(r.options) == 0 && r.buffer.Len() == 0 {
		return
	}
	resp := &Response{
		Confirmable: r.confirmable,
		Status:      r.code,
		Options:     r.options,
		Payload:     r.buffer.Bytes(),
	}
	if err := r.endpoint.SendResponse(r.req, resp); err != nil {
		r.endpoint.logger.Warn("send response", zap.Stringer("request", r.req.msg), zap.Error(err))
	}
}

func (e *Endpoint) handleRequest(m message.Message) {
	step := e.blockServer.Recv(m)
	if step.Reply != nil {
		if err := e.sendReply(*step.Reply); err != nil {
			e.logger.Warn("send block reply", zap.Stringer("request", m), zap.Error(err))
		}
		return
	}

	req := newServerRequest(step.Request, e.conn.LocalAddr())
	w := &response{
		endpoint:    e,
		req:         req,
		confirmable: req.Confirmable,
		code:        Content,
	}
	mux := e.mux
	e.post(func() {
		mux.ServeCOAP(w, req)
		w.finish()
	})
}

// SendResponse 发送对入站请求req的响应.
//
// 尚未确认的可靠请求以附带响应回复, 否则以单独响应发送.
// 响应超过块大小或请求携带Block2时按块发送, 其余块由后续的Block2请求取得.
func (e *Endpoint) SendResponse(req *Request, resp *Response) error {
	if req.RemoteAddr == nil {
		return errors.Wrap(base.ErrNilAddress, "send response")
	}
	m := message.Message{
		Code:    resp.Status,
		Options: resp.Options.clone(),
		Payload: resp.Payload,
		Addr:    req.RemoteAddr,
	}
	if err := m.SetToken(req.Token); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	out, err := e.blockServer.Respond(req.msg, m)
	if err != nil {
		return err
	}

	switch {
	case req.Confirmable && !req.acked:
		req.acked = true
		out.Type, out.MessageID = message.ACK, req.msg.MessageID
	case resp.Confirmable:
		out.Type, out.MessageID = message.CON, e.reliability.GenerateMessageID()
	default:
		out.Type, out.MessageID = message.NON, e.reliability.GenerateMessageID()
	}
	return e.sendReply(out)
}

// Serve 读取报文直到ctx结束或端点关闭.
func (e *Endpoint) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-e.done:
		}
		return e.Close()
	})
	g.Go(e.reading)
	return g.Wait()
}

func (e *Endpoint) reading() error {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if e.closed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			e.logger.Error("read from", zap.Stringer("local", e.conn.LocalAddr()), zap.Error(err))
			e.Close()
			return errors.Wrap(err, "read from")
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.HandleDatagram(data, addr)
	}
}

// Listen 在指定地址监听, 返回尚未开始服务的端点.
func Listen(network, address string, cfg Config) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", address)
	}
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", address)
	}
	if cfg.Multicast {
		if err = joinGroup(conn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	e, err := NewEndpoint(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return e, nil
}

// ListenAndServe 在指定地址端口监听并提供COAP服务, mux为空时不注册任何资源.
func ListenAndServe(ctx context.Context, network, address string, cfg Config, mux *ServeMux) error {
	e, err := Listen(network, address, cfg)
	if err != nil {
		return err
	}
	if mux != nil {
		e.mux = mux
	}
	e.logger.Info("listen and serve", zap.Stringer("local", e.LocalAddr()), zap.Bool("multicast", cfg.Multicast))
	return e.Serve(ctx)
}

// joinGroup 加入All-CoAP-Nodes组播组.
func joinGroup(conn *net.UDPConn) error {
	p := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(AllCoAPNodes)}
	if err := p.JoinGroup(nil, group); err != nil {
		return errors.Wrapf(err, "join group %s", AllCoAPNodes)
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		return errors.Wrap(err, "set multicast loopback")
	}
	return nil
}
