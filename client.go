package coap

import (
	"crypto/rand"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/internal/scheduler"
	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/internal/stack/deduplication"
	"github.com/ironzhang/coapengine/message"
)

// TokenSize 自动生成的令牌长度
const TokenSize = 8

func newToken() ([]byte, error) {
	b := make([]byte, TokenSize)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "generate token")
	}
	return b, nil
}

// prepare 解析目标地址, 补全令牌和消息ID, 构造请求消息.
func (e *Endpoint) prepare(req *Request) (message.Message, error) {
	if req.URL == nil {
		return message.Message{}, ErrNoHost
	}
	addr, err := net.ResolveUDPAddr("udp", req.URL.Host)
	if err != nil {
		return message.Message{}, errors.Wrapf(err, "resolve %s", req.URL.Host)
	}
	if len(req.Token) == 0 {
		if req.Token, err = newToken(); err != nil {
			return message.Message{}, err
		}
	}
	req.RemoteAddr = addr
	return req.message(e.reliability.GenerateMessageID(), addr)
}

// SendRequest 发送请求, 结果通过l异步通知.
//
// 请求令牌为空时自动生成并回填. 响应缓存命中时不发送请求,
// 直接以PiggybackedResponseReceived通知. 对端忙时以ServiceBusy通知.
func (e *Endpoint) SendRequest(req *Request, l RequestListener) error {
	if e.closed() {
		return errors.Wrap(base.ErrLayerClosed, "send request")
	}
	if l == nil {
		l = nopListener{}
	}
	m, err := e.prepare(req)
	if err != nil {
		return err
	}
	return e.send(req, m, l)
}

func (e *Endpoint) send(req *Request, m message.Message, l RequestListener) error {
	if e.cfg.EnableCache {
		if cached, ok := e.cache.Get(m); ok {
			resp := newResponse(cached)
			e.post(func() { l.PiggybackedResponseReceived(req, resp) })
			return nil
		}
	}
	return e.start(req, m, l)
}

// start 登记交互并发送请求的第一个块.
func (e *Endpoint) start(req *Request, m message.Message, l RequestListener) error {
	first, err := e.blocks.Start(m)
	if err != nil {
		return err
	}
	key := m.TokenKey()
	ex := &exchange{req: req, msg: m, last: first.Key(), listener: l}
	if !e.addExchange(key, ex) {
		e.blocks.Cancel(key)
		return errors.Wrapf(ErrDuplicateToken, "%x", req.Token)
	}
	if err = e.dedup.Expect(first, false); err != nil {
		e.removeExchange(key)
		e.blocks.Cancel(key)
		return err
	}
	if err = e.reliability.Send(first, false); err != nil {
		if errors.Is(err, base.ErrServiceBusy) {
			e.failExchange(key, err)
			return nil
		}
		e.removeExchange(key)
		e.blocks.Cancel(key)
		e.dedup.Forget(key)
		return err
	}
	e.touchExchange(key)
	return nil
}

// Cancel 放弃请求, 之后到达的响应被当作未匹配的消息处理.
func (e *Endpoint) Cancel(req *Request) bool {
	if req.RemoteAddr == nil {
		return false
	}
	key := message.TokenKey{Remote: req.RemoteAddr.String(), Token: string(req.Token)}
	ex, ok := e.removeExchange(key)
	if !ok {
		return false
	}
	e.reliability.Resolve(ex.last)
	e.blocks.Cancel(key)
	e.dedup.Forget(key)
	return true
}

func (e *Endpoint) addExchange(key message.TokenKey, ex *exchange) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.exchanges[key]; ok {
		return false
	}
	e.exchanges[key] = ex
	return true
}

func (e *Endpoint) lookupExchange(key message.TokenKey) (*exchange, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.exchanges[key]
	return ex, ok
}

func (e *Endpoint) removeExchange(key message.TokenKey) (*exchange, bool) {
	e.mu.Lock()
	ex, ok := e.exchanges[key]
	delete(e.exchanges, key)
	e.mu.Unlock()
	e.sched.Cancel(exchangeTimerKey(key))
	return ex, ok
}

// touchExchange 重置交互的生存期定时器, 超时未收到响应则交互失败.
func (e *Endpoint) touchExchange(key message.TokenKey) {
	e.sched.Schedule(exchangeTimerKey(key), e.cfg.ExchangeLifetime.Std(), func() {
		e.failExchange(key, ErrExchangeTimeout)
	})
}

func exchangeTimerKey(key message.TokenKey) scheduler.Key {
	return scheduler.Key{Kind: "exchange", ID: key.Remote + "#" + key.Token}
}

// failExchange 结束交互并通知监听者.
func (e *Endpoint) failExchange(key message.TokenKey, err error) {
	ex, ok := e.removeExchange(key)
	if !ok {
		return
	}
	e.blocks.Cancel(key)
	e.dedup.Forget(key)
	e.logger.Info("exchange failed", zap.Stringer("request", ex.msg), zap.Error(err))

	req, l := ex.req, ex.listener
	switch {
	case errors.Is(err, base.ErrServiceBusy):
		e.post(func() { l.ServiceBusy(req) })
	case errors.Is(err, base.ErrMaxRetransmit):
		e.post(func() { l.MaxRetransmissionsReached(req) })
	default:
		if fl, ok := l.(FailureListener); ok {
			e.post(func() { fl.ExchangeFailed(req, err) })
		}
	}
}

func (e *Endpoint) handleResponse(r deduplication.Result) {
	resp := r.Message
	key := resp.TokenKey()
	if e.observe.Observing(key) {
		e.handleNotification(r)
		return
	}
	ex, ok := e.lookupExchange(key)
	if !ok {
		e.logger.Debug("response without exchange", zap.Stringer("response", resp))
		return
	}

	step, handled, err := e.blocks.OnResponse(r.Request, resp)
	if err != nil {
		e.failExchange(key, err)
		return
	}
	if handled && step.Next != nil {
		e.sendNext(ex, key, *step.Next)
		return
	}
	if handled && step.Response != nil {
		resp = *step.Response
	}
	e.completeExchange(ex, key, resp, r.Separate)
}

// sendNext 发送块传输的下一个块请求.
func (e *Endpoint) sendNext(ex *exchange, key message.TokenKey, next message.Message) {
	next.MessageID = e.reliability.GenerateMessageID()
	if err := e.dedup.Expect(next, false); err != nil {
		e.failExchange(key, err)
		return
	}
	e.mu.Lock()
	ex.last = next.Key()
	e.mu.Unlock()
	e.touchExchange(key)
	if err := e.reliability.Send(next, false); err != nil {
		e.failExchange(key, err)
	}
}

func (e *Endpoint) completeExchange(ex *exchange, key message.TokenKey, m message.Message, separate bool) {
	if _, ok := e.removeExchange(key); !ok {
		return
	}
	if e.cfg.EnableCache {
		e.cache.Put(ex.msg, m)
	}
	req, l, resp := ex.req, ex.listener, newResponse(m)
	if separate {
		e.post(func() { l.SeparateResponseReceived(req, resp) })
	} else {
		e.post(func() { l.PiggybackedResponseReceived(req, resp) })
	}
}

func (e *Endpoint) handleEmptyAck(r deduplication.Result) {
	if !r.Request.IsRequest() {
		// 对单独响应的确认
		return
	}
	ex, ok := e.lookupExchange(r.Request.TokenKey())
	if !ok {
		return
	}
	req, l, resp := ex.req, ex.listener, newResponse(r.Message)
	e.post(func() { l.EmptyAckReceived(req, resp) })
}

func (e *Endpoint) handleReset(r deduplication.Result) {
	if !r.Request.IsRequest() {
		e.logger.Info("response reset by peer", zap.Stringer("response", r.Request))
		return
	}
	key := r.Request.TokenKey()
	if e.observe.Observing(key) {
		e.terminate(e.observe.Fail(key))
		return
	}
	ex, ok := e.removeExchange(key)
	if !ok {
		return
	}
	e.blocks.Cancel(key)
	e.dedup.Forget(key)
	req, l, resp := ex.req, ex.listener, newResponse(r.Message)
	e.post(func() { l.ResetReceived(req, resp) })
}

// onTimeout 可靠消息重传次数用尽.
func (e *Endpoint) onTimeout(m message.Message) {
	if !m.IsRequest() {
		e.logger.Info("response not acknowledged", zap.Stringer("response", m))
		return
	}
	key := m.TokenKey()
	if e.observe.Observing(key) {
		e.dedup.Forget(key)
		e.terminate(e.observe.Fail(key))
		return
	}
	e.failExchange(key, base.ErrMaxRetransmit)
}
