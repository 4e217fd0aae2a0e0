package coap

import (
	"net"
	"net/url"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/internal/observe"
	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/internal/stack/deduplication"
	"github.com/ironzhang/coapengine/message"
)

// resourceURI 把url规范化为观察关系的索引.
func resourceURI(uri string) (string, error) {
	req, err := NewRequest(false, GET, uri, nil)
	if err != nil {
		return "", err
	}
	addr, err := net.ResolveUDPAddr("udp", req.URL.Host)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", req.URL.Host)
	}
	m, err := req.message(0, addr)
	if err != nil {
		return "", err
	}
	return m.URI(), nil
}

// CreateObservationRelationship 观察uri所指向的资源.
//
// 同一资源只发送一次观察请求, 缓存中有未过期的通知时,
// 在返回前以调用方所在的goroutine交给新加入的观察者.
func (e *Endpoint) CreateObservationRelationship(uri string, o Observer) error {
	if o == nil {
		return errors.New("coap: nil observer")
	}
	if e.closed() {
		return errors.Wrap(base.ErrLayerClosed, "observe")
	}
	req, err := NewRequest(true, GET, uri, nil)
	if err != nil {
		return err
	}
	if err = req.Options.Set(Observe, uint32(0)); err != nil {
		return err
	}
	m, err := e.prepare(req)
	if err != nil {
		return err
	}

	sub, err := e.observe.Subscribe(m, o)
	if err != nil {
		return err
	}
	if sub.Cached != nil {
		o.ObserveResponseReceived(m.URI(), newResponse(*sub.Cached))
	}
	if !sub.Send {
		return nil
	}
	if err = e.sendObserve(m); err != nil {
		e.observe.Fail(m.TokenKey())
		return err
	}
	return nil
}

func (e *Endpoint) sendObserve(m message.Message) error {
	if err := e.dedup.Expect(m, true); err != nil {
		return err
	}
	if err := e.reliability.Send(m, false); err != nil {
		e.dedup.Forget(m.TokenKey())
		return err
	}
	return nil
}

// TerminateObservationRelationship 移除观察者o.
//
// 最后一个观察者离开时, 以不带Observe选项的GET请求结束与服务端的观察关系.
func (e *Endpoint) TerminateObservationRelationship(uri string, o Observer) error {
	key, err := resourceURI(uri)
	if err != nil {
		return err
	}
	old, ok := e.observe.Request(key)
	if !ok {
		return errors.Wrapf(ErrNotObserving, "%s", uri)
	}
	m, last := e.observe.Unsubscribe(key, o)
	if !last {
		return nil
	}
	e.dedup.Forget(old.TokenKey())
	if _, ok := e.reliability.Resolve(m.Key()); ok {
		e.logger.Debug("cancel pending observe request", zap.Stringer("request", old))
	}

	u, err := url.Parse(uri)
	if err != nil {
		return errors.Wrapf(err, "parse %q", uri)
	}
	req := &Request{
		Confirmable: m.Type == message.CON,
		Method:      m.Code,
		Options:     Options(m.Options),
		URL:         u,
		RemoteAddr:  m.Addr,
	}
	if req.Token, err = newToken(); err != nil {
		return err
	}
	if err = m.SetToken(req.Token); err != nil {
		return err
	}
	m.MessageID = e.reliability.GenerateMessageID()
	return e.start(req, m, nopListener{})
}

// onRefresh 缓存的通知过期, 重新发送观察请求.
//
// 对端忙时在ACK_TIMEOUT后重试, 其余发送错误结束观察关系.
func (e *Endpoint) onRefresh(req message.Message) {
	key := req.TokenKey()
	req.MessageID = e.reliability.GenerateMessageID()
	e.observe.Sent(req)
	err := e.reliability.Send(req, false)
	if err == nil {
		return
	}
	if errors.Is(err, base.ErrServiceBusy) && e.observe.Retry(key, e.cfg.AckTimeout.Std()) {
		e.logger.Debug("refresh observation deferred", zap.Stringer("request", req), zap.Error(err))
		return
	}
	e.logger.Warn("refresh observation", zap.Stringer("request", req), zap.Error(err))
	e.dedup.Forget(key)
	e.terminate(e.observe.Fail(key))
}

func (e *Endpoint) handleNotification(r deduplication.Result) {
	ev := e.observe.Notify(r.Message)
	if ev.Terminated {
		e.dedup.Forget(r.Message.TokenKey())
		e.terminate(ev)
		return
	}
	if !ev.Deliver {
		return
	}
	resp, uri := newResponse(r.Message), ev.URI
	for _, o := range observers(ev) {
		o := o
		e.post(func() { o.ObserveResponseReceived(uri, resp) })
	}
}

// terminate 通知观察者观察关系已结束.
func (e *Endpoint) terminate(ev observe.Event) {
	if !ev.Terminated {
		return
	}
	uri := ev.URI
	for _, o := range observers(ev) {
		o := o
		e.post(func() { o.ObservationRelationshipTerminated(uri) })
	}
}

func observers(ev observe.Event) []Observer {
	list := make([]Observer, 0, len(ev.Observers))
	for _, x := range ev.Observers {
		if o, ok := x.(Observer); ok {
			list = append(list, o)
		}
	}
	return list
}
