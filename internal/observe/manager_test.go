package observe

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/ironzhang/coapengine/internal/scheduler"
	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/message"
)

var sensor = &net.UDPAddr{IP: net.IPv4(192, 168, 0, 20), Port: 5683}

type observer struct{ name string }

func newManager(t *testing.T) (*Manager, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	sched := scheduler.New(clock)
	t.Cleanup(sched.Stop)
	return NewManager(sched), clock
}

func observeRequest(token byte) message.Message {
	m := message.Message{Type: message.CON, Code: message.GET, MessageID: 1, Addr: sensor}
	m.AddOption(message.URIPath, "sensor")
	m.SetOption(message.Observe, uint32(0))
	m.SetToken([]byte{token})
	return m
}

func notification(token byte, seq uint32, observe bool) message.Message {
	m := message.Message{Type: message.NON, Code: message.Content, MessageID: uint16(seq) + 1000, Addr: sensor, Payload: []byte("on")}
	m.SetToken([]byte{token})
	if observe {
		m.SetOption(message.Observe, seq)
	}
	m.SetOption(message.MaxAge, uint32(30))
	return m
}

func TestFresher(t *testing.T) {
	t0 := time.Unix(1000, 0)
	tests := []struct {
		v1, v2 uint32
		t2     time.Time
		fresh  bool
	}{
		{v1: 5, v2: 6, t2: t0, fresh: true},
		{v1: 5, v2: 5, t2: t0, fresh: false},
		{v1: 5, v2: 3, t2: t0, fresh: false},
		{v1: 65535, v2: 0, t2: t0, fresh: true},
		{v1: 65000, v2: 10, t2: t0, fresh: true},
		{v1: 10, v2: 65000, t2: t0, fresh: false},
		{v1: 0, v2: 1 << 15, t2: t0, fresh: false},
		{v1: 5, v2: 3, t2: t0.Add(129 * time.Second), fresh: true},
		{v1: 5, v2: 3, t2: t0.Add(128 * time.Second), fresh: false},
	}
	for i, tt := range tests {
		if got, want := Fresher(tt.v1, tt.v2, t0, tt.t2), tt.fresh; got != want {
			t.Errorf("case%d: Fresher(%d, %d): got(%v) != want(%v)", i, tt.v1, tt.v2, got, want)
		}
	}
}

func TestStaleNotification(t *testing.T) {
	m, _ := newManager(t)
	o := &observer{name: "a"}
	sub, err := m.Subscribe(observeRequest(1), o)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !sub.Send || sub.Cached != nil {
		t.Fatalf("first subscription: got(%+v)", sub)
	}

	delivered := 0
	for _, seq := range []uint32{5, 3} {
		ev := m.Notify(notification(1, seq, true))
		if ev.Deliver {
			delivered++
			if !reflect.DeepEqual(ev.Observers, []Observer{o}) {
				t.Errorf("observers: got(%v) != want(%v)", ev.Observers, []Observer{o})
			}
		}
	}
	if got, want := delivered, 1; got != want {
		t.Errorf("delivered: got(%d) != want(%d)", got, want)
	}
	if ev := m.Notify(notification(1, 6, true)); !ev.Deliver {
		t.Errorf("fresh notification discarded")
	}
}

func TestSubscribeCached(t *testing.T) {
	m, clock := newManager(t)
	a, b, c := &observer{"a"}, &observer{"b"}, &observer{"c"}
	m.Subscribe(observeRequest(1), a)

	// 等待首个通知时加入的观察者不重复发请求
	sub, _ := m.Subscribe(observeRequest(2), b)
	if sub.Send || sub.Cached != nil {
		t.Errorf("pending subscription: got(%+v)", sub)
	}

	m.Notify(notification(1, 1, true))
	sub, _ = m.Subscribe(observeRequest(3), c)
	if sub.Send || sub.Cached == nil {
		t.Fatalf("cached subscription: got(%+v)", sub)
	}
	if got, want := string(sub.Cached.Payload), "on"; got != want {
		t.Errorf("cached payload: got(%q) != want(%q)", got, want)
	}
	req1 := observeRequest(1)
	if got, want := len(m.Observers(req1.URI())), 3; got != want {
		t.Errorf("observers: got(%d) != want(%d)", got, want)
	}

	clock.Advance(31 * time.Second)
	sub, _ = m.Subscribe(observeRequest(4), &observer{"d"})
	if sub.Cached != nil {
		t.Errorf("expired notification delivered")
	}
}

func TestTerminate(t *testing.T) {
	m, _ := newManager(t)
	a, b := &observer{"a"}, &observer{"b"}
	m.Subscribe(observeRequest(1), a)
	m.Subscribe(observeRequest(1), b)

	ev := m.Notify(notification(1, 0, false))
	if !ev.Terminated {
		t.Fatalf("not terminated: %+v", ev)
	}
	if got, want := ev.Observers, []Observer{a, b}; !reflect.DeepEqual(got, want) {
		t.Errorf("observers: got(%v) != want(%v)", got, want)
	}
	if got, want := m.Len(), 0; got != want {
		t.Errorf("resources: got(%d) != want(%d)", got, want)
	}
	req1 := observeRequest(1)
	if m.Observing(req1.TokenKey()) {
		t.Errorf("token still observed")
	}
}

func TestUnsubscribe(t *testing.T) {
	m, _ := newManager(t)
	a, b := &observer{"a"}, &observer{"b"}
	req := observeRequest(1)
	uri := req.URI()
	m.Subscribe(req, a)
	m.Subscribe(req, b)

	if _, last := m.Unsubscribe(uri, a); last {
		t.Errorf("unsubscribe a reported last")
	}
	get, last := m.Unsubscribe(uri, b)
	if !last {
		t.Fatalf("unsubscribe b not last")
	}
	if get.HasOption(message.Observe) || get.HasOption(message.Token) {
		t.Errorf("plain get carries observe or token: %v", get.Detail())
	}
	if got, want := get.Path(), "sensor"; got != want {
		t.Errorf("path: got(%q) != want(%q)", got, want)
	}
	if got, want := get.MessageID, req.MessageID; got != want {
		t.Errorf("message id: got(%d) != want(%d)", got, want)
	}
	if got, want := m.Len(), 0; got != want {
		t.Errorf("resources: got(%d) != want(%d)", got, want)
	}
	if ev := m.Notify(notification(1, 7, true)); ev.Deliver {
		t.Errorf("notification delivered after unsubscribe")
	}
}

func TestFail(t *testing.T) {
	m, _ := newManager(t)
	a := &observer{"a"}
	req := observeRequest(1)
	m.Subscribe(req, a)
	ev := m.Fail(req.TokenKey())
	if !ev.Terminated || len(ev.Observers) != 1 {
		t.Errorf("fail: got(%+v)", ev)
	}
	if ev := m.Fail(req.TokenKey()); ev.Terminated {
		t.Errorf("fail twice terminated")
	}
}

func TestRefresh(t *testing.T) {
	m, clock := newManager(t)
	refreshed := make(chan message.Message, 1)
	m.OnRefresh = func(req message.Message) { refreshed <- req }
	m.Subscribe(observeRequest(1), &observer{"a"})

	n := notification(1, 1, true)
	n.SetOption(message.MaxOFE, uint32(5))
	m.Notify(n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("block until: %v", err)
	}
	clock.Advance(34 * time.Second)
	select {
	case req := <-refreshed:
		t.Fatalf("refreshed early: %v", req)
	case <-time.After(20 * time.Millisecond):
	}
	clock.Advance(time.Second)
	select {
	case req := <-refreshed:
		if v, ok := req.Observe(); !ok || v != 0 {
			t.Errorf("refresh observe: got(%v, %v)", v, ok)
		}
	case <-time.After(time.Second):
		t.Fatalf("no refresh")
	}

	// 重新注册后的首个通知总是被接受
	if ev := m.Notify(notification(1, 0, true)); !ev.Deliver {
		t.Errorf("notification after refresh discarded")
	}
}

func TestSent(t *testing.T) {
	m, _ := newManager(t)
	a := &observer{"a"}
	req := observeRequest(1)
	m.Subscribe(req, a)

	refresh := req.Clone()
	refresh.MessageID = 42
	m.Sent(refresh)
	if got, _ := m.Request(req.URI()); got.MessageID != 42 {
		t.Errorf("request message id: got(%d) != want(42)", got.MessageID)
	}
	if get, _ := m.Unsubscribe(req.URI(), a); get.MessageID != 42 {
		t.Errorf("unsubscribe message id: got(%d) != want(42)", get.MessageID)
	}
	// 观察关系结束后忽略
	m.Sent(refresh)
}

func TestRetry(t *testing.T) {
	m, clock := newManager(t)
	refreshed := make(chan message.Message, 1)
	m.OnRefresh = func(req message.Message) { refreshed <- req }
	req := observeRequest(1)
	m.Subscribe(req, &observer{"a"})

	if !m.Retry(req.TokenKey(), 2*time.Second) {
		t.Fatalf("retry returned false")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("block until: %v", err)
	}
	clock.Advance(2 * time.Second)
	select {
	case got := <-refreshed:
		if !reflect.DeepEqual(got.Token(), req.Token()) {
			t.Errorf("refresh token: got(%x) != want(%x)", got.Token(), req.Token())
		}
	case <-time.After(time.Second):
		t.Fatalf("no refresh")
	}

	m.Fail(req.TokenKey())
	if m.Retry(req.TokenKey(), 2*time.Second) {
		t.Errorf("retry after fail returned true")
	}
}

func TestSubscribeWithoutToken(t *testing.T) {
	m, _ := newManager(t)
	req := observeRequest(1)
	req.SetToken(nil)
	if _, err := m.Subscribe(req, &observer{"a"}); !errors.Is(err, base.ErrNoToken) {
		t.Errorf("got(%v) != want(%v)", err, base.ErrNoToken)
	}
}
