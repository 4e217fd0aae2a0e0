package cache

import (
	"testing"
	"time"

	"github.com/ironzhang/coapengine/message"
)

func TestSessionKey(t *testing.T) {
	a := newGet(1, message.Option{ID: message.URIQuery, Value: "b=2"}, message.Option{ID: message.URIQuery, Value: "a=1"})
	b := newGet(2, message.Option{ID: message.URIQuery, Value: "a=1"}, message.Option{ID: message.URIQuery, Value: "b=2"})
	if got, want := SessionKey(a), SessionKey(b); got != want {
		t.Errorf("got(%q) != want(%q)", got, want)
	}
	if got, want := SessionKey(a), "172.16.0.5:5683 /sensors/temp?a=1&b=2"; got != want {
		t.Errorf("got(%q) != want(%q)", got, want)
	}
}

func TestSessionCacheIdle(t *testing.T) {
	sched, clock := newScheduler(t)
	c := NewSessionCache(sched)
	req := newGet(1)
	c.Put(req, newContent(req, 60))

	// 每次访问重置空闲计时
	for i := 0; i < 3; i++ {
		clock.Advance(8 * time.Second)
		if _, ok := c.Get(newGet(byte(i + 2))); !ok {
			t.Fatalf("case%d: session expired early", i)
		}
	}
	clock.Advance(10 * time.Second)
	if _, ok := c.Get(newGet(9)); ok {
		t.Errorf("session alive after idle timeout")
	}
}

func TestSessionCacheRemove(t *testing.T) {
	sched, _ := newScheduler(t)
	c := NewSessionCache(sched)
	req := newGet(1)
	c.Put(req, newContent(req, 60))
	if got, want := c.Len(), 1; got != want {
		t.Errorf("len: got(%d) != want(%d)", got, want)
	}
	c.Remove(req)
	if _, ok := c.Get(req); ok {
		t.Errorf("session alive after remove")
	}
	if sched.Pending(c.timerKey(SessionKey(req))) {
		t.Errorf("timer pending after remove")
	}
}
