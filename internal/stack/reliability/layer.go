package reliability

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/internal/metrics"
	"github.com/ironzhang/coapengine/internal/scheduler"
	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/message"
)

const timerKind = "retransmit"

// state 已发送消息的状态
type state struct {
	Message     message.Message
	Confirmable bool
	Retransmit  int
	Timeout     time.Duration
	Canceled    bool
}

// Layer 可靠传输层
//
// 负责可靠消息的重传, 消息ID生成, 以及已发送请求和ACK的缓存.
// 同一远端同时只允许存在一个未完成的可靠消息.
type Layer struct {
	base.BaseLayer
	MaxRetransmit   int
	AckTimeout      time.Duration
	AckRandomFactor float64
	Lifetime        time.Duration
	Metrics         *metrics.Metrics

	// OnTimeout 在最后一次重传仍未收到应答时调用
	OnTimeout func(m message.Message)

	sched *scheduler.Scheduler
	seq   uint32

	mu      sync.Mutex
	states  map[message.Key]*state
	replies map[message.Key]message.Message
	busy    map[string]message.Key
}

func NewLayer(sched *scheduler.Scheduler) *Layer {
	return &Layer{
		BaseLayer:       base.BaseLayer{Name: "reliability"},
		MaxRetransmit:   base.MAX_RETRANSMIT,
		AckTimeout:      base.ACK_TIMEOUT,
		AckRandomFactor: base.ACK_RANDOM_FACTOR,
		Lifetime:        base.EXCHANGE_LIFETIME,
		sched:           sched,
		seq:             rand.Uint32(),
		states:          make(map[message.Key]*state),
		replies:         make(map[message.Key]message.Message),
		busy:            make(map[string]message.Key),
	}
}

// GenerateMessageID 生成消息ID, 从随机值开始递增, 到65535后回绕.
func (l *Layer) GenerateMessageID() uint16 {
	return uint16(atomic.AddUint32(&l.seq, 1))
}

// Send 发送消息.
//
// retransmission为true时不做准入检查. 可靠消息会被缓存并按指数退避重传,
// 非可靠请求及非空ACK会被缓存以便匹配和重复回复.
func (l *Layer) Send(m message.Message, retransmission bool) error {
	if m.Addr == nil {
		return l.NewError(base.ErrNilAddress)
	}
	switch {
	case m.Type == message.CON:
		return l.sendCON(m, retransmission)
	case m.Type == message.NON && m.IsRequest():
		l.cacheState(m)
	case m.Type == message.ACK && !m.IsEmpty():
		l.cacheReply(m)
	}
	return l.transmit(m)
}

func (l *Layer) sendCON(m message.Message, retransmission bool) error {
	key := m.Key()

	l.mu.Lock()
	if s, ok := l.states[key]; ok {
		if !retransmission {
			l.mu.Unlock()
			return l.Errorf(base.ErrDupMessageID, "%v", key)
		}
		s.Message = m
		l.mu.Unlock()
		return l.transmit(m)
	}
	if !retransmission {
		if k, ok := l.busy[key.Remote]; ok {
			if _, pending := l.states[k]; pending {
				l.mu.Unlock()
				l.Metrics.Reject("busy")
				return l.Errorf(base.ErrServiceBusy, "%s has outstanding message %d", key.Remote, k.MessageID)
			}
		}
	}
	s := &state{
		Message:     m,
		Confirmable: true,
		Timeout:     l.randAckTimeout(),
	}
	l.states[key] = s
	l.busy[key.Remote] = key
	l.sched.Schedule(l.timerKey(key), s.Timeout, func() { l.onTimer(key) })
	l.mu.Unlock()

	if err := l.transmit(m); err != nil {
		l.Resolve(key)
		return err
	}
	return nil
}

func (l *Layer) transmit(m message.Message) error {
	l.Log().Debug("send", zap.Stringer("message", m), zap.String("remote", message.AddrString(m.Addr)))
	if err := l.BaseLayer.Send(m); err != nil {
		return err
	}
	l.Metrics.Sent(m.Type.String())
	return nil
}

func (l *Layer) onTimer(key message.Key) {
	l.mu.Lock()
	s, ok := l.states[key]
	if !ok || s.Canceled {
		l.mu.Unlock()
		return
	}
	if s.Retransmit >= l.MaxRetransmit {
		s.Canceled = true
		l.remove(key)
		m, n := s.Message, s.Retransmit
		l.mu.Unlock()

		l.Log().Info("max retransmissions reached", zap.Stringer("message", m), zap.Int("retransmit", n))
		l.Metrics.Timeout()
		if l.OnTimeout != nil {
			l.OnTimeout(m)
		}
		return
	}
	s.Retransmit++
	s.Timeout *= 2
	m, n, timeout := s.Message, s.Retransmit, s.Timeout
	l.sched.Schedule(l.timerKey(key), timeout, func() { l.onTimer(key) })
	l.mu.Unlock()

	l.Log().Debug("retransmit", zap.Stringer("message", m), zap.Int("retransmit", n), zap.Duration("timeout", timeout))
	l.Metrics.Retransmission()
	if err := l.transmit(m); err != nil {
		l.Log().Warn("retransmit", zap.Stringer("message", m), zap.Error(err))
	}
}

// Resolve 结束key对应的交互并取消其重传, 返回当初发送的消息.
func (l *Layer) Resolve(key message.Key) (message.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[key]
	if !ok {
		return message.Message{}, false
	}
	s.Canceled = true
	l.remove(key)
	return s.Message, true
}

// Lookup 返回key对应的已发送且未完成的消息.
func (l *Layer) Lookup(key message.Key) (message.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[key]
	if !ok {
		return message.Message{}, false
	}
	return s.Message, true
}

// Reply 返回对key所标识的请求已发送的非空ACK.
func (l *Layer) Reply(key message.Key) (message.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.replies[key]
	return m, ok
}

// Retransmissions 返回key对应交互已重传的次数.
func (l *Layer) Retransmissions(key message.Key) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[key]
	if !ok {
		return 0, false
	}
	return s.Retransmit, true
}

// Busy 远端是否存在未完成的可靠消息.
func (l *Layer) Busy(remote string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.busy[remote]
	if !ok {
		return false
	}
	_, ok = l.states[k]
	return ok
}

func (l *Layer) remove(key message.Key) {
	delete(l.states, key)
	if k, ok := l.busy[key.Remote]; ok && k == key {
		delete(l.busy, key.Remote)
	}
	l.sched.Cancel(l.timerKey(key))
}

func (l *Layer) cacheState(m message.Message) {
	key := m.Key()
	l.mu.Lock()
	l.states[key] = &state{Message: m}
	l.sched.Schedule(l.timerKey(key), l.Lifetime, func() {
		l.mu.Lock()
		if s, ok := l.states[key]; ok && !s.Confirmable {
			delete(l.states, key)
		}
		l.mu.Unlock()
	})
	l.mu.Unlock()
}

func (l *Layer) cacheReply(m message.Message) {
	key := m.Key()
	l.mu.Lock()
	l.replies[key] = m
	l.mu.Unlock()
	l.sched.Schedule(scheduler.Key{Kind: "reply", ID: keyID(key)}, l.Lifetime, func() {
		l.mu.Lock()
		delete(l.replies, key)
		l.mu.Unlock()
	})
}

func (l *Layer) timerKey(key message.Key) scheduler.Key {
	return scheduler.Key{Kind: timerKind, ID: keyID(key)}
}

func keyID(key message.Key) string {
	return fmt.Sprintf("%s#%d", key.Remote, key.MessageID)
}

func (l *Layer) randAckTimeout() time.Duration {
	factor := l.AckRandomFactor - 1
	if factor < 0 {
		factor = 0
	}
	return l.AckTimeout + time.Duration(rand.Float64()*factor*float64(l.AckTimeout))
}
