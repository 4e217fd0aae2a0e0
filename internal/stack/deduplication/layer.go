package deduplication

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/internal/gctable"
	"github.com/ironzhang/coapengine/internal/metrics"
	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/message"
)

// DefaultWindow 去重窗口缺省值
const DefaultWindow = 60 * time.Second

// Kind 接收结果类型
type Kind int

const (
	Ignored Kind = iota
	Request
	Response
	EmptyAck
	Reset
	Duplicate
	Unmatched
)

var kindNames = [...]string{
	Ignored:   "ignored",
	Request:   "request",
	Response:  "response",
	EmptyAck:  "empty_ack",
	Reset:     "reset",
	Duplicate: "duplicate",
	Unmatched: "unmatched",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Result 接收结果
//
// Request为匹配到的已发送请求, 仅对Response/EmptyAck/Reset有效.
// Separate表示响应以单独的CON/NON消息到达.
type Result struct {
	Kind     Kind
	Message  message.Message
	Request  message.Message
	Separate bool
}

// Outgoing 发送侧提供的交互查询接口
type Outgoing interface {
	Resolve(key message.Key) (message.Message, bool)
	Reply(key message.Key) (message.Message, bool)
}

// state 去重状态
type state struct {
	key      string
	typ      message.Type
	deadline time.Time

	mu    sync.Mutex
	reply *message.Message
}

func (s *state) Key() string {
	return s.key
}

func (s *state) CanGC(now time.Time) bool {
	return !now.Before(s.deadline)
}

func (s *state) ExecuteGC() {}

func (s *state) PutReply(m message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reply != nil {
		return false
	}
	s.reply = &m
	return true
}

func (s *state) GetReply() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reply == nil {
		return message.Message{}, false
	}
	return *s.reply, true
}

type expectation struct {
	Request    message.Message
	Persistent bool
}

// Layer 接收匹配层
//
// 负责重复消息抑制, 响应与请求的匹配, 以及自动回复ACK/RST.
type Layer struct {
	base.BaseLayer
	Window  time.Duration
	Metrics *metrics.Metrics

	out     Outgoing
	states  gctable.Table
	mu      sync.Mutex
	expects map[message.TokenKey]expectation
}

func NewLayer(clock clockwork.Clock, out Outgoing) *Layer {
	l := &Layer{
		BaseLayer: base.BaseLayer{Name: "deduplication"},
		Window:    DefaultWindow,
		out:       out,
		expects:   make(map[message.TokenKey]expectation),
	}
	l.states.Clock = clock
	return l
}

// Recv 处理一条已解码的入站消息.
func (l *Layer) Recv(m message.Message) Result {
	r := l.recv(m)
	l.Metrics.Received(r.Kind.String())
	return r
}

func (l *Layer) recv(m message.Message) Result {
	switch m.Type {
	case message.CON, message.NON:
		return l.recvMSG(m)
	case message.ACK:
		return l.recvACK(m)
	case message.RST:
		return l.recvRST(m)
	}
	return Result{Kind: Ignored, Message: m}
}

func (l *Layer) recvMSG(m message.Message) Result {
	if m.IsEmpty() {
		// CON空消息为ping, 回复RST
		if m.Type == message.CON {
			if err := l.SendRST(m); err != nil {
				l.Log().Warn("send rst", zap.Error(err))
			}
		}
		return Result{Kind: Ignored, Message: m}
	}

	s, ok := l.addState(m)
	if !ok {
		l.duplicate(s, m)
		return Result{Kind: Duplicate, Message: m}
	}

	switch {
	case m.IsRequest():
		return Result{Kind: Request, Message: m}
	case m.IsResponse():
		return l.recvSeparate(s, m)
	default:
		l.Log().Debug("reserved code", zap.Stringer("message", m))
		return Result{Kind: Ignored, Message: m}
	}
}

func (l *Layer) duplicate(s *state, m message.Message) {
	l.Metrics.Duplicate()
	switch {
	case s.typ == message.CON && m.Type == message.CON:
		// 正常分支，忽略或回复保存的消息
		reply, ok := s.GetReply()
		if !ok {
			reply, ok = l.out.Reply(m.Key())
		}
		if ok {
			l.Log().Debug("reply duplicate", zap.Stringer("reply", reply), zap.Stringer("message", m))
			if err := l.Send(reply); err != nil {
				l.Log().Warn("send", zap.Error(err))
			}
		}

	case s.typ == message.NON && m.Type == message.CON:
		// 异常分支，回复RST
		if err := l.SendRST(m); err != nil {
			l.Log().Warn("send rst", zap.Error(err))
		}

	default:
		// 忽略重复的NON消息
	}
}

func (l *Layer) recvSeparate(s *state, m message.Message) Result {
	exp, ok := l.match(m.TokenKey())
	if !ok {
		l.Log().Debug("unmatched response", zap.Stringer("message", m))
		rst := base.EmptyReply(message.RST, m)
		s.PutReply(rst)
		if err := l.Send(rst); err != nil {
			l.Log().Warn("send rst", zap.Error(err))
		}
		return Result{Kind: Unmatched, Message: m}
	}

	l.out.Resolve(exp.Request.Key())
	if m.Type == message.CON {
		ack := base.EmptyReply(message.ACK, m)
		s.PutReply(ack)
		if err := l.Send(ack); err != nil {
			l.Log().Warn("send ack", zap.Error(err))
		}
	}
	return Result{Kind: Response, Message: m, Request: exp.Request, Separate: true}
}

func (l *Layer) recvACK(m message.Message) Result {
	req, ok := l.out.Resolve(m.Key())
	if !ok {
		l.Log().Debug("ignore unmatched ack", zap.Stringer("message", m))
		return Result{Kind: Ignored, Message: m}
	}
	if m.IsEmpty() {
		return Result{Kind: EmptyAck, Message: m, Request: req}
	}
	l.match(req.TokenKey())
	return Result{Kind: Response, Message: m, Request: req}
}

func (l *Layer) recvRST(m message.Message) Result {
	req, ok := l.out.Resolve(m.Key())
	if !ok {
		l.Log().Debug("ignore unmatched rst", zap.Stringer("message", m))
		return Result{Kind: Ignored, Message: m}
	}
	l.Forget(req.TokenKey())
	return Result{Kind: Reset, Message: m, Request: req}
}

// match 按令牌匹配期望, 非持久期望在匹配后删除.
func (l *Layer) match(key message.TokenKey) (expectation, bool) {
	if key.Token == "" {
		return expectation{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.expects[key]
	if ok && !exp.Persistent {
		delete(l.expects, key)
	}
	return exp, ok
}

// Expect 登记一个等待单独响应的请求.
//
// persistent为true时期望在匹配后保留, 用于观察通知.
func (l *Layer) Expect(req message.Message, persistent bool) error {
	key := req.TokenKey()
	if key.Token == "" {
		return l.Errorf(base.ErrNoToken, "%v", req)
	}
	l.mu.Lock()
	l.expects[key] = expectation{Request: req, Persistent: persistent}
	l.mu.Unlock()
	return nil
}

// Forget 删除令牌期望.
func (l *Layer) Forget(key message.TokenKey) {
	l.mu.Lock()
	delete(l.expects, key)
	l.mu.Unlock()
}

// Expecting 返回令牌对应的请求.
func (l *Layer) Expecting(key message.TokenKey) (message.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.expects[key]
	return exp.Request, ok
}

// SaveReply 记录对入站消息的回复(ACK或RST), 重复消息到达时重发.
func (l *Layer) SaveReply(m message.Message) bool {
	obj, ok := l.states.Get(stateKey(m.Key()))
	if !ok {
		return false
	}
	return obj.(*state).PutReply(m)
}

// GC 回收过期的去重状态.
func (l *Layer) GC() {
	l.states.GC()
}

func (l *Layer) addState(m message.Message) (*state, bool) {
	key := stateKey(m.Key())
	obj, created := l.states.Add(key, func() gctable.Object {
		return &state{key: key, typ: m.Type, deadline: l.now().Add(l.Window)}
	})
	return obj.(*state), created
}

func (l *Layer) now() time.Time {
	if l.states.Clock == nil {
		return time.Now()
	}
	return l.states.Clock.Now()
}

func stateKey(key message.Key) string {
	return fmt.Sprintf("%s#%d", key.Remote, key.MessageID)
}
