package blockwise

import (
	"bytes"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/internal/metrics"
	"github.com/ironzhang/coapengine/internal/scheduler"
	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/message"
)

// DefaultTimeout 服务端块会话的空闲超时
const DefaultTimeout = 10 * time.Second

// Sessions 服务端Block2会话存储, 以(客户端, URI, 查询参数)索引
type Sessions interface {
	Put(req, resp message.Message)
	Get(req message.Message) (message.Message, bool)
	Remove(req message.Message)
}

// ServerStep 服务端对入站请求的处理结果
//
// Reply非空时直接回复, 不再交给处理函数; 否则Request为交给处理函数的完整请求.
type ServerStep struct {
	Reply   *message.Message
	Request message.Message
}

type assembly struct {
	buffer bytes.Buffer
}

// Server 服务端块传输引擎
//
// Block1请求按(客户端, URI)重组, 大响应按Block2分块并保存在会话中.
type Server struct {
	base.BaseLayer
	MaxSZX  uint32
	Timeout time.Duration
	Metrics *metrics.Metrics

	sched      *scheduler.Scheduler
	sessions   Sessions
	mu         sync.Mutex
	assemblies map[string]*assembly
}

func NewServer(sched *scheduler.Scheduler, sessions Sessions) *Server {
	return &Server{
		BaseLayer:  base.BaseLayer{Name: "blockwise"},
		MaxSZX:     message.MaxSZX,
		Timeout:    DefaultTimeout,
		sched:      sched,
		sessions:   sessions,
		assemblies: make(map[string]*assembly),
	}
}

// Recv 处理入站请求.
func (s *Server) Recv(req message.Message) ServerStep {
	if opt, ok := req.Block1(); ok {
		return s.recvBlock1(req, opt)
	}
	if opt, ok := req.Block2(); ok && opt.Num > 0 && s.sessions != nil {
		if resp, ok := s.sessions.Get(req); ok {
			reply, err := s.block2(req, resp, opt)
			if err != nil {
				s.Log().Warn("serve block2", zap.Stringer("request", req), zap.Error(err))
				r := s.reply(req, message.BadRequest)
				return ServerStep{Reply: &r}
			}
			return ServerStep{Reply: &reply}
		}
	}
	return ServerStep{Request: req}
}

func (s *Server) recvBlock1(req message.Message, opt message.BlockOption) ServerStep {
	key := assemblyKey(req)

	s.mu.Lock()
	a, ok := s.assemblies[key]
	if opt.Num == 0 {
		a = &assembly{}
		s.assemblies[key] = a
		ok = true
	}
	if !ok || a.buffer.Len() != opt.Offset() {
		delete(s.assemblies, key)
		s.mu.Unlock()
		s.cancel(key)

		s.Log().Debug("block1 incomplete", zap.Stringer("request", req), zap.Uint32("num", opt.Num))
		r := s.reply(req, message.RequestEntityIncomplete)
		return ServerStep{Reply: &r}
	}
	a.buffer.Write(req.Payload)
	if opt.More {
		s.mu.Unlock()
		s.touch(key)

		szx := minSZX(opt.SZX, s.maxSZX())
		r := s.reply(req, message.Continue)
		r.SetBlock1(message.BlockOption{Num: opt.Num, More: true, SZX: szx})
		return ServerStep{Reply: &r}
	}
	payload := append([]byte(nil), a.buffer.Bytes()...)
	delete(s.assemblies, key)
	s.mu.Unlock()
	s.cancel(key)

	s.Metrics.Block(optionName(message.Block1), "in")
	full := req.Clone()
	full.Payload = payload
	return ServerStep{Request: full}
}

// Respond 对处理函数生成的响应做分块.
//
// 请求携带Block2或响应超过块大小时返回请求的那一块, 其余部分保存在会话中.
// 重组得到的Block1请求会在响应中回显Block1选项.
func (s *Server) Respond(req, resp message.Message) (message.Message, error) {
	if opt, ok := req.Block1(); ok && resp.IsResponse() {
		opt.More = false
		resp.SetBlock1(opt)
	}

	opt, ok := req.Block2()
	if !ok {
		if len(resp.Payload) <= message.SZXToSize(s.maxSZX()) {
			return resp, nil
		}
		opt = message.BlockOption{SZX: s.maxSZX()}
	}
	return s.block2(req, resp, opt)
}

func (s *Server) block2(req, resp message.Message, opt message.BlockOption) (message.Message, error) {
	szx := minSZX(opt.SZX, s.maxSZX())
	b, err := Split(resp, message.Block2, opt.Num, szx)
	if err != nil {
		return message.Message{}, err
	}
	if s.sessions != nil {
		if b2, _ := b.Block2(); b2.More {
			s.sessions.Put(req, resp)
		} else {
			s.sessions.Remove(req)
		}
	}
	if opt.Num == 0 {
		s.Metrics.Block(optionName(message.Block2), "out")
	}
	b.Type = replyType(req)
	b.MessageID = replyID(req)
	b.Addr = req.Addr
	b.SetToken(req.Token())
	return b, nil
}

func (s *Server) reply(req message.Message, code message.Code) message.Message {
	r := message.Message{
		Type:      replyType(req),
		Code:      code,
		MessageID: replyID(req),
		Addr:      req.Addr,
	}
	r.SetToken(req.Token())
	return r
}

// Len 返回进行中的Block1重组数量.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assemblies)
}

func (s *Server) touch(key string) {
	if s.sched == nil || s.Timeout <= 0 {
		return
	}
	s.sched.Schedule(scheduler.Key{Kind: "block1-server", ID: key}, s.Timeout, func() {
		s.mu.Lock()
		delete(s.assemblies, key)
		s.mu.Unlock()
	})
}

func (s *Server) cancel(key string) {
	if s.sched != nil {
		s.sched.Cancel(scheduler.Key{Kind: "block1-server", ID: key})
	}
}

func (s *Server) maxSZX() uint32 {
	if s.MaxSZX > message.MaxSZX {
		return message.MaxSZX
	}
	return s.MaxSZX
}

func assemblyKey(req message.Message) string {
	return message.AddrString(req.Addr) + " " + req.URI()
}

// replyType CON请求以ACK回复, 其它以NON回复.
func replyType(req message.Message) message.Type {
	if req.Type == message.CON {
		return message.ACK
	}
	return message.NON
}

// replyID ACK沿用请求的消息ID, NON由发送方另行分配.
func replyID(req message.Message) uint16 {
	if req.Type == message.CON {
		return req.MessageID
	}
	return 0
}
