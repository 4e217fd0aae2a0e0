// Package coap 实现草案格式的COAP端点, 包括可靠传输, 去重, 块传输, 响应缓存和观察.
package coap

import (
	"net"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ironzhang/coapengine/internal/cache"
	"github.com/ironzhang/coapengine/internal/metrics"
	"github.com/ironzhang/coapengine/internal/observe"
	"github.com/ironzhang/coapengine/internal/scheduler"
	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/internal/stack/blockwise"
	"github.com/ironzhang/coapengine/internal/stack/deduplication"
	"github.com/ironzhang/coapengine/internal/stack/reliability"
	"github.com/ironzhang/coapengine/message"
)

var (
	ErrReset           = errors.New("coap: reset by peer")
	ErrExchangeTimeout = errors.New("coap: exchange lifetime exceeded")
	ErrDuplicateToken  = errors.New("coap: token in use")
	ErrNotObserving    = errors.New("coap: resource not observed")
)

// exchange 客户端交互
type exchange struct {
	req      *Request
	msg      message.Message
	last     message.Key
	listener RequestListener
}

// Endpoint COAP端点
//
// 入站报文经去重匹配层后, 依次交给观察管理, 块传输引擎和请求监听者;
// 出站消息经块传输引擎分块后由可靠传输层发送.
type Endpoint struct {
	cfg     Config
	conn    net.PacketConn
	logger  *zap.Logger
	metrics *metrics.Metrics
	sched   *scheduler.Scheduler

	reliability *reliability.Layer
	dedup       *deduplication.Layer
	blocks      *blockwise.Client
	blockServer *blockwise.Server
	sessions    *cache.SessionCache
	cache       *cache.ResponseCache
	observe     *observe.Manager
	dispatcher  *dispatcher
	mux         *ServeMux

	mu        sync.Mutex
	exchanges map[message.TokenKey]*exchange

	closeOnce sync.Once
	done      chan struct{}
}

// NewEndpoint 在conn上构造端点, 调用Serve后开始接收报文.
func NewEndpoint(conn net.PacketConn, cfg Config) (*Endpoint, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		l, err := NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	e := &Endpoint{
		cfg:       cfg,
		conn:      conn,
		logger:    logger,
		metrics:   metrics.New(cfg.MetricsNamespace),
		sched:     scheduler.New(cfg.Clock),
		mux:       NewServeMux(),
		exchanges: make(map[message.TokenKey]*exchange),
		done:      make(chan struct{}),
	}
	transport := base.SenderFunc(e.write)

	e.reliability = reliability.NewLayer(e.sched)
	e.reliability.Sender = transport
	e.reliability.Logger = logger.Named("reliability")
	e.reliability.Metrics = e.metrics
	e.reliability.MaxRetransmit = cfg.MaxRetransmit
	e.reliability.AckTimeout = cfg.AckTimeout.Std()
	e.reliability.AckRandomFactor = cfg.AckRandomFactor
	e.reliability.Lifetime = cfg.ExchangeLifetime.Std()
	e.reliability.OnTimeout = e.onTimeout

	e.dedup = deduplication.NewLayer(e.sched.Clock(), e.reliability)
	e.dedup.Sender = transport
	e.dedup.Logger = logger.Named("deduplication")
	e.dedup.Metrics = e.metrics
	e.dedup.Window = cfg.DedupWindow.Std()

	e.blocks = blockwise.NewClient(e.sched)
	e.blocks.Logger = logger.Named("blockwise")
	e.blocks.Metrics = e.metrics
	e.blocks.MaxSZX = cfg.MaxSZX
	e.blocks.Timeout = cfg.ExchangeLifetime.Std()

	e.sessions = cache.NewSessionCache(e.sched)
	e.sessions.Timeout = cfg.BlockSessionTimeout.Std()
	e.blockServer = blockwise.NewServer(e.sched, e.sessions)
	e.blockServer.Logger = logger.Named("blockwise")
	e.blockServer.Metrics = e.metrics
	e.blockServer.MaxSZX = cfg.MaxSZX
	e.blockServer.Timeout = cfg.BlockSessionTimeout.Std()

	e.cache = cache.NewResponseCache(e.sched)
	e.cache.DefaultMaxAge = cfg.DefaultMaxAge.Std()
	e.cache.Metrics = e.metrics

	e.observe = observe.NewManager(e.sched)
	e.observe.Logger = logger.Named("observe")
	e.observe.Metrics = e.metrics
	e.observe.OnRefresh = e.onRefresh

	e.dispatcher = newDispatcher(cfg.QueueSize, logger)
	return e, nil
}

// Handle 注册path上的处理函数.
func (e *Endpoint) Handle(path string, h Handler, attrs LinkAttrs) {
	e.mux.Handle(path, h, attrs)
}

// LocalAddr 返回本地地址.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// MetricsHandler 返回Prometheus指标的HTTP处理函数.
func (e *Endpoint) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}

// Close 关闭端点, 停止全部定时任务和回调.
func (e *Endpoint) Close() (err error) {
	e.closeOnce.Do(func() {
		close(e.done)
		e.sched.Stop()
		e.dispatcher.stop()
		err = e.conn.Close()
		e.logger.Sync()
	})
	return err
}

func (e *Endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// write 编码消息并写入传输层.
func (e *Endpoint) write(m message.Message) error {
	if m.Addr == nil {
		return errors.Wrapf(base.ErrNilAddress, "write %v", m)
	}
	data, err := m.Marshal()
	if err != nil {
		return errors.Wrapf(err, "marshal %v", m)
	}
	if _, err = e.conn.WriteTo(data, m.Addr); err != nil {
		return errors.Wrapf(err, "write to %s", m.Addr)
	}
	return nil
}

// HandleDatagram 处理一个入站报文.
func (e *Endpoint) HandleDatagram(data []byte, addr net.Addr) {
	if e.closed() {
		return
	}
	if len(data) >= MaxDatagramSize {
		e.handleTooLarge(data, addr)
		return
	}

	var m message.Message
	err := m.Unmarshal(data)
	m.Addr = addr
	if err != nil {
		e.logger.Debug("message unmarshal", zap.String("remote", message.AddrString(addr)), zap.Error(err))
		handleError(e, m, err)
		return
	}
	e.logger.Debug("recv", zap.Stringer("message", m), zap.String("remote", message.AddrString(addr)))
	e.recv(m)
}

func (e *Endpoint) handleTooLarge(data []byte, addr net.Addr) {
	var m message.Message
	m.Unmarshal(data)
	m.Addr = addr
	e.logger.Info("datagram too large", zap.Int("size", len(data)), zap.Stringer("message", m), zap.String("remote", message.AddrString(addr)))
	e.metrics.Reject("too_large")
	if !m.IsRequest() {
		return
	}

	reply := message.Message{Type: message.NON, Code: message.RequestEntityTooLarge, Addr: addr}
	if m.Type == message.CON {
		reply.Type = message.ACK
		reply.MessageID = m.MessageID
	}
	reply.SetToken(m.Token())
	if err := e.sendReply(reply); err != nil {
		e.logger.Warn("send 4.13", zap.Error(err))
	}
}

func (e *Endpoint) recv(m message.Message) {
	r := e.dedup.Recv(m)
	switch r.Kind {
	case deduplication.Request:
		e.handleRequest(r.Message)
	case deduplication.Response:
		e.handleResponse(r)
	case deduplication.EmptyAck:
		e.handleEmptyAck(r)
	case deduplication.Reset:
		e.handleReset(r)
	}
}

// sendReply 发送对入站消息的回复, ACK和RST同时登记用于重复消息的重发.
func (e *Endpoint) sendReply(m message.Message) error {
	if m.MessageID == 0 && (m.Type == message.CON || m.Type == message.NON) {
		m.MessageID = e.reliability.GenerateMessageID()
	}
	if err := e.reliability.Send(m, false); err != nil {
		return err
	}
	if m.Type == message.ACK || m.Type == message.RST {
		e.dedup.SaveReply(m)
	}
	return nil
}

func (e *Endpoint) post(f func()) {
	if !e.dispatcher.post(f) {
		e.logger.Debug("dispatcher closed, drop callback")
	}
}
