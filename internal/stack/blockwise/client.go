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

// Step 块传输的下一步动作
//
// Next非空时需要发送下一个块请求, Response非空时传输完成.
// Request为最初(未分块)的请求.
type Step struct {
	Request  message.Message
	Next     *message.Message
	Response *message.Message
}

// transfer 客户端块传输状态
type transfer struct {
	request message.Message
	option  message.OptionID
	num     uint32
	szx     uint32
	buffer  bytes.Buffer
}

// Client 客户端块传输引擎, 会话按令牌索引
type Client struct {
	base.BaseLayer
	MaxSZX  uint32
	Timeout time.Duration
	Metrics *metrics.Metrics

	sched     *scheduler.Scheduler
	mu        sync.Mutex
	transfers map[message.TokenKey]*transfer
}

func NewClient(sched *scheduler.Scheduler) *Client {
	return &Client{
		BaseLayer: base.BaseLayer{Name: "blockwise"},
		MaxSZX:    message.MaxSZX,
		Timeout:   base.EXCHANGE_LIFETIME,
		sched:     sched,
		transfers: make(map[message.TokenKey]*transfer),
	}
}

// Start 准备发送请求, 负载超过块大小时返回第一个Block1块.
func (c *Client) Start(req message.Message) (message.Message, error) {
	szx := c.maxSZX()
	if len(req.Payload) <= message.SZXToSize(szx) {
		return req, nil
	}
	key := req.TokenKey()
	if key.Token == "" {
		return message.Message{}, c.Errorf(base.ErrNoToken, "block1 request %v", req)
	}
	first, err := Split(req, message.Block1, 0, szx)
	if err != nil {
		return message.Message{}, err
	}

	c.mu.Lock()
	c.transfers[key] = &transfer{request: req, option: message.Block1, szx: szx}
	c.mu.Unlock()
	c.touch(key)

	c.Log().Debug("start block1 transfer", zap.Stringer("request", req), zap.Int("blocks", Count(len(req.Payload), szx)))
	c.Metrics.Block(optionName(message.Block1), "out")
	return first, nil
}

// Active 令牌上是否有进行中的块传输.
func (c *Client) Active(key message.TokenKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.transfers[key]
	return ok
}

// OnResponse 处理与块传输相关的响应.
//
// req为响应匹配到的已发送请求. 返回false表示响应与块传输无关.
func (c *Client) OnResponse(req, resp message.Message) (Step, bool, error) {
	key := resp.TokenKey()
	c.mu.Lock()
	t, ok := c.transfers[key]
	c.mu.Unlock()

	if ok && t.option == message.Block1 {
		return c.onBlock1(key, t, resp)
	}
	if opt, has := resp.Block2(); has {
		if !ok {
			if !opt.More && opt.Num == 0 {
				return Step{}, false, nil
			}
			if key.Token == "" {
				return Step{}, true, c.Errorf(base.ErrNoToken, "block2 response %v", resp)
			}
			t = &transfer{request: req, option: message.Block2}
			c.mu.Lock()
			c.transfers[key] = t
			c.mu.Unlock()
		}
		return c.onBlock2(key, t, opt, resp)
	}
	if ok {
		// 服务端放弃了块传输
		c.Cancel(key)
		return Step{Request: t.request, Response: &resp}, true, nil
	}
	return Step{}, false, nil
}

func (c *Client) onBlock1(key message.TokenKey, t *transfer, resp message.Message) (Step, bool, error) {
	opt, has := resp.Block1()
	if resp.Code != message.Continue || !has {
		// 最终响应, 可能继续以Block2传输
		c.Cancel(key)
		if b2, ok := resp.Block2(); ok && b2.More {
			nt := &transfer{request: t.request, option: message.Block2}
			c.mu.Lock()
			c.transfers[key] = nt
			c.mu.Unlock()
			return c.onBlock2(key, nt, b2, resp)
		}
		return Step{Request: t.request, Response: &resp}, true, nil
	}
	if opt.Num != t.num {
		c.Cancel(key)
		return Step{Request: t.request}, true, c.Errorf(ErrBlockSequence, "block1 ack %d, sent %d", opt.Num, t.num)
	}

	szx := minSZX(opt.SZX, t.szx)
	num := Rescale(t.num+1, t.szx, szx)
	if int(num)*message.SZXToSize(szx) >= len(t.request.Payload) {
		c.Cancel(key)
		return Step{Request: t.request}, true, c.Errorf(ErrBlockOutOfRange, "continue after last block %d", t.num)
	}
	next, err := Split(t.request, message.Block1, num, szx)
	if err != nil {
		c.Cancel(key)
		return Step{Request: t.request}, true, err
	}
	if szx != t.szx {
		c.Log().Debug("block1 size renegotiated", zap.Int("old", message.SZXToSize(t.szx)), zap.Int("new", message.SZXToSize(szx)))
	}
	c.mu.Lock()
	t.num, t.szx = num, szx
	c.mu.Unlock()
	c.touch(key)
	return Step{Request: t.request, Next: &next}, true, nil
}

func (c *Client) onBlock2(key message.TokenKey, t *transfer, opt message.BlockOption, resp message.Message) (Step, bool, error) {
	c.mu.Lock()
	if t.buffer.Len() != opt.Offset() {
		c.mu.Unlock()
		c.Cancel(key)
		return Step{Request: t.request}, true, c.Errorf(ErrBlockSequence, "block2 %d at offset %d, have %d bytes", opt.Num, opt.Offset(), t.buffer.Len())
	}
	t.buffer.Write(resp.Payload)
	if opt.Num == 0 {
		c.Metrics.Block(optionName(message.Block2), "in")
	}
	if !opt.More {
		payload := append([]byte(nil), t.buffer.Bytes()...)
		c.mu.Unlock()
		c.Cancel(key)

		full := resp.Clone()
		full.DelOption(message.Block2)
		full.Payload = payload
		c.Log().Debug("block2 transfer complete", zap.Stringer("response", full), zap.Int("size", len(payload)))
		return Step{Request: t.request, Response: &full}, true, nil
	}

	szx := minSZX(opt.SZX, c.maxSZX())
	num := Rescale(opt.Num+1, opt.SZX, szx)
	t.num, t.szx = num, szx
	c.mu.Unlock()
	c.touch(key)

	next := t.request.Clone()
	next.MessageID = 0
	next.Payload = nil
	next.DelOption(message.Block1, message.Observe)
	if err := next.SetBlock2(message.BlockOption{Num: num, SZX: szx}); err != nil {
		c.Cancel(key)
		return Step{Request: t.request}, true, err
	}
	return Step{Request: t.request, Next: &next}, true, nil
}

// Cancel 结束令牌上的块传输.
func (c *Client) Cancel(key message.TokenKey) bool {
	c.mu.Lock()
	_, ok := c.transfers[key]
	delete(c.transfers, key)
	c.mu.Unlock()
	if c.sched != nil {
		c.sched.Cancel(c.timerKey(key))
	}
	return ok
}

// Len 返回进行中的块传输数量.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}

func (c *Client) touch(key message.TokenKey) {
	if c.sched == nil || c.Timeout <= 0 {
		return
	}
	c.sched.Schedule(c.timerKey(key), c.Timeout, func() {
		if c.Cancel(key) {
			c.Log().Info("block transfer expired", zap.String("remote", key.Remote))
		}
	})
}

func (c *Client) timerKey(key message.TokenKey) scheduler.Key {
	return scheduler.Key{Kind: "block-client", ID: key.Remote + "#" + key.Token}
}

func (c *Client) maxSZX() uint32 {
	if c.MaxSZX > message.MaxSZX {
		return message.MaxSZX
	}
	return c.MaxSZX
}
