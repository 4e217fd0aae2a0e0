package coap

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ironzhang/coapengine/internal/stack/base"
)

// waiter 把异步的请求结果转换为同步返回
type waiter struct {
	done chan struct{}
	resp *Response
	err  error
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

func (w *waiter) finish(resp *Response, err error) {
	select {
	case <-w.done:
	default:
		w.resp, w.err = resp, err
		close(w.done)
	}
}

func (w *waiter) ResetReceived(req *Request, resp *Response) {
	w.finish(resp, ErrReset)
}

func (w *waiter) SeparateResponseReceived(req *Request, resp *Response) {
	w.finish(resp, nil)
}

func (w *waiter) PiggybackedResponseReceived(req *Request, resp *Response) {
	w.finish(resp, nil)
}

func (w *waiter) EmptyAckReceived(req *Request, resp *Response) {}

func (w *waiter) MaxRetransmissionsReached(req *Request) {
	w.finish(nil, base.ErrMaxRetransmit)
}

func (w *waiter) ServiceBusy(req *Request) {
	w.finish(nil, base.ErrServiceBusy)
}

func (w *waiter) ExchangeFailed(req *Request, err error) {
	w.finish(nil, err)
}

// Wait 等待结果或ctx结束.
func (w *waiter) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-w.done:
		return w.resp, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do 发送请求并等待响应.
//
// 对端以RST拒绝时返回ErrReset及RST消息. 不能在回调协程中调用.
func (e *Endpoint) Do(ctx context.Context, req *Request) (*Response, error) {
	w := newWaiter()
	if err := e.SendRequest(req, w); err != nil {
		return nil, err
	}
	resp, err := w.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		e.Cancel(req)
		return nil, errors.Wrap(err, "do")
	}
	return resp, err
}
