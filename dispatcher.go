package coap

import (
	"sync"

	"go.uber.org/zap"
)

// dispatcher 在单个协程中依次执行上层回调
//
// 同一块传输或观察关系中的回调按投递顺序执行.
type dispatcher struct {
	logger *zap.Logger
	queue  chan func()
	done   chan struct{}
	once   sync.Once
}

func newDispatcher(size int, logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		logger: logger,
		queue:  make(chan func(), size),
		done:   make(chan struct{}),
	}
	go d.serving()
	return d
}

func (d *dispatcher) serving() {
	for {
		select {
		case <-d.done:
			return
		case f := <-d.queue:
			d.call(f)
		}
	}
}

func (d *dispatcher) call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	f()
}

// post 投递回调, 队列满时阻塞, 关闭后丢弃.
func (d *dispatcher) post(f func()) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.queue <- f:
		return true
	case <-d.done:
		return false
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.done) })
}
