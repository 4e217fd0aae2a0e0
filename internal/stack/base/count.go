package base

import (
	"sync"

	"github.com/ironzhang/coapengine/message"
)

// CountSender 记录发送的消息, 用于测试
type CountSender struct {
	mu       sync.Mutex
	Err      error
	Messages []message.Message
	C        chan message.Message
}

// NewCountSender 构造带通知通道的CountSender, 通道容量为n.
func NewCountSender(n int) *CountSender {
	return &CountSender{C: make(chan message.Message, n)}
}

func (s *CountSender) Send(m message.Message) error {
	s.mu.Lock()
	s.Messages = append(s.Messages, m)
	err := s.Err
	s.mu.Unlock()
	if s.C != nil {
		select {
		case s.C <- m:
		default:
		}
	}
	return err
}

func (s *CountSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Messages)
}

// Sent 返回已发送消息的拷贝.
func (s *CountSender) Sent() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Message(nil), s.Messages...)
}

func (s *CountSender) Last() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Messages) == 0 {
		return message.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s *CountSender) Reset() {
	s.mu.Lock()
	s.Messages = nil
	s.mu.Unlock()
}
