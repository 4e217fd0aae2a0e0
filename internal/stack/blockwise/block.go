package blockwise

import (
	"github.com/pkg/errors"

	"github.com/ironzhang/coapengine/message"
)

var (
	ErrBlockSequence   = errors.New("block sequence confusion")
	ErrBlockOutOfRange = errors.New("block out of range")
	ErrNoBlockOption   = errors.New("no block option")
)

// Count 返回长度为n的负载按szx分块后的块数.
func Count(n int, szx uint32) int {
	size := message.SZXToSize(szx)
	return (n + size - 1) / size
}

// Rescale 将旧块大小下的块号换算为新块大小下的块号.
func Rescale(num, oldSZX, newSZX uint32) uint32 {
	return uint32(int(num) * message.SZXToSize(oldSZX) / message.SZXToSize(newSZX))
}

// Split 从m的负载中切出第num块, 块选项写入id(Block1或Block2).
//
// 除块选项外的选项原样复制, 令牌保持不变.
func Split(m message.Message, id message.OptionID, num, szx uint32) (message.Message, error) {
	if szx > message.MaxSZX {
		szx = message.MaxSZX
	}
	size := message.SZXToSize(szx)
	start := int(num) * size
	if start > len(m.Payload) || (start == len(m.Payload) && start > 0) {
		return message.Message{}, errors.Wrapf(ErrBlockOutOfRange, "block %d/%d of %d bytes", num, size, len(m.Payload))
	}
	end := start + size
	if end > len(m.Payload) {
		end = len(m.Payload)
	}

	b := m.Clone()
	b.DelOption(message.Block1, message.Block2)
	b.Payload = nil
	if end > start {
		b.Payload = append([]byte(nil), m.Payload[start:end]...)
	}
	opt := message.BlockOption{Num: num, More: end < len(m.Payload), SZX: szx}
	if err := b.SetOption(id, opt.Value()); err != nil {
		return message.Message{}, err
	}
	return b, nil
}

func minSZX(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func optionName(id message.OptionID) string {
	if id == message.Block1 {
		return "block1"
	}
	return "block2"
}
