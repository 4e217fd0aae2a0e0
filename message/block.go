package message

const (
	szxMask  = 0x07
	moreMask = 1 << 3

	// MaxSZX 块大小指数上限, 对应1024字节
	MaxSZX = 6
)

// BlockOption Block1/Block2选项的结构化视图
type BlockOption struct {
	Num  uint32
	More bool
	SZX  uint32
}

// ParseBlockOption 解析块选项的值.
func ParseBlockOption(value uint32) BlockOption {
	return BlockOption{
		Num:  value >> 4,
		More: value&moreMask == moreMask,
		SZX:  value & szxMask,
	}
}

// Value 返回块选项编码前的值: num<<4 | M<<3 | szx.
func (o BlockOption) Value() uint32 {
	value := o.Num << 4
	if o.More {
		value |= moreMask
	}
	value |= o.SZX & szxMask
	return value
}

// Size 返回块大小 2^(szx+4).
func (o BlockOption) Size() int {
	return SZXToSize(o.SZX)
}

// Offset 返回块在完整负载中的起始位置.
func (o BlockOption) Offset() int {
	return int(o.Num) * o.Size()
}

func SZXToSize(szx uint32) int {
	if szx > MaxSZX {
		szx = MaxSZX
	}
	return 1 << (szx + 4)
}

// SizeToSZX 返回不大于size的最大块大小指数.
func SizeToSZX(size int) uint32 {
	var szx uint32
	for szx < MaxSZX && 1<<(szx+5) <= size {
		szx++
	}
	return szx
}

func (m *Message) Block1() (BlockOption, bool) {
	return m.blockOption(Block1)
}

func (m *Message) Block2() (BlockOption, bool) {
	return m.blockOption(Block2)
}

func (m *Message) blockOption(id OptionID) (BlockOption, bool) {
	v, ok := m.Uint(id)
	if !ok {
		return BlockOption{}, false
	}
	return ParseBlockOption(v), true
}

func (m *Message) SetBlock1(o BlockOption) error {
	return m.SetOption(Block1, o.Value())
}

func (m *Message) SetBlock2(o BlockOption) error {
	return m.SetOption(Block2, o.Value())
}
