package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// 消息格式
/*
	|       0       |       1       |       2       |       3       |
	|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|Ver| T |  OC   |      Code     |          Message ID           |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Options (if any) ...
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Payload (if any) ...
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/

// option格式
/*
	  0   1   2   3   4   5   6   7
	+---+---+---+---+---+---+---+---+
	| Option Delta  |    Length     | for 0..14
	+---+---+---+---+---+---+---+---+
	|   Option Value ...
	+---+---+---+---+---+---+---+---+

	+---+---+---+---+---+---+---+---+
	| Option Delta  | 1   1   1   1 |          for 15..270
	+---+---+---+---+---+---+---+---+
	|     Length - 15               |
	+---+---+---+---+---+---+---+---+
	|   Option Value ...
	+---+---+---+---+---+---+---+---+

	delta大于15时插入Fencepost选项(14, 28, 42...)
*/

const (
	version      = 1
	maxOptionLen = 15 + 255
)

type fixHeader struct {
	Flags     uint8
	Code      uint8
	MessageID uint16
}

// Marshal 按草案格式编码消息.
func (m *Message) Marshal() ([]byte, error) {
	options := make([]Option, len(m.Options))
	copy(options, m.Options)
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].ID < options[j].ID
	})

	// options
	var count int
	var prev OptionID
	var obuf bytes.Buffer
	enc := optionEncoder{w: &obuf}
	for _, opt := range options {
		if opt.ID.Fencepost() {
			continue
		}
		data, err := optionValueToBytes(opt.ID, opt.Value)
		if err != nil {
			return nil, err
		}
		for opt.ID-prev > 15 {
			fp := (prev/14 + 1) * 14
			if err = enc.Encode(uint32(fp-prev), nil); err != nil {
				return nil, err
			}
			prev = fp
			count++
		}
		if err = enc.Encode(uint32(opt.ID-prev), data); err != nil {
			return nil, err
		}
		prev = opt.ID
		count++
	}
	if count > MaxOptions {
		return nil, errors.Wrapf(ErrTooManyOptions, "%d options", count)
	}

	var buf bytes.Buffer
	h := fixHeader{
		Flags:     version<<6 | uint8(m.Type&0x3)<<4 | uint8(count),
		Code:      uint8(m.Code),
		MessageID: m.MessageID,
	}
	if err := binary.Write(&buf, binary.BigEndian, h); err != nil {
		return nil, err
	}
	buf.Write(obuf.Bytes())
	buf.Write(m.Payload)
	return buf.Bytes(), nil
}

// Unmarshal 按草案格式解码消息.
//
// 解码失败时m中保留已解析出的部分, 返回*FormatError或*BadOptionsError.
// 无法识别的非关键选项被忽略.
func (m *Message) Unmarshal(data []byte) error {
	if len(data) < 4 {
		return &FormatError{Reason: "short packet"}
	}

	buf := bytes.NewBuffer(data)

	// header
	var h fixHeader
	if err := binary.Read(buf, binary.BigEndian, &h); err != nil {
		return &FormatError{Reason: err.Error()}
	}
	m.Type = Type((h.Flags >> 4) & 0x3)
	m.Code = Code(h.Code)
	m.MessageID = h.MessageID
	if v := h.Flags >> 6; v != version {
		return &FormatError{Reason: fmt.Sprintf("unsupport version %d", v)}
	}

	// options
	var bad []OptionID
	var prev OptionID
	count := int(h.Flags & 0x0f)
	dec := optionDecoder{r: buf}
	for i := 0; i < count; i++ {
		delta, value, err := dec.Decode()
		if err != nil {
			return &FormatError{Reason: fmt.Sprintf("option %d: %v", i, err), Header: true}
		}
		id := prev + OptionID(delta)
		prev = id
		if id.Fencepost() {
			continue
		}
		if !recognize(id, value) {
			if id.Critical() {
				bad = appendID(bad, id)
			}
			continue
		}
		m.Options = append(m.Options, Option{ID: id, Value: bytesToOptionValue(id, value)})
	}

	// payload
	if buf.Len() > 0 {
		m.Payload = make([]byte, buf.Len())
		copy(m.Payload, buf.Bytes())
	}

	if len(bad) > 0 {
		return &BadOptionsError{Options: bad, Cause: ErrUnknownOption}
	}
	return m.Validate()
}

func encodeUint8(v uint8) []byte {
	b := make([]byte, 1)
	b[0] = v
	return b
}

func encodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func encodeUint24(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b[1:]
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func encodeUintVariant(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v < 256:
		return encodeUint8(uint8(v))
	case v < 65536:
		return encodeUint16(uint16(v))
	case v < 16777216:
		return encodeUint24(v)
	default:
		return encodeUint32(v)
	}
}

func decodeUintVariant(b []byte) uint32 {
	data := make([]byte, 4)
	copy(data[4-len(b):], b)
	return binary.BigEndian.Uint32(data)
}

func optionValueToBytes(id OptionID, v interface{}) ([]byte, error) {
	value, err := normalizeValue(id, v)
	if err != nil {
		return nil, err
	}
	switch tv := value.(type) {
	case string:
		return []byte(tv), nil
	case []byte:
		return tv, nil
	case uint32:
		return encodeUintVariant(tv), nil
	}
	return nil, errors.Wrapf(ErrOptionValue, "%s: unsupport type %T", id, v)
}

func bytesToOptionValue(id OptionID, buf []byte) interface{} {
	switch optionDefs[id].format {
	case EmptyValue, OpaqueValue:
		return buf
	case UintValue:
		return decodeUintVariant(buf)
	case StringValue:
		return string(buf)
	}
	return nil
}

type encodeWriter interface {
	io.Writer
	io.ByteWriter
}

type decodeReader interface {
	io.Reader
	io.ByteReader
}

type optionEncoder struct {
	w encodeWriter
}

func (e *optionEncoder) Encode(delta uint32, value []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()

	if delta > 15 {
		panic(fmt.Errorf("encode option: invalid delta(%d)", delta))
	}
	length := len(value)
	switch {
	case length < 15:
		e.writeByte(uint8(delta)<<4 | uint8(length))
	case length <= maxOptionLen:
		e.writeByte(uint8(delta)<<4 | 15)
		e.writeByte(uint8(length - 15))
	default:
		panic(fmt.Errorf("encode option: invalid length(%d)", length))
	}
	e.write(value)
	return nil
}

func (e *optionEncoder) writeByte(b byte) {
	if err := e.w.WriteByte(b); err != nil {
		panic(err)
	}
}

func (e *optionEncoder) write(p []byte) {
	if len(p) <= 0 {
		return
	}
	if _, err := e.w.Write(p); err != nil {
		panic(err)
	}
}

type optionDecoder struct {
	r decodeReader
}

func (d *optionDecoder) Decode() (delta uint32, value []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()

	flag := d.readByte()
	delta = uint32(flag >> 4)
	length := uint32(flag & 0x0f)
	if length == 15 {
		length += uint32(d.readByte())
	}
	value = d.readValue(length)
	return delta, value, nil
}

func (d *optionDecoder) readByte() byte {
	b, err := d.r.ReadByte()
	if err != nil {
		panic(errors.Wrap(io.ErrUnexpectedEOF, "truncated"))
	}
	return b
}

func (d *optionDecoder) readValue(n uint32) []byte {
	if n <= 0 {
		return nil
	}
	value := make([]byte, n)
	if _, err := io.ReadFull(d.r, value); err != nil {
		panic(errors.Wrap(io.ErrUnexpectedEOF, "truncated"))
	}
	return value
}
