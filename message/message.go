package message

import (
	"bytes"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Message COAP消息
//
// Addr在发送时为目标地址, 在接收时为来源地址.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Options   []Option
	Payload   []byte
	Addr      net.Addr
}

func (m Message) String() string {
	token := m.Token()
	if len(token) <= 0 {
		return fmt.Sprintf("%s,%s,%d", m.Type, m.Code, m.MessageID)
	}
	return fmt.Sprintf("%s,%s,%d,%x", m.Type, m.Code, m.MessageID, token)
}

func (m *Message) IsRequest() bool {
	return m.Code.IsRequest()
}

func (m *Message) IsResponse() bool {
	return m.Code.IsResponse()
}

func (m *Message) IsEmpty() bool {
	return m.Code == 0
}

// Clone 深拷贝消息, 地址除外.
func (m Message) Clone() Message {
	c := m
	if m.Options != nil {
		c.Options = make([]Option, len(m.Options))
		for i, o := range m.Options {
			if b, ok := o.Value.([]byte); ok && b != nil {
				o.Value = append([]byte{}, b...)
			}
			c.Options[i] = o
		}
	}
	if m.Payload != nil {
		c.Payload = append([]byte{}, m.Payload...)
	}
	return c
}

// AddOption 添加选项.
//
// 添加Proxy-Uri会移除Uri-Host, Uri-Port, Uri-Path; 已存在Proxy-Uri时添加这三个选项会返回ErrProxyURIConflict.
func (m *Message) AddOption(id OptionID, v interface{}) error {
	value, err := normalizeValue(id, v)
	if err != nil {
		return err
	}
	if id == URIPath && strings.Contains(value.(string), "/") {
		return errors.Wrapf(ErrInvalidPathSegment, "%q", value)
	}
	switch id {
	case ProxyURI:
		m.DelOption(URIHost, URIPort, URIPath)
	case URIHost, URIPort, URIPath:
		if m.HasOption(ProxyURI) {
			return errors.Wrapf(ErrProxyURIConflict, "add %s", id)
		}
	}
	if !id.Repeatable() && m.HasOption(id) {
		return errors.Wrapf(ErrOptionRepeated, "%s", id)
	}
	m.Options = append(m.Options, Option{ID: id, Value: value})
	return nil
}

// SetOption 替换选项.
func (m *Message) SetOption(id OptionID, v interface{}) error {
	if _, err := normalizeValue(id, v); err != nil {
		return err
	}
	m.DelOption(id)
	return m.AddOption(id, v)
}

// DelOption 删除指定编号的全部选项.
func (m *Message) DelOption(ids ...OptionID) {
	if len(m.Options) <= 0 {
		return
	}
	options := make([]Option, 0, len(m.Options))
	for _, o := range m.Options {
		if !containsID(ids, o.ID) {
			options = append(options, o)
		}
	}
	m.Options = options
}

func (m *Message) HasOption(id OptionID) bool {
	for _, o := range m.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (m *Message) GetOption(id OptionID) interface{} {
	for _, o := range m.Options {
		if o.ID == id {
			return o.Value
		}
	}
	return nil
}

func (m *Message) GetOptions(id OptionID) (values []interface{}) {
	for _, o := range m.Options {
		if o.ID == id {
			values = append(values, o.Value)
		}
	}
	return values
}

// Uint 返回uint格式选项的值.
func (m *Message) Uint(id OptionID) (uint32, bool) {
	v, ok := m.GetOption(id).(uint32)
	return v, ok
}

// Strings 返回string格式选项的全部值.
func (m *Message) Strings(id OptionID) []string {
	var ss []string
	for _, o := range m.Options {
		if o.ID == id {
			if s, ok := o.Value.(string); ok {
				ss = append(ss, s)
			}
		}
	}
	return ss
}

func (m Message) Token() []byte {
	for _, o := range m.Options {
		if o.ID == Token {
			b, _ := o.Value.([]byte)
			return b
		}
	}
	return nil
}

// SetToken 设置令牌, token为空则删除令牌选项.
func (m *Message) SetToken(token []byte) error {
	if len(token) == 0 {
		m.DelOption(Token)
		return nil
	}
	if len(token) > 8 {
		return ErrInvalidToken
	}
	return m.SetOption(Token, token)
}

func (m *Message) Observe() (uint32, bool) {
	return m.Uint(Observe)
}

// Validate 检查选项集合是否满足互斥及单值约束.
func (m *Message) Validate() error {
	var bad []OptionID
	var cause error
	counts := make(map[OptionID]int)
	for _, o := range m.Options {
		counts[o.ID]++
		if counts[o.ID] > 1 && !o.ID.Repeatable() {
			bad = appendID(bad, o.ID)
			cause = ErrOptionRepeated
		}
		if o.ID == URIPath {
			if s, _ := o.Value.(string); strings.Contains(s, "/") {
				bad = appendID(bad, o.ID)
				cause = ErrInvalidPathSegment
			}
		}
		if o.ID == Block1 || o.ID == Block2 {
			if v, _ := o.Value.(uint32); v&szxMask == 7 {
				bad = appendID(bad, o.ID)
				cause = ErrOptionValue
			}
		}
	}
	if counts[ProxyURI] > 0 {
		for _, id := range []OptionID{URIHost, URIPort, URIPath} {
			if counts[id] > 0 {
				bad = appendID(bad, id)
				cause = ErrProxyURIConflict
			}
		}
	}
	if len(bad) > 0 {
		return &BadOptionsError{Options: bad, Cause: cause}
	}
	return nil
}

func containsID(ids []OptionID, id OptionID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func appendID(ids []OptionID, id OptionID) []OptionID {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

func normalizeValue(id OptionID, v interface{}) (interface{}, error) {
	def, ok := optionDefs[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOption, "%d", id)
	}

	var value interface{}
	var n int
	switch def.format {
	case EmptyValue:
		value = []byte(nil)
	case UintValue:
		u, err := toUint32(v)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", id)
		}
		value = u
		n = len(encodeUintVariant(u))
	case StringValue:
		switch tv := v.(type) {
		case string:
			value = tv
		case []byte:
			value = string(tv)
		default:
			return nil, errors.Wrapf(ErrOptionValue, "%s: unsupport type %T", id, v)
		}
		n = len(value.(string))
	case OpaqueValue:
		var b []byte
		switch tv := v.(type) {
		case []byte:
			b = append(b, tv...)
		case string:
			b = append(b, tv...)
		default:
			return nil, errors.Wrapf(ErrOptionValue, "%s: unsupport type %T", id, v)
		}
		value = b
		n = len(b)
	}
	if n < def.minlen || n > def.maxlen {
		return nil, errors.Wrapf(ErrOptionValue, "%s: length %d out of [%d,%d]", id, n, def.minlen, def.maxlen)
	}
	return value, nil
}

func toUint32(v interface{}) (uint32, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64:
		if rv.Int() < 0 || rv.Int() > 0xffffffff {
			return 0, errors.Wrapf(ErrOptionValue, "uint overflow %d", rv.Int())
		}
		return uint32(rv.Int()), nil

	case reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64:
		if rv.Uint() > 0xffffffff {
			return 0, errors.Wrapf(ErrOptionValue, "uint overflow %d", rv.Uint())
		}
		return uint32(rv.Uint()), nil
	}
	return 0, errors.Wrapf(ErrOptionValue, "unsupport type %T", v)
}

func formatOptions(options []Option) string {
	var buf bytes.Buffer
	for i, o := range options {
		if i > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString(o.String())
	}
	return buf.String()
}

// Detail 返回包含选项与负载长度的描述, 用于调试日志.
func (m Message) Detail() string {
	return fmt.Sprintf("%s [%s] payload=%d", m.String(), formatOptions(m.Options), len(m.Payload))
}
