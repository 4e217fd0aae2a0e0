package message

import "fmt"

// option id
/*
	+-----+---+----------------+--------+--------+---------+
	| No. | C | Name           | Format | Length | Default |
	+-----+---+----------------+--------+--------+---------+
	|   1 | x | Content-Type   | uint   | 0-2    | (none)  |
	|   2 |   | Max-Age        | uint   | 0-4    | 60      |
	|   3 | x | Proxy-Uri      | string | 1-270  | (none)  |
	|   4 |   | ETag           | opaque | 1-8    | (none)  |
	|   5 | x | Uri-Host       | string | 1-270  | (none)  |
	|   6 |   | Location-Path  | string | 0-270  | (none)  |
	|   7 | x | Uri-Port       | uint   | 0-2    | (none)  |
	|   8 |   | Location-Query | string | 0-270  | (none)  |
	|   9 | x | Uri-Path       | string | 0-270  | (none)  |
	|  10 |   | Observe        | uint   | 0-2    | (none)  |
	|  11 | x | Token          | opaque | 1-8    | (empty) |
	|  12 |   | Accept         | uint   | 0-2    | (none)  |
	|  13 | x | If-Match       | opaque | 0-8    | (none)  |
	|  14 |   | Fencepost      |        |        |         |
	|  15 | x | Uri-Query      | string | 0-270  | (none)  |
	|  17 | x | Block2         | uint   | 0-3    | (none)  |
	|  18 |   | Size           | uint   | 0-4    | (none)  |
	|  19 | x | Block1         | uint   | 0-3    | (none)  |
	|  21 | x | If-None-Match  | empty  | 0      | (none)  |
	|  22 |   | Max-OFE        | uint   | 0-4    | 0       |
	+-----+---+----------------+--------+--------+---------+

	C=Critical, 14的整数倍为Fencepost
*/

// OptionID 选项编号
type OptionID uint16

const (
	ContentType   OptionID = 1
	MaxAge        OptionID = 2
	ProxyURI      OptionID = 3
	ETag          OptionID = 4
	URIHost       OptionID = 5
	LocationPath  OptionID = 6
	URIPort       OptionID = 7
	LocationQuery OptionID = 8
	URIPath       OptionID = 9
	Observe       OptionID = 10
	Token         OptionID = 11
	Accept        OptionID = 12
	IfMatch       OptionID = 13
	URIQuery      OptionID = 15
	Block2        OptionID = 17
	Size          OptionID = 18
	Block1        OptionID = 19
	IfNoneMatch   OptionID = 21
	MaxOFE        OptionID = 22
)

// DefaultMaxAge 未携带Max-Age选项时的缺省值, 单位秒
const DefaultMaxAge = 60

// MaxOptions 草案格式下选项计数字段只有4位
const MaxOptions = 15

// option format
const (
	EmptyValue = iota
	UintValue
	StringValue
	OpaqueValue
)

type optionDef struct {
	id     OptionID
	name   string
	format int
	repeat int
	minlen int
	maxlen int
}

var optionDefs = make(map[OptionID]optionDef)

// RegisterOptionDef 注册选项定义.
//
// repeat参数定义了一个消息最多可包含多少个该选项, <=0则不做限制.
//
// 若重复注册同一编号的选项定义则会引发panic.
func RegisterOptionDef(id OptionID, repeat int, name string, format, minlen, maxlen int) {
	if _, ok := optionDefs[id]; ok {
		panic(fmt.Sprintf("option %d registered", id))
	}
	if id.Fencepost() {
		panic(fmt.Sprintf("option %d is a fencepost", id))
	}
	optionDefs[id] = optionDef{
		id:     id,
		name:   name,
		format: format,
		repeat: repeat,
		minlen: minlen,
		maxlen: maxlen,
	}
}

func (id OptionID) String() string {
	if def, ok := optionDefs[id]; ok && def.name != "" {
		return def.name
	}
	if id.Fencepost() {
		return "Fencepost"
	}
	return fmt.Sprintf("Option(%d)", uint16(id))
}

// Critical 奇数编号的选项为关键选项.
func (id OptionID) Critical() bool {
	return id&0x1 == 1
}

// Fencepost 14的整数倍编号为占位选项.
func (id OptionID) Fencepost() bool {
	return id != 0 && id%14 == 0
}

// Registered 选项是否已注册.
func (id OptionID) Registered() bool {
	_, ok := optionDefs[id]
	return ok
}

// Repeatable 选项是否允许出现多次.
func (id OptionID) Repeatable() bool {
	def, ok := optionDefs[id]
	return ok && def.repeat != 1
}

func recognize(id OptionID, buf []byte) bool {
	def, ok := optionDefs[id]
	if !ok {
		return false
	}
	if n := len(buf); n < def.minlen || n > def.maxlen {
		return false
	}
	return true
}

func init() {
	RegisterOptionDef(ContentType, 1, "Content-Type", UintValue, 0, 2)
	RegisterOptionDef(MaxAge, 1, "Max-Age", UintValue, 0, 4)
	RegisterOptionDef(ProxyURI, 1, "Proxy-Uri", StringValue, 1, 270)
	RegisterOptionDef(ETag, 0, "ETag", OpaqueValue, 1, 8)
	RegisterOptionDef(URIHost, 1, "Uri-Host", StringValue, 1, 270)
	RegisterOptionDef(LocationPath, 0, "Location-Path", StringValue, 0, 270)
	RegisterOptionDef(URIPort, 1, "Uri-Port", UintValue, 0, 2)
	RegisterOptionDef(LocationQuery, 0, "Location-Query", StringValue, 0, 270)
	RegisterOptionDef(URIPath, 0, "Uri-Path", StringValue, 0, 270)
	RegisterOptionDef(Observe, 1, "Observe", UintValue, 0, 2)
	RegisterOptionDef(Token, 1, "Token", OpaqueValue, 1, 8)
	RegisterOptionDef(Accept, 0, "Accept", UintValue, 0, 2)
	RegisterOptionDef(IfMatch, 0, "If-Match", OpaqueValue, 0, 8)
	RegisterOptionDef(URIQuery, 0, "Uri-Query", StringValue, 0, 270)
	RegisterOptionDef(Block2, 1, "Block2", UintValue, 0, 3)
	RegisterOptionDef(Size, 1, "Size", UintValue, 0, 4)
	RegisterOptionDef(Block1, 1, "Block1", UintValue, 0, 3)
	RegisterOptionDef(IfNoneMatch, 1, "If-None-Match", EmptyValue, 0, 0)
	RegisterOptionDef(MaxOFE, 1, "Max-OFE", UintValue, 0, 4)
}

// Option COAP消息选项
type Option struct {
	ID    OptionID
	Value interface{}
}

func (o Option) String() string {
	switch v := o.Value.(type) {
	case []byte:
		return fmt.Sprintf("%s: %x", o.ID, v)
	default:
		return fmt.Sprintf("%s: %v", o.ID, v)
	}
}
