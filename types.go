package coap

import "github.com/ironzhang/coapengine/message"

type (
	Type     = message.Type
	Code     = message.Code
	OptionID = message.OptionID
	Option   = message.Option
)

// ContentType 负载格式
type ContentType uint32

const (
	TextPlain     ContentType = 0
	AppLinkFormat ContentType = 40
	AppXML        ContentType = 41
	AppOctets     ContentType = 42
	AppExi        ContentType = 47
	AppJSON       ContentType = 50
)
