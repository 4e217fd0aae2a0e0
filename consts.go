package coap

import "github.com/ironzhang/coapengine/message"

const (
	CON = message.CON
	NON = message.NON
	ACK = message.ACK
	RST = message.RST
)

const (
	// Request Codes
	GET    = message.GET
	POST   = message.POST
	PUT    = message.PUT
	DELETE = message.DELETE

	// Responses Codes
	Created                  = message.Created
	Deleted                  = message.Deleted
	Valid                    = message.Valid
	Changed                  = message.Changed
	Content                  = message.Content
	Continue                 = message.Continue
	BadRequest               = message.BadRequest
	Unauthorized             = message.Unauthorized
	BadOption                = message.BadOption
	Forbidden                = message.Forbidden
	NotFound                 = message.NotFound
	MethodNotAllowed         = message.MethodNotAllowed
	NotAcceptable            = message.NotAcceptable
	RequestEntityIncomplete  = message.RequestEntityIncomplete
	PreconditionFailed       = message.PreconditionFailed
	RequestEntityTooLarge    = message.RequestEntityTooLarge
	UnsupportedContentFormat = message.UnsupportedContentFormat
	InternalServerError      = message.InternalServerError
	NotImplemented           = message.NotImplemented
	BadGateway               = message.BadGateway
	ServiceUnavailable       = message.ServiceUnavailable
	GatewayTimeout           = message.GatewayTimeout
	ProxyingNotSupported     = message.ProxyingNotSupported
)

const (
	ContentFormat = message.ContentType
	MaxAge        = message.MaxAge
	ProxyURI      = message.ProxyURI
	ETag          = message.ETag
	URIHost       = message.URIHost
	LocationPath  = message.LocationPath
	URIPort       = message.URIPort
	LocationQuery = message.LocationQuery
	URIPath       = message.URIPath
	Observe       = message.Observe
	Token         = message.Token
	Accept        = message.Accept
	IfMatch       = message.IfMatch
	URIQuery      = message.URIQuery
	Block2        = message.Block2
	Size          = message.Size
	Block1        = message.Block1
	IfNoneMatch   = message.IfNoneMatch
	MaxOFE        = message.MaxOFE
)

// 缺省端口
const (
	DefaultPort       = 5683
	DefaultSecurePort = 5684
)

// MaxDatagramSize 接收缓冲区大小, 读满即视为超长报文
const MaxDatagramSize = 1281

// WellKnownCore 资源发现路径
const WellKnownCore = ".well-known/core"

// AllCoAPNodes IPv4组播地址
const AllCoAPNodes = "224.0.1.187"
