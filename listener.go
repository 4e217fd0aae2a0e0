package coap

// RequestListener 接收已发送请求的结果
//
// 回调在端点的回调协程中依次执行, 不应长时间阻塞.
type RequestListener interface {
	// ResetReceived 对端以RST拒绝请求
	ResetReceived(req *Request, resp *Response)

	// SeparateResponseReceived 收到单独响应
	SeparateResponseReceived(req *Request, resp *Response)

	// PiggybackedResponseReceived 收到附带在ACK中的响应, 命中缓存时同样以此回调
	PiggybackedResponseReceived(req *Request, resp *Response)

	// EmptyAckReceived 收到空ACK, 之后等待单独响应
	EmptyAckReceived(req *Request, resp *Response)

	// MaxRetransmissionsReached 重传次数用尽仍未收到应答
	MaxRetransmissionsReached(req *Request)

	// ServiceBusy 对端存在未完成的可靠消息, 请求未发送
	ServiceBusy(req *Request)
}

// FailureListener 可选接口, RequestListener同时实现时接收交互失败的通知,
// 如块传输序号错乱或等待单独响应超时.
type FailureListener interface {
	ExchangeFailed(req *Request, err error)
}

// Observer 观察者
//
// Observer的动态值必须可比较, 通常为指针.
type Observer interface {
	ObserveResponseReceived(uri string, resp *Response)
	ObservationRelationshipTerminated(uri string)
}

type nopListener struct{}

func (nopListener) ResetReceived(*Request, *Response)               {}
func (nopListener) SeparateResponseReceived(*Request, *Response)    {}
func (nopListener) PiggybackedResponseReceived(*Request, *Response) {}
func (nopListener) EmptyAckReceived(*Request, *Response)            {}
func (nopListener) MaxRetransmissionsReached(*Request)              {}
func (nopListener) ServiceBusy(*Request)                            {}
