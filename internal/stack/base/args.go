package base

import "time"

// 可靠传输参数
const (
	ACK_TIMEOUT       = 2 * time.Second
	ACK_RANDOM_FACTOR = 1.5
	MAX_RETRANSMIT    = 4
)

// 由传输参数推导的时间, ACK_RANDOM_FACTOR按3/2参与常量运算
const (
	// 首次发送到最后一次重传的最长间隔, 45s
	MAX_TRANSMIT_SPAN = ACK_TIMEOUT * ((1 << MAX_RETRANSMIT) - 1) * 3 / 2

	MAX_LATENCY      = 100 * time.Second
	PROCESSING_DELAY = ACK_TIMEOUT

	// 可靠消息ID的有效期, 247s
	EXCHANGE_LIFETIME = MAX_TRANSMIT_SPAN + 2*MAX_LATENCY + PROCESSING_DELAY
)
