package coap

import (
	"fmt"
	"io"
	"net"

	"github.com/ironzhang/coapengine/message"
)

// PrintRequest 输出请求的首行, 令牌和选项, body为true时输出负载.
func PrintRequest(w io.Writer, r *Request, body bool) {
	fmt.Fprintf(w, "CON[%t] %s %s\r\n", r.Confirmable, r.Method, r.URL)
	printHeader(w, r.Token, r.RemoteAddr, r.Options)
	if body {
		fmt.Fprintf(w, "\r\n%s\r\n", r.Payload)
	}
}

// PrintResponse 输出响应的首行, 令牌和选项, body为true时输出负载.
func PrintResponse(w io.Writer, r *Response, body bool) {
	fmt.Fprintf(w, "ACK[%t] CON[%t] %s\r\n", r.Ack, r.Confirmable, r.Status)
	printHeader(w, r.Token, r.RemoteAddr, r.Options)
	if body {
		fmt.Fprintf(w, "\r\n%s\r\n", r.Payload)
	}
}

func printHeader(w io.Writer, token []byte, addr net.Addr, options Options) {
	if len(token) > 0 {
		fmt.Fprintf(w, "Token: %x\r\n", token)
	}
	if remote := message.AddrString(addr); remote != "" {
		fmt.Fprintf(w, "Remote: %s\r\n", remote)
	}
	var rest Options
	for _, o := range options {
		if o.ID != message.Token {
			rest = append(rest, o)
		}
	}
	rest.Write(w)
}
