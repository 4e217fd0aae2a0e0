package coap

import (
	"errors"
	"net"
	"reflect"
	"testing"

	"github.com/ironzhang/coapengine/message"
)

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		hostport string
		host     string
		port     uint32
	}{
		{"localhost", "localhost", 0},
		{"localhost:8000", "localhost", 8000},
		{"127.0.0.1:5683", "127.0.0.1", 5683},
		{"[::1]", "::1", 0},
		{"[::1]:5684", "::1", 5684},
	}
	for i, tt := range tests {
		host, port, err := splitHostPort(tt.hostport)
		if err != nil {
			t.Fatalf("case%d: split host port: %v", i, err)
		}
		if host != tt.host {
			t.Errorf("case%d: host: %q != %q", i, host, tt.host)
		}
		if port != tt.port {
			t.Errorf("case%d: port: %d != %d", i, port, tt.port)
		}
	}
}

func TestSplitHostPortError(t *testing.T) {
	for i, hostport := range []string{"", ":5683", "localhost:port", "localhost:70000"} {
		if _, _, err := splitHostPort(hostport); err == nil {
			t.Errorf("case%d: split %q succeeded", i, hostport)
		}
	}
}

func TestNewRequest(t *testing.T) {
	tests := []struct {
		confirmable bool
		method      Code
		urlstr      string
		host        string
		options     Options
	}{
		{
			confirmable: true,
			method:      GET,
			urlstr:      "coap://localhost/1/2/3?a=1&b=2&c=3",
			host:        "localhost:5683",
			options: Options{
				{ID: URIHost, Value: "localhost"},
				{ID: URIPath, Value: "1"},
				{ID: URIPath, Value: "2"},
				{ID: URIPath, Value: "3"},
				{ID: URIQuery, Value: "a=1"},
				{ID: URIQuery, Value: "b=2"},
				{ID: URIQuery, Value: "c=3"},
			},
		},
		{
			confirmable: false,
			method:      POST,
			urlstr:      "coap://127.0.0.1:8000/a/b",
			host:        "127.0.0.1:8000",
			options: Options{
				{ID: URIPort, Value: uint32(8000)},
				{ID: URIPath, Value: "a"},
				{ID: URIPath, Value: "b"},
			},
		},
		{
			confirmable: false,
			method:      POST,
			urlstr:      "coaps://127.0.0.1/",
			host:        "127.0.0.1:5684",
			options:     nil,
		},
	}
	for i, tt := range tests {
		req, err := NewRequest(tt.confirmable, tt.method, tt.urlstr, nil)
		if err != nil {
			t.Fatalf("case%d: new request: %v", i, err)
		}
		if got, want := req.Confirmable, tt.confirmable; got != want {
			t.Errorf("case%d: Confirmable: %v != %v", i, got, want)
		}
		if got, want := req.Method, tt.method; got != want {
			t.Errorf("case%d: Method: %v != %v", i, got, want)
		}
		if got, want := req.URL.Host, tt.host; got != want {
			t.Errorf("case%d: Host: %v != %v", i, got, want)
		}
		if got, want := req.Options, tt.options; !reflect.DeepEqual(got, want) {
			t.Errorf("case%d: Options:\ngot:\n%s\nwant:\n%s\n", i, OptionsString(got), OptionsString(want))
		}
	}
}

func TestNewRequestError(t *testing.T) {
	tests := []struct {
		urlstr string
		err    error
	}{
		{urlstr: "http://localhost/a", err: ErrInvalidScheme},
		{urlstr: "coap:///a", err: ErrNoHost},
		{urlstr: "coap://localhost/a#frag", err: ErrFragment},
	}
	for i, tt := range tests {
		_, err := NewRequest(true, GET, tt.urlstr, nil)
		if !errors.Is(err, tt.err) {
			t.Errorf("case%d: err: got(%v) != want(%v)", i, err, tt.err)
		}
	}
}

func TestRequestMessage(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5683}
	req, err := NewRequest(true, PUT, "coap://127.0.0.1/a", []byte("hello"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Token = []byte{1, 2}
	m, err := req.message(7, addr)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	want := message.Message{
		Type:      message.CON,
		Code:      message.PUT,
		MessageID: 7,
		Options: []message.Option{
			{ID: message.URIPath, Value: "a"},
			{ID: message.Token, Value: []byte{1, 2}},
		},
		Payload: []byte("hello"),
		Addr:    addr,
	}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("message: got(%v) != want(%v)", m, want)
	}
}

func TestNewServerRequest(t *testing.T) {
	local := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5683}
	remote := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 40000}
	tests := []struct {
		options []message.Option
		url     string
	}{
		{
			options: []message.Option{{ID: message.URIPath, Value: "temp"}},
			url:     "coap://10.0.0.1:5683/temp",
		},
		{
			options: []message.Option{
				{ID: message.URIHost, Value: "sensor"},
				{ID: message.URIPort, Value: uint32(61616)},
				{ID: message.URIPath, Value: "a"},
				{ID: message.URIPath, Value: "b"},
				{ID: message.URIQuery, Value: "x=1"},
			},
			url: "coap://sensor:61616/a/b?x=1",
		},
	}
	for i, tt := range tests {
		m := message.Message{Type: message.CON, Code: message.GET, MessageID: 1, Options: tt.options, Addr: remote}
		m.SetToken([]byte{9})
		r := newServerRequest(m, local)
		if got, want := r.URL.String(), tt.url; got != want {
			t.Errorf("case%d: url: got(%v) != want(%v)", i, got, want)
		}
		if got, want := r.Token, []byte{9}; !reflect.DeepEqual(got, want) {
			t.Errorf("case%d: token: got(%v) != want(%v)", i, got, want)
		}
		if got, want := r.RemoteAddr, net.Addr(remote); got != want {
			t.Errorf("case%d: remote: got(%v) != want(%v)", i, got, want)
		}
		if !r.Confirmable {
			t.Errorf("case%d: not confirmable", i)
		}
	}
}
