package message

import (
	"bytes"
	"net"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestProxyURIExclusion(t *testing.T) {
	var m Message
	m.AddOption(URIHost, "example.com")
	m.AddOption(URIPort, 5683)
	m.AddOption(URIPath, "a")
	m.AddOption(URIPath, "b")
	m.AddOption(Accept, 40)
	if err := m.AddOption(ProxyURI, "coap://proxy/a/b"); err != nil {
		t.Fatalf("add proxy-uri: %v", err)
	}
	want := []Option{
		{ID: Accept, Value: uint32(40)},
		{ID: ProxyURI, Value: "coap://proxy/a/b"},
	}
	if got := m.Options; !reflect.DeepEqual(got, want) {
		t.Errorf("options: got(%v) != want(%v)", got, want)
	}

	for _, id := range []OptionID{URIHost, URIPort, URIPath} {
		var v interface{} = "x"
		if id == URIPort {
			v = 1
		}
		if err := m.AddOption(id, v); errors.Cause(err) != ErrProxyURIConflict {
			t.Errorf("add %s: got(%v) != want(%v)", id, err, ErrProxyURIConflict)
		}
	}
	if got, want := len(m.Options), 2; got != want {
		t.Errorf("options len: got(%d) != want(%d)", got, want)
	}
}

func TestAddOptionErrors(t *testing.T) {
	tests := []struct {
		prepare []Option
		id      OptionID
		value   interface{}
		err     error
	}{
		{id: URIPath, value: "a/b", err: ErrInvalidPathSegment},
		{id: OptionID(23), value: "x", err: ErrUnknownOption},
		{id: URIPort, value: "x", err: ErrOptionValue},
		{id: URIPort, value: 70000, err: ErrOptionValue},
		{id: ETag, value: make([]byte, 9), err: ErrOptionValue},
		{id: Token, value: []byte{}, err: ErrOptionValue},
		{prepare: []Option{{ID: Observe, Value: 1}}, id: Observe, value: 2, err: ErrOptionRepeated},
		{prepare: []Option{{ID: Block2, Value: 1}}, id: Block2, value: 2, err: ErrOptionRepeated},
		{prepare: []Option{{ID: URIQuery, Value: "a"}}, id: URIQuery, value: "b", err: nil},
	}
	for i, tt := range tests {
		var m Message
		for _, o := range tt.prepare {
			if err := m.AddOption(o.ID, o.Value); err != nil {
				t.Fatalf("case%d: prepare: %v", i, err)
			}
		}
		if got, want := errors.Cause(m.AddOption(tt.id, tt.value)), tt.err; got != want {
			t.Errorf("case%d: got(%v) != want(%v)", i, got, want)
		}
	}
}

func TestSetOption(t *testing.T) {
	var m Message
	m.AddOption(MaxAge, 10)
	if err := m.SetOption(MaxAge, 20); err != nil {
		t.Fatalf("set option: %v", err)
	}
	if got, ok := m.Uint(MaxAge); !ok || got != 20 {
		t.Errorf("max-age: got(%d, %v) != want(20, true)", got, ok)
	}
	if got, want := len(m.GetOptions(MaxAge)), 1; got != want {
		t.Errorf("max-age count: got(%d) != want(%d)", got, want)
	}
}

func TestToken(t *testing.T) {
	var m Message
	if err := m.SetToken(make([]byte, 9)); err != ErrInvalidToken {
		t.Errorf("set long token: got(%v) != want(%v)", err, ErrInvalidToken)
	}
	if err := m.SetToken([]byte{1, 2}); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if err := m.SetToken([]byte{3}); err != nil {
		t.Fatalf("replace token: %v", err)
	}
	if got, want := m.Token(), []byte{3}; !bytes.Equal(got, want) {
		t.Errorf("token: got(%x) != want(%x)", got, want)
	}
	m.SetToken(nil)
	if m.HasOption(Token) {
		t.Errorf("token not removed")
	}
}

func TestClone(t *testing.T) {
	m := Message{Type: CON, Code: GET, MessageID: 1, Payload: []byte("abc")}
	m.SetToken([]byte{1})
	c := m.Clone()
	c.Payload[0] = 'x'
	c.Token()[0] = 2
	if got, want := string(m.Payload), "abc"; got != want {
		t.Errorf("payload: got(%s) != want(%s)", got, want)
	}
	if got, want := m.Token(), []byte{1}; !bytes.Equal(got, want) {
		t.Errorf("token: got(%x) != want(%x)", got, want)
	}
}

func TestURI(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5683}
	tests := []struct {
		options []Option
		uri     string
	}{
		{
			options: []Option{{URIPath, "a"}, {URIPath, "b"}, {URIQuery, "x=1"}, {URIQuery, "y=2"}},
			uri:     "coap://10.0.0.1:5683/a/b?x=1&y=2",
		},
		{
			options: []Option{{URIHost, "example.com"}, {URIPath, "large"}},
			uri:     "coap://example.com:5683/large",
		},
		{
			options: []Option{{URIPort, 61616}},
			uri:     "coap://10.0.0.1:61616/",
		},
		{
			options: []Option{{ProxyURI, "coap://other/x"}},
			uri:     "coap://other/x",
		},
	}
	for i, tt := range tests {
		m := Message{Addr: addr}
		for _, o := range tt.options {
			if err := m.AddOption(o.ID, o.Value); err != nil {
				t.Fatalf("case%d: add option: %v", i, err)
			}
		}
		if got, want := m.URI(), tt.uri; got != want {
			t.Errorf("case%d: got(%s) != want(%s)", i, got, want)
		}
	}
}

func TestSortedQuery(t *testing.T) {
	var m Message
	m.AddOption(URIQuery, "b=2")
	m.AddOption(URIQuery, "a=1")
	if got, want := m.SortedQuery(), "a=1&b=2"; got != want {
		t.Errorf("got(%s) != want(%s)", got, want)
	}
	if got, want := m.Queries(), []string{"b=2", "a=1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("queries changed: got(%v) != want(%v)", got, want)
	}
}
