package coaptest

import (
	"fmt"
	"testing"

	coap "github.com/ironzhang/coapengine"
)

func TestRecorder(t *testing.T) {
	f := func(w coap.ResponseWriter, r *coap.Request) {
		w.Ack()
		w.SetConfirmable()
		w.WriteCode(coap.Changed)
		w.Options().Set(coap.ContentFormat, uint32(coap.TextPlain))
		fmt.Fprintf(w, "hello, world")
	}
	h := coap.HandlerFunc(f)
	rec := NewRecorder()
	req, _ := coap.NewRequest(false, coap.PUT, "coap://foo.com/", nil)
	h.ServeCOAP(rec, req)
	if got, want := rec.Acked, true; got != want {
		t.Errorf("Acked: %v != %v", got, want)
	}
	if got, want := rec.Confirmable, true; got != want {
		t.Errorf("Confirmable: %v != %v", got, want)
	}
	if got, want := rec.Code, coap.Changed; got != want {
		t.Errorf("Code: %v != %v", got, want)
	}
	if got, want := rec.Header.Get(coap.ContentFormat), uint32(coap.TextPlain); got != want {
		t.Errorf("ContentFormat: %v != %v", got, want)
	}
	if got, want := rec.Body.String(), "hello, world"; got != want {
		t.Errorf("Body: %v != %v", got, want)
	}
}

func TestRecorderServeMux(t *testing.T) {
	mux := coap.NewServeMux()
	mux.HandleFunc("/temp", func(w coap.ResponseWriter, r *coap.Request) {
		w.Write([]byte("22.5"))
	}, nil)

	tests := []struct {
		url  string
		code coap.Code
		body string
	}{
		{url: "coap://127.0.0.1/temp", code: coap.Content, body: "22.5"},
		{url: "coap://127.0.0.1/humidity", code: coap.NotFound},
	}
	for i, tt := range tests {
		req, err := coap.NewRequest(true, coap.GET, tt.url, nil)
		if err != nil {
			t.Fatalf("case%d: new request: %v", i, err)
		}
		rec := NewRecorder()
		mux.ServeCOAP(rec, req)
		if got, want := rec.Code, tt.code; got != want {
			t.Errorf("case%d: code: got(%v) != want(%v)", i, got, want)
		}
		if got, want := rec.Body.String(), tt.body; got != want {
			t.Errorf("case%d: body: got(%q) != want(%q)", i, got, want)
		}
	}
}

func TestRecorderResult(t *testing.T) {
	tests := []struct {
		handler     coap.HandlerFunc
		ack         bool
		confirmable bool
		code        coap.Code
		payload     string
	}{
		{
			handler: func(w coap.ResponseWriter, r *coap.Request) {
				w.Write(r.Payload)
			},
			ack:     true,
			code:    coap.Content,
			payload: "ping",
		},
		{
			handler: func(w coap.ResponseWriter, r *coap.Request) {
				w.Ack()
				w.SetConfirmable()
				w.WriteCode(coap.Created)
			},
			ack:         false,
			confirmable: true,
			code:        coap.Created,
		},
	}
	for i, tt := range tests {
		req := NewRequest(coap.POST, "coap://127.0.0.1/echo", []byte("ping"))
		rec := NewRecorder()
		tt.handler.ServeCOAP(rec, req)
		resp := rec.Result()
		if resp.Ack != tt.ack || resp.Confirmable != tt.confirmable {
			t.Errorf("case%d: ack(%v) confirmable(%v) != want(%v, %v)", i, resp.Ack, resp.Confirmable, tt.ack, tt.confirmable)
		}
		if got, want := resp.Status, tt.code; got != want {
			t.Errorf("case%d: status: got(%v) != want(%v)", i, got, want)
		}
		if got, want := string(resp.Payload), tt.payload; got != want {
			t.Errorf("case%d: payload: got(%q) != want(%q)", i, got, want)
		}
	}
}

func TestNewRequest(t *testing.T) {
	req := NewRequest(coap.GET, "coap://127.0.0.1/temp?unit=c", nil)
	if got, want := req.Path(), "temp"; got != want {
		t.Errorf("path: got(%v) != want(%v)", got, want)
	}
	if got, want := req.RemoteAddr.String(), "192.0.2.1:5683"; got != want {
		t.Errorf("remote: got(%v) != want(%v)", got, want)
	}
	if !req.Confirmable || len(req.Token) == 0 {
		t.Errorf("request: confirmable(%v) token(%x)", req.Confirmable, req.Token)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("invalid target: no panic")
		}
	}()
	NewRequest(coap.GET, "http://127.0.0.1/", nil)
}
