package coap

import (
	"bytes"
	"testing"
)

type testResponseWriter struct {
	code    Code
	options Options
	body    bytes.Buffer
}

func (w *testResponseWriter) Ack()                        {}
func (w *testResponseWriter) SetConfirmable()             {}
func (w *testResponseWriter) Options() *Options           { return &w.options }
func (w *testResponseWriter) WriteCode(code Code)         { w.code = code }
func (w *testResponseWriter) Write(p []byte) (int, error) { return w.body.Write(p) }

func newTestMux() *ServeMux {
	mux := NewServeMux()
	mux.HandleFunc("/sensors/temp", echoHandler, LinkAttrs{"rt": "temperature-c", "if": "sensor", "ct": "0", "obs": ""})
	mux.HandleFunc("sensors/light/", echoHandler, LinkAttrs{"rt": "light-lux core.sen-light", "if": "sensor"})
	mux.HandleFunc("/firmware", echoHandler, LinkAttrs{"title": "Firmware", "sz": "262144"})
	return mux
}

func TestLinkFormat(t *testing.T) {
	mux := newTestMux()
	temp := `</sensors/temp>;ct=0;if="sensor";obs;rt="temperature-c"`
	light := `</sensors/light>;if="sensor";rt="light-lux core.sen-light"`
	firmware := `</firmware>;sz=262144;title="Firmware"`

	tests := []struct {
		queries []string
		links   string
	}{
		{queries: nil, links: firmware + "," + light + "," + temp},
		{queries: []string{"rt=temperature-c"}, links: temp},
		{queries: []string{"rt=temp*"}, links: temp},
		{queries: []string{"rt=core.sen-light"}, links: light},
		{queries: []string{"if=sensor"}, links: light + "," + temp},
		{queries: []string{"if=sensor", "rt=light*"}, links: light},
		{queries: []string{"href=/firmware"}, links: firmware},
		{queries: []string{"href=/sensors/*"}, links: light + "," + temp},
		{queries: []string{"title=Firm*"}, links: firmware},
		{queries: []string{"rt=humidity"}, links: ""},
		{queries: []string{"novalue"}, links: firmware + "," + light + "," + temp},
	}
	for i, tt := range tests {
		if got := mux.LinkFormat(tt.queries); got != tt.links {
			t.Errorf("case%d: got(%s) != want(%s)", i, got, tt.links)
		}
	}
}

func TestServeMux(t *testing.T) {
	tests := []struct {
		mux    *ServeMux
		method Code
		url    string
		code   Code
		body   string
	}{
		{mux: NewServeMux(), method: GET, url: "coap://localhost/a", code: NotImplemented},
		{mux: newTestMux(), method: GET, url: "coap://localhost/a", code: NotFound},
		{mux: newTestMux(), method: PUT, url: "coap://localhost/sensors/temp/", code: Content, body: "x"},
		{mux: newTestMux(), method: POST, url: "coap://localhost/.well-known/core", code: MethodNotAllowed},
		{mux: newTestMux(), method: GET, url: "coap://localhost/.well-known/core?href=/firmware", code: Content, body: `</firmware>;sz=262144;title="Firmware"`},
		{mux: NewServeMux(), method: GET, url: "coap://localhost/.well-known/core", code: Content, body: ""},
	}
	for i, tt := range tests {
		req, err := NewRequest(true, tt.method, tt.url, []byte("x"))
		if err != nil {
			t.Fatalf("case%d: new request: %v", i, err)
		}
		w := &testResponseWriter{code: Content}
		tt.mux.ServeCOAP(w, req)
		if w.code != tt.code {
			t.Errorf("case%d: code: got(%v) != want(%v)", i, w.code, tt.code)
		}
		if got := w.body.String(); got != tt.body {
			t.Errorf("case%d: body: got(%q) != want(%q)", i, got, tt.body)
		}
	}
}

func TestServeMuxHandlePanic(t *testing.T) {
	tests := []struct {
		path string
		h    Handler
	}{
		{path: "/a", h: nil},
		{path: "/.well-known/core", h: HandlerFunc(echoHandler)},
	}
	for i, tt := range tests {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("case%d: no panic", i)
				}
			}()
			NewServeMux().Handle(tt.path, tt.h, nil)
		}()
	}
}
