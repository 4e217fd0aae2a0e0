package coap

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	yamlData := `
max_szx: 4
ack_timeout: 3s
ack_random_factor: 1.2
max_retransmit: 2
enable_cache: false
log:
  level: debug
  format: json
  outputs: [stdout]
  rotation:
    mode: time
    interval: 1h
`
	tomlData := `
max_szx = 4
ack_timeout = "3s"
ack_random_factor = 1.2
max_retransmit = 2
enable_cache = false

[log]
level = "debug"
format = "json"
outputs = ["stdout"]

[log.rotation]
mode = "time"
interval = "1h"
`
	want := DefaultConfig()
	want.MaxSZX = 4
	want.AckTimeout = Duration(3 * time.Second)
	want.AckRandomFactor = 1.2
	want.MaxRetransmit = 2
	want.EnableCache = false
	want.Log.Level = "debug"
	want.Log.Format = "json"
	want.Log.Outputs = []string{"stdout"}
	want.Log.Rotation.Mode = "time"
	want.Log.Rotation.Interval = Duration(time.Hour)

	tests := []struct {
		name string
		data string
	}{
		{name: "coap.yaml", data: yamlData},
		{name: "coap.yml", data: yamlData},
		{name: "coap.toml", data: tomlData},
	}
	for i, tt := range tests {
		cfg, err := LoadConfig(writeFile(t, tt.name, tt.data))
		if err != nil {
			t.Fatalf("case%d: load config: %v", i, err)
		}
		if !reflect.DeepEqual(cfg, want) {
			t.Errorf("case%d: got(%+v) != want(%+v)", i, cfg, want)
		}
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("COAP_MAX_RETRANSMIT", "7")
	t.Setenv("COAP_EXCHANGE_LIFETIME", "2m")
	t.Setenv("COAP_MULTICAST", "true")
	t.Setenv("COAP_LOG_OUTPUTS", "stdout,/tmp/coap.log")
	t.Setenv("COAP_LOG_ROTATION_MAX_SIZE_MB", "20")

	path := writeFile(t, "coap.yaml", "max_retransmit: 2\nack_timeout: 3s\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got, want := cfg.MaxRetransmit, 7; got != want {
		t.Errorf("MaxRetransmit: got(%v) != want(%v)", got, want)
	}
	if got, want := cfg.AckTimeout, Duration(3*time.Second); got != want {
		t.Errorf("AckTimeout: got(%v) != want(%v)", got, want)
	}
	if got, want := cfg.ExchangeLifetime, Duration(2*time.Minute); got != want {
		t.Errorf("ExchangeLifetime: got(%v) != want(%v)", got, want)
	}
	if !cfg.Multicast {
		t.Errorf("Multicast not set")
	}
	if got, want := cfg.Log.Outputs, []string{"stdout", "/tmp/coap.log"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Log.Outputs: got(%v) != want(%v)", got, want)
	}
	if got, want := cfg.Log.Rotation.MaxSizeMB, 20; got != want {
		t.Errorf("Log.Rotation.MaxSizeMB: got(%v) != want(%v)", got, want)
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	t.Setenv("COAP_MAX_SZX", "3")
	path := writeFile(t, "coap.env", "# edge node\nCOAP_MAX_SZX=5\nCOAP_ACK_TIMEOUT=4s\nCOAP_LOG_LEVEL=warn\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got, want := cfg.MaxSZX, uint32(3); got != want {
		t.Errorf("MaxSZX: got(%v) != want(%v)", got, want)
	}
	if got, want := cfg.AckTimeout, Duration(4*time.Second); got != want {
		t.Errorf("AckTimeout: got(%v) != want(%v)", got, want)
	}
	if got, want := cfg.Log.Level, "warn"; got != want {
		t.Errorf("Log.Level: got(%v) != want(%v)", got, want)
	}
	if _, ok := os.LookupEnv("COAP_ACK_TIMEOUT"); ok {
		t.Errorf("process environment modified")
	}
}

func TestLoadConfigError(t *testing.T) {
	tests := []string{
		filepath.Join(t.TempDir(), "missing.yaml"),
		writeFile(t, "coap.json", "{}"),
		writeFile(t, "bad.yaml", "ack_timeout: soon\n"),
		writeFile(t, "bad.toml", "max_szx = \"x\"\n"),
	}
	for i, path := range tests {
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("case%d: load %s succeeded", i, filepath.Base(path))
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	def := DefaultConfig()
	tests := []struct {
		in   Config
		want Config
	}{
		{
			in:   Config{},
			want: Config{MaxSZX: def.MaxSZX, BlockSessionTimeout: def.BlockSessionTimeout, DedupWindow: def.DedupWindow, DefaultMaxAge: def.DefaultMaxAge, AckTimeout: def.AckTimeout, AckRandomFactor: def.AckRandomFactor, MaxRetransmit: def.MaxRetransmit, ExchangeLifetime: def.ExchangeLifetime, QueueSize: def.QueueSize, MetricsNamespace: def.MetricsNamespace},
		},
		{
			in:   Config{MaxSZX: 9, AckRandomFactor: 1, QueueSize: 1, MetricsNamespace: "edge"},
			want: Config{MaxSZX: def.MaxSZX, BlockSessionTimeout: def.BlockSessionTimeout, DedupWindow: def.DedupWindow, DefaultMaxAge: def.DefaultMaxAge, AckTimeout: def.AckTimeout, AckRandomFactor: 1, MaxRetransmit: def.MaxRetransmit, ExchangeLifetime: def.ExchangeLifetime, QueueSize: 1, MetricsNamespace: "edge"},
		},
	}
	for i, tt := range tests {
		if got := tt.in.withDefaults(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("case%d: got(%+v) != want(%+v)", i, got, tt.want)
		}
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 1m30s ")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, want := d.Std(), 90*time.Second; got != want {
		t.Errorf("duration: got(%v) != want(%v)", got, want)
	}
	text, _ := d.MarshalText()
	if got, want := string(text), "1m30s"; got != want {
		t.Errorf("marshal: got(%v) != want(%v)", got, want)
	}
	if err := d.UnmarshalText([]byte("90")); err == nil {
		t.Errorf("unmarshal 90 succeeded")
	}
}
