package coap

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/ironzhang/coapengine/internal/stack/base"
	"github.com/ironzhang/coapengine/internal/stack/blockwise"
	"github.com/ironzhang/coapengine/internal/stack/deduplication"
	"github.com/ironzhang/coapengine/message"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "COAP_"

// DefaultQueueSize 回调队列缺省长度
const DefaultQueueSize = 64

// Duration 可以从"10s"形式的字符串解析的时间间隔
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Config 端点配置
//
// 零值字段在NewEndpoint中取缺省值, 布尔字段除外.
type Config struct {
	// 块大小指数上限, 块大小为2^(MaxSZX+4)
	MaxSZX uint32 `yaml:"max_szx" toml:"max_szx" env:"MAX_SZX"`

	// 服务端块会话的空闲超时
	BlockSessionTimeout Duration `yaml:"block_session_timeout" toml:"block_session_timeout" env:"BLOCK_SESSION_TIMEOUT"`

	// 入站消息去重窗口
	DedupWindow Duration `yaml:"dedup_window" toml:"dedup_window" env:"DEDUP_WINDOW"`

	// 响应未携带Max-Age时的缓存时间
	DefaultMaxAge Duration `yaml:"default_max_age" toml:"default_max_age" env:"DEFAULT_MAX_AGE"`

	AckTimeout       Duration `yaml:"ack_timeout" toml:"ack_timeout" env:"ACK_TIMEOUT"`
	AckRandomFactor  float64  `yaml:"ack_random_factor" toml:"ack_random_factor" env:"ACK_RANDOM_FACTOR"`
	MaxRetransmit    int      `yaml:"max_retransmit" toml:"max_retransmit" env:"MAX_RETRANSMIT"`
	ExchangeLifetime Duration `yaml:"exchange_lifetime" toml:"exchange_lifetime" env:"EXCHANGE_LIFETIME"`

	// 是否启用客户端响应缓存
	EnableCache bool `yaml:"enable_cache" toml:"enable_cache" env:"ENABLE_CACHE"`

	// 回调队列长度
	QueueSize int `yaml:"queue_size" toml:"queue_size" env:"QUEUE_SIZE"`

	// 是否加入All-CoAP-Nodes组播组
	Multicast bool `yaml:"multicast" toml:"multicast" env:"MULTICAST"`

	// Prometheus指标命名空间
	MetricsNamespace string `yaml:"metrics_namespace" toml:"metrics_namespace" env:"METRICS_NAMESPACE"`

	Log LogConfig `yaml:"log" toml:"log" envPrefix:"LOG_"`

	// Logger 非空时优先于Log
	Logger *zap.Logger `yaml:"-" toml:"-"`

	// Clock 测试时注入假时钟
	Clock clockwork.Clock `yaml:"-" toml:"-"`
}

// DefaultConfig 返回缺省配置.
func DefaultConfig() Config {
	return Config{
		MaxSZX:              message.MaxSZX,
		BlockSessionTimeout: Duration(blockwise.DefaultTimeout),
		DedupWindow:         Duration(deduplication.DefaultWindow),
		DefaultMaxAge:       Duration(message.DefaultMaxAge * time.Second),
		AckTimeout:          Duration(base.ACK_TIMEOUT),
		AckRandomFactor:     base.ACK_RANDOM_FACTOR,
		MaxRetransmit:       base.MAX_RETRANSMIT,
		ExchangeLifetime:    Duration(base.EXCHANGE_LIFETIME),
		EnableCache:         true,
		QueueSize:           DefaultQueueSize,
		MetricsNamespace:    "coap",
		Log:                 DefaultLogConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxSZX == 0 || c.MaxSZX > message.MaxSZX {
		c.MaxSZX = def.MaxSZX
	}
	if c.BlockSessionTimeout <= 0 {
		c.BlockSessionTimeout = def.BlockSessionTimeout
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = def.DedupWindow
	}
	if c.DefaultMaxAge <= 0 {
		c.DefaultMaxAge = def.DefaultMaxAge
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.AckRandomFactor < 1 {
		c.AckRandomFactor = def.AckRandomFactor
	}
	if c.MaxRetransmit <= 0 {
		c.MaxRetransmit = def.MaxRetransmit
	}
	if c.ExchangeLifetime <= 0 {
		c.ExchangeLifetime = def.ExchangeLifetime
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = def.MetricsNamespace
	}
	return c
}

// LoadConfig 加载配置文件, 再以COAP_前缀的环境变量覆盖.
//
// 按扩展名支持.yaml/.yml, .toml和.env, path为空时只读取环境变量.
// .env文件中的变量不覆盖进程已有的环境变量.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	var vars map[string]string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		case ".toml":
			err = toml.Unmarshal(data, &cfg)
		case ".env":
			vars, err = godotenv.UnmarshalBytes(data)
		default:
			err = errors.Errorf("unsupported config format %q", filepath.Ext(path))
		}
		if err != nil {
			return Config{}, errors.Wrapf(err, "load config %s", path)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if vars != nil {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				vars[k] = v
			}
		}
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	return cfg, nil
}
