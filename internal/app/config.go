package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the gateway needs at startup. Values come from
// GATEWAY_* environment variables with defaults suitable for local runs.
type Config struct {
	Addr       string
	WSPath     string
	NATSUrl    string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	// PublicBase is the prefix of publicly resolvable blob locations. Derived
	// from the bucket and region when unset.
	PublicBase  string
	RPCTimeout  time.Duration
	FlowTimeout time.Duration
	EventRate   int
	EventWindow time.Duration
}

// Load reads configuration from the environment.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("ws_path", "/ws")
	v.SetDefault("nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("s3_bucket", "chat-public")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("public_base_url", "")
	v.SetDefault("rpc_timeout", 5*time.Second)
	v.SetDefault("flow_timeout", 30*time.Second)
	v.SetDefault("event_rate", 50)
	v.SetDefault("event_window", 3*time.Second)

	cfg := Config{
		Addr:        v.GetString("addr"),
		WSPath:      NormalizeWSPath(v.GetString("ws_path")),
		NATSUrl:     v.GetString("nats_url"),
		S3Bucket:    v.GetString("s3_bucket"),
		S3Region:    v.GetString("s3_region"),
		S3Endpoint:  v.GetString("s3_endpoint"),
		PublicBase:  v.GetString("public_base_url"),
		RPCTimeout:  v.GetDuration("rpc_timeout"),
		FlowTimeout: v.GetDuration("flow_timeout"),
		EventRate:   v.GetInt("event_rate"),
		EventWindow: v.GetDuration("event_window"),
	}
	if cfg.PublicBase == "" {
		cfg.PublicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
	}
	return cfg
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
