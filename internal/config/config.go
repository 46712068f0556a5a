// Package config loads the server's configuration from the environment,
// following the getenv/getenvInt/getenvDur pattern used throughout this
// codebase.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Config is the full configuration surface for Server. Host/Port are used
// unless Listener is set, in which case Server attaches to the supplied
// listener instead of calling net.Listen itself (the two sources are
// mutually exclusive). Path is the WebSocket route in either case.
type Config struct {
	Host     string
	Port     int
	Path     string
	Listener net.Listener

	MaxPeersPerRoom     int
	MaxRoomsPerServer   int
	RequireRoomPassword bool
	ICEServers          []json.RawMessage

	Heartbeat time.Duration // liveness ping cadence
	WSMaxMsg  int64         // max inbound message size; defaults to 1 MiB, Validate rejects larger

	MetricsRoute string
	LogLevel     string

	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	TLSCertFile string
	TLSKeyFile  string

	WSRatePerMin   int
	HTTPRatePerMin int
}

func (c Config) BindAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

const defaultICEServers = `[{"urls":"stun:stun.l.google.com:19302"},{"urls":"stun:stun1.l.google.com:19302"}]`

// FromEnv builds a Config from the environment, applying the spec's
// defaults for anything unset.
func FromEnv() Config {
	var iceServers []json.RawMessage
	if raw := os.Getenv("ICE_SERVERS"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &iceServers)
	}
	if len(iceServers) == 0 {
		_ = json.Unmarshal([]byte(defaultICEServers), &iceServers)
	}

	return Config{
		Host:                getenv("HOST", "0.0.0.0"),
		Port:                getenvInt("PORT", 8080),
		Path:                getenv("WS_PATH", "/ws"),
		MaxPeersPerRoom:     getenvInt("MAX_PEERS_PER_ROOM", 4),
		MaxRoomsPerServer:   getenvInt("MAX_ROOMS_PER_SERVER", 0),
		RequireRoomPassword: strconvBool(getenv("REQUIRE_ROOM_PASSWORD", "false")),
		ICEServers:          iceServers,
		Heartbeat:           getenvDur("LIVENESS_HEARTBEAT", 30*time.Second),
		WSMaxMsg:            int64(getenvInt("WS_MAX_MSG", 1<<20)),
		MetricsRoute:        getenv("METRICS_ROUTE", "/metrics"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		ReadHeaderTimeout:   getenvDur("READ_HEADER_TIMEOUT", 5*time.Second),
		WriteTimeout:        getenvDur("WRITE_TIMEOUT", 0),
		IdleTimeout:         getenvDur("IDLE_TIMEOUT", 0),
		TLSCertFile:         getenv("TLS_CERT_FILE", ""),
		TLSKeyFile:          getenv("TLS_KEY_FILE", ""),
		WSRatePerMin:        getenvInt("WS_RATE_PER_MIN", 0),
		HTTPRatePerMin:      getenvInt("HTTP_RATE_PER_MIN", 0),
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime errors.
func (c Config) Validate() error {
	if c.Listener == nil {
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("invalid PORT: %d", c.Port)
		}
	}
	if c.WSMaxMsg <= 0 || c.WSMaxMsg > 1<<20 {
		return fmt.Errorf("WS_MAX_MSG must be in (0, 1MiB]: %d", c.WSMaxMsg)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("LIVENESS_HEARTBEAT must be > 0")
	}
	if c.MaxPeersPerRoom < 0 {
		return fmt.Errorf("MAX_PEERS_PER_ROOM must be >= 0")
	}
	if c.MaxRoomsPerServer < 0 {
		return fmt.Errorf("MAX_ROOMS_PER_SERVER must be >= 0")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("both TLS_CERT_FILE and TLS_KEY_FILE must be set, or none")
	}
	return nil
}

func strconvBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
