package webmonitor

import "time"

// Config defines the runtime configuration for the web server.
type Config struct {
	Addr           string        `yaml:"addr"`
	AssetsDir      string        `yaml:"assets_dir"`
	Title          string        `yaml:"title"`
	KeepAlive      time.Duration `yaml:"keepalive"`       // placeholder frame / SSE comment interval when idle
	ClientBuffer   int           `yaml:"client_buffer"`   // frames buffered per stream client
	AllowedOrigins []string      `yaml:"allowed_origins"` // CORS for the JSON endpoints
}

// DefaultConfig serves on port 5000 with a five second idle keepalive.
func DefaultConfig() Config {
	return Config{
		Addr:         ":5000",
		AssetsDir:    "./static",
		Title:        "Parking Monitor",
		KeepAlive:    5 * time.Second,
		ClientBuffer: 2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Title == "" {
		c.Title = def.Title
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = def.ClientBuffer
	}
	return c
}
