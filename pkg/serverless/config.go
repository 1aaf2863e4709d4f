package serverless

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the worker's process-wide configuration, loaded from
// environment variables in the style of the original worker's env.rs.
type Config struct {
	// Host is the address the TCP server binds to.
	Host string
	// Port is the TCP port the server listens on.
	Port string

	// CacheDir is the root directory for the L2 on-disk artifact cache.
	CacheDir string

	// S3Bucket, S3Region, S3AccessKeyID and S3SecretAccessKey configure
	// the origin object-store tier.
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// LogSinkURL is the rqlite HTTP endpoint used by the logs sink. When
	// empty, a no-op sink is used instead.
	LogSinkURL string

	// L1CacheCapacity bounds the number of entries kept in the in-memory
	// cache. Zero means unbounded.
	L1CacheCapacity int

	// ReadBufferSize is the size of the per-connection scratch buffer
	// used to read bytes off the gateway socket before handing them to
	// the guest's poll_stream export.
	ReadBufferSize int
}

// DefaultConfig returns a Config with every field set to its documented
// default, per the worker's original env.rs defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            "6969",
		CacheDir:        "/var/cache/nur-worker",
		S3Bucket:        "nur-storage",
		S3Region:        "us-east-2",
		L1CacheCapacity: 0,
		ReadBufferSize:  1024,
	}
}

// LoadConfigFromEnv builds a Config from the process environment,
// applying DefaultConfig's values for anything unset.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3Region = v
	}
	cfg.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	cfg.LogSinkURL = os.Getenv("LOG_SINK_URL")

	if v := os.Getenv("L1_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.L1CacheCapacity = n
		}
	}
	if v := os.Getenv("READ_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReadBufferSize = n
		}
	}

	return cfg
}

// ApplyDefaults fills in zero-valued fields with DefaultConfig's values.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.S3Bucket == "" {
		c.S3Bucket = def.S3Bucket
	}
	if c.S3Region == "" {
		c.S3Region = def.S3Region
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
}

// Validate checks the config for missing required fields, returning one
// error per problem found so callers can report everything wrong at once.
func (c *Config) Validate() []error {
	var errs []error

	if c.S3AccessKeyID == "" {
		errs = append(errs, fmt.Errorf("S3_ACCESS_KEY_ID is required"))
	}
	if c.S3SecretAccessKey == "" {
		errs = append(errs, fmt.Errorf("S3_SECRET_ACCESS_KEY is required"))
	}
	if c.CacheDir == "" {
		errs = append(errs, fmt.Errorf("CACHE_DIR must not be empty"))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("READ_BUFFER_SIZE must be positive, got %d", c.ReadBufferSize))
	}
	if c.L1CacheCapacity < 0 {
		errs = append(errs, fmt.Errorf("L1_CACHE_CAPACITY must not be negative, got %d", c.L1CacheCapacity))
	}

	return errs
}

// Addr returns the host:port string suitable for net.Listen.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
