package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/rendezvous/src/common"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultCertFile is the default name of the file containing the TLS
	// certificate used by the WAMP signaling endpoint.
	DefaultCertFile = "cert.pem"

	// DefaultKeyFile is the default name of the file containing the TLS
	// private key used by the WAMP signaling endpoint.
	DefaultKeyFile = "key.pem"
)

// Default configuration values.
const (
	DefaultLogLevel          = "debug"
	DefaultBindAddr          = "127.0.0.1:2480"
	DefaultSignalAddr        = "127.0.0.1:2443"
	DefaultSignalRealm       = "main"
	DefaultServiceAddr       = "127.0.0.1:8080"
	DefaultMaxBootstrapPeers = 10
	DefaultStaleTimeout      = 2 * time.Minute
	DefaultEvictInterval     = 30 * time.Second
	DefaultCallTimeout       = 5 * time.Second
	DefaultNoWAMP            = false
	DefaultNoService         = false
)

// Config contains all the configuration properties of a rendezvous server.
type Config struct {
	// DataDir is the top-level directory containing rendezvous configuration
	// and data, such as TLS certificates.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the address:port of the plain WebSocket endpoint, where
	// peers register and exchange signaling messages with the JSON action
	// protocol.
	BindAddr string `mapstructure:"listen"`

	// SignalAddr is the address:port of the WAMP endpoint. With a TLS
	// certificate in the datadir the endpoint serves secured web-sockets,
	// wss; otherwise it falls back to plaintext.
	SignalAddr string `mapstructure:"signal-addr"`

	// SignalRealm is an administrative domain within the WAMP router.
	// Signaling messages are only routed within a Realm.
	SignalRealm string `mapstructure:"signal-realm"`

	// NoWAMP disables the WAMP endpoint.
	NoWAMP bool `mapstructure:"no-wamp"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service exposing
	// stats, peer listings and Prometheus metrics. If not specified, and
	// "no-service" is not set, the API handlers are registered with the
	// DefaultServerMux of the http package.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxBootstrapPeers caps the number of candidates returned at
	// registration and discovery.
	MaxBootstrapPeers int `mapstructure:"max-peers"`

	// StaleTimeout is the liveness threshold. Peers that have been silent
	// for longer are evicted.
	StaleTimeout time.Duration `mapstructure:"stale-timeout"`

	// EvictInterval is the period of the liveness monitor's scan.
	EvictInterval time.Duration `mapstructure:"evict-interval"`

	// CallTimeout bounds WAMP calls made by the server to deliver envelopes
	// to peers.
	CallTimeout time.Duration `mapstructure:"call-timeout"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		BindAddr:          DefaultBindAddr,
		SignalAddr:        DefaultSignalAddr,
		SignalRealm:       DefaultSignalRealm,
		ServiceAddr:       DefaultServiceAddr,
		MaxBootstrapPeers: DefaultMaxBootstrapPeers,
		StaleTimeout:      DefaultStaleTimeout,
		EvictInterval:     DefaultEvictInterval,
		CallTimeout:       DefaultCallTimeout,
		NoWAMP:            DefaultNoWAMP,
		NoService:         DefaultNoService,
	}
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level rendezvous directory.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
}

// CertFile returns the full path of the file containing the TLS certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// KeyFile returns the full path of the file containing the TLS private key.
func (c *Config) KeyFile() string {
	return filepath.Join(c.DataDir, DefaultKeyFile)
}

// HasTLS reports whether a certificate and key are present in the datadir.
func (c *Config) HasTLS() bool {
	if _, err := os.Stat(c.CertFile()); err != nil {
		return false
	}
	if _, err := os.Stat(c.KeyFile()); err != nil {
		return false
	}
	return true
}

// Logger returns a formatted logrus Entry, with prefix set to "rendezvous".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "rendezvous")
}

// DefaultDataDir return the default directory name for top-level rendezvous
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Rendezvous")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Rendezvous")
		} else {
			return filepath.Join(home, ".rendezvous")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
