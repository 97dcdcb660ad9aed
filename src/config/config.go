// Package config defines the engine configuration object and its default
// values.
package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	cm "github.com/mindfort/sovereign/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the agent
	// owner's private key.
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database.
	DefaultBadgerFile = "badger_db"

	// DefaultEventDir is the default name of the folder containing pending
	// and archived event logs.
	DefaultEventDir = "events"

	// DefaultTmpDir is the default name of the folder for scoped temporary
	// files created during sync and restore.
	DefaultTmpDir = "tmp"

	// DefaultSaltFile is the default name of the file containing the key
	// derivation salt.
	DefaultSaltFile = "salt"
)

// Default configuration values.
const (
	DefaultLogLevel       = "debug"
	DefaultServiceAddr    = "127.0.0.1:8000"
	DefaultNetworkTimeout = 5000 * time.Millisecond
	DefaultBatchSize      = 3
	DefaultAutoBatch      = true
	DefaultKDFIterations  = 100000
	DefaultStore          = false
)

// Config contains all the configuration properties of a sovereign engine.
type Config struct {
	// DataDir is the top-level directory containing configuration and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// StorageEndpoint is the base URL of the decentralized storage gateway.
	StorageEndpoint string `mapstructure:"storage"`

	// RegistryEndpoint is the base URL of the sovereign registry.
	RegistryEndpoint string `mapstructure:"registry"`

	// NetworkTimeout bounds every individual gateway and registry call.
	// There are no internal retries; a timed-out call surfaces immediately.
	NetworkTimeout time.Duration `mapstructure:"timeout"`

	// BatchSize is the number of pending events that triggers an automatic
	// event log flush.
	BatchSize int `mapstructure:"batch-size"`

	// AutoBatch enables automatic event log flushing.
	AutoBatch bool `mapstructure:"auto-batch"`

	// Store activates persistent storage for the local metadata store.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Bootstrap determines whether to load the engine from an existing
	// database. Forces Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// KDFIterations is the PBKDF2 iteration count used to derive the memory
	// encryption key from the passphrase.
	KDFIterations int `mapstructure:"kdf-iterations"`

	// Key is the private key of the agent owner.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:        DefaultDataDir(),
		LogLevel:       DefaultLogLevel,
		ServiceAddr:    DefaultServiceAddr,
		NetworkTimeout: DefaultNetworkTimeout,
		BatchSize:      DefaultBatchSize,
		AutoBatch:      DefaultAutoBatch,
		Store:          DefaultStore,
		DatabaseDir:    DefaultDatabaseDir(),
		KDFIterations:  DefaultKDFIterations,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = cm.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level data directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, the user has explicitly set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// SaltFile returns the full path of the file containing the KDF salt.
func (c *Config) SaltFile() string {
	return filepath.Join(c.DataDir, DefaultSaltFile)
}

// EventDir returns the full path of the event log directory.
func (c *Config) EventDir() string {
	return filepath.Join(c.DataDir, DefaultEventDir)
}

// TmpDir returns the full path of the scoped temporary file directory.
func (c *Config) TmpDir() string {
	return filepath.Join(c.DataDir, DefaultTmpDir)
}

// Validate fails fast on configuration that would otherwise only surface as
// a network or crypto failure deep inside an operation.
func (c *Config) Validate() error {
	if c.StorageEndpoint == "" {
		return cm.NewEngineErr(cm.Configuration, "", "validate_config", "storage endpoint not set")
	}
	if c.RegistryEndpoint == "" {
		return cm.NewEngineErr(cm.Configuration, "", "validate_config", "registry endpoint not set")
	}
	if c.Key == nil {
		return cm.NewEngineErr(cm.Configuration, "", "validate_config", "no private key loaded")
	}
	if c.NetworkTimeout <= 0 {
		return cm.NewEngineErr(cm.Configuration, "", "validate_config", "network timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return cm.NewEngineErr(cm.Configuration, "", "validate_config", "batch size must be positive")
	}
	if c.KDFIterations <= 0 {
		return cm.NewEngineErr(cm.Configuration, "", "validate_config", "kdf iterations must be positive")
	}
	return nil
}

// Logger returns a formatted logrus Entry, with prefix set to "sovereign".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "sovereign")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Sovereign")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Sovereign")
		} else {
			return filepath.Join(home, ".sovereign")
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
