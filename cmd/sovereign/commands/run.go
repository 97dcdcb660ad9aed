package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	sc "github.com/mindfort/sovereign/src/codec"
	"github.com/mindfort/sovereign/src/crypto/keys"
	"github.com/mindfort/sovereign/src/engine"
	"github.com/mindfort/sovereign/src/registry"
	"github.com/mindfort/sovereign/src/service"
	"github.com/mindfort/sovereign/src/state"
	"github.com/mindfort/sovereign/src/storage"
)

var passFile string

// NewRunCmd returns the command that starts the engine
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the engine",
		PreRunE: loadConfig,
		RunE:    runSovereign,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runSovereign(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	simpleKeyfile := keys.NewSimpleKeyfile(_config.Keyfile())

	key, err := simpleKeyfile.ReadKey()
	if err != nil {
		return fmt.Errorf("Reading private key: %s", err)
	}
	_config.Key = key

	if err := _config.Validate(); err != nil {
		return err
	}

	addFileLogging(logger.Logger)

	keyring, err := buildKeyring()
	if err != nil {
		return err
	}

	var store state.Store = state.NewInmemStore()
	if _config.Store {
		var badgerStore *state.BadgerStore
		if _config.Bootstrap {
			badgerStore, err = state.LoadOrCreateBadgerStore(_config.DatabaseDir)
		} else {
			badgerStore, err = state.NewBadgerStore(_config.DatabaseDir)
		}
		if err != nil {
			return fmt.Errorf("Opening database: %s", err)
		}
		store = badgerStore
	}
	defer store.Close()

	gateway := storage.NewHTTPGateway(_config.StorageEndpoint, logger)
	reg := registry.NewHTTPRegistry(_config.RegistryEndpoint, key, logger)

	eng, err := engine.NewEngine(_config, store, gateway, reg, keyring, logger)
	if err != nil {
		return err
	}

	if _config.NoService {
		select {}
	}

	serviceServer := service.NewService(_config.ServiceAddr, eng, logger)
	serviceServer.Serve()

	return nil
}

// buildKeyring derives the memory encryption key from the passphrase file
// and the datadir salt, creating the salt on first run.
func buildKeyring() (*sc.Keyring, error) {
	raw, err := os.ReadFile(passFile)
	if err != nil {
		return nil, fmt.Errorf("Reading passphrase: %s", err)
	}
	passphrase := strings.TrimSpace(string(raw))

	salt, err := os.ReadFile(_config.SaltFile())
	if os.IsNotExist(err) {
		salt, err = sc.GenerateSalt()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(_config.SaltFile(), salt, 0600); err != nil {
			return nil, fmt.Errorf("Writing salt: %s", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("Reading salt: %s", err)
	}

	return sc.NewKeyring(sc.DeriveKey(passphrase, salt, _config.KDFIterations))
}

// addFileLogging mirrors info and debug output to files in the datadir.
func addFileLogging(logger *logrus.Logger) {
	pathMap := lfshook.PathMap{}

	infoPath := filepath.Join(_config.DataDir, "sovereign_info.log")
	if _, err := os.OpenFile(infoPath, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open sovereign_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = infoPath
	}

	debugPath := filepath.Join(_config.DataDir, "sovereign_debug.log")
	if _, err := os.OpenFile(debugPath, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open sovereign_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = debugPath
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().StringVar(&passFile, "passfile", filepath.Join(_config.DataDir, "passphrase"), "File containing the memory encryption passphrase")

	// Network
	cmd.Flags().String("storage", _config.StorageEndpoint, "Base URL of the storage gateway")
	cmd.Flags().String("registry", _config.RegistryEndpoint, "Base URL of the pointer registry")
	cmd.Flags().DurationP("timeout", "t", _config.NetworkTimeout, "Timeout of individual network calls")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Do not serve the HTTP API")

	// Event log
	cmd.Flags().Int("batch-size", _config.BatchSize, "Number of pending events that triggers a flush")
	cmd.Flags().Bool("auto-batch", _config.AutoBatch, "Flush the event log automatically")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Load from an existing database")

	// Crypto
	cmd.Flags().Int("kdf-iterations", _config.KDFIterations, "PBKDF2 iteration count")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitly set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":          _config.DataDir,
		"LogLevel":         _config.LogLevel,
		"ServiceAddr":      _config.ServiceAddr,
		"NoService":        _config.NoService,
		"StorageEndpoint":  _config.StorageEndpoint,
		"RegistryEndpoint": _config.RegistryEndpoint,
		"NetworkTimeout":   _config.NetworkTimeout,
		"BatchSize":        _config.BatchSize,
		"AutoBatch":        _config.AutoBatch,
		"Store":            _config.Store,
		"DatabaseDir":      _config.DatabaseDir,
		"Bootstrap":        _config.Bootstrap,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all
	// other persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/sovereign.toml (.json, .yaml also work)
	viper.SetConfigName("sovereign")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from the config file
	return viper.Unmarshal(_config)
}
