package commands

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mosaicnetworks/rendezvous/src/net/signal/wamp"
	"github.com/mosaicnetworks/rendezvous/src/net/wsock"
	"github.com/mosaicnetworks/rendezvous/src/rendezvous"
	"github.com/mosaicnetworks/rendezvous/src/service"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts the rendezvous server
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run server",
		PreRunE: loadConfig,
		RunE:    runServer,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

// runServer starts the engine and its transports, and waits for a SIGINT or
// SIGTERM.
func runServer(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	addFileHook(logger.Logger, _config.DataDir)

	engine := rendezvous.NewEngine(
		rendezvous.EngineConfig{
			MaxBootstrapPeers: _config.MaxBootstrapPeers,
			StaleTimeout:      _config.StaleTimeout,
			EvictInterval:     _config.EvictInterval,
		},
		logger,
	)

	engine.Run()
	defer engine.Shutdown()

	wsockServer := wsock.NewServer(_config.BindAddr, engine, logger)
	go wsockServer.Run()
	defer wsockServer.Shutdown()

	if !_config.NoWAMP {
		var wampServer *wamp.Server
		var err error

		if _config.HasTLS() {
			wampServer, err = wamp.NewTLSServer(
				_config.SignalAddr,
				_config.SignalRealm,
				_config.CertFile(),
				_config.KeyFile(),
				engine,
				_config.CallTimeout,
				logger,
			)
		} else {
			wampServer, err = wamp.NewServer(
				_config.SignalAddr,
				_config.SignalRealm,
				engine,
				_config.CallTimeout,
				logger,
			)
		}

		if err != nil {
			logger.Error("Cannot initialize WAMP server:", err)
			return err
		}

		go wampServer.Run()
		defer wampServer.Shutdown()
	}

	if !_config.NoService {
		serviceServer := service.NewService(_config.ServiceAddr, engine, logger)
		go serviceServer.Serve()
	}

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the WebSocket transport")
	cmd.Flags().String("signal-addr", _config.SignalAddr, "Listen IP:Port for the WAMP transport")
	cmd.Flags().String("signal-realm", _config.SignalRealm, "Administrative routing domain within the WAMP transport")
	cmd.Flags().Bool("no-wamp", _config.NoWAMP, "Disable the WAMP transport")
	cmd.Flags().Duration("call-timeout", _config.CallTimeout, "Timeout of WAMP delivery calls")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Registry
	cmd.Flags().Int("max-peers", _config.MaxBootstrapPeers, "Max number of bootstrap peers returned at registration")
	cmd.Flags().Duration("stale-timeout", _config.StaleTimeout, "Time of silence after which a peer is evicted")
	cmd.Flags().Duration("evict-interval", _config.EvictInterval, "Period of the liveness monitor's scan")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":           _config.DataDir,
		"BindAddr":          _config.BindAddr,
		"SignalAddr":        _config.SignalAddr,
		"SignalRealm":       _config.SignalRealm,
		"NoWAMP":            _config.NoWAMP,
		"ServiceAddr":       _config.ServiceAddr,
		"NoService":         _config.NoService,
		"MaxBootstrapPeers": _config.MaxBootstrapPeers,
		"StaleTimeout":      _config.StaleTimeout,
		"EvictInterval":     _config.EvictInterval,
		"CallTimeout":       _config.CallTimeout,
		"LogLevel":          _config.LogLevel,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/rendezvous.toml (.json, .yaml also work)
	viper.SetConfigName("rendezvous")    // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addFileHook routes info and debug logs to files in the datadir, in addition
// to the standard output.
func addFileHook(logger *logrus.Logger, dataDir string) {
	pathMap := lfshook.PathMap{}

	infoLog := filepath.Join(dataDir, "rendezvous_info.log")
	if _, err := os.OpenFile(infoLog, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open rendezvous_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = infoLog
	}

	debugLog := filepath.Join(dataDir, "rendezvous_debug.log")
	if _, err := os.OpenFile(debugLog, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open rendezvous_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = debugLog
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
