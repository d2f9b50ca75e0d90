package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/velocity/cmd/velocity/cmds"
	"github.com/go-go-golems/velocity/pkg/settings"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:           "velocity",
	Short:         "velocity talks to the assistant service from the terminal",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}
	// default is json
	var logWriter io.Writer
	if config.LogFormat == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
					Compress:   false,
				},
			})
	}

	log.Logger = log.Output(logWriter)

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	}

	return nil
}

func initCommands(rootCmd *cobra.Command, configPath string, envFile string) error {
	if err := settings.LoadDotEnv(envFile); err != nil {
		return err
	}

	viper.SetEnvPrefix("velocity")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.velocity")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(xdgConfigPath, "velocity"))
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// Config file not found; ignore error
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(settings.EnvKeyReplacer)
	viper.AutomaticEnv()

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

// defaultDataDir is where the remembered session and the mode live unless
// configured otherwise.
func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "velocity")
	}
	return ".velocity"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()

	// logging flags
	flags.Bool("with-caller", false, "Log caller")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Log file (default: stderr)")
	flags.Bool("verbose", false, "Verbose output")

	flags.String("config", "", "Path to config file (default ~/.velocity/config.yaml)")
	flags.String("env-file", ".env", "Environment file loaded before reading settings")

	dataDir := defaultDataDir()
	flags.String(settings.KeyBaseURL, settings.DefaultBaseURL, "Assistant service URL")
	flags.Duration(settings.KeyTimeout, settings.DefaultTimeout, "Request timeout")
	flags.Bool(settings.KeyAuthRequired, false, "Refuse requests locally while signed out")
	flags.Bool(settings.KeyAllowHTTP, true, "Allow plain http base URLs")
	flags.Bool(settings.KeyAllowLocalNetworks, true, "Allow loopback and private network base URLs")
	flags.String(settings.KeyRememberStore, "yaml", "Backend of the remembered session (memory, yaml, sqlite)")
	flags.String(settings.KeyRememberPath, filepath.Join(dataDir, "credentials.yaml"), "File of the remembered session")
	flags.String(settings.KeyStatePath, filepath.Join(dataDir, "state.yaml"), "File holding the selected mode")
	flags.String(settings.KeyUserAgent, settings.DefaultUserAgent, "User-Agent header")

	flags.Bool("plain", false, "Print markdown without styling")
	flags.Bool("dump-events", false, "Print model-change events to stderr")

	// parse the flags one time just to catch --config and --env-file
	configFile, envFile := "", ".env"
	for idx, arg := range os.Args {
		if len(os.Args) <= idx+1 {
			break
		}
		switch {
		case arg == "--config":
			configFile = os.Args[idx+1]
		case arg == "--env-file":
			envFile = os.Args[idx+1]
		}
	}
	for _, arg := range os.Args {
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			configFile = v
		}
		if v, ok := strings.CutPrefix(arg, "--env-file="); ok {
			envFile = v
		}
	}

	err := initCommands(rootCmd, configFile, envFile)
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		cmds.NewLoginCommand(),
		cmds.NewSignupCommand(),
		cmds.NewLogoutCommand(),
		cmds.NewWhoamiCommand(),
		cmds.NewProfileCommand(),
		cmds.NewModeCommand(),
		cmds.NewConversationsCommand(),
		cmds.NewMessagesCommand(),
		cmds.NewChatCommand(),
		cmds.NewApproveCommand(),
		cmds.NewRejectCommand(),
		cmds.NewActivityCommand(),
		cmds.NewDashboardCommand(),
		cmds.NewHistoryCommand(),
		cmds.NewIntegrationsCommand(),
		cmds.NewHealthCommand(),
	)
}
