package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "parley is a terminal chat assistant",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
	SilenceUsage: true,
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
	// FileOnly drops the stderr writer, used while the TUI owns the terminal.
	FileOnly bool
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	viper.SetEnvPrefix("parley")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.parley")
		viper.AddConfigPath("/etc/parley")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/parley")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// Config file not found; ignore error
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
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

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}

	format := config.LogFormat
	if format == "" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	var logWriter io.Writer
	if format == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		fileWriter := zerolog.ConsoleWriter{
			NoColor: true,
			Out: &lumberjack.Logger{
				Filename:   config.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28,    //days
				Compress:   false, // disabled by default
			},
		}
		if config.FileOnly {
			logWriter = fileWriter
		} else {
			logWriter = io.MultiWriter(logWriter, fileWriter)
		}
	} else if config.FileOnly {
		logWriter = io.Discard
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

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// logging flags
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, text, default: text on a terminal)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.parley/config.yml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	// reply backend
	rootCmd.PersistentFlags().String("backend", "http", "Reply backend (http, openai)")
	rootCmd.PersistentFlags().String("endpoint", "http://localhost:3000/ask", "Reply service endpoint")
	rootCmd.PersistentFlags().Duration("request-timeout", 0, "Reply request timeout (0 uses the backend default)")
	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("openai-base-url", "", "OpenAI base URL")
	rootCmd.PersistentFlags().String("openai-model", "", "OpenAI model")
	rootCmd.PersistentFlags().String("system-prompt", "", "System prompt for the openai backend")
	rootCmd.PersistentFlags().Duration("failure-delay", 0, "Delay before the fallback message (0 uses the default)")
	rootCmd.PersistentFlags().String("fallback-message", "", "Message appended when a reply fails")

	// workspace
	rootCmd.PersistentFlags().String("db", "", "SQLite database for conversations (empty keeps them in memory)")
	rootCmd.PersistentFlags().String("templates", "", "YAML file with prompt templates")
	rootCmd.PersistentFlags().StringSlice("folders", []string{"Work Projects"}, "Folders created in an empty workspace")
	rootCmd.PersistentFlags().String("default-folder", "Work Projects", "Folder of new conversations")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" {
			if len(os.Args) > idx+1 {
				configFile = os.Args[idx+1]
			}
		}
	}

	err := initCommands(rootCmd, configFile)
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newChatCommand(),
		newAskCommand(),
		newListCommand(),
		newServeStubCommand(),
		newTemplatesCommand(),
	)
}
