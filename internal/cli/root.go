// Package cli implements the hookrelay command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// EnvPrefix prefixes the environment variables that stand in for flags,
// e.g. HOOKRELAY_HISTORY_DSN for --history-dsn.
const EnvPrefix = "HOOKRELAY_"

const defaultConfigPath = "config/hookrelay.yaml"

// options are the flags shared by every command.
type options struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	logger *slog.Logger
}

// NewRootCmd builds the hookrelay command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:     "hookrelay",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
		Short:   "Route, reshape and fan out webhooks to chat and notification endpoints",
		Long: `hookrelay receives webhooks on configured paths, reshapes each payload
through preprocessing and templates, and forwards a per-platform copy to
every target of the matching route (WeChat, Feishu, DingTalk, Discord,
WeChat personal or any JSON endpoint).

Every flag can also be set through the environment as HOOKRELAY_<FLAG>,
for example HOOKRELAY_HISTORY_DSN. A .env file is loaded first when present.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			if err := bindEnv(cmd.Flags()); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the YAML or JSON config file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading HOOKRELAY_* variables")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")

	cmd.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newInitCmd(opts),
		newTestCmd(opts),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// bindEnv fills every flag not given on the command line from its
// HOOKRELAY_* environment variable.
func bindEnv(flags *pflag.FlagSet) error {
	var firstErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || firstErr != nil {
			return
		}
		v, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}
		if err := flags.Set(f.Name, v); err != nil {
			firstErr = fmt.Errorf("%s: %w", envName(f.Name), err)
		}
	})
	return firstErr
}

func envName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// newLogger builds the process logger.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
