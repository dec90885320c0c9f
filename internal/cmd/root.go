// Package cmd implements the elsewhere CLI surface. Commands are thin
// callers into the lifecycle manager; all provisioning and teardown
// policy lives there.
package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elsewhere-cli/elsewhere/internal/config"
	"github.com/elsewhere-cli/elsewhere/internal/lifecycle"
	"github.com/elsewhere-cli/elsewhere/internal/logging"
	"github.com/elsewhere-cli/elsewhere/internal/provider/aws"
	"github.com/elsewhere-cli/elsewhere/internal/session"
	"github.com/elsewhere-cli/elsewhere/internal/sysproxy"
	"github.com/elsewhere-cli/elsewhere/internal/tunnel"
)

var rootCmd = &cobra.Command{
	Use:   "elsewhere",
	Short: "Route your traffic through an ephemeral cloud instance",
	Long: `Elsewhere provisions a short-lived instance in a region of your
choice, tunnels local traffic through it over SSH, and tears everything
down when you are done. Every resource it creates is tagged, tracked in
a local state file, and reclaimed even after a crash via "elsewhere
cleanup".`,
	SilenceUsage: true,
}

var verbose bool

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/elsewhere/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Defaults first so every key resolves even without a config file.
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ELSEWHERE")
	// ELSEWHERE_DEFAULTS_REGION for defaults.region, and so on.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}

// newLogger builds the diagnostic logger for one command invocation.
func newLogger(cfg *config.Config) *logging.Logger {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return logging.NewStderr(level)
}

// newManager wires the lifecycle manager against the real
// collaborators: the EC2 provisioner, the ssh tunnel supervisor, and
// the OS proxy.
func newManager(cfg *config.Config, log *logging.Logger) (*lifecycle.Manager, *session.Store, error) {
	store, err := session.NewStore(cfg.Paths.StateDir)
	if err != nil {
		return nil, nil, err
	}

	mgr := lifecycle.NewManager(lifecycle.Params{
		Store:    store,
		Provider: aws.Factory(aws.WithLogger(log)),
		Tunnel:   tunnel.NewSupervisor(tunnel.WithLogger(log)),
		Proxy:    sysproxy.NewManager(log),
		CallerAddr: func(ctx context.Context) (string, error) {
			return aws.CallerCIDR(ctx)
		},
		Retry:    cfg.Retry,
		Timeouts: cfg.Timeouts,
		Logger:   log,
	})
	return mgr, store, nil
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
