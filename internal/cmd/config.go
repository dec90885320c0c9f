package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elsewhere-cli/elsewhere/internal/config"
	"github.com/elsewhere-cli/elsewhere/internal/region"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and set operator preferences",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where the config file is read from",
	RunE:  runConfigPath,
}

var configSetRegionCmd = &cobra.Command{
	Use:   "set-region <region>",
	Short: "Set the default region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info := region.Find(args[0])
		if info == nil {
			return fmt.Errorf("unknown region %q (see \"elsewhere regions\")", args[0])
		}
		if err := config.SetValue("defaults.region", info.Code); err != nil {
			return err
		}
		fmt.Printf("Default region set to %s (%s)\n", info.Code, info.Name)
		return nil
	},
}

var configSetPortCmd = &cobra.Command{
	Use:   "set-port <port>",
	Short: "Set the default local SOCKS port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("port must be a number between 1 and 65535, got %q", args[0])
		}
		if err := config.SetValue("defaults.port", port); err != nil {
			return err
		}
		fmt.Printf("Default port set to %d\n", port)
		return nil
	},
}

var configSetInstanceTypeCmd = &cobra.Command{
	Use:   "set-instance-type <type>",
	Short: "Set the default instance type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetValue("defaults.instance_type", args[0]); err != nil {
			return err
		}
		fmt.Printf("Default instance type set to %s\n", args[0])
		return nil
	},
}

var configSetSystemProxyCmd = &cobra.Command{
	Use:   "set-system-proxy <true|false>",
	Short: "Set whether start configures the OS proxy by default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseBool(args[0])
		if err != nil {
			return fmt.Errorf("value must be true or false, got %q", args[0])
		}
		if err := config.SetValue("defaults.system_proxy", value); err != nil {
			return err
		}
		if value {
			fmt.Println("System proxy will be configured by default")
		} else {
			fmt.Println("System proxy configuration will be skipped by default")
		}
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a key from the config file so the built-in default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.IsSettableKey(args[0]) {
			return fmt.Errorf("%q: %w", args[0], config.ErrUnknownKey)
		}
		if err := config.UnsetValue(args[0]); err != nil {
			return err
		}
		fmt.Printf("%s cleared\n", args[0])
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the config file entirely",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Reset(); err != nil {
			return err
		}
		fmt.Println("Configuration reset to built-in defaults")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetRegionCmd)
	configCmd.AddCommand(configSetPortCmd)
	configCmd.AddCommand(configSetInstanceTypeCmd)
	configCmd.AddCommand(configSetSystemProxyCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configResetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("defaults.region         %s\n", orUnset(cfg.Defaults.Region))
	fmt.Printf("defaults.port           %d\n", cfg.Defaults.Port)
	fmt.Printf("defaults.instance_type  %s\n", orUnset(cfg.Defaults.InstanceType))
	fmt.Printf("defaults.system_proxy   %t\n", cfg.Defaults.SystemProxy)
	fmt.Printf("retry.attempts          %d\n", cfg.Retry.Attempts)
	fmt.Printf("retry.delay             %s\n", cfg.Retry.Delay)
	fmt.Printf("retry.max_delay         %s\n", cfg.Retry.MaxDelay)
	fmt.Printf("timeouts.instance_ready %s\n", cfg.Timeouts.InstanceReady)
	fmt.Printf("timeouts.tunnel_ready   %s\n", cfg.Timeouts.TunnelReady)
	fmt.Printf("timeouts.provider_call  %s\n", cfg.Timeouts.ProviderCall)
	fmt.Printf("logging.level           %s\n", cfg.Logging.Level)
	fmt.Printf("paths.state_dir         %s\n", cfg.Paths.StateDir)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Println(used)
		return nil
	}
	fmt.Printf("%s (not present, using defaults)\n", config.ConfigFile())
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
