package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/elsewhere-cli/elsewhere/internal/config"
	"github.com/elsewhere-cli/elsewhere/internal/lifecycle"
	"github.com/elsewhere-cli/elsewhere/internal/region"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Provision an instance and start tunneling",
	Long: `Start provisions an instance in the chosen region, opens an SSH
tunnel with a local SOCKS endpoint, and (on macOS) points the system
proxy at it. Interrupting a start in progress tears down whatever was
already created.

Only one session can be active per host; stop or clean up the current
one first.`,
	RunE: runStart,
}

var (
	startRegion        string
	startPort          int
	startInstanceType  string
	startNoSystemProxy bool
	startForeground    bool
)

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&startRegion, "region", "r", "", "region to provision in (see \"elsewhere regions\")")
	startCmd.Flags().IntVarP(&startPort, "port", "p", 0, "local SOCKS port (default from config)")
	startCmd.Flags().StringVar(&startInstanceType, "instance-type", "", "instance type (default per region)")
	startCmd.Flags().BoolVar(&startNoSystemProxy, "no-system-proxy", false, "skip configuring the OS proxy")
	startCmd.Flags().BoolVar(&startForeground, "foreground", false, "stay attached and tear down when the tunnel exits or on interrupt")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	in, err := resolveStartInput(cfg)
	if err != nil {
		return err
	}

	mgr, _, err := newManager(cfg, log)
	if err != nil {
		return err
	}

	// An interrupt during provisioning cancels the context; the manager
	// routes that through teardown so nothing is left behind.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Provisioning in %s...\n", in.Region)
	sess, err := mgr.Start(ctx, in)
	if err != nil {
		return err
	}

	printSessionSummary(sess)

	if !startForeground {
		return nil
	}

	fmt.Fprintln(os.Stderr, "Running in foreground; interrupt to stop.")
	if err := mgr.WaitTunnel(ctx, sess.TunnelPID); err == nil {
		fmt.Fprintln(os.Stderr, "Tunnel exited; tearing down.")
	} else {
		fmt.Fprintln(os.Stderr, "Interrupted; tearing down.")
	}

	// Teardown runs on a fresh context: the watch context is already
	// canceled when the operator interrupted.
	results, err := mgr.Stop(cmd.Context(), false)
	printResults(results)
	return err
}

// resolveStartInput merges flags over config defaults and validates the
// result.
func resolveStartInput(cfg *config.Config) (lifecycle.StartInput, error) {
	regionCode := startRegion
	if regionCode == "" {
		regionCode = cfg.Defaults.Region
	}
	if regionCode == "" {
		return lifecycle.StartInput{}, fmt.Errorf("no region given: pass --region or set defaults.region (see \"elsewhere regions\")")
	}
	info := region.Find(regionCode)
	if info == nil {
		return lifecycle.StartInput{}, fmt.Errorf("unknown region %q (see \"elsewhere regions\")", regionCode)
	}

	port := startPort
	if port == 0 {
		port = cfg.Defaults.Port
	}

	instanceType := startInstanceType
	if instanceType == "" {
		instanceType = cfg.Defaults.InstanceType
	}
	if instanceType == "" {
		instanceType = info.DefaultInstanceType()
	}
	if region.IsARMInstanceType(instanceType) && !info.SupportsARM {
		return lifecycle.StartInput{}, fmt.Errorf("instance type %s is ARM but region %s has no ARM capacity", instanceType, regionCode)
	}

	systemProxy := cfg.Defaults.SystemProxy
	if startNoSystemProxy {
		systemProxy = false
	}

	return lifecycle.StartInput{
		Region:       regionCode,
		LocalPort:    port,
		InstanceType: instanceType,
		SystemProxy:  systemProxy,
	}, nil
}
