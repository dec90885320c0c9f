package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elsewhere-cli/elsewhere/internal/region"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List the regions a session can be provisioned in",
	RunE:  runRegions,
}

var regionsDetailed bool

func init() {
	rootCmd.AddCommand(regionsCmd)
	regionsCmd.Flags().BoolVarP(&regionsDetailed, "detailed", "d", false, "include the default instance type per region")
}

func runRegions(cmd *cobra.Command, args []string) error {
	if !regionsDetailed {
		for _, info := range region.Catalog {
			fmt.Printf("%s (%s)\n", info.Code, info.Name)
		}
		return nil
	}

	fmt.Printf("%-16s %-28s %s\n", "CODE", "NAME", "DEFAULT INSTANCE")
	for _, info := range region.Catalog {
		fmt.Printf("%-16s %-28s %s\n", info.Code, info.Name, info.DefaultInstanceType())
	}
	return nil
}
