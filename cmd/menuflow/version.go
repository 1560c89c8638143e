package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/menuflow"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of menuflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("menuflow version %s\n", strings.TrimSpace(menuflow.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
