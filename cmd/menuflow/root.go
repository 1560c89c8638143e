package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "menuflow",
	Short: "Menuflow runs conversational flows in chat rooms",
	Long:  `Menuflow interprets YAML node graphs once per conversation, persisting where each conversation stands.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file (default: ./menuflow.yaml when present)")
}
