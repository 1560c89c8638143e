package main

import (
	"fmt"
	"os"

	"github.com/aretw0/menuflow/internal/compiler"
	"github.com/aretw0/menuflow/internal/middleware"
	"github.com/aretw0/menuflow/internal/validator"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [flow.yaml]",
	Short: "Check the flow for consistency",
	Long:  `Parses the flow, reports dangling connections, unknown node types and unreachable nodes, and checks the flow utils middlewares.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		utils, _ := cmd.Flags().GetString("utils")
		if err := runValidate(args, utils); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Flow is valid! ✅")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("utils", "", "Flow utils document to check alongside the flow")
}

func runValidate(args []string, utilsPath string) error {
	path := "flow.yaml"
	if len(args) > 0 {
		path = args[0]
	}

	flow, err := compiler.NewParser().ParseFile(path)
	if err != nil {
		return err
	}

	report, err := validator.ValidateFlow(flow)
	if err != nil {
		return err
	}
	for _, id := range report.Unreachable {
		fmt.Printf("warning: node '%s' is unreachable from '%s'\n", id, flow.Entry)
	}

	if utilsPath == "" {
		return nil
	}
	utils, found, err := compiler.LoadUtils(utilsPath)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("flow utils %s not found", utilsPath)
	}
	if _, err := middleware.Build(utils.Middlewares, nil, 1, nil); err != nil {
		return err
	}
	return nil
}
