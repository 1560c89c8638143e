package main

import (
	"fmt"
	"os"

	"github.com/aretw0/menuflow"
	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph [flow.yaml]",
	Short: "Export the flow graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the flow. With --room, the position of
that conversation is highlighted using the configured store.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runGraph(cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("room", "", "Room whose conversation is highlighted")
	graphCmd.Flags().String("client", "", "Client of a route conversation (requires --room)")
}

func runGraph(cmd *cobra.Command, args []string) error {
	room, _ := cmd.Flags().GetString("room")
	client, _ := cmd.Flags().GetString("client")

	if room == "" {
		path := "flow.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		eng, err := menuflow.Load(path, menuflow.WithLogger(logging.NewNop()))
		if err != nil {
			return err
		}
		defer eng.Close()
		out, err := eng.Mermaid(cmd.Context(), nil)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Flow.Path = args[0]
	}
	st, err := openStorage(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()
	if st.store == nil {
		return fmt.Errorf("store driver %q keeps no state between processes", cfg.Store.Driver)
	}

	opts, err := storeOptions(cfg, st)
	if err != nil {
		return err
	}
	eng, err := menuflow.Load(cfg.Flow.Path, append(opts, menuflow.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer eng.Close()

	key := domain.RoomKey(room)
	if client != "" {
		key = domain.RouteKey(client, room)
	}
	out, err := eng.Mermaid(cmd.Context(), &key)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
