// cmd/tagwatch/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tagwatch",
		Short:        "Poll Modbus TCP holding-register tags and publish their values",
		SilenceUsage: true,
	}
	root.AddCommand(
		newRunCmd(),
		newReadCmd(),
		newWriteCmd(),
		newBurnerCmd(),
	)
	return root
}
