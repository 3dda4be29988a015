// Command swapctl is the operator CLI against a running stealthswapd
// daemon's REST façade.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/catalogfi/stealthswapd/internal/swapctl"
)

func main() {
	var baseURL string

	root := &cobra.Command{
		Use:               "swapctl",
		Short:             "Operate a running stealthswapd daemon",
		DisableAutoGenTag: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url", "http://127.0.0.1:3000", "base URL of the daemon's HTTP facade")

	client := swapctl.NewClient(baseURL)
	root.PersistentPreRun = func(c *cobra.Command, args []string) {
		client.SetBaseURL(baseURL)
	}
	root.AddCommand(
		swapctl.QuoteCmd(client),
		swapctl.AcceptCmd(client),
		swapctl.StatusCmd(client),
		swapctl.HealthCmd(client),
		swapctl.InitConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
