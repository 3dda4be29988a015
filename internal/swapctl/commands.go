package swapctl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/catalogfi/stealthswapd/internal/config"
)

// QuoteCmd requests a price-locked quote from a running daemon: flags in,
// a single REST call, pretty-print the result.
func QuoteCmd(client *Client) *cobra.Command {
	var (
		direction   string
		tokenAmount uint64
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Request a price-locked quote",
		Run: func(c *cobra.Command, args []string) {
			resp, err := client.Quote(QuoteRequest{Direction: direction, TokenAmount: tokenAmount})
			if err != nil {
				cobra.CheckErr(err)
			}
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&direction, "direction", "", "token_to_private or private_to_token")
	cmd.MarkFlagRequired("direction")
	cmd.Flags().Uint64Var(&tokenAmount, "amount", 0, "token amount in USDC base units")
	cmd.MarkFlagRequired("amount")
	return cmd
}

// AcceptCmd promotes a quote into an active swap.
func AcceptCmd(client *Client) *cobra.Command {
	var (
		quoteID            string
		counterpartyPubkey string
		destination        string
	)
	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Accept a quote and start a swap",
		Run: func(c *cobra.Command, args []string) {
			resp, err := client.Accept(AcceptRequest{
				QuoteID:            quoteID,
				CounterpartyPubkey: counterpartyPubkey,
				Destination:        destination,
			})
			if err != nil {
				cobra.CheckErr(err)
			}
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&quoteID, "quote-id", "", "quote id returned by quote")
	cmd.MarkFlagRequired("quote-id")
	cmd.Flags().StringVar(&counterpartyPubkey, "counterparty-pubkey", "", "counterparty's signing pubkey")
	cmd.MarkFlagRequired("counterparty-pubkey")
	cmd.Flags().StringVar(&destination, "destination", "", "counterparty's payout destination")
	cmd.MarkFlagRequired("destination")
	return cmd
}

// StatusCmd fetches a swap's current state.
func StatusCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [swap-id]",
		Short: "Fetch a swap's current state",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			resp, err := client.Status(args[0])
			if err != nil {
				cobra.CheckErr(err)
			}
			printState(resp.State)
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}
	return cmd
}

// printState colors the swap's state line so an operator watching a
// terminal can spot a failed or refunded swap without reading the JSON.
func printState(state string) {
	switch state {
	case "completed":
		color.Green("state: %s", state)
	case "failed", "refunded":
		color.Red("state: %s", state)
	default:
		color.Yellow("state: %s", state)
	}
}

// HealthCmd reports whether the daemon considers itself healthy.
func HealthCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon liveness",
		Run: func(c *cobra.Command, args []string) {
			resp, err := client.Health()
			if err != nil {
				cobra.CheckErr(err)
			}
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}
	return cmd
}

// InitConfigCmd scaffolds a starter config.yaml from config.Default, the
// local counterpart of the REST-backed commands above: it never talks to a
// running daemon, since there's nothing to configure yet.
func InitConfigCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter config.yaml",
		Run: func(c *cobra.Command, args []string) {
			if err := config.WriteExample(outPath, config.Default()); err != nil {
				cobra.CheckErr(err)
			}
			fmt.Fprintf(os.Stdout, "wrote %s\n", outPath)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&outPath, "out", "./config.yaml", "path to write the example config to")
	return cmd
}

func printJSON(v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		cobra.CheckErr(err)
	}
	fmt.Fprintln(os.Stdout, string(encoded))
}
