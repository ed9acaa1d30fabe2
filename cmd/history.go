package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/history"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/logger"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/utils"
)

var (
	historyJSON      bool
	historyNetwork   string
	historyLookback  uint64
	historySynthetic bool
)

var historyCmd = &cobra.Command{
	Use:   "history <address>",
	Short: "Print recent transfer history for an address",
	Long: `Scan the last blocks of the selected network for Transfer events involving
the address and print the decorated transactions, newest first.

Examples:
  metamask-buddy history 0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045
  metamask-buddy history 0xd8dA... --network 0x89 --lookback 5000 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyNetwork != "" {
			cfg.SelectedNetwork = historyNetwork
		}
		if cmd.Flags().Changed("lookback") {
			cfg.History.LookbackBlocks = historyLookback
		}
		if cmd.Flags().Changed("synthetic") {
			cfg.History.SyntheticFallback = historySynthetic
		}

		l, err := logger.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		node, err := provider.NewNode(cfg.Networks, cfg.SelectedNetwork, cfg.Accounts, l)
		if err != nil {
			return err
		}
		defer node.Close()

		txs, err := history.New(cfg.History, l).Fetch(cmd.Context(), args[0], node)
		if err != nil {
			return err
		}

		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(txs)
		}
		renderHistory(cmd.OutOrStdout(), node.Active().Name, args[0], txs)
		return nil
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output transactions as JSON")
	historyCmd.Flags().StringVar(&historyNetwork, "network", "", "chain id to query, e.g. 0x1")
	historyCmd.Flags().Uint64Var(&historyLookback, "lookback", 1000, "number of blocks to scan back from the tip")
	historyCmd.Flags().BoolVar(&historySynthetic, "synthetic", false, "print sample transactions when nothing is found")
}

var (
	historyTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F6851B"))
	historyHeader = lipgloss.NewStyle().Bold(true)
	historyFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672"))
)

func renderHistory(w io.Writer, network, address string, txs []models.Transaction) {
	fmt.Fprintln(w, historyTitle.Render(fmt.Sprintf("%s on %s", utils.FormatAddress(address), network)))
	if len(txs) == 0 {
		fmt.Fprintln(w, "No transactions found.")
		return
	}
	fmt.Fprintln(w, historyHeader.Render(fmt.Sprintf("%-14s %-9s %-16s %-14s %12s  %s", "Hash", "Type", "Time", "Counterparty", "Block", "Value (ETH)")))
	for _, tx := range txs {
		counterparty := tx.To
		if tx.Type == models.TxIncoming {
			counterparty = tx.From
		}
		block := "-"
		if tx.BlockNumber != nil {
			block = utils.AddCommas(fmt.Sprintf("%d", *tx.BlockNumber))
		}
		line := fmt.Sprintf("%-14s %-9s %-16s %-14s %12s  %s",
			utils.FormatAddress(tx.Hash),
			tx.Type,
			utils.FormatTimestamp(tx.Timestamp),
			utils.FormatAddress(counterparty),
			block,
			tx.Value,
		)
		if tx.Status == models.TxFailed {
			line = historyFailed.Render(line + "  failed")
		}
		fmt.Fprintln(w, line)
	}
}
