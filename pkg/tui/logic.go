package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/utils"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

func (m model) getFilteredTransactions() []models.Transaction {
	if m.txFilter == filterAll || m.txFilter == "" {
		return m.state.Transactions
	}
	var filtered []models.Transaction
	for _, tx := range m.state.Transactions {
		if m.txFilter == filterIn && tx.Type == models.TxIncoming {
			filtered = append(filtered, tx)
		} else if m.txFilter == filterOut && tx.Type == models.TxOutgoing {
			filtered = append(filtered, tx)
		}
	}
	return filtered
}

// valueSeries returns transfer values oldest first, outgoing ones negative.
func valueSeries(txs []models.Transaction) []float64 {
	series := make([]float64, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		v := utils.ParseEther(txs[i].Value)
		if txs[i].Type == models.TxOutgoing {
			v = -v
		}
		series = append(series, v)
	}
	return series
}

// connectionStatus is the status line of the wallet card.
func connectionStatus(s models.WalletState) string {
	switch {
	case s.IsConnecting:
		return "Connecting..."
	case s.IsSwitchingNetwork:
		return "Switching network..."
	case s.IsConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

func (m model) chainLabel() string {
	if m.state.ChainID == nil {
		return "-"
	}
	return models.ChainName(m.networks, *m.state.ChainID)
}

// currentNetworkIdx is the picker row of the active chain, or 0.
func (m model) currentNetworkIdx() int {
	if m.state.ChainID == nil {
		return 0
	}
	for i, n := range m.networks {
		if strings.EqualFold(n.ID, *m.state.ChainID) {
			return i
		}
	}
	return 0
}

func (m model) explorerTxURL(hash string) (string, bool) {
	if m.state.ChainID == nil {
		return "", false
	}
	base, ok := m.explorers[strings.ToLower(*m.state.ChainID)]
	if !ok || base == "" {
		return "", false
	}
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(base, "/"), hash), true
}

// setStatus shows msg until the notice timeout elapses or a newer status
// replaces it.
func (m *model) setStatus(msg string) tea.Cmd {
	m.statusMessage = msg
	m.statusSeq++
	seq := m.statusSeq
	return tea.Tick(m.noticeTimeout, func(time.Time) tea.Msg {
		return clearStatusMsg{seq: seq}
	})
}

func (m *model) updateDetailViewport() {
	txs := m.getFilteredTransactions()
	if m.txListIdx >= len(txs) {
		m.viewport.SetContent("No transaction selected.")
		return
	}
	m.viewport.SetContent(txDetailContent(txs[m.txListIdx]))
	m.viewport.GotoTop()
}

func txDetailContent(tx models.Transaction) string {
	block := "pending"
	if tx.BlockNumber != nil {
		block = fmt.Sprintf("%d", *tx.BlockNumber)
	}
	to := tx.To
	if to == "" {
		to = "(contract creation)"
	}
	lines := []string{
		fmt.Sprintf("Hash:      %s", tx.Hash),
		fmt.Sprintf("Status:    %s", tx.Status),
		fmt.Sprintf("Direction: %s", tx.Type),
		fmt.Sprintf("Block:     %s", block),
		fmt.Sprintf("Time:      %s", utils.FormatTimestamp(tx.Timestamp)),
		fmt.Sprintf("From:      %s", tx.From),
		fmt.Sprintf("To:        %s", to),
		fmt.Sprintf("Value:     %s ETH", tx.Value),
		fmt.Sprintf("Gas Limit: %s", utils.AddCommas(tx.Gas)),
		fmt.Sprintf("Gas Price: %s wei", utils.AddCommas(tx.GasPrice)),
		fmt.Sprintf("Nonce:     %d", tx.Nonce),
	}
	return strings.Join(lines, "\n")
}

func listenForEvents(sub wallet.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return subscriptionClosedMsg{}
		}
		return ev
	}
}

func connectCmd(ctx context.Context, c *wallet.Controller) tea.Cmd {
	return func() tea.Msg {
		_, err := c.Connect(ctx)
		return actionResultMsg{action: "connect", err: err}
	}
}

func disconnectCmd(ctx context.Context, c *wallet.Controller) tea.Cmd {
	return func() tea.Msg {
		c.Disconnect(ctx)
		return actionResultMsg{action: "disconnect"}
	}
}

func switchNetworkCmd(ctx context.Context, c *wallet.Controller, chainID string) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{action: "switch", err: c.SwitchNetwork(ctx, chainID)}
	}
}

func fetchHistoryCmd(ctx context.Context, c *wallet.Controller) tea.Cmd {
	return func() tea.Msg {
		_, err := c.FetchTransactionHistory(ctx)
		return actionResultMsg{action: "history", err: err}
	}
}
