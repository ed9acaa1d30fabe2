package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/utils"
)

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}
	if m.showNetworkPicker {
		return m.viewNetworkPicker()
	}
	if m.showTxDetail {
		return m.viewTxDetail()
	}
	if m.showTxList {
		return m.viewTxList()
	}
	return m.viewWallet()
}

func (m model) place(content, footer string) string {
	if m.statusMessage != "" {
		footer = lipgloss.JoinVertical(lipgloss.Center, infoStyle.Render(m.statusMessage), footer)
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewWallet() string {
	header := titleStyle.Render(fmt.Sprintf("MetaMask Buddy %s", Version))

	var lines []string
	if !m.providerDetected {
		lines = append(lines, errStyle.Render("MetaMask not detected"))
		if m.relayURL != "" {
			lines = append(lines, subtleStyle.Render("Open "+m.relayURL+" in a browser with MetaMask"))
		}
	}

	status := connectionStatus(m.state)
	if m.busy() {
		status = m.spinner.View() + " " + status
	}
	if m.state.IsConnected {
		status = infoStyle.Render(status)
	}
	lines = append(lines, fmt.Sprintf("%-10s %s", "Status:", status))

	address := "-"
	if m.state.Address != nil {
		address = utils.FormatAddress(*m.state.Address)
	}
	lines = append(lines,
		fmt.Sprintf("%-10s %s", "Address:", address),
		fmt.Sprintf("%-10s %s", "Network:", m.chainLabel()),
		fmt.Sprintf("%-10s %s ETH", "Balance:", utils.FormatBalance(m.state.Balance, 4)),
	)
	if m.state.IsLoadingTransactions {
		lines = append(lines, subtleStyle.Render(m.spinner.View()+" loading transactions"))
	} else if n := len(m.state.Transactions); n > 0 {
		lines = append(lines, subtleStyle.Render(fmt.Sprintf("%d transactions loaded", n)))
	}
	if m.state.Error != nil {
		lines = append(lines, "", errStyle.Render(*m.state.Error))
	}

	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(lines, "\n")))

	footer := subtleStyle.Render("c: connect • d: disconnect • n: network • h: history • y: copy address • ?: help • q: quit")
	if !m.state.IsConnected {
		footer = subtleStyle.Render("c: connect • n: network • ?: help • q: quit")
	}
	return m.place(content, footer)
}

func (m model) viewNetworkPicker() string {
	header := titleStyle.Render("Select Network")
	current := m.currentNetworkIdx()
	rows := ""
	for i, n := range m.networks {
		cursor := "  "
		if i == m.networkIdx {
			cursor = "> "
		}
		marker := ""
		if m.state.ChainID != nil && i == current {
			marker = infoStyle.Render(" (current)")
		}
		rows += fmt.Sprintf("%s%-20s %s%s\n", cursor, n.Name, subtleStyle.Render(n.ID), marker)
	}
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", rows))
	footer := subtleStyle.Render("↑/↓: select • enter: switch • esc: back")
	return m.place(content, footer)
}

func (m model) viewTxList() string {
	filterDisplay := "All"
	switch m.txFilter {
	case filterIn:
		filterDisplay = "Incoming"
	case filterOut:
		filterDisplay = "Outgoing"
	}
	address := ""
	if m.state.Address != nil {
		address = utils.FormatAddress(*m.state.Address)
	}
	header := titleStyle.Render(fmt.Sprintf("Transactions: %s (%s)", address, filterDisplay))
	footer := subtleStyle.Render("i: in • o: out • a: all • r: reload • enter: details • q/esc: back")

	if m.state.IsLoadingTransactions && len(m.state.Transactions) == 0 {
		content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", m.spinner.View()+" Loading transactions..."))
		return m.place(content, footer)
	}

	txs := m.getFilteredTransactions()
	if len(txs) == 0 {
		content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", "No transactions found."))
		return m.place(content, footer)
	}

	rows := tableHeaderStyle.Render(fmt.Sprintf("  %-12s %-9s %-16s %-14s %s", "Hash", "Type", "Time", "Counterparty", "Value")) + "\n"
	for i, tx := range txs {
		cursor := "  "
		if i == m.txListIdx {
			cursor = "> "
		}
		counterparty := tx.To
		if tx.Type == models.TxIncoming {
			counterparty = tx.From
		}
		status := ""
		if tx.Status == models.TxFailed {
			status = errStyle.Render(" failed")
		}
		rows += fmt.Sprintf("%s%-12s %-9s %-16s %-14s %s%s\n",
			cursor,
			utils.TruncateString(tx.Hash, 12),
			tx.Type,
			utils.FormatTimestamp(tx.Timestamp),
			utils.FormatAddress(counterparty),
			tx.Value,
			status,
		)
	}

	blocks := []string{header, "\n", rows}
	if graph := m.valueGraph(txs); graph != "" {
		blocks = append(blocks, graph)
	}
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, blocks...))
	return m.place(content, footer)
}

func (m model) valueGraph(txs []models.Transaction) string {
	series := valueSeries(txs)
	if len(series) < 2 {
		return ""
	}
	width := m.width - 20
	if width < 20 {
		width = 20
	}
	return asciigraph.Plot(series,
		asciigraph.Height(8),
		asciigraph.Width(width),
		asciigraph.Caption("Transfer value (ETH, outgoing negative)"),
	)
}

func (m model) viewTxDetail() string {
	header := titleStyle.Render("Transaction Details")
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", m.viewport.View()))
	footer := subtleStyle.Render("o: open in explorer • ↑/↓: scroll • q/esc: back")
	return m.place(content, footer)
}

func (m model) viewHelp() string {
	header := titleStyle.Render("Keyboard Shortcuts")
	shortcuts := []string{
		"c          Connect wallet",
		"d          Disconnect",
		"n          Switch network",
		"h          Transaction history",
		"y          Copy address to clipboard",
		"i / o / a  Filter incoming / outgoing / all",
		"r          Reload history",
		"enter      Transaction details",
		"o          Open transaction in explorer (details)",
		"?          Toggle help",
		"q          Back / quit",
	}
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(shortcuts, "\n")))
	return m.place(content, subtleStyle.Render("?/esc: close"))
}
