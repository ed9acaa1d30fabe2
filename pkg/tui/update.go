package tui

import (
	"errors"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 8
		m.viewport.Height = msg.Height - 10

	case wallet.Event:
		// Re-arm for the next event
		cmds = append(cmds, listenForEvents(m.sub))

		m.state = msg.State
		m.lastUpdate = time.Now()
		if msg.Type == wallet.EventNotice && msg.Notice != "" {
			cmds = append(cmds, m.setStatus(msg.Notice))
		}
		if n := len(m.getFilteredTransactions()); m.txListIdx >= n {
			m.txListIdx = 0
			if m.showTxDetail && n == 0 {
				m.showTxDetail = false
			}
		}
		if m.showTxDetail {
			m.updateDetailViewport()
		}

	case subscriptionClosedMsg:
		return m, tea.Quit

	case actionResultMsg:
		var we *wallet.Error
		switch {
		case msg.err == nil:
			if msg.action == "history" {
				cmds = append(cmds, m.setStatus("Transaction history updated"))
			}
		case errors.As(msg.err, &we) && we.Transient():
			// The controller already emitted a notice.
		case msg.action == "history":
			cmds = append(cmds, m.setStatus("Failed to load transactions: "+msg.err.Error()))
		}

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if msg.String() == "?" {
			m.showHelp = !m.showHelp
			return m, nil
		}
		if m.showHelp {
			if msg.String() == "q" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}

		if m.showNetworkPicker {
			return m.updateNetworkPicker(msg)
		}

		if m.showTxDetail {
			switch msg.String() {
			case "q", "esc", "backspace":
				m.showTxDetail = false
				return m, nil
			case "o":
				txs := m.getFilteredTransactions()
				if m.txListIdx >= len(txs) {
					return m, nil
				}
				url, ok := m.explorerTxURL(txs[m.txListIdx].Hash)
				if !ok {
					return m, m.setStatus("Explorer URL not configured for this chain")
				}
				if err := openBrowser(url); err != nil {
					return m, m.setStatus("Failed to open browser: " + err.Error())
				}
				return m, m.setStatus("Opened in browser")
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		if m.showTxList {
			switch msg.String() {
			case "q", "esc":
				m.showTxList = false
				return m, nil
			case "i":
				m.txFilter = filterIn
				m.txListIdx = 0
				return m, nil
			case "o":
				m.txFilter = filterOut
				m.txListIdx = 0
				return m, nil
			case "a":
				m.txFilter = filterAll
				m.txListIdx = 0
				return m, nil
			case "r":
				return m, fetchHistoryCmd(m.ctx, m.controller)
			case "up", "k":
				if m.txListIdx > 0 {
					m.txListIdx--
				}
			case "down", "j":
				if m.txListIdx < len(m.getFilteredTransactions())-1 {
					m.txListIdx++
				}
			case "enter":
				if len(m.getFilteredTransactions()) > 0 {
					m.showTxDetail = true
					m.updateDetailViewport()
				}
			}
			return m, nil
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "c":
			cmds = append(cmds, connectCmd(m.ctx, m.controller))
		case "d":
			cmds = append(cmds, disconnectCmd(m.ctx, m.controller))
		case "n":
			m.showNetworkPicker = true
			m.networkIdx = m.currentNetworkIdx()
		case "h":
			if !m.state.IsConnected {
				cmds = append(cmds, m.setStatus(wallet.MsgNotConnected))
				break
			}
			m.showTxList = true
			m.txListIdx = 0
			cmds = append(cmds, fetchHistoryCmd(m.ctx, m.controller))
		case "y":
			if m.state.Address == nil {
				cmds = append(cmds, m.setStatus(wallet.MsgNotConnected))
				break
			}
			if err := clipboard.WriteAll(*m.state.Address); err != nil {
				cmds = append(cmds, m.setStatus("Failed to copy to clipboard"))
			} else {
				cmds = append(cmds, m.setStatus("Address copied to clipboard!"))
			}
		}

	case uiTickMsg:
		m.providerDetected = m.controller.ProviderDetected()
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.statusMessage = ""
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) updateNetworkPicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "n":
		m.showNetworkPicker = false
	case "up", "k":
		if m.networkIdx > 0 {
			m.networkIdx--
		}
	case "down", "j":
		if m.networkIdx < len(m.networks)-1 {
			m.networkIdx++
		}
	case "enter":
		m.showNetworkPicker = false
		if m.networkIdx < len(m.networks) {
			return m, switchNetworkCmd(m.ctx, m.controller, m.networks[m.networkIdx].ID)
		}
	}
	return m, nil
}
