package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

// Version is set by Start()
var Version = "dev"

const defaultNoticeTimeout = 1500 * time.Millisecond

// Transaction list filters.
const (
	filterAll = "all"
	filterIn  = "in"
	filterOut = "out"
)

// --- Messages ---

type clearStatusMsg struct{ seq int }
type uiTickMsg time.Time
type subscriptionClosedMsg struct{}

// actionResultMsg reports the outcome of a controller call run off the UI
// goroutine.
type actionResultMsg struct {
	action string
	err    error
}

// Options configures the dashboard.
type Options struct {
	Networks      []models.NetworkOption
	Explorers     map[string]string // chain id -> explorer base URL
	NoticeTimeout time.Duration
	// RelayURL is shown when the wallet is reached through the browser relay.
	RelayURL string
	Version  string
}

// --- Model ---

type model struct {
	ctx        context.Context
	controller *wallet.Controller
	sub        wallet.Subscriber

	state            models.WalletState
	providerDetected bool
	networks         []models.NetworkOption
	explorers        map[string]string
	relayURL         string

	width         int
	height        int
	spinner       spinner.Model
	viewport      viewport.Model
	statusMessage string
	statusSeq     int
	noticeTimeout time.Duration
	lastUpdate    time.Time

	showHelp          bool
	showNetworkPicker bool
	networkIdx        int
	showTxList        bool
	txListIdx         int
	txFilter          string
	showTxDetail      bool
}

func initialModel(ctx context.Context, c *wallet.Controller, opts Options) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	networks := opts.Networks
	if len(networks) == 0 {
		networks = models.DefaultNetworkOptions
	}
	timeout := opts.NoticeTimeout
	if timeout <= 0 {
		timeout = defaultNoticeTimeout
	}

	return model{
		ctx:              ctx,
		controller:       c,
		sub:              c.Subscribe(),
		state:            c.State(),
		providerDetected: c.ProviderDetected(),
		networks:         networks,
		explorers:        opts.Explorers,
		relayURL:         opts.RelayURL,
		spinner:          s,
		viewport:         viewport.New(0, 0),
		noticeTimeout:    timeout,
		txFilter:         filterAll,
		lastUpdate:       time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		listenForEvents(m.sub),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }),
	)
}

// busy reports whether any controller operation is in flight.
func (m model) busy() bool {
	return m.state.IsConnecting || m.state.IsSwitchingNetwork || m.state.IsLoadingTransactions
}
