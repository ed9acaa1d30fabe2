package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/bridge"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/config"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/history"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/logger"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/metrics"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/server"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/session"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/tui"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

// Provider kinds for --provider.
const (
	providerBridge = "bridge"
	providerNode   = "node"
)

var (
	servePort     int
	serveHeadless bool
	serveProvider string
	serveNetwork  string
	servePoll     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the wallet dashboard and API server",
	Long: `Start the wallet controller, the HTTP/WebSocket API and, unless --headless
is given, the terminal dashboard.

With --provider bridge (the default) open http://localhost:<port>/ in a
browser where MetaMask is installed and keep the tab open. With
--provider node the configured RPC endpoints and accounts act as the wallet.

Examples:
  metamask-buddy serve
  metamask-buddy serve --headless --port 9090
  metamask-buddy serve --provider node --network 0xaa36a7`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") || cfg.Port == 0 {
			cfg.Port = servePort
		}
		if serveNetwork != "" {
			cfg.SelectedNetwork = serveNetwork
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port for the API server")
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "run the API server only, without the dashboard")
	serveCmd.Flags().StringVar(&serveProvider, "provider", providerBridge, "wallet provider: bridge or node")
	serveCmd.Flags().StringVar(&serveNetwork, "network", "", "chain id to select, e.g. 0x1")
	serveCmd.Flags().DurationVar(&servePoll, "poll", 4*time.Second, "account/chain poll interval for the node provider")
}

// openLogger logs to stderr in headless mode. The dashboard owns the
// terminal otherwise, so logs go to a file.
func openLogger() (*log.Logger, func() error, error) {
	logCfg := cfg.Log
	if !serveHeadless && logCfg.File == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, nil, err
		}
		logCfg.File = filepath.Join(dir, "metamask-buddy", "buddy.log")
	}
	return logger.Open(logCfg, os.Stderr)
}

func runServe(ctx context.Context) error {
	l, closeLog, err := openLogger()
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer func() { _ = closeLog() }()

	store, err := session.New(cfg.Session)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	if r, ok := store.(*session.Redis); ok {
		defer func() { _ = r.Close() }()
	}

	m := metrics.New()

	var (
		p          provider.Provider
		bridgeSrv  *bridge.Bridge
		relayURL   string
		serverOpts = server.Options{Networks: cfg.NetworkOptions(), Metrics: m, Logger: l}
	)
	switch serveProvider {
	case providerBridge:
		bridgeSrv = bridge.New(l)
		defer bridgeSrv.Close()
		p = bridgeSrv
		serverOpts.Bridge = bridgeSrv
		relayURL = fmt.Sprintf("http://localhost:%d/", cfg.Port)
	case providerNode:
		node, err := provider.NewNode(cfg.Networks, cfg.SelectedNetwork, cfg.Accounts, l)
		if err != nil {
			return err
		}
		defer node.Close()
		go node.Watch(ctx, servePoll)
		p = node
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", serveProvider, providerBridge, providerNode)
	}

	fetcher := history.New(cfg.History, l)
	fetcher.OnFetch = m.ObserveFetch

	controller := wallet.NewController(metrics.WrapProvider(p, m), store, fetcher, l)
	go m.CountEvents(controller.Subscribe())
	if bridgeSrv != nil {
		// The relay page usually attaches after startup.
		bridgeSrv.OnHello = func() { controller.Resume(ctx) }
	}

	srv := server.NewServer(controller, serverOpts)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start(ctx, cfg.Port) }()

	controller.Start(ctx)
	defer controller.Stop()

	if relayURL != "" {
		l.Info("open the relay page in a browser with MetaMask", "url", relayURL)
	}

	if serveHeadless {
		fmt.Printf("Running in server mode on port %d...\n", cfg.Port)
		select {
		case <-ctx.Done():
			return nil
		case err := <-srvErr:
			return err
		}
	}

	tuiCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-srvErr; err != nil {
			l.Error("server error", "err", err)
			cancel()
		}
	}()
	err = tui.Start(tuiCtx, controller, tui.Options{
		Networks:      cfg.NetworkOptions(),
		Explorers:     explorers(cfg),
		NoticeTimeout: cfg.NoticeTimeout(),
		RelayURL:      relayURL,
		Version:       Version,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func explorers(c config.Config) map[string]string {
	out := make(map[string]string, len(c.Networks))
	for _, n := range c.Networks {
		if n.ChainID != "" && n.ExplorerURL != "" {
			out[strings.ToLower(n.ChainID)] = n.ExplorerURL
		}
	}
	return out
}
