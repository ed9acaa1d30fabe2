package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/wallet"
)

// Start runs the dashboard until the user quits or ctx is cancelled.
func Start(ctx context.Context, c *wallet.Controller, opts Options) error {
	if opts.Version != "" {
		Version = opts.Version
	}
	m := initialModel(ctx, c, opts)
	defer c.Unsubscribe(m.sub)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}
