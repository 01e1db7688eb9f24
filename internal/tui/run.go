package tui

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/audiolibrelab/memocapture/internal/client"
)

// Run opens the window against a running server and blocks until it closes.
// With keepServer the server keeps running after the window closes.
func Run(ctx context.Context, c *client.Client, keepServer bool) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("the terminal window needs an interactive terminal")
	}
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("no memocapture server at %s (start one with 'memocapture serve'): %w", c.BaseURL(), err)
	}

	stream, err := c.Events(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	p := tea.NewProgram(NewModel(c, keepServer), tea.WithAltScreen())
	go func() {
		for {
			e, err := stream.Next()
			if err != nil {
				log.Debug().Err(err).Msg("event stream closed")
				p.Send(DisconnectedMsg{Err: err})
				return
			}
			p.Send(EventMsg(e))
		}
	}()

	_, err = p.Run()
	return err
}
