package console

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the console on the terminal and blocks until the operator quits
// or ctx is cancelled.
//
// Desk changes are coalesced: bursts of notifications collapse into a single
// redraw so the desk never blocks on the terminal.
func Run(ctx context.Context, desk Desk, opts Options, progOpts ...tea.ProgramOption) error {
	progOpts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, progOpts...)
	p := tea.NewProgram(NewModel(desk, opts), progOpts...)

	changed := make(chan struct{}, 1)
	unsub := desk.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-changed:
				p.Send(deskChangedMsg{})
			case <-done:
				return
			}
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
