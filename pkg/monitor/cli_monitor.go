package monitor

import (
	"fmt"
	"io"
	"os"

	"relay/pkg/events"
)

// CLIMonitor renders every bus event to the terminal as it arrives.
type CLIMonitor struct {
	writer io.Writer
	stop   chan struct{}
}

func NewCLIMonitor() *CLIMonitor {
	return &CLIMonitor{writer: os.Stdout, stop: make(chan struct{})}
}

// Start subscribes to bus and renders events until Stop is called.
func (m *CLIMonitor) Start(bus events.Bus) error {
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - gateway activity will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")

	ch := bus.Subscribe()
	go func() {
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				m.render(evt)
			case <-m.stop:
				return
			}
		}
	}()
	return nil
}

func (m *CLIMonitor) Stop() error {
	close(m.stop)
	return nil
}

func (m *CLIMonitor) render(evt events.Event) {
	timestamp := evt.CreatedAt.Format("2006-01-02 15:04:05")
	contact := evt.Contact.String()
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m [%s] %s %v\n", timestamp, evt.Kind, contact, evt.Payload)
}
