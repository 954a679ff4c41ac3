// Package monitor gives the operator a live view of gateway activity
// by subscribing to the event bus, rather than being called directly
// by channel handlers.
package monitor

import "relay/pkg/events"

// Monitor defines the lifecycle for an observability plugin: Start
// begins consuming events.Bus in the background, Stop releases its
// resources.
type Monitor interface {
	Start(bus events.Bus) error
	Stop() error
}

// SetupEnvironment prints the startup banner and returns the default
// CLI monitor, ready for Start.
func SetupEnvironment() Monitor {
	PrintBanner()
	return NewCLIMonitor()
}

// PrintBanner prints the startup banner.
func PrintBanner() {
	const banner = `
relay — personal messaging gateway
`
	println(banner)
}
