// Package messaging defines interfaces for real-time communication.
package messaging

import "github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"

// Broadcaster manages realtime clients and fans change events out to them.
type Broadcaster interface {
	Register(client *Client)
	Unregister(client *Client)
	Publish(ev stores.ChangeEvent)
	ClientCount(store string) int
}
