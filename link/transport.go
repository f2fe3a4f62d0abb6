package link

import (
	"context"

	"github.com/user/dictofun-sync/fts"
)

// Transport is a GATT link to one recorder. Implementations deliver
// notifications, descriptor confirmations and link loss on Events(),
// in the order the radio reported them.
type Transport interface {
	// Connect opens the link to address and returns once it is up
	Connect(ctx context.Context, address string) error

	// DiscoverServices returns the GATT surface of the connected peer
	DiscoverServices(ctx context.Context) (fts.Surface, error)

	// EnableNotification writes the CCCD of c. The confirmation (or failure)
	// arrives later as fts.DescriptorWritten. A returned error means the
	// write was never issued.
	EnableNotification(c fts.Characteristic) error

	// WriteCommand writes to the CommandOut characteristic without response
	WriteCommand(data []byte) error

	// Disconnect drops the link. It is safe to call on a dead link.
	Disconnect() error

	// Events carries inbound events until the transport is closed
	Events() <-chan fts.Event

	// Close stops event delivery for good. Callbacks still in flight drop
	// their events instead of blocking on a reader that is gone.
	Close() error
}
