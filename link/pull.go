package link

import (
	"context"
	"fmt"

	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/logger"
)

// PullResult lists what one pull produced
type PullResult struct {
	Address   string       `json:"address"`
	Completed int          `json:"completed"`
	Files     []fts.Notice `json:"files"`
}

// Pull connects to address, waits until the recorder has no more files, and
// disconnects. Run must already be running. Files received before a failure
// are returned together with the error.
func (m *Manager) Pull(ctx context.Context, address string) (*PullResult, error) {
	notices := make(chan fts.Notice, 1024)
	unsubscribe := m.Subscribe(func(n fts.Notice) {
		select {
		case notices <- n:
		default:
			logger.Warn(m.tag(), "⚠️  Pull dropped notice %s", n.Kind)
		}
	})
	defer unsubscribe()

	result := &PullResult{Address: address}
	if err := m.Connect(ctx, address); err != nil {
		return result, err
	}
	defer m.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case n := <-notices:
			if !n.Terminal() {
				if n.Kind == fts.NoticeFileReceived {
					result.Files = append(result.Files, n)
				}
				continue
			}
			switch n.Kind {
			case fts.NoticeAllFilesReceived:
				result.Completed = n.Count
				return result, nil
			case fts.NoticeUnsupportedDevice:
				return result, fmt.Errorf("%w: %s", ErrUnsupportedDevice, n.Reason)
			case fts.NoticeTransferAborted:
				return result, fmt.Errorf("%w: %s", ErrTransferAborted, n.Reason)
			default:
				return result, fmt.Errorf("%w: %s", fts.ErrLinkLost, n.Reason)
			}
		}
	}
}
