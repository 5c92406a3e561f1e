package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/opd-ai/localshare/client"
	"github.com/opd-ai/localshare/transport"
	"github.com/spf13/cobra"
)

// dialFlags are shared by the commands that join a room.
type dialFlags struct {
	clientID string
	attempts int
	backoff  time.Duration
	wait     time.Duration
}

func (f *dialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "stable id; a reconnect with the same id replaces the old session")
	cmd.Flags().IntVar(&f.attempts, "retries", client.DefaultRetryAttempts, "connection attempts")
	cmd.Flags().DurationVar(&f.backoff, "backoff", client.DefaultRetryBackoff, "delay between connection attempts")
	cmd.Flags().DurationVar(&f.wait, "wait", 10*time.Second, "how long to wait for the server's acknowledgement")
}

func (f *dialFlags) dial(ctx context.Context, cmd *cobra.Command, address string) (*client.Client, error) {
	return client.DialWithRetry(ctx, client.Config{
		Address:     address,
		Network:     network,
		ClientID:    f.clientID,
		PairingCode: envPairingCode(cmd.Flags()),
	}, f.attempts, f.backoff)
}

// awaitAck waits for the ack carrying id, failing on an error frame.
func awaitAck(ctx context.Context, c *client.Client, id string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("no acknowledgement for %s within %s", id, timeout)
		case f, ok := <-c.Frames():
			if !ok {
				if err := c.Err(); err != nil {
					return err
				}
				return client.ErrClosed
			}
			switch {
			case f.Kind == transport.KindAck && f.ID == id:
				return nil
			case f.Kind == transport.KindError:
				return fmt.Errorf("server refused: %s", f.Content)
			}
		}
	}
}
