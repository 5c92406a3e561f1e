package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/localshare/client"
	"github.com/opd-ai/localshare/file"
	"github.com/opd-ai/localshare/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func listenCmd() *cobra.Command {
	var (
		flags dialFlags
		dir   string
	)
	cmd := &cobra.Command{
		Use:   "listen <host:port>",
		Short: "Join the room and print what arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var store *file.Store
			if dir != "" {
				s, err := file.NewStore(dir)
				if err != nil {
					return err
				}
				store = s
			}

			c, err := flags.dial(ctx, cmd, args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "joined as %s\n", c.SessionID())
			return listen(ctx, c, store, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&dir, "dir", "", "save received files here")
	return cmd
}

// listen prints frames from c until ctx ends or the connection drops.
// Relayed chunks are reassembled before the file is reported.
func listen(ctx context.Context, c *client.Client, store *file.Store, out io.Writer) error {
	files := file.NewManager(file.ManagerConfig{})
	defer files.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-c.Frames():
			if !ok {
				return c.Err()
			}
			switch f.Kind {
			case transport.KindText:
				fmt.Fprintf(out, "[%s] %s: %s\n", stamp(f.Timestamp), f.OriginSessionID, f.Content)
			case transport.KindFileChunk:
				_, done, err := files.AcceptChunk(f.FileID, f.OriginSessionID, f.Name, f.ChunkIndex, f.ChunkCount, f.Bytes)
				if err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "listen",
						"file_id":  f.FileID,
						"error":    err.Error(),
					}).Warn("Dropping relayed chunk")
					continue
				}
				if done != nil {
					reportFile(out, store, f, done)
				}
			case transport.KindError:
				fmt.Fprintf(out, "! server: %s\n", f.Content)
			}
		}
	}
}

func reportFile(out io.Writer, store *file.Store, f *transport.Frame, done *file.Completed) {
	where := ""
	if store != nil {
		path, err := store.Save(done.Name, done.Data)
		if err != nil {
			fmt.Fprintf(out, "! could not save %s: %v\n", done.Name, err)
			return
		}
		where = " -> " + path
	}
	fmt.Fprintf(out, "[%s] %s: file %s (%d bytes)%s\n", stamp(f.Timestamp), f.OriginSessionID, done.Name, len(done.Data), where)
}

func stamp(ms int64) string {
	if ms == 0 {
		return "--:--"
	}
	return time.UnixMilli(ms).Format(time.Kitchen)
}
