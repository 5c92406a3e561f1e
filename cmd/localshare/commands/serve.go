package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/localshare"
	"github.com/opd-ai/localshare/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		port        int
		bind        string
		downloadDir string
		announce    bool
		slowPeer    string
		idle        time.Duration
		maxTransfer int64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server and print room activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := localshare.NewOptions()
			p, err := envPort(cmd.Flags(), port)
			if err != nil {
				return err
			}
			policy, err := session.ParseSlowPeerPolicy(slowPeer)
			if err != nil {
				return err
			}
			opts.Port = p
			opts.BindAddress = bind
			opts.Network = network
			opts.PairingCode = envPairingCode(cmd.Flags())
			opts.DownloadDir = downloadDir
			opts.Announce = announce
			opts.SlowPeerPolicy = policy
			opts.SessionIdleTimeout = idle
			opts.MaxTransferBytes = maxTransfer

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, cmd.OutOrStdout())
		},
	}

	defaults := localshare.NewOptions()
	cmd.Flags().IntVar(&port, "port", defaults.Port, "listen port (env "+EnvPort+")")
	cmd.Flags().StringVar(&bind, "bind", "", "bind address (default all interfaces)")
	cmd.Flags().StringVar(&downloadDir, "download-dir", "", "save received files here")
	cmd.Flags().BoolVar(&announce, "announce", false, "announce the server over LAN multicast")
	cmd.Flags().StringVar(&slowPeer, "slow-peer", defaults.SlowPeerPolicy.String(), `slow peer policy: "disconnect" or "drop-oldest"`)
	cmd.Flags().DurationVar(&idle, "idle-timeout", defaults.SessionIdleTimeout, "disconnect peers silent for this long")
	cmd.Flags().Int64Var(&maxTransfer, "max-transfer", defaults.MaxTransferBytes, "largest accepted file in bytes")
	return cmd
}

func serve(ctx context.Context, opts *localshare.Options, out io.Writer) error {
	srv, err := localshare.Start(ctx, opts)
	if err != nil {
		return err
	}
	defer srv.Stop()

	fmt.Fprintf(out, "listening on %s\n", srv.ConnectURL())
	logrus.WithFields(logrus.Fields{
		"function": "serve",
		"address":  srv.CurrentAddress(),
		"network":  opts.Network,
		"paired":   opts.PairingCode != "",
	}).Info("Server started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-srv.Events():
			if !ok {
				return nil
			}
			printEvent(out, ev)
		}
	}
}

func printEvent(out io.Writer, ev localshare.Event) {
	switch ev.Type {
	case localshare.PeerConnected:
		fmt.Fprintf(out, "+ %s joined from %s\n", peerLabel(ev), ev.RemoteAddr)
	case localshare.PeerDisconnected:
		fmt.Fprintf(out, "- %s left (%s)\n", peerLabel(ev), ev.Reason)
	case localshare.MessageReceived:
		fmt.Fprintf(out, "[%s] %s: %s\n", time.UnixMilli(ev.Timestamp).Format(time.Kitchen), peerLabel(ev), ev.Text)
	case localshare.FileReady:
		where := "in memory"
		if ev.Path != "" {
			where = ev.Path
		}
		fmt.Fprintf(out, "[%s] %s sent %s (%d bytes, %s)\n", time.UnixMilli(ev.Timestamp).Format(time.Kitchen), peerLabel(ev), ev.Name, len(ev.Bytes), where)
	case localshare.TransferAbandoned:
		fmt.Fprintf(out, "! transfer %s of %s abandoned (%s)\n", ev.FileID, ev.Name, ev.Reason)
	}
}

func peerLabel(ev localshare.Event) string {
	if ev.ClientID != "" {
		return ev.ClientID
	}
	return ev.SessionID
}
