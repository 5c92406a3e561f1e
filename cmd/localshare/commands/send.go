package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send text or a file to everyone in the room",
	}
	cmd.AddCommand(sendTextCmd(), sendFileCmd())
	return cmd
}

func sendTextCmd() *cobra.Command {
	var flags dialFlags
	cmd := &cobra.Command{
		Use:   "text <host:port> <message>",
		Short: "Send a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := flags.dial(ctx, cmd, args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := c.SendText(args[1])
			if err != nil {
				return err
			}
			if err := awaitAck(ctx, c, id, flags.wait); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func sendFileCmd() *cobra.Command {
	var flags dialFlags
	cmd := &cobra.Command{
		Use:   "file <host:port> <path>",
		Short: "Send a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := flags.dial(ctx, cmd, args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := c.SendFile(args[1])
			if err != nil {
				return err
			}
			if err := awaitAck(ctx, c, id, flags.wait); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", args[1])
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
