package commands

import (
	"fmt"

	"github.com/opd-ai/localshare"
	"github.com/opd-ai/localshare/discovery"
	"github.com/spf13/cobra"
)

func addressCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the URL other devices would use to reach this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := envPort(cmd.Flags(), port)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), discovery.NewPublisher(p, discovery.SystemLister{}).ConnectURL())
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", localshare.DefaultPort, "server port (env "+EnvPort+")")
	return cmd
}
