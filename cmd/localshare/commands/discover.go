package commands

import (
	"fmt"
	"time"

	"github.com/opd-ai/localshare/discovery"
	"github.com/spf13/cobra"
)

func discoverCmd() *cobra.Command {
	var (
		timeout time.Duration
		cfg     discovery.BeaconConfig
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Listen for servers announcing themselves on the LAN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := discovery.Browse(cmd.Context(), cfg, timeout)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no servers found")
				return nil
			}
			for _, a := range found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t(from %s)\n", a.Address, a.Source)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to listen")
	cmd.Flags().StringVar(&cfg.Group, "group", discovery.DefaultGroup, "multicast group")
	cmd.Flags().IntVar(&cfg.Port, "beacon-port", discovery.DefaultBeaconPort, "multicast port")
	return cmd
}
