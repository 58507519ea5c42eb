package main

import (
	"fmt"
	"io"

	"arbor/client"
	"arbor/shared/types"

	"github.com/spf13/cobra"
)

func newRemoteCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query a running arbor server",
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "server URL (default from config)")

	newClient := func() *client.Client {
		if opts.addr != "" {
			return client.New(opts.addr)
		}
		return client.New("http://" + opts.cfg.Addr())
	}

	var depth int
	treeCmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Print the server's element tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := newClient().Tree(cmd.Context(), firstArg(args), depth)
			if err != nil {
				return err
			}
			printTree(cmd.OutOrStdout(), node, "")
			return nil
		},
	}
	treeCmd.Flags().IntVarP(&depth, "depth", "d", 1, "levels to print, negative for all")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the server's changes since the last checkpoint",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := newClient().Status(cmd.Context())
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			},
		},
		treeCmd,
		&cobra.Command{
			Use:   "cache",
			Short: "Show the server's element cache statistics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := newClient().Cache(cmd.Context())
				if err != nil {
					return err
				}
				printCacheStats(cmd.OutOrStdout(), st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "events",
			Short: "Stream the server's change events",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				out := cmd.OutOrStdout()
				return newClient().Events(ctx, func(ev types.Event) bool {
					printEvent(out, ev)
					return true
				})
			},
		},
	)
	return cmd
}

func printCacheStats(w io.Writer, st *types.CacheStats) {
	fmt.Fprintf(w, "cache %s\n", st.Name)
	fmt.Fprintf(w, "  entries:        %d\n", st.Len)
	fmt.Fprintf(w, "  space limit:    %d (current %d, overflow %d)\n", st.SpaceLimit, st.CurrentSpace, st.Overflow)
	fmt.Fprintf(w, "  hits/misses:    %d/%d (%.1f%%)\n", st.Hits, st.Misses, st.HitRate*100)
	fmt.Fprintf(w, "  evictions:      %d\n", st.Evictions)
	fmt.Fprintf(w, "  working copies: %d\n", st.WorkingCopy)
}
