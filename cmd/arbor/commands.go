package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"arbor/internal/delta"
	"arbor/internal/errors"
	"arbor/internal/server"
	"arbor/internal/workspace"
	"arbor/shared/types"
	"arbor/shared/utils"

	"github.com/spf13/cobra"
)

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace in the directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace.Init(opts.dir, opts.cfg, opts.logger.Logger)
			if err != nil {
				return fmt.Errorf("initializing workspace: %w", err)
			}
			defer ws.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Initialized arbor workspace in", ws.Root())
			return nil
		},
	}
}

func newTreeCmd(opts *options) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Print the element tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(func(ws *workspace.Workspace) error {
				node, err := ws.Tree(cmd.Context(), firstArg(args), depth)
				if err != nil {
					return err
				}
				printTree(cmd.OutOrStdout(), node, "")
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", -1, "levels to print, negative for all")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	var showDelta bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show changes since the last checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(func(ws *workspace.Workspace) error {
				st, d, err := ws.Status(cmd.Context())
				if errors.IsNotFound(err) {
					return fmt.Errorf("%w (run 'arbor checkpoint -m <message>' first)", err)
				}
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st)
				if showDelta && !d.IsEmpty() {
					fmt.Fprintln(cmd.OutOrStdout())
					fmt.Fprint(cmd.OutOrStdout(), d.String())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showDelta, "delta", false, "also print the element delta")
	return cmd
}

func newDiffCmd(opts *options) *cobra.Command {
	var patch bool
	cmd := &cobra.Command{
		Use:   "diff [paths...]",
		Short: "Show line changes since the last checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(func(ws *workspace.Workspace) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 && !patch {
					diffs, err := ws.DiffAll(cmd.Context())
					if err != nil {
						return err
					}
					for _, d := range diffs {
						printFileDiff(out, d)
					}
					return nil
				}
				if len(args) == 0 {
					st, _, err := ws.Status(cmd.Context())
					if err != nil {
						return err
					}
					for _, c := range st.Changes {
						if !c.Dir {
							args = append(args, c.Path)
						}
					}
				}
				for _, p := range args {
					ld, err := ws.Diff(cmd.Context(), p)
					if errors.IsNotFound(err) {
						fmt.Fprintf(out, "File does not exist: %s\n", p)
						continue
					}
					if err != nil {
						return fmt.Errorf("showing diff for %s: %w", p, err)
					}
					if !patch {
						printFileDiff(out, types.FromLineDiff(p, ld))
						continue
					}
					if ld.IsEmpty() {
						continue
					}
					b, err := ld.Patch("a/"+p, "b/"+p)
					if err != nil {
						return err
					}
					out.Write(b)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&patch, "patch", false, "print a unified patch without color")
	return cmd
}

func newCheckpointCmd(opts *options) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Record the current contents of the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(func(ws *workspace.Workspace) error {
				cp, err := ws.Checkpoint(cmd.Context(), message)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint %s: %d files\n", cp.ID, len(cp.Files))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "checkpoint message")
	cmd.MarkFlagRequired("message")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List checkpoints, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(func(ws *workspace.Workspace) error {
				list, err := ws.Checkpoints().List()
				if err != nil {
					return err
				}
				for _, cp := range list {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
						utils.ShortHash(cp.ID, 8), cp.CreatedAt.Format("2006-01-02 15:04:05"), cp.Message)
				}
				return nil
			})
		},
	})
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print element deltas as files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return opts.withWorkspace(func(ws *workspace.Workspace) error {
				out := cmd.OutOrStdout()
				unsubscribe := ws.Events().Subscribe(func(ev delta.Event) {
					printEvent(out, types.FromEvent(ev))
				})
				defer unsubscribe()
				fmt.Fprintln(out, "Watching", ws.Root())
				return ws.Watcher().Run(ctx)
			})
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return opts.withWorkspace(func(ws *workspace.Workspace) error {
				return server.Run(ctx, ws, opts.cfg, opts.logger, nil)
			})
		},
	}
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
