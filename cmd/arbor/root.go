package main

import (
	"fmt"
	"path/filepath"

	"arbor/internal/config"
	"arbor/internal/logging"
	"arbor/internal/workspace"

	"github.com/spf13/cobra"
)

type options struct {
	dir        string
	configPath string
	verbose    bool
	addr       string

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "arbor",
		Short: "Arbor models a directory as a tree of elements",
		Long: `Arbor keeps an element tree of a directory: directories, files and the
sections inside them. It reports structural changes as deltas, records
checkpoints and serves the model over HTTP.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.logger, err = logging.NewCLILogger(opts.verbose); err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			path := opts.configPath
			if path == "" {
				path = filepath.Join(opts.dir, workspace.DirName, "config.json")
			}
			if opts.cfg, err = config.Load(path); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "directory to run in")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default <workspace>/.arbor/config.json)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		newInitCmd(opts),
		newTreeCmd(opts),
		newStatusCmd(opts),
		newDiffCmd(opts),
		newCheckpointCmd(opts),
		newWatchCmd(opts),
		newServeCmd(opts),
		newRemoteCmd(opts),
	)
	return root
}

// openWorkspace opens the workspace containing opts.dir.
func (o *options) openWorkspace() (*workspace.Workspace, error) {
	root, err := workspace.FindRoot(o.dir)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'arbor init' first)", err)
	}
	return workspace.Open(root, o.cfg, o.logger.Logger)
}

// withWorkspace runs fn on the workspace and closes it afterwards.
func (o *options) withWorkspace(fn func(ws *workspace.Workspace) error) error {
	ws, err := o.openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ws)
}
