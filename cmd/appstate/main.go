package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	saveFlags := &SaveFlags{}
	bumpFlags := &BumpFlags{}
	serveFlags := &ServeFlags{}

	appCommand := command{global: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createSaveCommand(appCommand, saveFlags),
		createLoadCommand(appCommand),
		createBumpCommand(appCommand, bumpFlags),
		createWindDownCommand(appCommand, bumpFlags),
		createDeleteCommand(appCommand),
		createPathCommand(appCommand),
		createServeCommand(appCommand, serveFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "appstate",
		Short: "Inspect and update application state files",
		Long: `appstate reads and writes the four-line state file
(name, version, pid, event counter) that applications checkpoint to.

Examples:
  appstate path
  appstate save --name=agent --version=1.0.0 --pid=4242 --counter=7
  appstate load --config=agent.toml
  appstate serve --listen=127.0.0.1:8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.StatePath, "path", "", "state file path (overrides [state].path)")
	return root
}

func createSaveCommand(appCommand command, f *SaveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Write a state file from flags",
		Long: `Write name, version, pid and event counter to the state file.
The name defaults to [app].app_name.

Examples:
  appstate save --name=agent --version=1.0.0 --pid=4242 --counter=7
  appstate save --version=2.0.0 --atomic --mkdir --path=/var/run/agent/agent.state`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return appCommand.Save(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "application name")
	cmd.Flags().StringVar(&f.Version, "version", "", "application version (required)")
	cmd.Flags().Uint32Var(&f.PID, "pid", uint32(os.Getpid()), "process id")
	cmd.Flags().Uint32Var(&f.Counter, "counter", 0, "event counter")
	cmd.Flags().BoolVar(&f.Atomic, "atomic", false, "write via temp file and rename")
	cmd.Flags().BoolVar(&f.Mkdir, "mkdir", false, "create the parent directory if missing")
	if err := cmd.MarkFlagRequired("version"); err != nil {
		panic(err)
	}
	return cmd
}

func createLoadCommand(appCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Print the state file as JSON",
		Long: `Decode the state file and print it as JSON.
Exits 2 when the file is malformed and 3 when it cannot be read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return appCommand.Load()
		},
	}
}

func createBumpCommand(appCommand command, f *BumpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bump",
		Short: "Restore the state, advance the event counter and save",
		RunE: func(cmd *cobra.Command, args []string) error {
			return appCommand.Bump(*f)
		},
	}
	cmd.Flags().StringVar(&f.Version, "version", "0.0.0", "version used when no state file exists")
	return cmd
}

func createWindDownCommand(appCommand command, f *BumpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wind-down",
		Short: "Record a final stopping checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return appCommand.WindDown(*f)
		},
	}
	cmd.Flags().StringVar(&f.Version, "version", "0.0.0", "version used when no state file exists")
	return cmd
}

func createDeleteCommand(appCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return appCommand.Delete()
		},
	}
}

func createPathCommand(appCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved state file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return appCommand.Path()
		},
	}
}

func createServeCommand(appCommand command, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the state file over HTTP",
		Long: `Serve the state file, store record and history over HTTP.
/metrics is mounted when [metrics].enabled is set.

Examples:
  appstate serve --config=agent.toml
  appstate serve --listen=:9000 --base-path=/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return appCommand.Serve(*f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (overrides [server].listen)")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "URL prefix (overrides [server].base_path)")
	return cmd
}
