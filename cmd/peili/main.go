package main

import (
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/osutil"
	"github.com/function61/peili/pkg/treesync"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     os.Args[0],
		Short:   `peili ("mirror"): local directory tree synchronization`,
		Version: dynversion.Version,
		// hide the default "completion" subcommand from polluting UX (it can still be used). https://github.com/spf13/cobra/issues/1507
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.AddCommand(treesync.Entrypoint())
	rootCmd.AddCommand(treesync.WatchEntrypoint())
	rootCmd.AddCommand(treesync.ListEntrypoint())
	rootCmd.AddCommand(treesync.DigestsEntrypoint())

	osutil.ExitIfError(rootCmd.Execute())
}
