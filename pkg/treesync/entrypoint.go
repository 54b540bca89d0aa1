// Local directory tree synchronization CLI
package treesync

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/peili/pkg/bytesize"
	"github.com/function61/peili/pkg/fsdigest"
	"github.com/function61/peili/pkg/sparsefile"
	"github.com/function61/peili/pkg/syncwatch"
	"github.com/spf13/cobra"
)

// upper bound on memoized digests in watch mode
const digestCacheEntries = 1 << 16

type flagSpec struct {
	cfg        *Config
	bufferSize string
	digest     string
	archive    bool
}

func Entrypoint() *cobra.Command {
	spec := &flagSpec{cfg: &Config{}}

	cmd := &cobra.Command{
		Use:   "sync [source]... [destination]",
		Short: "Make destination tree identical to source tree(s)",
		Long: `Make destination tree identical to source tree(s).

A source ending in "/" contributes its contents; without it the named
object itself is synced into the destination directory.`,
		Args: cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				cfg, err := spec.build()
				if err != nil {
					return err
				}

				syncer := New(cfg, logex.StandardLogger())

				if err := syncer.Run(ctx, args[:len(args)-1], args[len(args)-1]); err != nil {
					return err
				}

				if cfg.Verbose > 0 {
					syncer.PrintSummary()
				}

				if syncer.Stats().Errors > 0 {
					return fmt.Errorf("completed with %d ignored error(s)", syncer.Stats().Errors)
				}

				return nil
			}))
		},
	}

	spec.connect(cmd)

	return cmd
}

func WatchEntrypoint() *cobra.Command {
	spec := &flagSpec{cfg: &Config{}}
	debounce := 500 * time.Millisecond

	cmd := &cobra.Command{
		Use:   "watch [source]... [destination]",
		Short: "Sync, then re-sync whenever a source changes",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				cfg, err := spec.build()
				if err != nil {
					return err
				}

				// one cache across all re-syncs of this watch
				if cfg.Digest != fsdigest.None {
					cfg.DigestCache = fsdigest.NewCache(digestCacheEntries)
				}

				sources := args[:len(args)-1]
				dst := args[len(args)-1]

				logger := logex.StandardLogger()

				watcher, err := syncwatch.New(sources, debounce, func(ctx context.Context) error {
					return New(cfg, logger).Run(ctx, sources, dst)
				}, logger)
				if err != nil {
					return err
				}

				return watcher.Run(ctx)
			}))
		},
	}

	spec.connect(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", debounce, "How long to batch up changes before re-syncing")

	return cmd
}

func ListEntrypoint() *cobra.Command {
	spec := &flagSpec{cfg: &Config{}}

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a tree with ACL/attribute capability markers",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := spec.build()
			osutil.ExitIfError(err)

			osutil.ExitIfError(New(cfg, logex.StandardLogger()).List(args[0], os.Stdout))
		},
	}

	spec.connect(cmd)

	return cmd
}

func DigestsEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "digests",
		Short: "List supported content digest algorithms",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, typ := range fsdigest.Types() {
				fmt.Println(typ)
			}
		},
	}
}

func (f *flagSpec) connect(cmd *cobra.Command) {
	cfg := f.cfg

	cmd.Flags().CountVarP(&cfg.Verbose, "verbose", "v", "Print change lines (and a summary)")
	cmd.Flags().CountVarP(&cfg.Debug, "debug", "d", "Print debugging detail")
	cmd.Flags().BoolVarP(&cfg.DryRun, "dry-run", "n", false, "Classify and report only; mutate nothing")
	cmd.Flags().BoolVarP(&cfg.Force, "force", "f", false, "Re-copy content and reapply metadata even when unchanged")
	cmd.Flags().BoolVarP(&cfg.IgnoreErrors, "ignore", "i", false, "Log per-entry failures and keep going")
	cmd.Flags().BoolVarP(&cfg.Recurse, "recurse", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVarP(&cfg.PreservePerms, "perms", "p", false, "Preserve permission bits")
	cmd.Flags().BoolVarP(&cfg.PreserveOwner, "owner", "o", false, "Preserve ownership (uid/gid)")
	cmd.Flags().CountVarP(&cfg.CheckTimes, "times", "t", "Compare mtimes; once = copy when source newer, twice = exact match + timestamp reset")
	cmd.Flags().BoolVarP(&cfg.Expunge, "expunge", "m", false, "Mirror mode: remove destination entries absent from source")
	cmd.Flags().BoolVar(&cfg.SkipContent, "skip-content", false, "Never copy file content (metadata only)")
	cmd.Flags().BoolVarP(&cfg.Sparse, "sparse", "S", false, "Turn all-zero regions into holes")
	cmd.Flags().BoolVarP(&cfg.ACLs, "acls", "A", false, "Compare and preserve ACLs")
	cmd.Flags().BoolVarP(&cfg.Attrs, "attrs", "X", false, "Compare and preserve extended attributes")
	cmd.Flags().BoolVarP(&cfg.Flags, "flags", "F", false, "Compare and preserve platform file flags")
	cmd.Flags().BoolVar(&cfg.ConsumeArchive, "consume-archive", false, "Clear the source archive bit after a successful copy")
	cmd.Flags().BoolVar(&cfg.RemoveStaleAttrs, "remove-stale-attrs", false, "Delete destination attributes absent from source")
	cmd.Flags().StringVarP(&f.bufferSize, "buffer-size", "B", "128KiB", "Copy chunk size (accepts 0x hex and K/M/G, Ki/Mi/Gi suffixes)")
	cmd.Flags().StringVarP(&f.digest, "digest", "D", "none", "Content digest algorithm (see \"digests\")")
	cmd.Flags().BoolVarP(&f.archive, "archive", "a", false, "Archive mode: -rpo -tt -AXF")
}

// build finalizes the immutable run configuration from parsed flags.
func (f *flagSpec) build() (*Config, error) {
	cfg := f.cfg

	if f.archive {
		cfg.Recurse = true
		cfg.PreservePerms = true
		cfg.PreserveOwner = true
		cfg.ACLs = true
		cfg.Attrs = true
		cfg.Flags = true
		if cfg.CheckTimes < 2 {
			cfg.CheckTimes = 2
		}
	}

	bufferSize, err := bytesize.Parse(f.bufferSize)
	if err != nil {
		return nil, err
	}
	if bufferSize == 0 {
		bufferSize = sparsefile.DefaultBufferSize
	}
	cfg.BufferSize = int(bufferSize)

	digest, err := fsdigest.ParseType(f.digest)
	if err != nil {
		return nil, err
	}
	cfg.Digest = digest

	if err := cfg.CaptureIdentity(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func wrapWithStopSupport(fn func(ctx context.Context) error) error {
	return fn(osutil.CancelOnInterruptOrTerminate(logex.StandardLogger()))
}
