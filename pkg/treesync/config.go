package treesync

import (
	"os"

	"github.com/function61/peili/pkg/fsdigest"
	"github.com/function61/peili/pkg/fsnode"
	"github.com/function61/peili/pkg/sparsefile"
	"github.com/samber/lo"
)

// Config is built once from parsed CLI flags and passed (immutably)
// through the whole comparator/sync/copy chain.
type Config struct {
	Verbose int
	Debug   int

	DryRun       bool // classify and report, suppress all mutation
	Force        bool // reapply content+metadata even on zero diff
	IgnoreErrors bool // log per-entry failures and continue
	Recurse      bool

	PreservePerms bool
	PreserveOwner bool
	CheckTimes    int // 0=off, 1=copy when source newer, >=2 exact match + timestamp reset
	Expunge       bool
	SkipContent   bool
	Sparse        bool

	ACLs             bool
	Attrs            bool
	Flags            bool
	ConsumeArchive   bool
	RemoveStaleAttrs bool // stale-attr removal is its own knob, deliberately not tied to Expunge

	BufferSize int
	Digest     fsdigest.Type

	// DigestCache is shared across runs in watch mode so unchanged
	// files are not re-hashed on every re-sync; nil elsewhere.
	DigestCache *fsdigest.Cache

	uid        int
	privileged bool
	groups     []int
}

// CaptureIdentity reads the process identity. The supplementary group
// set is read once here and treated as immutable for the run.
func (c *Config) CaptureIdentity() error {
	c.uid = os.Getuid()
	c.privileged = os.Geteuid() == 0

	groups, err := os.Getgroups()
	if err != nil {
		return err
	}
	c.groups = groups

	return nil
}

func (c *Config) nodeOptions() fsnode.Options {
	return fsnode.Options{
		ACLs:        c.ACLs,
		Attrs:       c.Attrs,
		Flags:       c.Flags,
		Digest:      c.Digest,
		DigestCache: c.DigestCache,
	}
}

func (c *Config) copyOptions() sparsefile.Options {
	return sparsefile.Options{
		BufferSize: c.BufferSize,
		Sparse:     c.Sparse,
	}
}

// ownerChangeAllowed: chown can only succeed when the source owner is
// the running user or we are privileged; otherwise an owner mismatch
// is not even diff-relevant.
func (c *Config) ownerChangeAllowed(srcUID uint32) bool {
	return c.privileged || uint32(c.uid) == srcUID
}

// groupChangeAllowed is a diff-relevance heuristic, not a permission
// probe - the OS call makes the real decision.
func (c *Config) groupChangeAllowed(srcGID uint32) bool {
	return c.privileged || lo.Contains(c.groups, int(srcGID))
}
