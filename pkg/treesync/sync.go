// Tree comparison and synchronization: walks source and destination
// directory levels in lockstep and converges the destination with the
// minimal set of operations.
package treesync

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/peili/pkg/dirmap"
	"github.com/function61/peili/pkg/fsnode"
	"github.com/function61/peili/pkg/sparsefile"
	"golang.org/x/sys/unix"
)

type Stats struct {
	Created     int
	Updated     int
	Removed     int
	Unchanged   int
	Errors      int
	BytesCopied int64
}

type Syncer struct {
	cfg   *Config
	log   *logex.Leveled
	stats Stats
}

func New(cfg *Config, logger *log.Logger) *Syncer {
	return &Syncer{
		cfg: cfg,
		log: logex.Levels(logex.NonNil(logger)),
	}
}

func (s *Syncer) Stats() Stats {
	return s.stats
}

// Run converges dst towards each source in turn. A source ending in a
// path separator contributes its contents; otherwise the named object
// itself becomes the single entry to sync.
func (s *Syncer) Run(ctx context.Context, sources []string, dst string) error {
	for _, source := range sources {
		contentsOnly := strings.HasSuffix(source, "/") ||
			strings.HasSuffix(source, string(os.PathSeparator))
		source = filepath.Clean(source)

		if contentsOnly {
			if err := s.ensureDir(dst); err != nil {
				return err
			}
			if err := s.syncLevel(ctx, source, dst, s.cfg.Expunge); err != nil {
				return err
			}
			continue
		}

		// the top-level table holds just the named object
		srcTable := dirmap.New[*fsnode.Node]()
		if err := s.loadSingle(srcTable, source, filepath.Base(source)); err != nil {
			return err
		}
		if srcTable.Len() == 0 {
			return fmt.Errorf("%s: no such source", source)
		}

		if err := s.ensureDir(dst); err != nil {
			return err
		}

		dstTable, err := s.loadLevel(dst)
		if err != nil {
			return err
		}

		// expunge never applies in named-object mode: the destination
		// legitimately holds entries this source does not know about
		if err := s.syncTables(ctx, filepath.Dir(source), dst, srcTable, dstTable, false); err != nil {
			return err
		}
	}

	return nil
}

func (s *Syncer) ensureDir(path string) error {
	fi, err := os.Stat(path)
	if err == nil {
		if !fi.IsDir() {
			return fmt.Errorf("%s: destination is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}

	if s.cfg.DryRun {
		return nil
	}

	return os.MkdirAll(path, 0755)
}

// syncLevel loads both directory levels and runs one comparison pass.
// Both tables (and every snapshot they own) go out of scope when this
// returns: recursion unwind is deallocation.
func (s *Syncer) syncLevel(ctx context.Context, srcPath string, dstPath string, expunge bool) error {
	srcTable, err := s.loadLevel(srcPath)
	if err != nil {
		return err
	}

	dstTable, err := s.loadLevel(dstPath)
	if err != nil {
		return err
	}

	return s.syncTables(ctx, srcPath, dstPath, srcTable, dstTable, expunge)
}

func (s *Syncer) syncTables(ctx context.Context, srcPath string, dstPath string, srcTable *Table, dstTable *Table, expunge bool) error {
	err := srcTable.ForEach(func(name string, srcNode *fsnode.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		dstNode, _ := dstTable.Lookup(name)
		return s.syncEntry(ctx, srcNode, dstNode, filepath.Join(srcPath, name), filepath.Join(dstPath, name))
	})
	if err != nil {
		return err
	}

	if expunge {
		return s.removalPass(ctx, srcPath, dstPath, srcTable, dstTable)
	}

	return nil
}

// syncEntry classifies one entry (destination snapshot may be nil =
// "new") and applies the action sequence for its classification.
func (s *Syncer) syncEntry(ctx context.Context, src *fsnode.Node, dst *fsnode.Node, srcPath string, dstPath string) error {
	diff := s.cfg.compare(src, dst)

	if diff&DiffNotFound != 0 {
		return s.createNew(ctx, src, srcPath, dstPath)
	}

	switch {
	case src.Kind == fsnode.Dir && dst.Kind == fsnode.Dir:
		// no content/metadata decision at this level, just recursion
		if s.cfg.Recurse {
			return s.syncLevel(ctx, srcPath, dstPath, s.cfg.Expunge)
		}
		return nil

	case src.Kind == fsnode.Dir: // type changed: non-dir -> dir
		return s.replaceWithDir(ctx, src, dst, srcPath, dstPath)

	case dst.Kind == fsnode.Dir: // type changed: dir -> non-dir
		return s.replaceDir(ctx, src, dst, srcPath, dstPath)

	case src.Kind != dst.Kind: // type changed: non-dir -> non-dir
		return s.recreate(src, dst, srcPath, dstPath)

	default: // same non-directory kind
		return s.updateInPlace(src, dst, diff, srcPath, dstPath)
	}
}

// createNew makes a destination object matching the source kind. For
// directories the subtree is recursed *before* metadata so that child
// creation cannot clobber the directory timestamps afterwards.
func (s *Syncer) createNew(ctx context.Context, src *fsnode.Node, srcPath string, dstPath string) error {
	s.printChange("+", dstPath, src, "")
	s.stats.Created++

	if src.Kind == fsnode.Dir {
		if !s.cfg.DryRun {
			if err := os.Mkdir(dstPath, src.Perm.Perm()); err != nil {
				return s.fail(err)
			}
		}

		if s.cfg.Recurse {
			if err := s.syncLevel(ctx, srcPath, dstPath, s.cfg.Expunge); err != nil {
				return err
			}
		}

		return s.syncMeta(src, dstPath, nil, false)
	}

	copied, err := s.createObject(src, srcPath, dstPath)
	if err != nil {
		return s.fail(err)
	}
	if s.createSuppressed(src) {
		return nil
	}

	return s.syncMeta(src, dstPath, nil, copied)
}

// createSuppressed: with content copying disabled, a new regular file
// is never materialized, so there is no object to apply metadata to.
func (s *Syncer) createSuppressed(src *fsnode.Node) bool {
	return src.Kind == fsnode.File && s.cfg.SkipContent
}

// replaceWithDir: destination is a non-directory but source is a
// directory. Remove, mkdir, refresh, recurse, then metadata.
func (s *Syncer) replaceWithDir(ctx context.Context, src *fsnode.Node, dst *fsnode.Node, srcPath string, dstPath string) error {
	s.printChange("-", dstPath, dst, "")
	s.printChange("+", dstPath, src, "")
	s.stats.Updated++

	if !s.cfg.DryRun {
		if err := os.Remove(dstPath); err != nil {
			return s.fail(err)
		}
		if err := os.Mkdir(dstPath, src.Perm.Perm()); err != nil {
			return s.fail(err)
		}
		if err := dst.Refresh(); err != nil {
			return s.fail(err)
		}
	}

	if s.cfg.Recurse {
		if err := s.syncLevel(ctx, srcPath, dstPath, s.cfg.Expunge); err != nil {
			return err
		}
	}

	return s.syncMeta(src, dstPath, nil, false)
}

// replaceDir: destination is a directory but source is not. Recurse
// first so removal-of-missing logic covers the old subtree, then
// remove the (now empty) directory and create the new object.
func (s *Syncer) replaceDir(ctx context.Context, src *fsnode.Node, dst *fsnode.Node, srcPath string, dstPath string) error {
	if s.cfg.Recurse && s.cfg.Expunge {
		dstTable, err := s.loadLevel(dstPath)
		if err != nil {
			return err
		}
		// empty source table: the whole old subtree is "removed"
		if err := s.syncTables(ctx, srcPath, dstPath, dirmap.New[*fsnode.Node](), dstTable, true); err != nil {
			return err
		}
	}

	s.printChange("-", dstPath, dst, "")
	s.printChange("+", dstPath, src, "")
	s.stats.Updated++

	if !s.cfg.DryRun {
		if err := os.Remove(dstPath); err != nil {
			return s.fail(err)
		}
	}

	copied, err := s.createObject(src, srcPath, dstPath)
	if err != nil {
		return s.fail(err)
	}
	if s.createSuppressed(src) {
		return nil
	}

	if err := s.syncMeta(src, dstPath, nil, copied); err != nil {
		return err
	}

	return s.refresh(dst)
}

// recreate: both non-directories but of different kinds.
func (s *Syncer) recreate(src *fsnode.Node, dst *fsnode.Node, srcPath string, dstPath string) error {
	s.printChange("-", dstPath, dst, "")
	s.printChange("+", dstPath, src, "")
	s.stats.Updated++

	if !s.cfg.DryRun {
		if err := os.Remove(dstPath); err != nil {
			return s.fail(err)
		}
	}

	copied, err := s.createObject(src, srcPath, dstPath)
	if err != nil {
		return s.fail(err)
	}
	if s.createSuppressed(src) {
		return nil
	}

	if err := s.syncMeta(src, dstPath, nil, copied); err != nil {
		return err
	}

	return s.refresh(dst)
}

// updateInPlace: same non-directory kind on both sides. Content is
// reapplied only when the diff mask intersects the kind's
// copy-triggering bits (or force is set).
func (s *Syncer) updateInPlace(src *fsnode.Node, dst *fsnode.Node, diff Diff, srcPath string, dstPath string) error {
	if diff == 0 && !s.cfg.Force {
		s.stats.Unchanged++
		if s.cfg.Debug > 0 {
			s.log.Debug.Printf("= %s", dstPath)
		}
		return nil
	}

	copyNeeded := s.cfg.Force
	switch src.Kind {
	case fsnode.File:
		copyNeeded = copyNeeded || diff&fileCopyTriggers != 0
	case fsnode.Symlink:
		copyNeeded = copyNeeded || diff&linkCopyTriggers != 0
	default:
		copyNeeded = copyNeeded || diff&nodeCopyTriggers != 0
	}

	s.printChange("M", dstPath, src, diff.String())
	s.stats.Updated++

	if copyNeeded {
		copied, err := s.reapplyContent(src, srcPath, dstPath)
		if err != nil {
			return s.fail(err)
		}

		// the copy rewrote the object (timestamps included), so the old
		// snapshot no longer reflects on-disk state: judge every
		// metadata step against unknown destination state
		metaBase := dst
		if !s.cfg.DryRun {
			metaBase = nil
		}

		if err := s.syncMeta(src, dstPath, metaBase, copied); err != nil {
			return err
		}
	} else {
		if err := s.syncMeta(src, dstPath, dst, false); err != nil {
			return err
		}
	}

	return s.refresh(dst)
}

// createObject creates a fresh destination object of the source's
// kind. Returns whether file content got copied.
func (s *Syncer) createObject(src *fsnode.Node, srcPath string, dstPath string) (bool, error) {
	if s.cfg.DryRun {
		return false, nil
	}

	perm := uint32(src.Perm.Perm())

	switch src.Kind {
	case fsnode.File:
		if s.cfg.SkipContent {
			return false, nil
		}
		written, err := sparsefile.Copy(dstPath, srcPath, src.Perm.Perm(), s.cfg.copyOptions())
		s.stats.BytesCopied += written
		return err == nil, err

	case fsnode.Symlink:
		return false, os.Symlink(src.LinkTarget, dstPath)

	case fsnode.Block:
		return false, unix.Mknod(dstPath, perm|unix.S_IFBLK, int(src.Dev))

	case fsnode.Char:
		return false, unix.Mknod(dstPath, perm|unix.S_IFCHR, int(src.Dev))

	case fsnode.Fifo:
		return false, unix.Mkfifo(dstPath, perm)

	case fsnode.Socket:
		return false, unix.Mknod(dstPath, perm|unix.S_IFSOCK, 0)

	default:
		return false, fmt.Errorf("%s: cannot create object of unknown kind", dstPath)
	}
}

// reapplyContent re-copies content over an existing same-kind object.
func (s *Syncer) reapplyContent(src *fsnode.Node, srcPath string, dstPath string) (bool, error) {
	if s.cfg.DryRun {
		return false, nil
	}

	switch src.Kind {
	case fsnode.File:
		if s.cfg.SkipContent {
			return false, nil
		}
		written, err := sparsefile.Copy(dstPath, srcPath, src.Perm.Perm(), s.cfg.copyOptions())
		s.stats.BytesCopied += written
		return err == nil, err

	case fsnode.Symlink, fsnode.Block, fsnode.Char, fsnode.Fifo, fsnode.Socket:
		if err := os.Remove(dstPath); err != nil && !os.IsNotExist(err) {
			return false, err
		}
		return s.createObject(src, srcPath, dstPath)

	default:
		return false, fmt.Errorf("%s: cannot recreate object of unknown kind", dstPath)
	}
}

// removalPass removes destination entries that have no source
// counterpart. Entries present in source are never touched here, even
// when the main pass already handled them.
func (s *Syncer) removalPass(ctx context.Context, srcPath string, dstPath string, srcTable *Table, dstTable *Table) error {
	return dstTable.ForEach(func(name string, dstNode *fsnode.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, inSource := srcTable.Lookup(name); inSource {
			return nil
		}

		dstEntryPath := filepath.Join(dstPath, name)

		if dstNode.Kind == fsnode.Dir && s.cfg.Recurse {
			// descend first: children must go before their directory
			if err := s.syncLevel(ctx, filepath.Join(srcPath, name), dstEntryPath, true); err != nil {
				return err
			}
		}

		s.printChange("-", dstEntryPath, dstNode, "")
		s.stats.Removed++

		if s.cfg.DryRun {
			return nil
		}

		// directories go via empty-directory removal, others via unlink
		if err := os.Remove(dstEntryPath); err != nil {
			return s.fail(err)
		}

		return nil
	})
}

func (s *Syncer) refresh(dst *fsnode.Node) error {
	if s.cfg.DryRun {
		return nil
	}

	if err := dst.Refresh(); err != nil {
		return s.fail(err)
	}

	return nil
}

// fail implements the run-wide failure policy: fatal unless ignore
// mode, in which case the entry is abandoned and traversal continues.
func (s *Syncer) fail(err error) error {
	if err == nil {
		return nil
	}

	if s.cfg.IgnoreErrors {
		s.stats.Errors++
		s.log.Error.Printf("ignored: %v", err)
		return nil
	}

	return err
}
