package treesync

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/function61/peili/pkg/dirmap"
	"github.com/function61/peili/pkg/fsnode"
	"golang.org/x/sys/unix"
)

// Table is one materialized directory listing: entry base name ->
// snapshot. The table exclusively owns its snapshots; it lives for one
// comparison pass and is garbage when the pass returns.
type Table = dirmap.Map[*fsnode.Node]

// loadLevel materializes one directory level. Missing path = empty
// table. A non-directory path = single-entry table keyed by base name.
func (s *Syncer) loadLevel(path string) (*Table, error) {
	table := dirmap.New[*fsnode.Node]()

	entries, err := os.ReadDir(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return table, nil
		case errors.Is(err, unix.ENOTDIR):
			return table, s.loadSingle(table, path, filepath.Base(path))
		default:
			return nil, err
		}
	}

	for _, entry := range entries {
		if err := s.loadSingle(table, filepath.Join(path, entry.Name()), entry.Name()); err != nil {
			return nil, err
		}
	}

	return table, nil
}

func (s *Syncer) loadSingle(table *Table, path string, name string) error {
	node, err := fsnode.Scan(path, s.cfg.nodeOptions())
	if err != nil {
		switch {
		case node != nil:
			// only the link target failed to resolve; usable without
			// it when errors are ignorable
			if ferr := s.fail(err); ferr != nil {
				return ferr
			}
		case os.IsNotExist(err):
			return nil // disappeared between listing and stat
		default:
			// stat failure is fatal for the entry: it cannot be
			// classified. Skipped entirely under ignore mode.
			return s.fail(err)
		}
	}

	if node == nil {
		return nil
	}

	if err := table.Insert(name, node); err != nil {
		// duplicate names cannot come out of one directory listing,
		// but multiple single-object sources can collide
		return s.fail(err)
	}

	return nil
}
