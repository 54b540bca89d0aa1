package treesync

import (
	"bytes"
	"errors"
	"strings"

	"github.com/function61/peili/pkg/dirmap"
	"github.com/function61/peili/pkg/fsnode"
)

// Diff is a set of independent difference bits between a source and a
// destination snapshot. Bits for disabled features are never set.
type Diff uint32

const (
	DiffType Diff = 1 << iota
	DiffOwner
	DiffGroup
	DiffLink
	DiffDevice
	DiffMtime
	DiffSize
	DiffDigest
	DiffACLNFS4
	DiffACLAccess
	DiffACLDefault
	DiffAttrsUser
	DiffAttrsSystem
	DiffFlags
	DiffArchive  // archive bit set on source: needs re-copy regardless of other bits
	DiffNotFound // destination state unknown
)

// which bits force a content re-copy
const (
	fileCopyTriggers = DiffNotFound | DiffArchive | DiffDigest | DiffMtime | DiffSize
	linkCopyTriggers = DiffNotFound | DiffLink
	nodeCopyTriggers = DiffNotFound | DiffDevice // device nodes get recreated
)

var diffNames = []struct {
	bit  Diff
	name string
}{
	{DiffType, "type"},
	{DiffOwner, "owner"},
	{DiffGroup, "group"},
	{DiffLink, "link"},
	{DiffDevice, "device"},
	{DiffMtime, "mtime"},
	{DiffSize, "size"},
	{DiffDigest, "digest"},
	{DiffACLNFS4, "acl-nfs4"},
	{DiffACLAccess, "acl-access"},
	{DiffACLDefault, "acl-default"},
	{DiffAttrsUser, "attrs-user"},
	{DiffAttrsSystem, "attrs-system"},
	{DiffFlags, "flags"},
	{DiffArchive, "archive"},
	{DiffNotFound, "not-found"},
}

func (d Diff) String() string {
	if d == 0 {
		return "unchanged"
	}

	names := []string{}
	for _, candidate := range diffNames {
		if d&candidate.bit != 0 {
			names = append(names, candidate.name)
		}
	}

	return strings.Join(names, ",")
}

// compare evaluates the difference bitmask between two same-level
// snapshots. Only enabled features contribute bits. An absent
// destination yields the not-found sentinel, which intersects every
// copy-trigger mask.
func (c *Config) compare(src *fsnode.Node, dst *fsnode.Node) Diff {
	if dst == nil {
		return DiffNotFound
	}

	d := Diff(0)

	if src.Kind != dst.Kind {
		d |= DiffType
	}

	if src.UID != dst.UID && c.ownerChangeAllowed(src.UID) {
		d |= DiffOwner
	}
	if src.GID != dst.GID && c.groupChangeAllowed(src.GID) {
		d |= DiffGroup
	}

	if src.Kind == fsnode.Symlink && src.LinkTarget != dst.LinkTarget {
		d |= DiffLink
	}

	if (src.Kind == fsnode.Block || src.Kind == fsnode.Char) && src.Dev != dst.Dev {
		d |= DiffDevice
	}

	switch {
	case c.CheckTimes == 1: // loose: only a newer source counts
		if src.Mtime.After(dst.Mtime) {
			d |= DiffMtime
		}
	case c.CheckTimes >= 2: // exact
		if !src.Mtime.Equal(dst.Mtime) {
			d |= DiffMtime
		}
	}

	if src.Kind == fsnode.File && src.Size != dst.Size {
		d |= DiffSize
	}

	if src.Digest != nil && !bytes.Equal(src.Digest, dst.Digest) {
		d |= DiffDigest
	}

	if c.ACLs {
		if !src.ACLNFS4.Equal(dst.ACLNFS4) {
			d |= DiffACLNFS4
		}
		if !src.ACLAccess.Equal(dst.ACLAccess) {
			d |= DiffACLAccess
		}
		if !src.ACLDefault.Equal(dst.ACLDefault) {
			d |= DiffACLDefault
		}
	}

	if c.Attrs {
		if !attrsEqual(src.AttrsUser, dst.AttrsUser, c.RemoveStaleAttrs) {
			d |= DiffAttrsUser
		}
		if !attrsEqual(src.AttrsSystem, dst.AttrsSystem, c.RemoveStaleAttrs) {
			d |= DiffAttrsSystem
		}
	}

	if c.Flags {
		if src.Flags&^fsnode.FlagArchive != dst.Flags&^fsnode.FlagArchive {
			d |= DiffFlags
		}
		if fsnode.FlagArchive != 0 && src.Flags&fsnode.FlagArchive != 0 {
			d |= DiffArchive
		}
	}

	return d
}

var errAttrDiffers = errors.New("attribute differs")

// attrsEqual: every source attribute must exist identically in the
// destination. The reverse direction (stale destination attributes)
// only counts when stale removal is enabled.
func attrsEqual(src *dirmap.Map[[]byte], dst *dirmap.Map[[]byte], checkStale bool) bool {
	forward := src.ForEach(func(name string, srcValue []byte) error {
		dstValue, exists := dst.Lookup(name)
		if !exists || !bytes.Equal(srcValue, dstValue) {
			return errAttrDiffers
		}
		return nil
	})
	if forward != nil {
		return false
	}

	if checkStale {
		stale := dst.ForEach(func(name string, _ []byte) error {
			if _, exists := src.Lookup(name); !exists {
				return errAttrDiffers
			}
			return nil
		})
		if stale != nil {
			return false
		}
	}

	return true
}
