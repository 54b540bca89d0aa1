package treesync

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/function61/peili/pkg/dirmap"
	"github.com/function61/peili/pkg/fsattr"
	"github.com/function61/peili/pkg/fsnode"
	"golang.org/x/sys/unix"
)

// syncMeta converges destination metadata towards the source snapshot,
// in a fixed order (ownership before permission bits: chown can clear
// setuid/setgid). dst is the last known destination state; nil means
// unknown, which applies every enabled attribute. A step failure stops
// the remaining steps unless ignore mode is set.
func (s *Syncer) syncMeta(src *fsnode.Node, dstPath string, dst *fsnode.Node, copied bool) error {
	if err := s.metaOwner(src, dstPath, dst); err != nil {
		return err
	}
	if err := s.metaPerms(src, dstPath, dst); err != nil {
		return err
	}
	if err := s.metaAttrs(src, dstPath, dst); err != nil {
		return err
	}
	if err := s.metaACLs(src, dstPath, dst); err != nil {
		return err
	}
	if err := s.metaTimes(src, dstPath, dst); err != nil {
		return err
	}
	if err := s.metaFlags(src, dstPath, dst, copied); err != nil {
		return err
	}

	return nil
}

func (s *Syncer) metaChanged(dst *fsnode.Node, differs func(dst *fsnode.Node) bool) bool {
	return s.cfg.Force || dst == nil || differs(dst)
}

func (s *Syncer) metaOwner(src *fsnode.Node, dstPath string, dst *fsnode.Node) error {
	if !s.cfg.PreserveOwner || !s.cfg.ownerChangeAllowed(src.UID) {
		return nil
	}

	uid := -1
	if s.metaChanged(dst, func(d *fsnode.Node) bool { return d.UID != src.UID }) {
		uid = int(src.UID)
	}

	gid := -1
	if s.cfg.groupChangeAllowed(src.GID) &&
		s.metaChanged(dst, func(d *fsnode.Node) bool { return d.GID != src.GID }) {
		gid = int(src.GID)
	}

	if (uid == -1 && gid == -1) || s.cfg.DryRun {
		return nil
	}

	if err := os.Lchown(dstPath, uid, gid); err != nil {
		// expected when unprivileged; not worth failing the entry over
		if errors.Is(err, fs.ErrPermission) {
			s.log.Debug.Printf("%s: chown not permitted", dstPath)
			return nil
		}
		return s.fail(fmt.Errorf("%s: chown: %w", dstPath, err))
	}

	return nil
}

func (s *Syncer) metaPerms(src *fsnode.Node, dstPath string, dst *fsnode.Node) error {
	if !s.cfg.PreservePerms {
		return nil
	}

	if !s.metaChanged(dst, func(d *fsnode.Node) bool { return d.Perm != src.Perm }) {
		return nil
	}

	if s.cfg.DryRun {
		return nil
	}

	if src.Kind == fsnode.Symlink {
		err := unix.Fchmodat(unix.AT_FDCWD, dstPath, permToSyscall(src.Perm), unix.AT_SYMLINK_NOFOLLOW)
		if err != nil {
			// symlink permission bits are a per-platform novelty
			if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTSUP) {
				s.log.Debug.Printf("%s: symlink chmod not supported", dstPath)
				return nil
			}
			return s.fail(fmt.Errorf("%s: chmod: %w", dstPath, err))
		}
		return nil
	}

	if err := os.Chmod(dstPath, src.Perm); err != nil {
		return s.fail(fmt.Errorf("%s: chmod: %w", dstPath, err))
	}

	return nil
}

func (s *Syncer) metaAttrs(src *fsnode.Node, dstPath string, dst *fsnode.Node) error {
	if !s.cfg.Attrs {
		return nil
	}

	namespaces := []struct {
		ns  fsattr.Namespace
		src *dirmap.Map[[]byte]
		dst *dirmap.Map[[]byte]
	}{
		{fsattr.NamespaceUser, src.AttrsUser, attrTableOrNil(dst, fsattr.NamespaceUser)},
		{fsattr.NamespaceSystem, src.AttrsSystem, attrTableOrNil(dst, fsattr.NamespaceSystem)},
	}

	for _, namespace := range namespaces {
		if err := s.syncAttrNamespace(dstPath, namespace.ns, namespace.src, namespace.dst); err != nil {
			return err
		}
	}

	return nil
}

func attrTableOrNil(dst *fsnode.Node, ns fsattr.Namespace) *dirmap.Map[[]byte] {
	if dst == nil {
		return nil
	}
	if ns == fsattr.NamespaceUser {
		return dst.AttrsUser
	}
	return dst.AttrsSystem
}

func (s *Syncer) syncAttrNamespace(dstPath string, ns fsattr.Namespace, srcAttrs *dirmap.Map[[]byte], dstAttrs *dirmap.Map[[]byte]) error {
	err := srcAttrs.ForEach(func(name string, value []byte) error {
		if !s.cfg.Force && dstAttrs != nil {
			if existing, ok := dstAttrs.Lookup(name); ok && bytes.Equal(existing, value) {
				return nil
			}
		}

		if s.cfg.DryRun {
			return nil
		}

		if err := fsattr.Set(dstPath, ns, name, value, false); err != nil {
			return s.fail(fmt.Errorf("%s: set %s.%s: %w", dstPath, ns, name, err))
		}

		return nil
	})
	if err != nil {
		return err
	}

	if !s.cfg.RemoveStaleAttrs || dstAttrs == nil {
		return nil
	}

	return dstAttrs.ForEach(func(name string, _ []byte) error {
		if _, inSource := srcAttrs.Lookup(name); inSource {
			return nil
		}

		if s.cfg.DryRun {
			return nil
		}

		if err := fsattr.Delete(dstPath, ns, name, false); err != nil {
			return s.fail(fmt.Errorf("%s: delete %s.%s: %w", dstPath, ns, name, err))
		}

		return nil
	})
}

func (s *Syncer) metaACLs(src *fsnode.Node, dstPath string, dst *fsnode.Node) error {
	if !s.cfg.ACLs {
		return nil
	}

	categories := []struct {
		cat fsattr.Category
		src *fsattr.ACL
		dst *fsattr.ACL
	}{
		{fsattr.NFS4, src.ACLNFS4, aclOrNil(dst, fsattr.NFS4)},
		{fsattr.Access, src.ACLAccess, aclOrNil(dst, fsattr.Access)},
		{fsattr.Default, src.ACLDefault, aclOrNil(dst, fsattr.Default)},
	}

	for _, category := range categories {
		if category.src == nil {
			continue // source carries no ACL of this category
		}
		if !s.cfg.Force && dst != nil && category.src.Equal(category.dst) {
			continue
		}
		if s.cfg.DryRun {
			continue
		}

		if err := fsattr.SetACL(dstPath, category.cat, category.src, false); err != nil {
			return s.fail(fmt.Errorf("%s: set %s acl: %w", dstPath, category.cat, err))
		}
	}

	return nil
}

func aclOrNil(dst *fsnode.Node, cat fsattr.Category) *fsattr.ACL {
	if dst == nil {
		return nil
	}
	switch cat {
	case fsattr.NFS4:
		return dst.ACLNFS4
	case fsattr.Access:
		return dst.ACLAccess
	default:
		return dst.ACLDefault
	}
}

func (s *Syncer) metaTimes(src *fsnode.Node, dstPath string, dst *fsnode.Node) error {
	if s.cfg.CheckTimes < 2 { // timestamps reset only in exact mode
		return nil
	}

	changed := s.metaChanged(dst, func(d *fsnode.Node) bool {
		return !d.Mtime.Equal(src.Mtime) || !d.Atime.Equal(src.Atime)
	})
	if !changed || s.cfg.DryRun {
		return nil
	}

	timespecs := []unix.Timespec{
		unix.NsecToTimespec(src.Atime.UnixNano()),
		unix.NsecToTimespec(src.Mtime.UnixNano()),
	}

	if err := unix.UtimesNanoAt(unix.AT_FDCWD, dstPath, timespecs, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return s.fail(fmt.Errorf("%s: utimes: %w", dstPath, err))
	}

	return nil
}

func (s *Syncer) metaFlags(src *fsnode.Node, dstPath string, dst *fsnode.Node, copied bool) error {
	if !s.cfg.Flags {
		return nil
	}

	target := src.Flags &^ fsnode.FlagArchive

	changed := s.metaChanged(dst, func(d *fsnode.Node) bool {
		return d.Flags&^fsnode.FlagArchive != target
	})
	if changed && !s.cfg.DryRun {
		if err := fsnode.SetFlags(dstPath, src.Kind, target); err != nil {
			if fsnode.IsFlagsUnsupported(err) {
				s.log.Debug.Printf("%s: file flags not supported", dstPath)
			} else {
				return s.fail(fmt.Errorf("%s: set flags: %w", dstPath, err))
			}
		}
	}

	// a consumed archive bit marks the source object as backed up
	if s.cfg.ConsumeArchive && copied && fsnode.FlagArchive != 0 &&
		src.Flags&fsnode.FlagArchive != 0 && !s.cfg.DryRun {
		if err := fsnode.SetFlags(src.Path, src.Kind, src.Flags&^fsnode.FlagArchive); err != nil {
			return s.fail(fmt.Errorf("%s: consume archive bit: %w", src.Path, err))
		}
	}

	return nil
}

func permToSyscall(perm os.FileMode) uint32 {
	mode := uint32(perm.Perm())
	if perm&os.ModeSetuid != 0 {
		mode |= unix.S_ISUID
	}
	if perm&os.ModeSetgid != 0 {
		mode |= unix.S_ISGID
	}
	if perm&os.ModeSticky != 0 {
		mode |= unix.S_ISVTX
	}

	return mode
}
