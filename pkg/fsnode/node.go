// In-memory snapshot of one filesystem object: type, stat metadata,
// link target, ACLs, extended attributes and optional content digest.
package fsnode

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/djherbis/times"
	"github.com/function61/peili/pkg/dirmap"
	"github.com/function61/peili/pkg/fsattr"
	"github.com/function61/peili/pkg/fsdigest"
)

// Options controls which optional snapshot fields get populated.
// A field left unpopulated says nothing about the real object.
type Options struct {
	ACLs   bool
	Attrs  bool
	Flags  bool
	Digest fsdigest.Type // None disables content digesting

	// DigestCache, when non-nil, memoizes digests by path + stat
	// identity so repeated scans skip re-hashing unchanged files.
	DigestCache *fsdigest.Cache
}

type Node struct {
	Path string
	Kind Kind

	Size  int64
	UID   uint32
	GID   uint32
	Perm  os.FileMode // permission bits + setuid/setgid/sticky
	Dev   uint64      // device number, block/char nodes only
	Mtime time.Time
	Atime time.Time
	Ctime time.Time
	Flags uint32 // platform file flags bitfield

	LinkTarget string // symlinks only

	ACLNFS4    *fsattr.ACL
	ACLAccess  *fsattr.ACL
	ACLDefault *fsattr.ACL // directories only

	AttrsUser   *dirmap.Map[[]byte]
	AttrsSystem *dirmap.Map[[]byte]

	Digest []byte // regular files only, when digesting enabled

	opts Options
}

// Scan lstats path (symlinks are never followed) and conditionally
// populates ACL/attribute/digest fields. A readlink failure returns
// both the partial node and the error so the caller can decide whether
// a missing link target aborts the run.
func Scan(path string, opts Options) (*Node, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	node := &Node{
		Path:        path,
		Kind:        KindOf(fi.Mode()),
		Size:        fi.Size(),
		Perm:        fi.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky),
		Mtime:       fi.ModTime(),
		AttrsUser:   dirmap.New[[]byte](),
		AttrsSystem: dirmap.New[[]byte](),
		opts:        opts,
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		node.UID = uint32(st.Uid)
		node.GID = uint32(st.Gid)
		if node.Kind == Block || node.Kind == Char {
			node.Dev = uint64(st.Rdev)
		}
	}

	// atime/ctime are not in FileInfo proper
	timespec := times.Get(fi)
	node.Atime = timespec.AccessTime()
	if timespec.HasChangeTime() {
		node.Ctime = timespec.ChangeTime()
	}

	if opts.Flags {
		flags, err := statFlags(path, node.Kind)
		if err != nil && !flagsUnsupported(err) {
			return nil, fmt.Errorf("%s: flags: %w", path, err)
		}
		node.Flags = flags
	}

	if opts.ACLs {
		if err := node.captureACLs(); err != nil {
			return nil, err
		}
	}

	if opts.Attrs {
		if err := node.captureAttrs(); err != nil {
			return nil, err
		}
	}

	if node.Kind == File && opts.Digest != fsdigest.None {
		if err := node.captureDigest(); err != nil {
			return nil, err
		}
	}

	if node.Kind == Symlink {
		target, err := os.Readlink(path)
		if err != nil {
			return node, fmt.Errorf("%s: readlink: %w", path, err)
		}
		node.LinkTarget = target
	}

	return node, nil
}

// Refresh re-scans the same path, replacing all owned sub-structures
// (stale ACL and attribute tables must not alias the new state).
func (n *Node) Refresh() error {
	fresh, err := Scan(n.Path, n.opts)
	if err != nil {
		return err
	}

	*n = *fresh
	return nil
}

func (n *Node) captureACLs() error {
	var err error

	if n.ACLNFS4, err = fsattr.GetACL(n.Path, fsattr.NFS4, false); err != nil {
		return fmt.Errorf("%s: nfs4 acl: %w", n.Path, err)
	}
	if n.ACLAccess, err = fsattr.GetACL(n.Path, fsattr.Access, false); err != nil {
		return fmt.Errorf("%s: access acl: %w", n.Path, err)
	}
	if n.Kind == Dir {
		if n.ACLDefault, err = fsattr.GetACL(n.Path, fsattr.Default, false); err != nil {
			return fmt.Errorf("%s: default acl: %w", n.Path, err)
		}
	}

	return nil
}

func (n *Node) captureAttrs() error {
	var err error

	if n.AttrsUser, err = fsattr.Capture(n.Path, fsattr.NamespaceUser, false); err != nil {
		return fmt.Errorf("%s: user attrs: %w", n.Path, err)
	}
	if n.AttrsSystem, err = fsattr.Capture(n.Path, fsattr.NamespaceSystem, false); err != nil {
		return fmt.Errorf("%s: system attrs: %w", n.Path, err)
	}

	return nil
}

func (n *Node) captureDigest() error {
	key := fsdigest.CacheKey{
		Path:  n.Path,
		Type:  n.opts.Digest,
		Size:  n.Size,
		Mtime: n.Mtime.UnixNano(),
	}

	if n.opts.DigestCache != nil {
		if digest, ok := n.opts.DigestCache.Get(key); ok {
			n.Digest = digest
			return nil
		}
	}

	digest, err := digestFile(n.Path, n.opts.Digest)
	if err != nil {
		return err
	}
	n.Digest = digest

	if n.opts.DigestCache != nil {
		n.opts.DigestCache.Add(key, digest)
	}

	return nil
}

func digestFile(path string, typ fsdigest.Type) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return fsdigest.Sum(typ, file)
}

// SetFlags writes the platform file flags bitfield of path.
func SetFlags(path string, kind Kind, flags uint32) error {
	return setFlags(path, kind, flags)
}

// IsFlagsUnsupported reports whether a flags operation failed because
// the platform or filesystem has no file flag support.
func IsFlagsUnsupported(err error) bool {
	return flagsUnsupported(err)
}

// Markers summarizes which optional metadata the node carries, in the
// style "[f NAD SU]" minus the spaces: N/A/D for the ACL categories,
// S/U for non-empty system/user attribute sets.
func (n *Node) Markers() string {
	markers := n.Kind.Letter()

	if n.ACLNFS4 != nil {
		markers += "N"
	}
	if n.ACLAccess != nil {
		markers += "A"
	}
	if n.ACLDefault != nil {
		markers += "D"
	}
	if n.AttrsSystem != nil && n.AttrsSystem.Len() > 0 {
		markers += "S"
	}
	if n.AttrsUser != nil && n.AttrsUser.Len() > 0 {
		markers += "U"
	}

	return "[" + markers + "]"
}
