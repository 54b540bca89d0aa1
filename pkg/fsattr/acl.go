package fsattr

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/pkg/xattr"
)

// Category selects one of the up to three ACLs an object can carry.
type Category int

const (
	NFS4 Category = iota // NFSv4 / ZFS extended ACL
	Access               // POSIX access ACL
	Default              // POSIX default ACL (directories only)
)

func (c Category) String() string {
	switch c {
	case NFS4:
		return "nfs4"
	case Access:
		return "access"
	case Default:
		return "default"
	default:
		return "invalid"
	}
}

func (c Category) attrName() string {
	switch c {
	case NFS4:
		return "system.nfs4_acl"
	case Access:
		return "system.posix_acl_access"
	default:
		return "system.posix_acl_default"
	}
}

// ACL is an opaque ordered list of access-control entries. The only
// operations the synchronizer needs are equality and rendering - the
// entries are never parsed.
type ACL struct {
	raw []byte
}

func (a *ACL) Equal(b *ACL) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return bytes.Equal(a.raw, b.raw)
}

// Text renders the ACL for display and equality-by-rendering.
func (a *ACL) Text() string {
	if a == nil {
		return ""
	}

	return hex.EncodeToString(a.raw)
}

// GetACL returns (nil, nil) when the object has no ACL of the category
// or the filesystem does not support it - absence is not an error.
func GetACL(path string, cat Category, followLinks bool) (*ACL, error) {
	var raw []byte
	var err error
	if followLinks {
		raw, err = xattr.Get(path, cat.attrName())
	} else {
		raw, err = xattr.LGet(path, cat.attrName())
	}
	if err != nil {
		if attrNotFound(err) || attrsUnsupported(err) {
			return nil, nil
		}
		return nil, err
	}

	return &ACL{raw: raw}, nil
}

func SetACL(path string, cat Category, acl *ACL, followLinks bool) error {
	if acl == nil {
		return errors.New("fsattr: refusing to set nil ACL")
	}

	if followLinks {
		return xattr.Set(path, cat.attrName(), acl.raw)
	}
	return xattr.LSet(path, cat.attrName(), acl.raw)
}
