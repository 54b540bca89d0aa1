// OS adapter for extended attributes and ACLs. ACLs are handled as
// opaque system-namespace blobs, compared by content only.
package fsattr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/function61/peili/pkg/dirmap"
	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
)

type Namespace string

const (
	NamespaceUser   Namespace = "user"
	NamespaceSystem Namespace = "system"
)

var ErrUnsupported = errors.New("fsattr: not supported here")

// attribute names used by the kernel to expose ACLs. these are managed
// by the ACL side of this package and must not surface as regular
// attributes.
var aclAttrNames = map[string]bool{
	"system.posix_acl_access":  true,
	"system.posix_acl_default": true,
	"system.nfs4_acl":          true,
}

func Get(path string, ns Namespace, name string, followLinks bool) ([]byte, error) {
	if followLinks {
		return xattr.Get(path, qualify(ns, name))
	}
	return xattr.LGet(path, qualify(ns, name))
}

func Set(path string, ns Namespace, name string, value []byte, followLinks bool) error {
	if followLinks {
		return xattr.Set(path, qualify(ns, name), value)
	}
	return xattr.LSet(path, qualify(ns, name), value)
}

func Delete(path string, ns Namespace, name string, followLinks bool) error {
	if followLinks {
		return xattr.Remove(path, qualify(ns, name))
	}
	return xattr.LRemove(path, qualify(ns, name))
}

// List returns the bare (namespace-stripped) attribute names within one
// namespace, excluding ACL carrier attributes.
func List(path string, ns Namespace, followLinks bool) ([]string, error) {
	var qualified []string
	var err error
	if followLinks {
		qualified, err = xattr.List(path)
	} else {
		qualified, err = xattr.LList(path)
	}
	if err != nil {
		if attrsUnsupported(err) {
			return []string{}, nil
		}
		return nil, err
	}

	prefix := string(ns) + "."

	names := []string{}
	for _, name := range qualified {
		if aclAttrNames[name] || !strings.HasPrefix(name, prefix) {
			continue
		}

		names = append(names, strings.TrimPrefix(name, prefix))
	}

	return names, nil
}

// Capture enumerates and fetches one namespace into an ordered table.
// An unsupported filesystem yields an empty table, not an error -
// absence of support is not a difference.
func Capture(path string, ns Namespace, followLinks bool) (*dirmap.Map[[]byte], error) {
	table := dirmap.New[[]byte]()

	names, err := List(path, ns, followLinks)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		value, err := Get(path, ns, name, followLinks)
		if err != nil {
			if attrNotFound(err) { // raced away between list and get
				continue
			}
			return nil, err
		}

		if err := table.Insert(name, value); err != nil {
			return nil, fmt.Errorf("fsattr: %s: %w", path, err)
		}
	}

	return table, nil
}

func qualify(ns Namespace, name string) string {
	return string(ns) + "." + name
}

func attrNotFound(err error) bool {
	return errors.Is(err, xattr.ENOATTR)
}

func attrsUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}
