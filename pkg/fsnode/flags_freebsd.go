package fsnode

import (
	"errors"

	"golang.org/x/sys/unix"
)

// FreeBSD carries file flags in st_flags, including the archive bit
// which signals "modified since last backup".
const FlagArchive uint32 = unix.UF_ARCHIVE

func statFlags(path string, kind Kind) (uint32, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, err
	}

	return st.Flags, nil
}

func setFlags(path string, kind Kind, flags uint32) error {
	if kind == Symlink {
		return unix.Lchflags(path, int(flags))
	}

	return unix.Chflags(path, int(flags))
}

func flagsUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}
