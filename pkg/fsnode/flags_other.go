//go:build !linux && !freebsd

package fsnode

import (
	"errors"
)

const FlagArchive uint32 = 0

var errFlagsUnsupported = errors.New("fsnode: file flags not supported on this platform")

func statFlags(path string, kind Kind) (uint32, error) {
	return 0, errFlagsUnsupported
}

func setFlags(path string, kind Kind, flags uint32) error {
	return errFlagsUnsupported
}

func flagsUnsupported(err error) bool {
	return errors.Is(err, errFlagsUnsupported)
}
