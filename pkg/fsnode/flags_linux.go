package fsnode

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Linux exposes file flags through the FS_IOC ioctls. They exist for
// regular files and directories only, and there is no archive bit.
const FlagArchive uint32 = 0

func statFlags(path string, kind Kind) (uint32, error) {
	if kind != File && kind != Dir {
		return 0, nil
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	flags, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return 0, err
	}

	return uint32(flags), nil
}

func setFlags(path string, kind Kind, flags uint32) error {
	if kind != File && kind != Dir {
		return nil
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	return unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, int(flags))
}

func flagsUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTTY) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.EINVAL)
}
