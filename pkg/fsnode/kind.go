package fsnode

import (
	"os"
)

// Kind is the broad filesystem object type, resolved from an
// unfollowed stat.
type Kind int

const (
	Unknown Kind = iota
	File
	Dir
	Symlink
	Block
	Char
	Fifo
	Socket
)

func KindOf(mode os.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return File
	case mode.IsDir():
		return Dir
	case mode&os.ModeSymlink != 0:
		return Symlink
	case mode&os.ModeDevice != 0 && mode&os.ModeCharDevice != 0:
		return Char
	case mode&os.ModeDevice != 0:
		return Block
	case mode&os.ModeNamedPipe != 0:
		return Fifo
	case mode&os.ModeSocket != 0:
		return Socket
	default:
		return Unknown
	}
}

// Letter follows ls(1)-ish notation: d/f/l/b/c/p/s, "?" for unknown.
func (k Kind) Letter() string {
	switch k {
	case File:
		return "f"
	case Dir:
		return "d"
	case Symlink:
		return "l"
	case Block:
		return "b"
	case Char:
		return "c"
	case Fifo:
		return "p"
	case Socket:
		return "s"
	default:
		return "?"
	}
}

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Dir:
		return "directory"
	case Symlink:
		return "symlink"
	case Block:
		return "block device"
	case Char:
		return "char device"
	case Fifo:
		return "fifo"
	case Socket:
		return "socket"
	default:
		return "unknown"
	}
}
