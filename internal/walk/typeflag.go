// Copyright 2026 bfind Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package walk

import "golang.org/x/sys/unix"

// Type identifies the kind of a visited file.  It is a bitmask so that
// callers can match several kinds at once (e.g. "directory or symlink").
type Type uint16

const (
	// TypeUnknown means the kind could not be determined without a stat.
	TypeUnknown Type = 0

	TypeBlock Type = 1 << iota
	TypeChar
	TypeDir
	TypeDoor
	TypeFIFO
	TypeRegular
	TypeLink
	TypeSocket

	// TypeError marks a metadata record that describes a traversal error
	// rather than a file; File.Err holds the cause.
	TypeError
)

// String returns the single-letter form used by -type and %y.
func (t Type) String() string {
	switch t {
	case TypeBlock:
		return "b"
	case TypeChar:
		return "c"
	case TypeDir:
		return "d"
	case TypeDoor:
		return "D"
	case TypeFIFO:
		return "p"
	case TypeRegular:
		return "f"
	case TypeLink:
		return "l"
	case TypeSocket:
		return "s"
	default:
		return "U"
	}
}

// ModeType maps a stat mode to a Type.
func ModeType(mode uint32) Type {
	switch mode & unix.S_IFMT {
	case unix.S_IFBLK:
		return TypeBlock
	case unix.S_IFCHR:
		return TypeChar
	case unix.S_IFDIR:
		return TypeDir
	case unix.S_IFIFO:
		return TypeFIFO
	case unix.S_IFLNK:
		return TypeLink
	case unix.S_IFREG:
		return TypeRegular
	case unix.S_IFSOCK:
		return TypeSocket
	default:
		return TypeUnknown
	}
}

// direntType maps a d_type byte from the dirent stream to a Type.
func direntType(dt uint8) Type {
	switch dt {
	case unix.DT_BLK:
		return TypeBlock
	case unix.DT_CHR:
		return TypeChar
	case unix.DT_DIR:
		return TypeDir
	case unix.DT_FIFO:
		return TypeFIFO
	case unix.DT_LNK:
		return TypeLink
	case unix.DT_REG:
		return TypeRegular
	case unix.DT_SOCK:
		return TypeSocket
	default:
		return TypeUnknown
	}
}

// TimeField selects one of the three stat timestamps.
type TimeField int

const (
	TimeAccess TimeField = iota
	TimeChange
	TimeModify
)

// StatTime extracts the selected timestamp from a stat buffer.
func StatTime(st *unix.Stat_t, field TimeField) unix.Timespec {
	switch field {
	case TimeAccess:
		return st.Atim
	case TimeChange:
		return st.Ctim
	default:
		return st.Mtim
	}
}
