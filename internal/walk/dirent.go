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

import (
	"bytes"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// dirStream iterates over a directory's entries via getdents64 on a
// descriptor it owns.  Entry names alias the internal buffer and are only
// valid until the next call to next().
type dirStream struct {
	fd       int
	buf      []byte
	pos, end int
}

const direntBufSize = 32 * 1024

// linux_dirent64 layout (linux/dirent.h):
//
//	ino64_t        d_ino;    // offset 0
//	off64_t        d_off;    // offset 8
//	unsigned short d_reclen; // offset 16
//	unsigned char  d_type;   // offset 18
//	char           d_name[]; // offset 19
var direntNameOff = int(unsafe.Offsetof(unix.Dirent{}.Name))

func newDirStream(fd int) *dirStream {
	return &dirStream{
		fd:  fd,
		buf: make([]byte, direntBufSize),
	}
}

// next returns the following entry's name and type.  ok is false at end of
// stream.  Deleted entries (inode 0) are skipped; "." and ".." are not.
func (d *dirStream) next() (name string, typ Type, ok bool, err error) {
	for {
		if d.pos >= d.end {
			n, err := readDirents(d.fd, d.buf)
			if err != nil {
				return "", TypeUnknown, false, err
			}
			if n == 0 {
				return "", TypeUnknown, false, nil
			}
			d.pos, d.end = 0, n
		}

		rec := d.buf[d.pos:d.end]
		if len(rec) < direntNameOff {
			return "", TypeUnknown, false, syscall.EBADF
		}

		de := (*unix.Dirent)(unsafe.Pointer(&rec[0]))
		reclen := int(de.Reclen)
		if reclen < direntNameOff || reclen > len(rec) {
			return "", TypeUnknown, false, syscall.EBADF
		}
		d.pos += reclen

		if de.Ino == 0 {
			continue
		}

		nameBytes := rec[direntNameOff:reclen]
		if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
			nameBytes = nameBytes[:i]
		}

		return string(nameBytes), direntType(de.Type), true, nil
	}
}

func (d *dirStream) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func readDirents(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Getdents(fd, buf)
		if err == syscall.EINTR {
			continue
		}
		return n, err
	}
}
