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

// Package printf compiles and executes -printf format programs.
//
// A compiled program is a flat list of pieces: literal byte strings copied
// verbatim, and typed field directives that expand file metadata through a
// printf-style format spec.  Compilation validates the whole format up
// front, so no malformed directive survives to the walk.
package printf

import (
	"fmt"
	"io"
	"os/user"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"bfind/internal/walk"
)

// FSTyper resolves a device number to a filesystem type name, for %F.
type FSTyper interface {
	FSType(dev uint64) string
}

// Format is a compiled format program.
type Format struct {
	pieces []piece

	// NeedsStat reports whether any directive requires a stat result.
	NeedsStat bool
}

type pieceKind int

const (
	pieceLiteral pieceKind = iota
	pieceFlush
	pieceField
)

type piece struct {
	kind pieceKind

	// lit is the literal text for pieceLiteral.
	lit string

	// spec is the fmt spec the field value is formatted through,
	// e.g. "%-10s".
	spec  string
	field byte

	timeField walk.TimeField
	timeChar  byte

	fstypes FSTyper
}

// flusher lets \c flush line-buffered sinks before stopping.
type flusher interface {
	Flush() error
}

// Compile parses a -printf format string.  fstypes may be nil; %F then
// fails to compile.
func Compile(format string, fstypes FSTyper) (*Format, error) {
	c := compiler{format: format, fstypes: fstypes}
	return c.compile()
}

type compiler struct {
	format  string
	fstypes FSTyper

	out Format
	lit strings.Builder
}

func (c *compiler) flushLiteral() {
	if c.lit.Len() > 0 {
		c.out.pieces = append(c.out.pieces, piece{kind: pieceLiteral, lit: c.lit.String()})
		c.lit.Reset()
	}
}

func (c *compiler) compile() (*Format, error) {
	format := c.format

	for i := 0; i < len(format); i++ {
		switch format[i] {
		case '\\':
			n, done, err := c.escape(format[i:])
			if err != nil {
				return nil, err
			}
			if done {
				c.flushLiteral()
				c.out.pieces = append(c.out.pieces, piece{kind: pieceFlush})
				return &c.out, nil
			}
			i += n - 1

		case '%':
			n, err := c.directive(format[i:])
			if err != nil {
				return nil, err
			}
			i += n - 1

		default:
			c.lit.WriteByte(format[i])
		}
	}

	c.flushLiteral()
	return &c.out, nil
}

// escape consumes a backslash sequence, returning its length.  done is true
// for \c, which terminates the program with a flush.
func (c *compiler) escape(s string) (n int, done bool, err error) {
	if len(s) < 2 {
		return 0, false, fmt.Errorf("'%s': incomplete escape sequence '\\'", c.format)
	}

	switch b := s[1]; b {
	case 'a':
		c.lit.WriteByte('\a')
	case 'b':
		c.lit.WriteByte('\b')
	case 'f':
		c.lit.WriteByte('\f')
	case 'n':
		c.lit.WriteByte('\n')
	case 'r':
		c.lit.WriteByte('\r')
	case 't':
		c.lit.WriteByte('\t')
	case 'v':
		c.lit.WriteByte('\v')
	case '\\':
		c.lit.WriteByte('\\')
	case 'c':
		return 2, true, nil
	default:
		if b >= '0' && b < '8' {
			val := 0
			n = 1
			for ; n < 4 && n < len(s) && s[n] >= '0' && s[n] < '8'; n++ {
				val = val*8 + int(s[n]-'0')
			}
			c.lit.WriteByte(byte(val))
			return n, false, nil
		}
		return 0, false, fmt.Errorf("'%s': unrecognized escape sequence '\\%c'", c.format, b)
	}

	return 2, false, nil
}

// directive consumes a % directive, returning its length.
func (c *compiler) directive(s string) (int, error) {
	if len(s) >= 2 && s[1] == '%' {
		c.lit.WriteByte('%')
		return 2, nil
	}

	var spec strings.Builder
	spec.WriteByte('%')
	i := 1

	// Parse any flags.
	mustBeNumeric := false
	for ; i < len(s); i++ {
		b := s[i]
		switch b {
		case '#', '0', '+':
			mustBeNumeric = true
		case ' ', '-':
		default:
			goto flagsDone
		}
		if strings.IndexByte(spec.String(), b) >= 0 {
			return 0, fmt.Errorf("'%s': duplicate flag '%c'", c.format, b)
		}
		spec.WriteByte(b)
	}
flagsDone:

	// Parse the field width.
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		spec.WriteByte(s[i])
	}

	// Parse the precision.
	if i < len(s) && s[i] == '.' {
		spec.WriteByte(s[i])
		for i++; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			spec.WriteByte(s[i])
		}
	}

	if i >= len(s) {
		return 0, fmt.Errorf("'%s': incomplete format specifier '%s'", c.format, spec.String())
	}

	p := piece{kind: pieceField, field: s[i]}
	verb := "s"

	switch s[i] {
	case 'a':
		p.timeField = walk.TimeAccess
		c.out.NeedsStat = true
	case 'c':
		p.timeField = walk.TimeChange
		c.out.NeedsStat = true
	case 't':
		p.timeField = walk.TimeModify
		c.out.NeedsStat = true
	case 'b', 'D', 'G', 'g', 'i', 'k', 'n', 'M', 's', 'u', 'U':
		c.out.NeedsStat = true
	case 'd':
		verb = "d"
	case 'm':
		verb = "o"
		c.out.NeedsStat = true
	case 'S':
		verb = "g"
		c.out.NeedsStat = true
	case 'F':
		if c.fstypes == nil {
			return 0, fmt.Errorf("'%s': couldn't parse the mount table", c.format)
		}
		p.fstypes = c.fstypes
		c.out.NeedsStat = true
	case 'f', 'h', 'H', 'l', 'p', 'P', 'y', 'Y':
	case 'A', 'C', 'T':
		switch s[i] {
		case 'A':
			p.timeField = walk.TimeAccess
		case 'C':
			p.timeField = walk.TimeChange
		case 'T':
			p.timeField = walk.TimeModify
		}
		c.out.NeedsStat = true

		i++
		if i >= len(s) {
			return 0, fmt.Errorf("'%s': incomplete time specifier '%s%c'",
				c.format, spec.String(), s[i-1])
		}
		switch b := s[i]; b {
		case '@', 'H', 'I', 'k', 'l', 'M', 'p', 'r', 'S', 'T', '+', 'X', 'Z',
			'a', 'A', 'b', 'B', 'c', 'd', 'D', 'h', 'j', 'm', 'U', 'w', 'W',
			'x', 'y', 'Y':
			p.timeChar = b
		default:
			return 0, fmt.Errorf("'%s': unrecognized time specifier '%%%c%c'",
				c.format, s[i-1], b)
		}

	default:
		return 0, fmt.Errorf("'%s': unrecognized format specifier '%%%c'", c.format, s[i])
	}

	if mustBeNumeric && verb == "s" {
		return 0, fmt.Errorf("'%s': invalid flags '%s' for string format '%%%c'",
			c.format, spec.String()[1:], s[i])
	}

	spec.WriteString(verb)
	p.spec = spec.String()

	c.flushLiteral()
	c.out.pieces = append(c.out.pieces, p)
	return i + 1, nil
}

// Print expands the program for one file.  Directives that need stat data
// assume the record was already stat'd (see NeedsStat).
func (f *Format) Print(w io.Writer, file *walk.File) error {
	for i := range f.pieces {
		p := &f.pieces[i]

		var err error
		switch p.kind {
		case pieceLiteral:
			_, err = io.WriteString(w, p.lit)
		case pieceFlush:
			if fl, ok := w.(flusher); ok {
				err = fl.Flush()
			}
			if err == nil {
				return nil
			}
		case pieceField:
			err = p.print(w, file)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *piece) print(w io.Writer, f *walk.File) error {
	st := f.StatBuf()

	var err error
	switch p.field {
	case 'a', 'c', 't':
		_, err = fmt.Fprintf(w, p.spec, ctimeString(walk.StatTime(st, p.timeField)))
	case 'A', 'C', 'T':
		_, err = fmt.Fprintf(w, p.spec, strftimeChar(walk.StatTime(st, p.timeField), p.timeChar))
	case 'b':
		_, err = fmt.Fprintf(w, p.spec, fmt.Sprintf("%d", st.Blocks))
	case 'd':
		_, err = fmt.Fprintf(w, p.spec, int64(f.Depth))
	case 'D':
		_, err = fmt.Fprintf(w, p.spec, fmt.Sprintf("%d", st.Dev))
	case 'f':
		_, err = fmt.Fprintf(w, p.spec, f.Name())
	case 'F':
		_, err = fmt.Fprintf(w, p.spec, p.fstypes.FSType(st.Dev))
	case 'g':
		name := fmt.Sprintf("%d", st.Gid)
		if g, lerr := user.LookupGroupId(name); lerr == nil {
			name = g.Name
		}
		_, err = fmt.Fprintf(w, p.spec, name)
	case 'G':
		_, err = fmt.Fprintf(w, p.spec, fmt.Sprintf("%d", st.Gid))
	case 'h':
		_, err = fmt.Fprintf(w, p.spec, leadingDirs(f))
	case 'H':
		_, err = fmt.Fprintf(w, p.spec, f.Root)
	case 'i':
		_, err = fmt.Fprintf(w, p.spec, fmt.Sprintf("%d", st.Ino))
	case 'k':
		_, err = fmt.Fprintf(w, p.spec, fmt.Sprintf("%d", (st.Blocks+1)/2))
	case 'l':
		if f.Type != walk.TypeLink {
			return nil
		}
		var target string
		target, err = Readlink(f)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, p.spec, target)
	case 'm':
		_, err = fmt.Fprintf(w, p.spec, uint32(st.Mode)&0o7777)
	case 'M':
		_, err = fmt.Fprintf(w, p.spec, ModeString(uint32(st.Mode)))
	case 'n':
		_, err = fmt.Fprintf(w, p.spec, fmt.Sprintf("%d", st.Nlink))
	case 'p':
		_, err = fmt.Fprintf(w, p.spec, f.Path)
	case 'P':
		_, err = fmt.Fprintf(w, p.spec, pathAfterRoot(f))
	case 's':
		_, err = fmt.Fprintf(w, p.spec, fmt.Sprintf("%d", st.Size))
	case 'S':
		_, err = fmt.Fprintf(w, p.spec, 512.0*float64(st.Blocks)/float64(st.Size))
	case 'u':
		name := fmt.Sprintf("%d", st.Uid)
		if u, lerr := user.LookupId(name); lerr == nil {
			name = u.Username
		}
		_, err = fmt.Fprintf(w, p.spec, name)
	case 'U':
		_, err = fmt.Fprintf(w, p.spec, fmt.Sprintf("%d", st.Uid))
	case 'y':
		_, err = fmt.Fprintf(w, p.spec, f.Type.String())
	case 'Y':
		_, err = fmt.Fprintf(w, p.spec, targetType(f))
	}
	return err
}

// Readlink reads a symlink target relative to the record's anchor.
func Readlink(f *walk.File) (string, error) {
	size := 128
	if st := f.StatBuf(); st != nil && st.Size > 0 {
		size = int(st.Size) + 1
	}

	for {
		buf := make([]byte, size)
		n, err := unix.Readlinkat(f.AnchorFD, f.RelPath, buf)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return "", err
		}
		if n < len(buf) {
			return string(buf[:n]), nil
		}
		size *= 2
	}
}

func leadingDirs(f *walk.File) string {
	if f.NameOff > 0 {
		n := f.NameOff
		if n > 1 {
			n--
		}
		return f.Path[:n]
	}
	if strings.HasPrefix(f.Path, "/") {
		return "/"
	}
	return "."
}

func pathAfterRoot(f *walk.File) string {
	path := f.Path[len(f.Root):]
	return strings.TrimPrefix(path, "/")
}

func targetType(f *walk.File) string {
	if f.Type != walk.TypeLink {
		return f.Type.String()
	}

	var st unix.Stat_t
	err := unix.Fstatat(f.AnchorFD, f.RelPath, &st, 0)
	switch err {
	case nil:
		return walk.ModeType(uint32(st.Mode)).String()
	case syscall.ELOOP:
		return "L"
	case syscall.ENOENT:
		return "N"
	default:
		return "U"
	}
}

// ModeString formats a mode like ls -l (e.g. -rw-r--r--).
func ModeString(mode uint32) string {
	var buf [10]byte

	switch walk.ModeType(mode) {
	case walk.TypeBlock:
		buf[0] = 'b'
	case walk.TypeChar:
		buf[0] = 'c'
	case walk.TypeDir:
		buf[0] = 'd'
	case walk.TypeFIFO:
		buf[0] = 'p'
	case walk.TypeLink:
		buf[0] = 'l'
	case walk.TypeSocket:
		buf[0] = 's'
	default:
		buf[0] = '-'
	}

	rwx := "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			buf[1+i] = rwx[i]
		} else {
			buf[1+i] = '-'
		}
	}

	if mode&unix.S_ISUID != 0 {
		if buf[3] == 'x' {
			buf[3] = 's'
		} else {
			buf[3] = 'S'
		}
	}
	if mode&unix.S_ISGID != 0 {
		if buf[6] == 'x' {
			buf[6] = 's'
		} else {
			buf[6] = 'S'
		}
	}
	if mode&unix.S_ISVTX != 0 {
		if buf[9] == 'x' {
			buf[9] = 't'
		} else {
			buf[9] = 'T'
		}
	}

	return string(buf[:])
}

// ctimeString renders a timestamp the way ctime(3) does, with a ten-digit
// nanosecond field spliced in for compatibility with the reference output.
func ctimeString(ts unix.Timespec) string {
	t := time.Unix(ts.Sec, ts.Nsec)
	return fmt.Sprintf("%s %s %2d %02d:%02d:%02d.%09d0 %4d",
		t.Weekday().String()[:3],
		t.Month().String()[:3],
		t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		ts.Nsec,
		t.Year())
}

// strftimeChar renders one strftime(3)-style subfield, including the
// non-POSIX extensions @, +, k, l and fractional S.
func strftimeChar(ts unix.Timespec, c byte) string {
	t := time.Unix(ts.Sec, ts.Nsec)

	switch c {
	// Non-POSIX strftime() features
	case '@':
		return fmt.Sprintf("%d.%09d0", ts.Sec, ts.Nsec)
	case 'k':
		return fmt.Sprintf("%2d", t.Hour())
	case 'l':
		return fmt.Sprintf("%2d", (t.Hour()+11)%12+1)
	case 'S':
		return fmt.Sprintf("%02d.%09d0", t.Second(), ts.Nsec)
	case '+':
		return fmt.Sprintf("%4d-%02d-%02d+%02d:%02d:%02d.%09d0",
			t.Year(), int(t.Month()), t.Day(),
			t.Hour(), t.Minute(), t.Second(), ts.Nsec)

	// POSIX strftime() features
	case 'H':
		return fmt.Sprintf("%02d", t.Hour())
	case 'I':
		return fmt.Sprintf("%02d", (t.Hour()+11)%12+1)
	case 'M':
		return fmt.Sprintf("%02d", t.Minute())
	case 'p':
		if t.Hour() < 12 {
			return "AM"
		}
		return "PM"
	case 'r':
		return t.Format("03:04:05 PM")
	case 'T', 'X':
		return t.Format("15:04:05")
	case 'Z':
		zone, _ := t.Zone()
		return zone
	case 'a':
		return t.Weekday().String()[:3]
	case 'A':
		return t.Weekday().String()
	case 'b', 'h':
		return t.Month().String()[:3]
	case 'B':
		return t.Month().String()
	case 'c':
		return t.Format("Mon Jan  2 15:04:05 2006")
	case 'd':
		return fmt.Sprintf("%02d", t.Day())
	case 'D', 'x':
		return t.Format("01/02/06")
	case 'j':
		return fmt.Sprintf("%03d", t.YearDay())
	case 'm':
		return fmt.Sprintf("%02d", int(t.Month()))
	case 'U':
		yday := t.YearDay() - 1
		return fmt.Sprintf("%02d", (yday+7-int(t.Weekday()))/7)
	case 'w':
		return fmt.Sprintf("%d", int(t.Weekday()))
	case 'W':
		yday := t.YearDay() - 1
		return fmt.Sprintf("%02d", (yday+7-(int(t.Weekday())+6)%7)/7)
	case 'y':
		return fmt.Sprintf("%02d", t.Year()%100)
	case 'Y':
		return fmt.Sprintf("%d", t.Year())
	}

	return ""
}
