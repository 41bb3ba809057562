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

package expr

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danwakefield/fnmatch"
	"golang.org/x/sys/unix"

	"bfind/internal/printf"
	"bfind/internal/walk"
)

// evalState is the short-lived context for evaluating the expression
// against one file.
type evalState struct {
	file *walk.File
	q    *Query

	// action is what the walker should do next.
	action walk.Action
	// ret accumulates the query's exit status.
	ret *int
	// quit is set by the -quit action.
	quit *bool
}

// shouldIgnore reports whether an evaluation error is a benign race: the
// file disappeared between being listed and being examined.
func (s *evalState) shouldIgnore(err error) bool {
	return s.q.IgnoreRaces && err == syscall.ENOENT && s.file.Depth > 0
}

// reportError surfaces an evaluation error once and records the failure in
// the exit status.
func (s *evalState) reportError(err error) {
	if s.shouldIgnore(err) {
		return
	}
	s.q.Err.Errorf("'%s': %v\n", s.file.Path, err)
	*s.ret = 1
}

// fillStat performs the lazy stat, reporting a failure once.
func (s *evalState) fillStat() *unix.Stat_t {
	st, err := s.file.Stat()
	if err != nil {
		s.reportError(err)
		return nil
	}
	return st
}

// evalNode evaluates a node, keeping its statistics current.
func evalNode(e *Expr, s *evalState) bool {
	var start time.Time
	profile := s.q.Debug&DebugRates != 0
	if profile {
		start = time.Now()
	}

	ret := e.dispatch(s)

	if profile {
		e.elapsed += time.Since(start)
	}
	e.evaluations++
	if ret {
		e.successes++
	}

	return ret
}

func (e *Expr) dispatch(s *evalState) bool {
	switch e.kind {
	case OpNot:
		return !evalNode(e.rhs, s)

	case OpAnd:
		if !evalNode(e.lhs, s) {
			return false
		}
		if *s.quit {
			return false
		}
		return evalNode(e.rhs, s)

	case OpOr:
		if evalNode(e.lhs, s) {
			return true
		}
		if *s.quit {
			return false
		}
		return evalNode(e.rhs, s)

	case OpComma:
		evalNode(e.lhs, s)
		if *s.quit {
			return false
		}
		return evalNode(e.rhs, s)

	case KindTrue:
		return true
	case KindFalse:
		return false

	case TestAccess:
		return e.evalAccess(s)
	case TestDepth:
		return e.intCmp(int64(s.file.Depth))
	case TestEmpty:
		return e.evalEmpty(s)
	case TestFSType:
		return e.evalFSType(s)
	case TestGID:
		if st := s.fillStat(); st != nil {
			return e.intCmp(int64(st.Gid))
		}
		return false
	case TestUID:
		if st := s.fillStat(); st != nil {
			return e.intCmp(int64(st.Uid))
		}
		return false
	case TestHidden:
		return evalHidden(s.file)
	case TestInum:
		if st := s.fillStat(); st != nil {
			return e.intCmp(int64(st.Ino))
		}
		return false
	case TestLinks:
		if st := s.fillStat(); st != nil {
			return e.intCmp(int64(st.Nlink))
		}
		return false
	case TestLname:
		return e.evalLname(s)
	case TestName:
		return e.evalName(s)
	case TestNewer:
		return e.evalNewer(s)
	case TestNoGroup:
		if st := s.fillStat(); st != nil {
			_, err := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10))
			return err != nil
		}
		return false
	case TestNoUser:
		if st := s.fillStat(); st != nil {
			_, err := user.LookupId(strconv.FormatUint(uint64(st.Uid), 10))
			return err != nil
		}
		return false
	case TestPath:
		return fnmatch.Match(e.str, s.file.Path, e.matchFlags)
	case TestPerm:
		return e.evalPerm(s)
	case TestRegex:
		return e.evalRegex(s)
	case TestSamefile:
		if st := s.fillStat(); st != nil {
			return st.Dev == e.dev && st.Ino == e.ino
		}
		return false
	case TestSize:
		return e.evalSize(s)
	case TestSparse:
		if st := s.fillStat(); st != nil {
			return st.Blocks < (st.Size+511)/512
		}
		return false
	case TestTime:
		return e.evalTime(s)
	case TestType:
		return s.file.Type&e.typeMask != 0
	case TestUsed:
		return e.evalUsed(s)
	case TestXType:
		return e.evalXType(s)

	case ActionDelete:
		return e.evalDelete(s)
	case ActionExec:
		return e.evalExec(s)
	case ActionLs:
		return e.evalLs(s)
	case ActionNoHidden:
		if evalHidden(s.file) {
			s.action = walk.SkipSubtree
			return false
		}
		return true
	case ActionPrint:
		return e.evalPrint(s)
	case ActionPrint0:
		return e.evalPrint0(s)
	case ActionPrintf:
		return e.evalPrintf(s)
	case ActionPrune:
		s.action = walk.SkipSubtree
		return true
	case ActionQuit:
		s.action = walk.Stop
		*s.quit = true
		return true
	}

	return false
}

// intCmp performs the n/-n/+n comparison.
func (e *Expr) intCmp(n int64) bool {
	switch e.cmp {
	case CmpLess:
		return n < e.num
	case CmpGreater:
		return n > e.num
	default:
		return n == e.num
	}
}

// timespecDiff returns lhs - rhs in whole seconds.
func timespecDiff(lhs, rhs unix.Timespec) int64 {
	diff := lhs.Sec - rhs.Sec
	if lhs.Nsec < rhs.Nsec {
		diff--
	}
	return diff
}

func (e *Expr) evalAccess(s *evalState) bool {
	f := s.file
	return unix.Faccessat(f.AnchorFD, f.RelPath, uint32(e.num), 0) == nil
}

func (e *Expr) evalTime(s *evalState) bool {
	st := s.fillStat()
	if st == nil {
		return false
	}

	diff := timespecDiff(e.refTime, walk.StatTime(st, e.timeField))
	switch e.timeUnit {
	case Minutes:
		diff /= 60
	case Days:
		diff /= 60 * 60 * 24
	}

	return e.intCmp(diff)
}

func (e *Expr) evalNewer(s *evalState) bool {
	st := s.fillStat()
	if st == nil {
		return false
	}

	t := walk.StatTime(st, e.timeField)
	return t.Sec > e.refTime.Sec ||
		(t.Sec == e.refTime.Sec && t.Nsec > e.refTime.Nsec)
}

func (e *Expr) evalUsed(s *evalState) bool {
	st := s.fillStat()
	if st == nil {
		return false
	}

	diff := timespecDiff(st.Atim, st.Ctim)
	diff /= 60 * 60 * 24
	return e.intCmp(diff)
}

func (e *Expr) evalEmpty(s *evalState) bool {
	f := s.file

	if f.Type == walk.TypeDir {
		fd, err := unix.Openat(f.AnchorFD, f.RelPath, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
		if err != nil {
			s.reportError(err)
			return false
		}

		d := os.NewFile(uintptr(fd), f.Path)
		defer d.Close()

		// Readdirnames skips "." and "..".
		names, err := d.Readdirnames(1)
		if err == io.EOF {
			return true
		}
		if err != nil {
			s.reportError(err)
			return false
		}
		return len(names) == 0
	}

	st := s.fillStat()
	return st != nil && st.Size == 0
}

func (e *Expr) evalFSType(s *evalState) bool {
	st := s.fillStat()
	if st == nil || s.q.Mtab == nil {
		return false
	}
	return s.q.Mtab.FSType(st.Dev) == e.str
}

func evalHidden(f *walk.File) bool {
	return f.NameOff > 0 && f.NameOff < len(f.Path) && f.Path[f.NameOff] == '.'
}

func (e *Expr) evalLname(s *evalState) bool {
	f := s.file
	if f.Type != walk.TypeLink {
		return false
	}
	if s.fillStat() == nil {
		return false
	}

	target, err := printf.Readlink(f)
	if err != nil {
		s.reportError(err)
		return false
	}

	return fnmatch.Match(e.str, target, e.matchFlags)
}

func (e *Expr) evalName(s *evalState) bool {
	f := s.file

	name := f.Name()
	if f.Depth == 0 {
		// Any trailing slashes are not part of the name.  This can
		// only happen for the root path.
		if i := strings.IndexByte(name, '/'); i > 0 {
			name = name[:i]
		}
	}

	return fnmatch.Match(e.str, name, e.matchFlags)
}

func (e *Expr) evalPerm(s *evalState) bool {
	st := s.fillStat()
	if st == nil {
		return false
	}

	mode := uint32(st.Mode)
	target := e.fileMode
	if s.file.Type == walk.TypeDir {
		target = e.dirMode
	}

	switch e.modeCmp {
	case ModeExact:
		return mode&0o7777 == target
	case ModeAll:
		return mode&target == target
	default:
		if target == 0 {
			return mode&target == 0
		}
		return mode&target != 0
	}
}

func (e *Expr) evalRegex(s *evalState) bool {
	path := s.file.Path
	loc := e.re.FindStringIndex(path)
	return loc != nil && loc[0] == 0 && loc[1] == len(path)
}

func (e *Expr) evalSize(s *evalState) bool {
	st := s.fillStat()
	if st == nil {
		return false
	}

	var scale int64
	switch e.sizeUnit {
	case SizeBlocks:
		scale = 512
	case SizeBytes:
		scale = 1
	case SizeWords:
		scale = 2
	case SizeKB:
		scale = 1 << 10
	case SizeMB:
		scale = 1 << 20
	case SizeGB:
		scale = 1 << 30
	case SizeTB:
		scale = 1 << 40
	case SizePB:
		scale = 1 << 50
	}

	// Round up to the unit.
	size := (st.Size + scale - 1) / scale
	return e.intCmp(size)
}

func (e *Expr) evalXType(s *evalState) bool {
	f := s.file
	q := s.q

	follow := q.Flags&walk.FollowAll != 0 ||
		(f.Depth == 0 && q.Flags&walk.FollowRoots != 0)
	isLink := f.Type == walk.TypeLink
	if follow == isLink {
		return f.Type&e.typeMask != 0
	}

	// -xtype resolves the opposite of everything else.
	atFlags := 0
	if follow {
		atFlags = unix.AT_SYMLINK_NOFOLLOW
	}

	var st unix.Stat_t
	if err := unix.Fstatat(f.AnchorFD, f.RelPath, &st, atFlags); err != nil {
		if !follow && err == syscall.ENOENT {
			// Broken symlink
			return f.Type&e.typeMask != 0
		}
		s.reportError(err)
		return false
	}

	return walk.ModeType(uint32(st.Mode))&e.typeMask != 0
}

func (e *Expr) evalDelete(s *evalState) bool {
	f := s.file

	// Don't try to delete the current directory.
	if f.Path == "." {
		return true
	}

	flag := 0
	if f.Type == walk.TypeDir {
		flag |= unix.AT_REMOVEDIR
	}

	if err := unix.Unlinkat(f.AnchorFD, f.RelPath, flag); err != nil {
		s.reportError(err)
		return false
	}
	return true
}

func (e *Expr) evalExec(s *evalState) bool {
	ok, err := e.cmd.Run(s.file)
	if err != nil {
		s.reportError(err)
	}
	return ok
}

func (e *Expr) evalPrint(s *evalState) bool {
	if e.out.Colored() {
		s.fillStat()
	}
	if err := e.out.PrintPath(s.file); err != nil {
		s.reportError(err)
	}
	return true
}

func (e *Expr) evalPrint0(s *evalState) bool {
	if _, err := e.out.Write(append([]byte(s.file.Path), 0)); err != nil {
		s.reportError(err)
	}
	return true
}

func (e *Expr) evalPrintf(s *evalState) bool {
	if e.format.NeedsStat && s.fillStat() == nil {
		return true
	}

	if err := e.format.Print(e.out, s.file); err != nil {
		s.reportError(err)
	}
	return true
}

func (e *Expr) evalLs(s *evalState) bool {
	f := s.file
	st := s.fillStat()
	if st == nil {
		return true
	}

	w := e.out.Writer()
	blocks := (st.Blocks + 1) / 2
	if _, err := fmt.Fprintf(w, "%9d %6d %s %3d ",
		st.Ino, blocks, printf.ModeString(uint32(st.Mode)), st.Nlink); err != nil {
		s.reportError(err)
		return true
	}

	owner := strconv.FormatUint(uint64(st.Uid), 10)
	if u, err := user.LookupId(owner); err == nil {
		owner = u.Username
	}
	group := strconv.FormatUint(uint64(st.Gid), 10)
	if g, err := user.LookupGroupId(group); err == nil {
		group = g.Name
	}

	if _, err := fmt.Fprintf(w, " %-8s %-8s %8d", owner, group, st.Size); err != nil {
		s.reportError(err)
		return true
	}

	if _, err := fmt.Fprintf(w, " %s ", e.lsTime(st.Mtim)); err != nil {
		s.reportError(err)
		return true
	}

	if _, err := io.WriteString(w, f.Path); err != nil {
		s.reportError(err)
		return true
	}
	if f.Type == walk.TypeLink {
		if target, err := printf.Readlink(f); err == nil {
			fmt.Fprintf(w, " -> %s", target)
		}
	}
	fmt.Fprintln(w)

	return true
}

// lsTime formats an mtime the way ls -l does: recent files get the clock
// time, others the year.
func (e *Expr) lsTime(ts unix.Timespec) string {
	t := time.Unix(ts.Sec, ts.Nsec)

	now := e.refTime.Sec
	sixMonthsAgo := now - 6*30*24*60*60
	tomorrow := now + 24*60*60

	if ts.Sec <= sixMonthsAgo || ts.Sec >= tomorrow {
		return t.Format("Jan _2  2006")
	}
	return t.Format("Jan _2 15:04")
}
