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

// Package mtab maps device numbers to filesystem type names, for the
// -fstype test and the %F printf directive.
package mtab

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Table is a parsed mount table.
type Table struct {
	mounts []mount

	// byDev is built lazily on first lookup; mount points are stat'd
	// only if a caller actually needs filesystem types.
	byDev map[uint64]string
}

type mount struct {
	dir    string
	fstype string
}

// Parse reads the system mount table.
func Parse() (*Table, error) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		f, err = os.Open("/etc/mtab")
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t := &Table{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		t.mounts = append(t.mounts, mount{dir: unescape(fields[1]), fstype: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// FSType returns the filesystem type of the given device, or "unknown".
func (t *Table) FSType(dev uint64) string {
	if t.byDev == nil {
		t.byDev = make(map[uint64]string, len(t.mounts))
		for _, m := range t.mounts {
			var st unix.Stat_t
			if err := unix.Stat(m.dir, &st); err != nil {
				continue
			}
			t.byDev[st.Dev] = m.fstype
		}
	}

	if fstype, ok := t.byDev[dev]; ok {
		return fstype
	}
	return "unknown"
}

// unescape decodes the octal escapes fstab(5) uses for whitespace in mount
// points (e.g. \040 for space).
func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) &&
			s[i+1] >= '0' && s[i+1] < '8' &&
			s[i+2] >= '0' && s[i+2] < '8' &&
			s[i+3] >= '0' && s[i+3] < '8' {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
