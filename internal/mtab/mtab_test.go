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

package mtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParse(t *testing.T) {
	t.Parallel()

	table, err := Parse()
	require.NoError(t, err)
	assert.NotEmpty(t, table.mounts)
}

func TestFSType(t *testing.T) {
	t.Parallel()

	table, err := Parse()
	require.NoError(t, err)

	var st unix.Stat_t
	require.NoError(t, unix.Stat("/", &st))

	fstype := table.FSType(st.Dev)
	assert.NotEmpty(t, fstype)

	// Unknown devices get a stable placeholder.
	assert.Equal(t, "unknown", table.FSType(^uint64(0)))
}

func TestUnescape(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/plain/path", unescape("/plain/path"))
	assert.Equal(t, "/with space", unescape("/with\\040space"))
	assert.Equal(t, "/tab\there", unescape("/tab\\011here"))
	assert.Equal(t, "/trailing\\", unescape("/trailing\\"))
	assert.Equal(t, "/not\\9octal", unescape("/not\\9octal"))
}
