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

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bfind/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for -version
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

// exitCode is what Execute reports to main.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "bfind [flags...] [paths...] [expression...]",
	Short: "Breadth-first find",
	Long: `bfind searches file trees breadth-first, so shallow results appear before
deep ones.  It evaluates a find(1)-style expression of tests and actions at
every visited file.`,
	// find-style expressions are not flag-shaped; the internal parser
	// owns the whole argument list.
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.WarnLevel)

		defaults, err := config.Load()
		if err != nil {
			// A broken settings file shouldn't stop a search.
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			defaults = nil
		}

		q, err := Parse(args, defaults)
		if err != nil {
			switch {
			case errors.Is(err, ErrHelp):
				printHelp(cmd.OutOrStdout())
				return nil
			case errors.Is(err, ErrVersion):
				fmt.Fprintf(cmd.OutOrStdout(), "bfind version %s\n", getVersionString())
				return nil
			}
			return err
		}
		defer q.CloseSinks()

		exitCode = q.Run()
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, `Usage: bfind [flags...] [paths...] [expression...]

Flags:
  -H           Follow symbolic links on the command line
  -L, -follow  Follow all symbolic links
  -P           Never follow symbolic links (default)
  -E           Accepted for compatibility; regexes are always RE2
  -X           Skip paths that are unsafe for xargs
  -D FLAGS     Turn on debugging output (opt, rates, stat, tree, all)
  -O[N]        Set the optimization level (default 3)
  -f PATH      Treat PATH as a path to search

Options:
  -color, -nocolor         Turn colours on or off
  -daystart                Measure times from the start of today
  -d, -depth               Search in post-order (depth-first)
  -maxdepth N, -mindepth N Limit the search depth
  -mount, -xdev            Stay on the starting filesystem
  -ignore_readdir_race     Ignore files that vanish mid-search

Tests:
  -amin/-cmin/-mmin [-+]N    Minutes since access/change/modification
  -atime/-ctime/-mtime [-+]N Days since access/change/modification
  -anewer/-cnewer/-newer FILE Newer than FILE
  -depth [-+]N              Depth below the start path
  -empty                    Empty file or directory
  -fstype TYPE              On a TYPE filesystem
  -gid/-uid [-+]N           Group/user ID
  -group/-user NAME         Owned by NAME
  -hidden                   Name starts with '.'
  -inum [-+]N, -links [-+]N Inode/link count
  -name/-iname GLOB         Basename matches GLOB
  -path/-ipath GLOB         Whole path matches GLOB
  -lname/-ilname GLOB       Symlink target matches GLOB
  -regex/-iregex PATTERN    Whole path matches PATTERN
  -nogroup, -nouser         Owner not in the system databases
  -perm [-/]MODE            Permission bits
  -readable/-writable/-executable  Access rights
  -samefile FILE            Same inode as FILE
  -size [-+]N[bcwkMGTP]     File size
  -sparse                   Fewer blocks than the size implies
  -type/-xtype [bcdpflsD]   File type
  -used [-+]N               Days between access and status change

Actions:
  -print, -print0           Write the path to standard output
  -printf FORMAT            Write formatted metadata
  -fprint/-fprint0/-fprintf/-fls FILE  ... to FILE
  -ls                       List like ls -l
  -delete                   Delete the file (implies -depth)
  -exec/-execdir CMD... ;   Run a command per file
  -exec/-execdir CMD... {} +  Run a command on batches of files
  -ok/-okdir CMD... ;       ... asking first
  -prune                    Skip the subtree
  -quit                     Stop immediately
  -nohidden                 Skip hidden files and directories

Operators:
  ( EXPR )   ! EXPR   EXPR -a EXPR   EXPR -o EXPR   EXPR , EXPR
`)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bfind: %v\n", err)
		return 1
	}
	return exitCode
}
