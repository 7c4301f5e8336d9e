package apk

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParsePkgInfo(t *testing.T) {
	for _, c := range []struct {
		name    string
		pkginfo string
		want    *Package
	}{{
		name: "hello-wolfi",
		pkginfo: `# Generated by melange
pkgname = hello-wolfi
pkgver = 2.12.1-r0
arch = x86_64
size = 640091
origin = hello-wolfi
pkgdesc = the GNU hello world program
url = https://www.gnu.org/software/hello/
commit = af13bd168c9d86ede4ad1be5c4ceac79253a7e26
builddate = 12345678
license = GPL-3.0-or-later
depend = so:ld-linux-x86-64.so.2
depend = so:libc.so.6
provides = cmd:hello=2.12.1-r0
`,
		want: &Package{
			Name:          "hello-wolfi",
			Version:       "2.12.1-r0",
			Arch:          "x86_64",
			Description:   "the GNU hello world program",
			License:       "GPL-3.0-or-later",
			Origin:        "hello-wolfi",
			URL:           "https://www.gnu.org/software/hello/",
			RepoCommit:    "af13bd168c9d86ede4ad1be5c4ceac79253a7e26",
			Dependencies:  []string{"so:ld-linux-x86-64.so.2", "so:libc.so.6"},
			Provides:      []string{"cmd:hello=2.12.1-r0"},
			Size:          640091,
			InstalledSize: 640091,
			BuildTime:     time.Date(1970, 5, 23, 21, 21, 18, 0, time.UTC),
			BuildDate:     12345678,
		},
	}, {
		name: "replaces",
		pkginfo: `pkgname = replaces
pkgver = 0.0.1-r0
arch = aarch64
replaces = foo
replaces = bar
`,
		want: &Package{
			Name:      "replaces",
			Version:   "0.0.1-r0",
			Arch:      "aarch64",
			Replaces:  []string{"foo", "bar"},
			BuildTime: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}} {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParsePkgInfo(strings.NewReader(c.pkginfo))
			if err != nil {
				t.Fatalf("ParsePkgInfo(): %v", err)
			}
			if d := cmp.Diff(c.want, got); d != "" {
				t.Errorf("ParsePkgInfo() mismatch (-want  got):\n%s", d)
			}
		})
	}
}

func TestParsePkgInfoMissingFields(t *testing.T) {
	_, err := ParsePkgInfo(strings.NewReader("pkgver = 1.0-r0\n"))
	require.ErrorContains(t, err, "missing pkgname")

	_, err = ParsePkgInfo(strings.NewReader("pkgname = foo\n"))
	require.ErrorContains(t, err, "missing pkgver")
}

func TestRequirementsSkipsConflicts(t *testing.T) {
	pkg := &Package{Dependencies: []string{"busybox", "!busybox-legacy", "so:libc.so.6", ""}}
	require.Equal(t, []string{"busybox", "so:libc.so.6"}, pkg.Requirements())
}
