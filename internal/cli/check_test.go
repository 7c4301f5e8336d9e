// Copyright 2026 Chainguard, Inc.
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

package cli_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"chainguard.dev/repoclosure/internal/cli"
	"chainguard.dev/repoclosure/pkg/apk/apk"
	"chainguard.dev/repoclosure/pkg/apk/signature"
	"chainguard.dev/repoclosure/pkg/config"
	"chainguard.dev/repoclosure/pkg/report"
)

func indexArchive(t *testing.T, pkgs ...*apk.Package) []byte {
	t.Helper()
	archive, err := apk.ArchiveFromIndex(&apk.APKIndex{Packages: pkgs})
	require.NoError(t, err)
	b, err := io.ReadAll(archive)
	require.NoError(t, err)
	return b
}

func writeIndex(t *testing.T, dir, arch string, b []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, arch), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, arch, "APKINDEX.tar.gz"), b, 0o644))
}

// testRepo writes a repository in which "e" and "f" each have one requirement
// nothing provides.
func testRepo(t *testing.T, archs ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, arch := range archs {
		writeIndex(t, dir, arch, indexArchive(t,
			&apk.Package{Name: "e", Version: "1.0-r0", Arch: arch, Dependencies: []string{"sh", "libmissing"}},
			&apk.Package{Name: "f", Version: "2.0-r1", Arch: arch, Dependencies: []string{"libgone", "!e"}},
			&apk.Package{Name: "busybox", Version: "1.36.1-r0", Arch: arch, Provides: []string{"sh=1.36.1-r0"}},
		))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := cli.New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheck(t *testing.T) {
	repo := testRepo(t, "x86_64")

	got, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64")
	require.NoError(t, err)

	want := `package: e-1.0-r0.x86_64 from os
  unresolved deps:
    libmissing
package: f-2.0-r1.x86_64 from os
  unresolved deps:
    libgone
`
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("report mismatch (-want +got):\n%s", d)
	}
}

func TestCheckPkgFilter(t *testing.T) {
	repo := testRepo(t, "x86_64")

	got, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--arch", "amd64", "--pkg", "e")
	require.NoError(t, err)
	require.Equal(t, "package: e-1.0-r0.x86_64 from os\n  unresolved deps:\n    libmissing\n", got)
}

func TestCheckParallel(t *testing.T) {
	repo := testRepo(t, "x86_64")

	sequential, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64")
	require.NoError(t, err)
	parallel, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64", "-j", "4")
	require.NoError(t, err)
	require.Equal(t, sequential, parallel)
}

func TestCheckJSONPerArch(t *testing.T) {
	repo := testRepo(t, "x86_64", "aarch64")

	out, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted",
		"--arch", "x86_64,aarch64", "--format", "json", "--namespace", "wolfi", "--pkg", "f")
	require.NoError(t, err)

	dec := json.NewDecoder(bytes.NewBufferString(out))
	var docs []report.Document
	for dec.More() {
		var doc report.Document
		require.NoError(t, dec.Decode(&doc))
		docs = append(docs, doc)
	}
	require.Len(t, docs, 2)
	require.Equal(t, "aarch64", docs[0].Arch)
	require.Equal(t, "x86_64", docs[1].Arch)
	require.Equal(t, "pkg:apk/wolfi/f@2.0-r1?arch=x86_64", docs[1].Packages[0].PURL)
	require.Equal(t, []string{"libgone"}, docs[1].Packages[0].Unresolved)
}

func TestCheckFailOnUnresolved(t *testing.T) {
	repo := testRepo(t, "x86_64")

	_, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64", "--fail-on-unresolved")
	require.ErrorIs(t, err, cli.ErrUnresolved)
	require.ErrorContains(t, err, "2 packages")

	_, err = run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64", "--fail-on-unresolved", "--pkg", "busybox")
	require.NoError(t, err)
}

func TestCheckUnknownRepoIDFailsBeforeFetching(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := run(t, "check", "-X", "@os "+srv.URL+"/os", "--allow-untrusted", "--repoid", "nope")
	var cerr *config.ConfigError
	require.True(t, errors.As(err, &cerr), "want a configuration error, got %v", err)
	require.ErrorContains(t, err, "nope")
	require.Zero(t, requests.Load())
}

func TestCheckRepoIDSelects(t *testing.T) {
	os1 := testRepo(t, "x86_64")
	other := t.TempDir()
	writeIndex(t, other, "x86_64", indexArchive(t,
		&apk.Package{Name: "libmissing", Version: "1-r0", Arch: "x86_64"},
	))

	got, err := run(t, "check", "-X", "@os "+os1, "-X", "@extra "+other, "--allow-untrusted", "--arch", "x86_64", "--pkg", "e")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = run(t, "check", "-X", "@os "+os1, "-X", "@extra "+other, "--allow-untrusted", "--arch", "x86_64", "--pkg", "e", "--repoid", "os")
	require.NoError(t, err)
	require.Contains(t, got, "libmissing")
}

func TestCheckIndexUnavailable(t *testing.T) {
	_, err := run(t, "check", "-X", "@os "+t.TempDir(), "--allow-untrusted", "--arch", "x86_64")
	require.ErrorContains(t, err, "reading index")
}

func TestCheckPkgInfo(t *testing.T) {
	repo := testRepo(t, "x86_64")
	pkginfo := filepath.Join(t.TempDir(), ".PKGINFO")
	require.NoError(t, os.WriteFile(pkginfo, []byte(`# Generated by melange
pkgname = newpkg
pkgver = 0.1-r0
arch = x86_64
depend = sh
depend = libnothere
`), 0o644))

	got, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64", "--pkginfo", pkginfo)
	require.NoError(t, err)
	require.Equal(t, "package: newpkg-0.1-r0.x86_64 from local\n  unresolved deps:\n    libnothere\n", got)
}

func TestCheckSignedRepository(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := signature.EncodePublicKey(key)
	require.NoError(t, err)

	keyDir := t.TempDir()
	keyPath := filepath.Join(keyDir, "packager.rsa.pub")
	require.NoError(t, os.WriteFile(keyPath, pub, 0o644))

	repo := t.TempDir()
	signed, err := signature.SignIndex(context.Background(), indexArchive(t,
		&apk.Package{Name: "e", Version: "1.0-r0", Arch: "x86_64", Dependencies: []string{"libmissing"}},
	), "packager.rsa.pub", key)
	require.NoError(t, err)
	writeIndex(t, repo, "x86_64", signed)

	got, err := run(t, "check", "-X", "@os "+repo, "-k", keyPath, "--arch", "x86_64")
	require.NoError(t, err)
	require.Contains(t, got, "package: e-1.0-r0.x86_64 from os")

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherPub, err := signature.EncodePublicKey(other)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, otherPub, 0o644))

	_, err = run(t, "check", "-X", "@os "+repo, "-k", keyPath, "--arch", "x86_64")
	require.ErrorContains(t, err, "signature verification failed")
}

func TestCheckOutputAndMetricsFiles(t *testing.T) {
	repo := testRepo(t, "x86_64")
	dir := t.TempDir()
	output := filepath.Join(dir, "report.dot")
	metricsFile := filepath.Join(dir, "repoclosure.prom")

	stdout, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64",
		"--format", "dot", "-o", output, "--metrics-file", metricsFile)
	require.NoError(t, err)
	require.Empty(t, stdout)

	dot, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Contains(t, string(dot), "digraph")
	require.Contains(t, string(dot), "libgone")

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	require.Contains(t, string(prom), `repoclosure_unresolved_packages{arch="x86_64"} 2`)
	require.Contains(t, string(prom), `repoclosure_candidates{arch="x86_64"} 3`)
}

func TestCheckConfigFile(t *testing.T) {
	repo := testRepo(t, "aarch64")
	cfg := filepath.Join(t.TempDir(), "repoclosure.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
namespace: wolfi
archs: [arm64]
allow-untrusted: true
repositories:
  - id: os
    url: `+repo+`
  - id: disabled
    url: /does/not/exist
    enabled: false
`), 0o644))

	got, err := run(t, "check", "-c", cfg, "--format", `{{ .PURL }} {{ join .Unresolved "," }}`)
	require.NoError(t, err)
	require.Equal(t, "pkg:apk/wolfi/e@1.0-r0?arch=aarch64 libmissing\n"+
		"pkg:apk/wolfi/f@2.0-r1?arch=aarch64 libgone\n", got)
}

func TestCheckBadFormat(t *testing.T) {
	repo := testRepo(t, "x86_64")
	_, err := run(t, "check", "-X", "@os "+repo, "--allow-untrusted", "--format", "{{ .Name")
	require.ErrorContains(t, err, "neither one of")
}

func TestPackages(t *testing.T) {
	repo := testRepo(t, "x86_64")

	got, err := run(t, "packages", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64", "--format", "name=version")
	require.NoError(t, err)
	require.Equal(t, "busybox=1.36.1-r0\ne=1.0-r0\nf=2.0-r1\n", got)

	got, err = run(t, "packages", "-X", "@os "+repo, "--allow-untrusted", "--arch", "x86_64", "--pkg", "busybox", "--format", "nevra-repository")
	require.NoError(t, err)
	require.Equal(t, "busybox-1.36.1-r0.x86_64 os\n", got)
}
