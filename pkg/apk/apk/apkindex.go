// Copyright 2023 Chainguard, Inc.
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

package apk

import (
	"archive/tar"
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/klauspost/compress/gzip"

	"chainguard.dev/repoclosure/pkg/limitio"
)

const (
	apkIndexFilename    = "APKINDEX"
	descriptionFilename = "DESCRIPTION"
)

var apkIndexTemplate = template.Must(template.New(apkIndexFilename).Funcs(
	template.FuncMap{
		"join": func(s []string) string {
			return strings.Join(s, " ")
		},
	}).Parse(`{{- if .Checksum}}C:{{.ChecksumString}}
{{end -}}
P:{{.Name}}
V:{{.Version}}
{{- if .Arch}}
A:{{.Arch}}
{{- end}}
{{- if .Size}}
S:{{.Size}}
{{- end}}
{{- if .InstalledSize}}
I:{{.InstalledSize}}
{{- end}}
T:{{.Description}}
{{- if .URL}}
U:{{.URL}}
{{- end}}
{{- if .License}}
L:{{.License}}
{{- end}}
{{- if .Origin}}
o:{{.Origin}}
{{- end}}
{{- if .Maintainer}}
m:{{.Maintainer}}
{{- end}}
{{- if not .BuildTime.IsZero}}
t:{{.BuildTime.Unix}}
{{- end}}
{{- if .RepoCommit}}
c:{{.RepoCommit}}
{{- end}}
{{- if .Dependencies}}
D:{{join .Dependencies}}
{{- end}}
{{- if .InstallIf}}
i:{{join .InstallIf}}
{{- end}}
{{- if .Provides}}
p:{{join .Provides}}
{{- end}}
{{- if .Replaces}}
r:{{join .Replaces}}
{{- end}}
{{- if .ProviderPriority}}
k:{{.ProviderPriority}}
{{- end}}

`))

type APKIndex struct { //nolint:revive
	Signature   []byte
	Description string
	Packages    []*Package
}

// Splitting an empty string yields one empty element, which would become a
// dependency on a package with no name.
func splitRepeatedField(val string) []string {
	if val == "" {
		return nil
	}
	return strings.Fields(val)
}

// ParsePackageIndex parses a plain (uncompressed) APKINDEX file.
func ParsePackageIndex(apkIndexUnpacked io.Reader) ([]*Package, error) {
	if closer, ok := apkIndexUnpacked.(io.Closer); ok {
		defer closer.Close()
	}

	indexScanner := bufio.NewScanner(apkIndexUnpacked)

	// Provides lines in the wild exceed bufio.MaxScanTokenSize (64KB).
	buf := make([]byte, 16*1024)
	indexScanner.Buffer(buf, 1024*1024)

	var (
		pkg      = &Package{}
		packages []*Package
		linenr   = 0
	)
	for indexScanner.Scan() {
		linenr++
		line := indexScanner.Text()
		if len(line) == 0 {
			if pkg.Name != "" {
				packages = append(packages, pkg)
			}
			pkg = &Package{}
			continue
		}

		if len(line) < 2 || line[1] != ':' {
			return nil, fmt.Errorf("cannot parse line %d: expected \":\" not found", linenr)
		}

		token, val := line[:1], line[2:]

		switch token {
		case "P":
			pkg.Name = val
		case "V":
			pkg.Version = val
		case "A":
			pkg.Arch = val
		case "L":
			pkg.License = val
		case "T":
			pkg.Description = val
		case "o":
			pkg.Origin = val
		case "m":
			pkg.Maintainer = val
		case "U":
			pkg.URL = val
		case "D":
			pkg.Dependencies = splitRepeatedField(val)
		case "p":
			pkg.Provides = splitRepeatedField(val)
		case "r":
			pkg.Replaces = splitRepeatedField(val)
		case "i":
			pkg.InstallIf = splitRepeatedField(val)
		case "c":
			pkg.RepoCommit = val
		case "t":
			i, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse build time %s: %w", val, err)
			}
			pkg.BuildDate = i
			pkg.BuildTime = time.Unix(i, 0).UTC()
		case "S":
			size, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse size field %s: %w", val, err)
			}
			pkg.Size = size
		case "I":
			installedSize, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse installed size field %s: %w", val, err)
			}
			pkg.InstalledSize = installedSize
		case "k":
			priority, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse provider priority field %s: %w", val, err)
			}
			pkg.ProviderPriority = priority
		case "C":
			// Only SHA1 (Q1) checksums are understood.
			if strings.HasPrefix(val, "Q1") {
				checksum, err := base64.StdEncoding.DecodeString(val[2:])
				if err != nil {
					return nil, fmt.Errorf("cannot parse checksum on line %d: %w", linenr, err)
				}
				pkg.Checksum = checksum
			}
		}
	}
	if err := indexScanner.Err(); err != nil {
		return nil, err
	}

	// The final record is not always followed by a blank line.
	if pkg.Name != "" {
		packages = append(packages, pkg)
	}

	return packages, nil
}

// IndexFromArchive reads an APKINDEX.tar.gz, including any signature members.
func IndexFromArchive(archive io.ReadCloser) (*APKIndex, error) {
	return indexFromArchive(archive, -1)
}

// indexFromArchive is IndexFromArchive with a bound on the decompressed size.
func indexFromArchive(archive io.ReadCloser, maxSize int64) (*APKIndex, error) {
	defer archive.Close()

	gzipReader, err := gzip.NewReader(archive)
	if err != nil {
		return nil, err
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(limitio.NewReader(gzipReader, "decompressed index", maxSize))
	apkindex := &APKIndex{}

	for {
		hdr, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch {
		case hdr.Name == apkIndexFilename:
			apkindex.Packages, err = ParsePackageIndex(io.NopCloser(tarReader))
			if err != nil {
				return nil, err
			}
		case hdr.Name == descriptionFilename:
			description, err := io.ReadAll(tarReader)
			if err != nil {
				return nil, err
			}
			apkindex.Description = string(description)
		case strings.HasPrefix(hdr.Name, ".SIGN."):
			apkindex.Signature, err = io.ReadAll(tarReader)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected file found in APKINDEX: %s", hdr.Name)
		}
	}

	return apkindex, nil
}

// ArchiveFromIndex renders an index back into an unsigned APKINDEX.tar.gz.
func ArchiveFromIndex(apkindex *APKIndex) (io.Reader, error) {
	var contents bytes.Buffer
	for _, pkg := range apkindex.Packages {
		if pkg.Name == "" {
			continue
		}
		if err := apkIndexTemplate.Execute(&contents, pkg); err != nil {
			return nil, fmt.Errorf("failed to execute template for package %s: %w", pkg.Name, err)
		}
	}

	var tarball bytes.Buffer
	gw := gzip.NewWriter(&tarball)
	tw := tar.NewWriter(gw)

	for _, item := range []struct {
		filename string
		contents []byte
	}{
		{apkIndexFilename, contents.Bytes()},
		{descriptionFilename, []byte(apkindex.Description)},
	} {
		header := &tar.Header{
			Name:     item.filename,
			Mode:     0o644,
			Size:     int64(len(item.contents)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", item.filename, err)
		}
		if _, err := tw.Write(item.contents); err != nil {
			return nil, fmt.Errorf("writing tar contents for %s: %w", item.filename, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	return &tarball, nil
}
