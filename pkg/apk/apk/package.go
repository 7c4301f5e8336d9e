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
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Package represents a single package with the information present in an
// APKINDEX or a .PKGINFO control file.
type Package struct {
	Name             string `ini:"pkgname"`
	Version          string `ini:"pkgver"`
	Arch             string `ini:"arch"`
	Description      string `ini:"pkgdesc"`
	License          string `ini:"license"`
	Origin           string `ini:"origin"`
	Maintainer       string `ini:"maintainer"`
	URL              string `ini:"url"`
	Checksum         []byte
	Dependencies     []string `ini:"depend,,allowshadow"`
	Provides         []string `ini:"provides,,allowshadow"`
	InstallIf        []string
	Size             uint64 `ini:"size"`
	InstalledSize    uint64
	ProviderPriority uint64 `ini:"provider_priority"`
	BuildTime        time.Time
	BuildDate        int64    `ini:"builddate"`
	RepoCommit       string   `ini:"commit"`
	Replaces         []string `ini:"replaces,,allowshadow"`
}

func (p *Package) String() string {
	return fmt.Sprintf("%s (ver:%s arch:%s)", p.Name, p.Version, p.Arch)
}

// Filename returns the package filename as it's named in a repository.
func (p *Package) Filename() string {
	return p.Name + "-" + p.Version + ".apk"
}

// ChecksumString returns a human-readable version of the control section checksum.
func (p *Package) ChecksumString() string {
	return "Q1" + base64.StdEncoding.EncodeToString(p.Checksum)
}

// Requirements returns the dependencies that must be provided by some other
// package. Conflicts ("!name") are constraints, not requirements, and are
// left out.
func (p *Package) Requirements() []string {
	reqs := make([]string, 0, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		if dep == "" || strings.HasPrefix(dep, "!") {
			continue
		}
		reqs = append(reqs, dep)
	}
	return reqs
}

// ParsePkgInfo parses the .PKGINFO control file of a built package.
func ParsePkgInfo(r io.Reader) (*Package, error) {
	cfg, err := ini.ShadowLoad(r)
	if err != nil {
		return nil, fmt.Errorf("ini.ShadowLoad(): %w", err)
	}

	pkg := new(Package)
	if err = cfg.MapTo(pkg); err != nil {
		return nil, fmt.Errorf("cfg.MapTo(): %w", err)
	}
	if pkg.Name == "" {
		return nil, fmt.Errorf("missing pkgname")
	}
	if pkg.Version == "" {
		return nil, fmt.Errorf("package %s: missing pkgver", pkg.Name)
	}
	pkg.BuildTime = time.Unix(pkg.BuildDate, 0).UTC()
	pkg.InstalledSize = pkg.Size

	return pkg, nil
}
