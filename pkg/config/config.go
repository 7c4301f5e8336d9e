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

package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chainguard-dev/clog"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/sets"

	"chainguard.dev/repoclosure/pkg/apk/apk"
)

type Repository struct {
	// Required: The identifier packages from this repository are reported under
	ID string `json:"id" yaml:"id" toml:"id"`
	// Required: The base URL or local path of the repository. The index is
	// read from <url>/<arch>/APKINDEX.tar.gz
	URL string `json:"url" yaml:"url" toml:"url"`
	// Optional: Whether the repository is checked. Defaults to true
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
}

// IsEnabled reports whether the repository takes part in the check.
func (r Repository) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Ref returns the repository in the form the index fetcher takes.
func (r Repository) Ref() apk.RepositoryRef {
	return apk.RepositoryRef{ID: r.ID, URL: r.URL}
}

type Configuration struct {
	// Optional: The purl namespace of the distribution, e.g. wolfi
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" toml:"namespace,omitempty"`
	// Optional: Architectures to check, in apk or OCI naming. "host" is the
	// architecture of the running machine. Defaults to the host architecture
	Archs []string `json:"archs,omitempty" yaml:"archs,omitempty" toml:"archs,omitempty"`
	// Optional: Paths or URLs of public keys used to verify repository indexes
	Keyring []string `json:"keyring,omitempty" yaml:"keyring,omitempty" toml:"keyring,omitempty"`
	// Optional: Skip index signature verification
	AllowUntrusted bool `json:"allow-untrusted,omitempty" yaml:"allow-untrusted,omitempty" toml:"allow-untrusted,omitempty"`
	// A list of apk repositories to check
	Repositories []Repository `json:"repositories,omitempty" yaml:"repositories,omitempty" toml:"repositories,omitempty"`
}

// ConfigError is returned for configurations that cannot be used, before any
// repository is contacted.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// Load reads a configuration file. Files ending in .toml are read as TOML,
// anything else as YAML. Unknown fields are rejected.
func (c *Configuration) Load(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return &ConfigError{Err: fmt.Errorf("failed to parse configuration: %w", err)}
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return configErrorf("unknown fields in %s: %v", configPath, undecoded)
		}
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return &ConfigError{Err: fmt.Errorf("failed to parse configuration: %w", err)}
	}
	return nil
}

// Validate checks that every repository has a unique id and a URL.
func (c *Configuration) Validate() error {
	seen := sets.New[string]()
	for i, repo := range c.Repositories {
		if repo.ID == "" {
			return configErrorf("repository %d (%s) has no id", i, repo.URL)
		}
		if repo.URL == "" {
			return configErrorf("repository %q has no url", repo.ID)
		}
		if seen.Has(repo.ID) {
			return configErrorf("duplicate repository id %q", repo.ID)
		}
		seen.Insert(repo.ID)
	}
	return nil
}

// AddRepositories appends repositories given outside the configuration file.
// They are enabled.
func (c *Configuration) AddRepositories(refs ...apk.RepositoryRef) {
	for _, ref := range refs {
		c.Repositories = append(c.Repositories, Repository{ID: ref.ID, URL: ref.URL})
	}
}

// SelectRepositories enables exactly the repositories with the given ids and
// disables all others. An empty list leaves the configuration unchanged. Ids
// that match no repository are an error.
func (c *Configuration) SelectRepositories(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	known := sets.New[string]()
	for _, repo := range c.Repositories {
		known.Insert(repo.ID)
	}
	want := sets.New(ids...)
	if unknown := want.Difference(known); unknown.Len() != 0 {
		return configErrorf("unknown repository id(s): %s", strings.Join(sets.List(unknown), ", "))
	}

	for i := range c.Repositories {
		enabled := want.Has(c.Repositories[i].ID)
		c.Repositories[i].Enabled = &enabled
	}
	return nil
}

// EnabledRepositories returns the repositories to check, in configuration order.
func (c *Configuration) EnabledRepositories() []apk.RepositoryRef {
	var refs []apk.RepositoryRef
	for _, repo := range c.Repositories {
		if repo.IsEnabled() {
			refs = append(refs, repo.Ref())
		}
	}
	return refs
}

// APKArchs returns the configured architectures in apk naming, de-duplicated
// and sorted. Without any configured architecture it returns the host's.
func (c *Configuration) APKArchs() []string {
	return ParseArchitectures(c.Archs)
}

// ParseArchitectures converts architecture names to apk naming. "host" is the
// architecture of the running machine. Values are de-duplicated and sorted
// for reproducibility; an empty input yields the host architecture.
func ParseArchitectures(in []string) []string {
	if len(in) == 0 {
		in = []string{"host"}
	}

	uniq := sets.New[string]()
	for _, s := range in {
		if s == "host" {
			s = runtime.GOARCH
		}
		uniq.Insert(apk.ArchToAPK(s))
	}
	archs := uniq.UnsortedList()
	sort.Strings(archs)
	return archs
}

// Summarize logs the effective configuration.
func (c *Configuration) Summarize(ctx context.Context) {
	log := clog.FromContext(ctx)
	log.Infof("configuration:")
	log.Infof("  namespace:       %s", c.Namespace)
	log.Infof("  archs:           %v", c.APKArchs())
	log.Infof("  keyring:         %v", c.Keyring)
	log.Infof("  allow-untrusted: %t", c.AllowUntrusted)
	log.Infof("  repositories:")
	for _, repo := range c.Repositories {
		log.Infof("    - %s %s (enabled=%t)", repo.ID, repo.URL, repo.IsEnabled())
	}
}
