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

package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"chainguard.dev/repoclosure/pkg/apk/apk"
	"chainguard.dev/repoclosure/pkg/closure"
	"chainguard.dev/repoclosure/pkg/config"
	"chainguard.dev/repoclosure/pkg/repoindex"
)

// repoOptions are the flags shared by every command that reads repositories.
type repoOptions struct {
	configFile       string
	repositories     []string
	repositoriesFile string
	repoIDs          []string
	archs            []string
	keyring          []string
	allowUntrusted   bool
	discoverKeys     bool
	namespace        string
	pkgs             []string
	pkgInfos         []string
	limits           apk.SizeLimits
	cacheDir         string
	offline          bool
}

func (o *repoOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.configFile, "config", "c", "", "path to a YAML or TOML configuration file")
	cmd.Flags().StringArrayVarP(&o.repositories, "repository", "X", nil, "repository to check, as URL or '@id URL' (can be repeated)")
	cmd.Flags().StringVar(&o.repositoriesFile, "repositories-file", "", "file listing repositories, one per line, as in /etc/apk/repositories")
	cmd.Flags().StringSliceVar(&o.repoIDs, "repoid", nil, "only check the repositories with these ids (can be repeated)")
	cmd.Flags().StringSliceVar(&o.archs, "arch", nil, "architectures to check (e.g., x86_64,aarch64). 'host' is the arch of this machine, which is the default")
	cmd.Flags().StringSliceVarP(&o.keyring, "keyring", "k", nil, "path or URL of a public key used to verify repository indexes (can be repeated)")
	cmd.Flags().BoolVar(&o.allowUntrusted, "allow-untrusted", false, "do not verify repository index signatures")
	cmd.Flags().BoolVar(&o.discoverKeys, "discover-keys", false, "add the signing keys remote repositories publish through key discovery to the keyring")
	cmd.Flags().StringVar(&o.namespace, "namespace", "", "distribution namespace used in package URLs, e.g. wolfi")
	cmd.Flags().StringSliceVar(&o.pkgs, "pkg", nil, "only check packages with these names (can be repeated)")
	cmd.Flags().StringArrayVar(&o.pkgInfos, "pkginfo", nil, "path to a .PKGINFO file to check as part of the 'local' repository (can be repeated)")

	cmd.Flags().StringVar(&o.cacheDir, "cache-dir", "", "directory to use for caching repository indexes (default '' means no caching)")
	cmd.Flags().BoolVar(&o.offline, "offline", false, "do not use network to fetch indexes (cache must be pre-populated)")
	cmd.Flags().Int64Var(&o.limits.Index, "max-apkindex-decompressed-size", apk.DefaultMaxIndexSize,
		"maximum decompressed size for APKINDEX archives in bytes, protects against gzip bombs (0=default, -1=no limit)")
	cmd.Flags().Int64Var(&o.limits.Response, "max-http-response-size", apk.DefaultMaxResponseSize,
		"maximum size for HTTP responses in bytes (0=default, -1=no limit)")
}

// configuration merges the configuration file with the command line. Flags
// add to the repositories and keys of the file and override its scalars.
func (o *repoOptions) configuration(ctx context.Context) (*config.Configuration, error) {
	cfg := &config.Configuration{}
	if o.configFile != "" {
		if err := cfg.Load(o.configFile); err != nil {
			return nil, err
		}
	}

	reposFile := o.repositoriesFile
	if reposFile == "" && o.configFile == "" && len(o.repositories) == 0 && len(o.pkgInfos) == 0 {
		if _, err := os.Stat(apk.DefaultReposFilePath); err == nil {
			clog.FromContext(ctx).Infof("no repositories given, using %s", apk.DefaultReposFilePath)
			reposFile = apk.DefaultReposFilePath
		}
	}
	if reposFile != "" {
		f, err := os.Open(reposFile)
		if err != nil {
			return nil, fmt.Errorf("opening repositories file: %w", err)
		}
		defer f.Close()
		refs, err := apk.ReadRepositoriesFile(f)
		if err != nil {
			return nil, &config.ConfigError{Err: fmt.Errorf("%s: %w", reposFile, err)}
		}
		cfg.AddRepositories(refs...)
	}

	for _, line := range o.repositories {
		ref, err := apk.ParseRepositoryRef(line)
		if err != nil {
			return nil, &config.ConfigError{Err: err}
		}
		cfg.AddRepositories(ref)
	}

	if len(o.archs) != 0 {
		cfg.Archs = o.archs
	}
	cfg.Keyring = append(cfg.Keyring, o.keyring...)
	if o.allowUntrusted {
		cfg.AllowUntrusted = true
	}
	if o.namespace != "" {
		cfg.Namespace = o.namespace
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.SelectRepositories(o.repoIDs); err != nil {
		return nil, err
	}
	if o.offline && o.cacheDir == "" {
		return nil, &config.ConfigError{Err: errors.New("--offline requires --cache-dir")}
	}
	if len(cfg.EnabledRepositories()) == 0 && len(o.pkgInfos) == 0 {
		return nil, &config.ConfigError{Err: errors.New("no repositories enabled")}
	}
	return cfg, nil
}

// keys loads the keyring used to verify indexes. Without configured keys or
// key discovery the system keyring is used.
func (o *repoOptions) keys(ctx context.Context, cfg *config.Configuration) (map[string][]byte, error) {
	repos := cfg.EnabledRepositories()
	if cfg.AllowUntrusted || len(repos) == 0 {
		return nil, nil
	}

	keyFiles := cfg.Keyring
	if len(keyFiles) == 0 && !o.discoverKeys {
		matches, err := filepath.Glob(filepath.Join(apk.DefaultKeyRingPath, "*.pub"))
		if err != nil {
			return nil, err
		}
		keyFiles = matches
	}

	keys, err := apk.LoadKeyring(ctx, nil, keyFiles)
	if err != nil {
		return nil, fmt.Errorf("loading keyring: %w", err)
	}
	if o.discoverKeys {
		discovered, err := apk.DiscoverKeys(ctx, nil, repos)
		if err != nil {
			return nil, err
		}
		maps.Copy(keys, discovered)
	}

	if len(keys) == 0 {
		return nil, &config.ConfigError{Err: errors.New("no keys to verify repository indexes with; pass --keyring, --discover-keys or --allow-untrusted")}
	}
	return keys, nil
}

// localPackages parses the --pkginfo files.
func (o *repoOptions) localPackages() ([]*apk.Package, error) {
	pkgs := make([]*apk.Package, 0, len(o.pkgInfos))
	for _, p := range o.pkgInfos {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", p, err)
		}
		pkg, err := apk.ParsePkgInfo(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", p, err)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// candidateNames are the package names checks are restricted to: the --pkg
// names plus those of the --pkginfo packages. Empty means every package.
func (o *repoOptions) candidateNames(local []*apk.Package) []string {
	names := slices.Clone(o.pkgs)
	for _, pkg := range local {
		if !slices.Contains(names, pkg.Name) {
			names = append(names, pkg.Name)
		}
	}
	return names
}

// loadIndex builds the latest-only index of the enabled repositories for
// arch. Local packages for arch are searched ahead of every repository.
func (o *repoOptions) loadIndex(ctx context.Context, cfg *config.Configuration, arch string, keys map[string][]byte, local []*apk.Package) (*repoindex.Index, error) {
	var indexes []apk.NamedIndex

	var forArch []*apk.Package
	for _, pkg := range local {
		if pkg.Arch == arch || pkg.Arch == "noarch" || pkg.Arch == "" {
			forArch = append(forArch, pkg)
		}
	}
	if len(forArch) != 0 {
		indexes = append(indexes, apk.NewLocalIndex(forArch))
	}

	remote, err := apk.GetRepositoryIndexes(ctx, cfg.EnabledRepositories(), keys, arch,
		apk.WithIgnoreSignatures(cfg.AllowUntrusted),
		apk.WithSizeLimits(o.limits),
		apk.WithIndexCache(apk.IndexCache{Dir: o.cacheDir, Offline: o.offline}),
	)
	if err != nil {
		return nil, err
	}
	indexes = append(indexes, remote...)

	return repoindex.New(ctx, indexes), nil
}

// selectCandidates applies the name filter and warns about names that match
// no package.
func selectCandidates(ctx context.Context, idx *repoindex.Index, names []string) []*closure.Package {
	latest := idx.AvailableLatest()
	if len(names) == 0 {
		return latest
	}
	for _, name := range names {
		if len(repoindex.FilterByName(latest, name)) == 0 {
			clog.FromContext(ctx).Warnf("no package named %q", name)
		}
	}
	return repoindex.FilterByNames(latest, names...)
}
