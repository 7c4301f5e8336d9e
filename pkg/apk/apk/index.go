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
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/klauspost/compress/gzip"
	"go.lsp.dev/uri"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	sign "chainguard.dev/repoclosure/pkg/apk/signature"
	"chainguard.dev/repoclosure/pkg/limitio"
)

var signatureFileRegex = regexp.MustCompile(`^\.SIGN\.(DSA|RSA|RSA256|RSA512)\.(.*\.rsa\.pub)$`)

type Signature struct {
	KeyID           string
	Signature       []byte
	DigestAlgorithm crypto.Hash
}

// IndexURL returns the full URL to the index file for the given repo and arch.
//
// `repo` is the URL of the repository including the protocol, e.g.
// "https://packages.wolfi.dev/os".
//
// `arch` is the architecture of the index, e.g. "x86_64" or "aarch64".
func IndexURL(repo, arch string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(repo, "/"), arch, indexFilename)
}

// GetRepositoryIndexes fetches and parses the index of every repository for
// arch. Signatures are verified against keys unless WithIgnoreSignatures is
// given. The keys map a key name to its PEM contents; signatures whose key
// name is not in the map are skipped. A repository that cannot be read fails
// the whole call.
func GetRepositoryIndexes(ctx context.Context, repos []RepositoryRef, keys map[string][]byte, arch string, options ...IndexOption) ([]NamedIndex, error) {
	ctx, span := otel.Tracer("repoclosure").Start(ctx, "GetRepositoryIndexes")
	defer span.End()

	opts := &indexOpts{}
	for _, opt := range options {
		opt(opts)
	}
	if opts.httpClient == nil {
		opts.httpClient = DefaultHTTPClient()
	}
	if opts.cache.Dir != "" {
		opts.httpClient = opts.cache.Client(opts.httpClient)
	}

	indexes := make([]NamedIndex, len(repos))

	var eg errgroup.Group
	for i, repo := range repos {
		eg.Go(func() error {
			u := IndexURL(repo.URL, arch)
			clog.DebugContextf(ctx, "fetching index %s for repository %s", redact(u), repo.ID)

			b, err := readRepositoryIndex(ctx, u, opts)
			if err != nil {
				return fmt.Errorf("reading index %s: %w", redact(u), err)
			}

			idx, err := parseRepositoryIndex(ctx, keys, b, opts)
			if err != nil {
				return fmt.Errorf("parsing index %s: %w", redact(u), err)
			}

			repoRef := &Repository{URI: fmt.Sprintf("%s/%s", strings.TrimSuffix(repo.URL, "/"), arch)}
			indexes[i] = NewNamedRepositoryWithIndex(repo.ID, repoRef.WithIndex(idx))
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return indexes, nil
}

func readRepositoryIndex(ctx context.Context, u string, opts *indexOpts) ([]byte, error) {
	if strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") {
		return fetchRepositoryIndex(ctx, u, opts)
	}

	path := strings.TrimPrefix(u, "file://")
	if opts.fsys != nil {
		return fs.ReadFile(opts.fsys, strings.TrimPrefix(path, "/"))
	}
	return os.ReadFile(path)
}

func fetchRepositoryIndex(ctx context.Context, u string, opts *indexOpts) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := opts.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", res.StatusCode)
	}

	b, err := limitio.ReadAll(res.Body, "index response", limitio.Limit(opts.limits.Response, DefaultMaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return b, nil
}

func parseRepositoryIndex(ctx context.Context, keys map[string][]byte, b []byte, opts *indexOpts) (*APKIndex, error) {
	_, span := otel.Tracer("repoclosure").Start(ctx, "parseRepositoryIndex")
	defer span.End()

	if !opts.ignoreSignatures {
		if err := verifyRepositoryIndex(ctx, keys, b); err != nil {
			return nil, err
		}
	}

	index, err := indexFromArchive(io.NopCloser(bytes.NewReader(b)), limitio.Limit(opts.limits.Index, DefaultMaxIndexSize))
	if err != nil {
		return nil, fmt.Errorf("unable to convert repository index bytes to index struct: %w", err)
	}

	return index, nil
}

// verifyRepositoryIndex checks the signature stream at the head of a signed
// index against the index data that follows it.
func verifyRepositoryIndex(ctx context.Context, keys map[string][]byte, b []byte) error { //nolint:gocyclo
	log := clog.FromContext(ctx)

	if len(keys) == 0 {
		return fmt.Errorf("no keys provided to verify signature")
	}
	for keyName := range keys {
		if strings.Contains(keyName, "/") {
			return fmt.Errorf("invalid keyname %q", keyName)
		}
	}

	buf := bytes.NewReader(b)
	gzipReader, err := gzip.NewReader(buf)
	if err != nil {
		return fmt.Errorf("unable to create gzip reader for repository index: %w", err)
	}
	// The signature and the index are separate gzip streams; stop after the first.
	gzipReader.Multistream(false)
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	sigs := make([]Signature, 0, len(keys))

	for {
		signatureFile, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("unexpected error reading from tgz: %w", err)
		}
		matches := signatureFileRegex.FindStringSubmatch(signatureFile.Name)
		if len(matches) != 3 {
			return fmt.Errorf("failed to find key name in signature file name: %s", signatureFile.Name)
		}

		keyfile := matches[2]
		if _, ok := keys[keyfile]; !ok {
			// Keys fetched through proxies often lose their extension.
			trimmed := strings.TrimSuffix(keyfile, ".rsa.pub")
			if _, ok := keys[trimmed]; !ok {
				log.Warnf("skipping signature %s due to missing keyfile: %s", signatureFile.Name, keyfile)
				continue
			}
			keyfile = trimmed
		}

		var digestAlgorithm crypto.Hash
		switch signatureType := matches[1]; signatureType {
		case "RSA":
			digestAlgorithm = crypto.SHA1
		case "RSA256":
			digestAlgorithm = crypto.SHA256
		case "DSA", "RSA512":
			continue
		default:
			return fmt.Errorf("unknown signature format: %s", signatureType)
		}

		signature, err := io.ReadAll(tarReader)
		if err != nil {
			return fmt.Errorf("failed to read signature from repository index: %w", err)
		}
		sigs = append(sigs, Signature{
			KeyID:           keyfile,
			Signature:       signature,
			DigestAlgorithm: digestAlgorithm,
		})
	}
	if len(sigs) == 0 {
		return fmt.Errorf("no signature with known key (one of: %v) found in repository index", slices.Sorted(maps.Keys(keys)))
	}

	// Everything after the signature stream is the signed index.
	indexData := b[len(b)-buf.Len():]
	indexDigest := make(map[crypto.Hash][]byte, len(sigs))
	for _, sig := range sigs {
		if _, ok := indexDigest[sig.DigestAlgorithm]; !ok {
			h := sig.DigestAlgorithm.New()
			if _, err := h.Write(indexData); err != nil {
				return fmt.Errorf("unable to hash data: %w", err)
			}
			indexDigest[sig.DigestAlgorithm] = h.Sum(nil)
		}
		err := sign.RSAVerifyDigest(indexDigest[sig.DigestAlgorithm], sig.DigestAlgorithm, sig.Signature, keys[sig.KeyID])
		if err == nil {
			return nil
		}
		log.Warnf("failed to verify signature for keyfile %s: %v", sig.KeyID, err)
	}

	return errors.New("signature verification failed for repository index, for all provided keys")
}

// SizeLimits bound how much is read while loading an index. A zero field
// selects the default; a negative one disables the limit.
type SizeLimits struct {
	// Index is the maximum decompressed size of an APKINDEX archive.
	Index int64
	// Response is the maximum size of a downloaded index.
	Response int64
}

type indexOpts struct {
	ignoreSignatures bool
	httpClient       *http.Client
	fsys             fs.FS
	limits           SizeLimits
	cache            IndexCache
}

type IndexOption func(*indexOpts)

func WithIgnoreSignatures(ignoreSignatures bool) IndexOption {
	return func(o *indexOpts) {
		o.ignoreSignatures = ignoreSignatures
	}
}

func WithHTTPClient(c *http.Client) IndexOption {
	return func(o *indexOpts) {
		o.httpClient = c
	}
}

func WithSizeLimits(limits SizeLimits) IndexOption {
	return func(o *indexOpts) {
		o.limits = limits
	}
}

// WithIndexCache keeps downloaded indexes in cache.Dir. An empty Dir disables
// caching.
func WithIndexCache(cache IndexCache) IndexOption {
	return func(o *indexOpts) {
		o.cache = cache
	}
}

// WithFS reads local repositories from fsys instead of the host filesystem.
// Absolute repository paths are resolved relative to the root of fsys.
func WithFS(fsys fs.FS) IndexOption {
	return func(o *indexOpts) {
		o.fsys = fsys
	}
}

func redact(in string) string {
	asURL, err := url.Parse(in)
	if err != nil {
		// Attempt to parse non-https elements into URI's so they are translated into
		// file:// URLs allowing them to parse into a url.URL{}
		asURL, err := url.Parse(string(uri.New(in)))
		if err != nil {
			return in
		}

		return asURL.Redacted()
	}

	return asURL.Redacted()
}
