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

package apk

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
)

// IndexCache keeps downloaded indexes on disk, keyed by the ETag the server
// reports for them. An index is downloaded again only when its ETag changes.
// In offline mode the newest cached copy is used without contacting the
// server.
type IndexCache struct {
	Dir     string
	Offline bool
}

// Client wraps c so index requests are answered from the cache where possible.
func (ic IndexCache) Client(c *http.Client) *http.Client {
	return &http.Client{
		Transport: &cacheTransport{
			wrapped: c,
			root:    ic.Dir,
			offline: ic.Offline,
		},
	}
}

type cachedResponse struct {
	resp *http.Response
	err  error
	file string
}

type cacheTransport struct {
	wrapped *http.Client
	root    string
	offline bool

	// url -> *sync.Once; a URL is validated against the server once per client.
	once sync.Map
	// url -> cachedResponse
	results sync.Map
}

func (t *cacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := otel.Tracer("repoclosure").Start(req.Context(), "cacheTransport.RoundTrip")
	defer span.End()

	if req.URL == nil {
		return nil, fmt.Errorf("no URL in request")
	}
	cacheFile, err := cachePathFromURL(t.root, *req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache path based on URL: %w", err)
	}
	dir := cacheDirFromFile(cacheFile)

	if t.offline {
		return newestCached(dir)
	}

	u := req.URL.String()
	once, _ := t.once.LoadOrStore(u, &sync.Once{})
	once.(*sync.Once).Do(func() {
		head := req.Clone(ctx)
		head.Method = http.MethodHead
		resp, err := t.wrapped.Do(head)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil || resp.StatusCode != http.StatusOK {
			t.results.Store(u, cachedResponse{resp: resp, err: err})
			return
		}

		etag, ok := etagFromResponse(resp)
		if !ok {
			// Nothing to key the cache on.
			return
		}

		if f := filepath.Join(dir, etag+".tar.gz"); fileExists(f) {
			clog.FromContext(ctx).Debugf("using cached index %s", f)
			t.results.Store(u, cachedResponse{file: f})
			return
		}

		f, err := t.download(req, dir, etag)
		t.results.Store(u, cachedResponse{file: f, err: err})
	})

	v, ok := t.results.Load(u)
	if !ok {
		return t.wrapped.Do(req)
	}
	cached := v.(cachedResponse)
	if cached.file == "" {
		return cached.resp, cached.err
	}
	return openCached(cached.file)
}

// download fetches the index and stores it under its ETag. The file is
// written to a temporary name and renamed so readers never see a partial
// index.
func (t *cacheTransport) download(req *http.Request, dir, headEtag string) (string, error) {
	resp, err := t.wrapped.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	etag, ok := etagFromResponse(resp)
	if !ok {
		return "", fmt.Errorf("GET response did not contain an etag, but HEAD returned %q", headEtag)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return "", fmt.Errorf("unable to create a temporary cache file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("unable to write to cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	f := filepath.Join(dir, etag+".tar.gz")
	if err := os.Rename(tmp.Name(), f); err != nil {
		return "", fmt.Errorf("unable to populate cache: %w", err)
	}
	return f, nil
}

func newestCached(dir string) (*http.Response, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %q for offline cache: %w", dir, err)
	}

	var newest os.FileInfo
	for _, de := range des {
		if !strings.HasSuffix(de.Name(), ".tar.gz") {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			return nil, err
		}
		if newest == nil || fi.ModTime().After(newest.ModTime()) {
			newest = fi
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("no offline cached entries for %s", dir)
	}
	return openCached(filepath.Join(dir, newest.Name()))
}

func openCached(name string) (*http.Response, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open(%q): %w", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat(%q): %w", name, err)
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          f,
		ContentLength: fi.Size(),
	}, nil
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// cacheDirFromFile is the directory holding every cached version of a file.
func cacheDirFromFile(cacheFile string) string {
	return filepath.Join(filepath.Dir(cacheFile), strings.TrimSuffix(filepath.Base(cacheFile), ".tar.gz"))
}

func etagFromResponse(resp *http.Response) (string, bool) {
	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	// Weak validators still identify the content for our purposes.
	etag = strings.TrimPrefix(etag, `W/"`)
	if etag == "" || strings.ContainsAny(etag, `/\`) {
		return "", false
	}
	return etag, true
}

// cachePathFromURL maps an index URL to its place below root: the repository
// URL, escaped into a single directory, then the arch directory and the file
// name. For example https://example.com/os/x86_64/APKINDEX.tar.gz becomes
// <root>/https%3A%2F%2Fexample.com%2Fos/x86_64/APKINDEX.tar.gz.
func cachePathFromURL(root string, u url.URL) (string, error) {
	u.ForceQuery = false
	u.RawFragment = ""
	u.RawQuery = ""
	u.User = nil
	filename := filepath.Base(u.Path)
	archDir := filepath.Dir(u.Path)
	arch := filepath.Base(archDir)
	u.Path = filepath.Dir(archDir)

	cacheFile := filepath.Clean(filepath.Join(root, url.QueryEscape(u.String()), arch, filename))
	cleanRoot := filepath.Clean(root)
	if !strings.HasPrefix(cacheFile, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("cache file %s is not within root %s", cacheFile, cleanRoot)
	}
	return cacheFile, nil
}
