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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
	"go.lsp.dev/uri"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/repoclosure/pkg/limitio"
)

// LoadKeyring reads the public keys at the given paths or http(s) URLs. The
// result maps the base name of each key to its PEM contents, which is the
// form GetRepositoryIndexes expects.
func LoadKeyring(ctx context.Context, client *http.Client, keyFiles []string) (map[string][]byte, error) {
	log := clog.FromContext(ctx)

	ctx, span := otel.Tracer("repoclosure").Start(ctx, "LoadKeyring")
	defer span.End()

	if client == nil {
		client = DefaultHTTPClient()
	}

	var (
		mu   sync.Mutex
		keys = make(map[string][]byte, len(keyFiles))
		eg   errgroup.Group
	)
	for _, element := range keyFiles {
		eg.Go(func() error {
			log.Debugf("loading key %v", element)

			var asURL *url.URL
			var err error
			if strings.HasPrefix(element, "https://") || strings.HasPrefix(element, "http://") {
				asURL, err = url.Parse(element)
			} else {
				// Translate plain paths into file:// URLs so they parse.
				asURL, err = url.Parse(string(uri.New(element)))
			}
			if err != nil {
				return fmt.Errorf("failed to parse key as URI: %w", err)
			}

			var data []byte
			switch asURL.Scheme {
			case "file":
				data, err = os.ReadFile(strings.TrimPrefix(element, "file://"))
				if err != nil {
					return fmt.Errorf("failed to read apk key: %w", err)
				}
			case "https", "http":
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, asURL.String(), nil)
				if err != nil {
					return err
				}
				resp, err := client.Do(req)
				if err != nil {
					return fmt.Errorf("failed to fetch apk key: %w", err)
				}
				defer resp.Body.Close()

				if resp.StatusCode < 200 || resp.StatusCode > 299 {
					return fmt.Errorf("failed to fetch apk key from %s: http response indicated error code: %d", req.Host, resp.StatusCode)
				}

				data, err = limitio.ReadAll(resp.Body, "apk key", DefaultMaxResponseSize)
				if err != nil {
					return fmt.Errorf("failed to read apk key response: %w", err)
				}
			default:
				return fmt.Errorf("scheme %s not supported", asURL.Scheme)
			}

			mu.Lock()
			defer mu.Unlock()
			keys[path.Base(asURL.Path)] = data
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}
