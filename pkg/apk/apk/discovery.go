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
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.step.sm/crypto/jose"
	"golang.org/x/sync/errgroup"
)

const discoveryPath = "apk-configuration"

// DiscoverKeys fetches the signing keys that remote repositories publish
// through key discovery: <repo>/apk-configuration names a JWKS document whose
// RSA keys sign the repository's indexes. Repositories without discovery
// (404) and local repositories contribute no keys. Keys are named
// "<kid>.rsa.pub", as LoadKeyring names key files.
func DiscoverKeys(ctx context.Context, client *http.Client, repos []RepositoryRef) (map[string][]byte, error) {
	ctx, span := otel.Tracer("repoclosure").Start(ctx, "DiscoverKeys")
	defer span.End()

	if client == nil {
		client = DefaultHTTPClient()
	}

	var (
		mu   sync.Mutex
		keys = map[string][]byte{}
	)
	eg, ctx := errgroup.WithContext(ctx)
	for _, repo := range repos {
		if !(&Repository{URI: repo.URL}).IsRemote() {
			continue
		}
		eg.Go(func() error {
			discoveryURL := strings.TrimSuffix(repo.URL, "/") + "/" + discoveryPath
			jwksURL, err := fetchJWKSURL(ctx, client, discoveryURL)
			if err != nil {
				return fmt.Errorf("discovering keys for repository %s: %w", repo.ID, err)
			}
			if jwksURL == "" {
				clog.FromContext(ctx).Debugf("repository %s does not publish keys", repo.ID)
				return nil
			}

			found, err := fetchJWKS(ctx, client, jwksURL)
			if err != nil {
				return fmt.Errorf("fetching keys for repository %s: %w", repo.ID, err)
			}
			clog.FromContext(ctx).Debugf("discovered %d keys for repository %s", len(found), repo.ID)

			mu.Lock()
			defer mu.Unlock()
			for name, key := range found {
				keys[name] = key
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// fetchJWKSURL returns the jwks_uri of a discovery document, or "" when the
// repository does not implement discovery.
func fetchJWKSURL(ctx context.Context, client *http.Client, discoveryURL string) (string, error) {
	resp, err := get(ctx, client, discoveryURL)
	if err != nil {
		return "", fmt.Errorf("failed to perform key discovery: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("key discovery at %s was unsuccessful: %v", redact(discoveryURL), resp.Status)
	}

	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return "", fmt.Errorf("failed to unmarshal discovery payload: %w", err)
	}
	return discovery.JWKSURI, nil
}

func fetchJWKS(ctx context.Context, client *http.Client, jwksURL string) (map[string][]byte, error) {
	resp, err := get(ctx, client, jwksURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: %v", resp.Status)
	}

	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JWKS: %w", err)
	}

	keys := make(map[string][]byte, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.KeyID == "" {
			return nil, fmt.Errorf(`key missing "kid"`)
		}
		pub, ok := key.Key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key %s: unsupported key type %T", key.KeyID, key.Key)
		}
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key.KeyID, err)
		}
		keys[key.KeyID+".rsa.pub"] = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	}
	return keys, nil
}

func get(ctx context.Context, client *http.Client, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}
