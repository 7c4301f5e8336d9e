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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.step.sm/crypto/jose"

	"chainguard.dev/repoclosure/pkg/apk/signature"
)

func TestDiscoverKeys(t *testing.T) {
	ctx := context.Background()
	key, _ := testSigningKey(t)

	jwks, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     "packager-abc123",
		Algorithm: "RS256",
		Use:       "sig",
	}}})
	require.NoError(t, err)

	signed, err := signature.SignIndex(ctx, testIndexArchive(t,
		&Package{Name: "busybox", Version: "1.36.1-r0", Arch: "x86_64"},
	), "packager-abc123.rsa.pub", key)
	require.NoError(t, err)

	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/os/apk-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": srvURL + "/jwks"})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(jwks)
	})
	mux.HandleFunc("/os/x86_64/APKINDEX.tar.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(signed)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	repos := []RepositoryRef{
		{ID: "os", URL: srv.URL + "/os"},
		{ID: "plain", URL: srv.URL + "/plain"},
		{ID: "local", URL: t.TempDir()},
	}
	keys, err := DiscoverKeys(ctx, nil, repos)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Contains(t, keys, "packager-abc123.rsa.pub")

	got, err := GetRepositoryIndexes(ctx, repos[:1], keys, "x86_64")
	require.NoError(t, err)
	require.Equal(t, 1, got[0].Count())
}

func TestDiscoverKeysBadJWKS(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/os/apk-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": srvURL + "/jwks"})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"keys": [{"kty": "oct", "k": "c2VjcmV0"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	_, err := DiscoverKeys(context.Background(), nil, []RepositoryRef{{ID: "os", URL: srv.URL + "/os"}})
	require.ErrorContains(t, err, `key missing "kid"`)
}
