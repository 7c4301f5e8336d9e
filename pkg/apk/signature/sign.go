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

package signature

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/klauspost/compress/gzip"
)

// SignIndex prepends an RSA256 signature stream to an APKINDEX.tar.gz. The
// signature member is named after keyName, which must be the name the public
// key is known by in the verifier's keyring (e.g. "packager.rsa.pub").
func SignIndex(ctx context.Context, indexData []byte, keyName string, key *rsa.PrivateKey) ([]byte, error) {
	if !strings.HasSuffix(keyName, ".rsa.pub") {
		return nil, fmt.Errorf("key name %q must end in .rsa.pub", keyName)
	}
	clog.FromContext(ctx).Debugf("signing index with key %s", keyName)

	h := crypto.SHA256.New()
	if _, err := h.Write(indexData); err != nil {
		return nil, fmt.Errorf("hashing index: %w", err)
	}
	sigData, err := RSASignDigest(h.Sum(nil), crypto.SHA256, key)
	if err != nil {
		return nil, fmt.Errorf("unable to sign index: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{
		Name:     ".SIGN.RSA256." + keyName,
		Mode:     0o644,
		Size:     int64(len(sigData)),
		Typeflag: tar.TypeReg,
		Uname:    "root",
		Gname:    "root",
	}); err != nil {
		return nil, fmt.Errorf("writing signature header: %w", err)
	}
	if _, err := tw.Write(sigData); err != nil {
		return nil, fmt.Errorf("writing signature: %w", err)
	}
	// The signature stream carries no end-of-archive marker, so that the
	// concatenation reads as a single tarball.
	if err := tw.Flush(); err != nil {
		return nil, fmt.Errorf("flushing signature tarball: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing signature stream: %w", err)
	}

	buf.Write(indexData)
	return buf.Bytes(), nil
}
