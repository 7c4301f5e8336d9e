// From: https://raw.githubusercontent.com/goreleaser/nfpm/main/internal/sign/rsa.go
// SPDX-License-Identifier: MIT

package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1" //nolint:gosec
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	errNoPemBlock   = errors.New("no PEM block found")
	errDigestLength = errors.New("digest has unexpected length")
	errNoRSAKey     = errors.New("key is not an RSA key")
)

// RSASignDigest signs the provided message digest with key.
func RSASignDigest(digest []byte, digestType crypto.Hash, key *rsa.PrivateKey) ([]byte, error) {
	if len(digest) != digestType.Size() {
		return nil, errDigestLength
	}

	signature, err := key.Sign(rand.Reader, digest, digestType)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	return signature, nil
}

// RSAVerifyDigest verifies a signature over the provided hash of a message.
// The public key must be in the PEM format.
func RSAVerifyDigest(digest []byte, digestType crypto.Hash, signature []byte, publicKey []byte) error {
	if len(digest) != digestType.Size() {
		return errDigestLength
	}

	block, _ := pem.Decode(publicKey)
	if block == nil {
		return errNoPemBlock
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse PKIX public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return errNoRSAKey
	}

	if err := rsa.VerifyPKCS1v15(rsaPub, digestType, digest, signature); err != nil {
		return fmt.Errorf("verify PKCS1v15 signature: %w", err)
	}

	return nil
}

// EncodePublicKey returns the PEM form of key's public half, as found in an
// apk keyring.
func EncodePublicKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal PKIX public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
