// Copyright 2021 The Project Authors. All Rights Reserved.
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

// Package keys provides the signing key abstraction the submission
// builder uses to authenticate a FirmwareInfo payload to a transparency
// log, and the manufacturer-key-strength check the spec requires before
// a submission is accepted.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/usbarmory/aftl/aftlerr"
)

// RequiredKeySize is the manufacturer key modulus size, in bits, this
// implementation will submit proofs for: spec.md §9(c) restricts
// submission to SHA256_RSA4096.
const RequiredKeySize = 4096

// Algorithm identifies the signature algorithm this implementation signs
// FirmwareInfo payloads with, matching the log's AftlDsseAlgorithm naming.
const Algorithm = "SHA256_RSA4096"

// Provider signs data on behalf of the manufacturer submitting a vbmeta
// image to a transparency log, and exposes the DER-encoded public key the
// log will store alongside the proof.
type Provider interface {
	// Sign returns a detached PKCS#1 v1.5 signature over the SHA-256
	// digest of data.
	Sign(data []byte) ([]byte, error)

	// PublicKeyDER returns the DER encoding of the public key's
	// subjectPublicKeyInfo.
	PublicKeyDER() ([]byte, error)

	// KeyHash returns the SHA-256 hash of PublicKeyDER, the value the log
	// stores as manufacturer_key_hash.
	KeyHash() ([]byte, error)
}

// RSAFileProvider is a Provider backed by an RSA private key read from a
// PEM file on disk, in the style of the teacher's own private-key-file
// flag handling (see cmd/create_release).
type RSAFileProvider struct {
	key *rsa.PrivateKey
}

// NewRSAFileProvider reads and parses an RSA private key from path. The
// key must be RequiredKeySize bits; this implementation never submits
// inclusion-proof requests on behalf of a weaker key.
func NewRSAFileProvider(path string) (*RSAFileProvider, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading private key %q: %v", aftlerr.IO, path, err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: %q does not contain PEM data", aftlerr.IO, path)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		k, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("%w: parsing private key %q: %v", aftlerr.IO, path, err)
		}
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an RSA private key", aftlerr.KeyStrength, path)
		}
		key = rsaKey
	}

	if key.N.BitLen() != RequiredKeySize {
		return nil, fmt.Errorf("%w: key is %d bits, want %d", aftlerr.KeyStrength, key.N.BitLen(), RequiredKeySize)
	}
	return &RSAFileProvider{key: key}, nil
}

// Sign implements Provider.
func (p *RSAFileProvider) Sign(data []byte) ([]byte, error) {
	hashed := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, p.key, crypto.SHA256, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aftlerr.Signing, err)
	}
	return sig, nil
}

// PublicKeyDER implements Provider.
func (p *RSAFileProvider) PublicKeyDER() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&p.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling public key: %v", aftlerr.Signing, err)
	}
	return der, nil
}

// KeyHash implements Provider.
func (p *RSAFileProvider) KeyHash() ([]byte, error) {
	der, err := p.PublicKeyDER()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(der)
	return sum[:], nil
}
