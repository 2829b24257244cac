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

// Package verify provides verification functions for AFTL inclusion
// proofs: that a log's signature over its root is valid, and that the
// firmware-info leaf an entry carries is provably included under that
// root.
package verify

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/usbarmory/aftl/aftlerr"
	"github.com/usbarmory/aftl/api"
	"github.com/usbarmory/aftl/merkle"
)

// Entry verifies a single AftlIcpEntry:
//  1. the log root descriptor's signature is valid under at least one of
//     pubKeys (per spec.md §4.6, any provided key is sufficient: callers
//     are not expected to know in advance which key a given log used),
//  2. the firmware-info leaf's RFC 6962 leaf hash, combined with the
//     entry's audit path, folds to the signed root hash.
//
// Entry never distinguishes a signature failure from a Merkle mismatch
// in its boolean meaning to callers further up the stack: both mean the
// proof is not trustworthy, and only the wrapped error differs.
func Entry(e api.IcpEntry, pubKeys []crypto.PublicKey) error {
	rootBytes, err := e.LogRootDescriptor.Encode()
	if err != nil {
		return err
	}
	if !anySignatureValid(pubKeys, rootBytes, e.LogRootSignature) {
		return fmt.Errorf("%w: log root signature for %q", aftlerr.SignatureInvalid, e.LogURL)
	}

	leafHash := merkle.HashLeaf(e.FwInfoLeaf.Encode())
	if err := merkle.VerifyInclusion(e.LeafIndex, e.LogRootDescriptor.TreeSize, leafHash, e.LogRootDescriptor.RootHash, e.Proofs); err != nil {
		return fmt.Errorf("entry for %q: %w", e.LogURL, err)
	}
	return nil
}

// Image verifies every entry in img against pubKeys, and additionally
// checks that every entry's firmware-info leaf attests to the same
// vbmeta hash: an AftlImage with entries that disagree about which
// vbmeta they cover is not a coherent proof that the image was logged,
// even if every individual entry verifies on its own (spec.md §4.6's
// "across entries" invariant).
func Image(img api.Image, pubKeys []crypto.PublicKey) error {
	if len(img.Entries) == 0 {
		return fmt.Errorf("%w: image carries no ICP entries", aftlerr.FieldRange)
	}

	var wantHash []byte
	for i, e := range img.Entries {
		if err := Entry(e, pubKeys); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if h := e.FwInfoLeaf.VbmetaHash(); len(h) > 0 {
			if wantHash == nil {
				wantHash = h
			} else if !bytes.Equal(wantHash, h) {
				return fmt.Errorf("%w: entry %d attests a different vbmeta hash than entry 0", aftlerr.MerkleMismatch, i)
			}
		}
	}
	return nil
}

// VbmetaHash verifies img as Image does, and additionally requires every
// entry's attested vbmeta hash to equal vbmetaHash: the check the
// orchestrator and the verify_image_icp front end run against an actual
// vbmeta image on disk.
func VbmetaHash(img api.Image, vbmetaHash []byte, pubKeys []crypto.PublicKey) error {
	if err := Image(img, pubKeys); err != nil {
		return err
	}
	for i, e := range img.Entries {
		h := e.FwInfoLeaf.VbmetaHash()
		if !bytes.Equal(h, vbmetaHash) {
			return fmt.Errorf("%w: entry %d attests vbmeta hash %x, want %x", aftlerr.MerkleMismatch, i, h, vbmetaHash)
		}
	}
	return nil
}

func anySignatureValid(pubKeys []crypto.PublicKey, message, sig []byte) bool {
	for _, pk := range pubKeys {
		if signatureValid(pk, message, sig) {
			return true
		}
	}
	return false
}

// signatureValid checks a detached SHA-256 signature against pub,
// dispatching on key type: RSA logs sign with PKCS#1 v1.5, ECDSA logs
// with ASN.1 DER-encoded signatures (spec.md §9(c)).
func signatureValid(pub crypto.PublicKey, message, sig []byte) bool {
	hashed := sha256.Sum256(message)
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, hashed[:], sig) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, hashed[:], sig)
	default:
		return false
	}
}
