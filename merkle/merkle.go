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

// Package merkle implements the RFC 6962 Merkle tree arithmetic an AFTL
// inclusion proof is checked against: leaf/node hashing and recomputing a
// tree root from an audit path.
package merkle

import (
	"fmt"
	"math/bits"

	"github.com/google/trillian/merkle/logverifier"
	"github.com/google/trillian/merkle/rfc6962/hasher"

	"github.com/usbarmory/aftl/aftlerr"
)

// HashLeaf returns the RFC 6962 leaf hash of data (SHA-256 of a 0x00
// domain-separation prefix followed by data).
func HashLeaf(data []byte) []byte {
	return hasher.DefaultHasher.HashLeaf(data)
}

// HashChildren returns the RFC 6962 internal-node hash of the concatenation
// of left and right (SHA-256 of a 0x01 domain-separation prefix followed by
// left then right).
func HashChildren(left, right []byte) []byte {
	return hasher.DefaultHasher.HashChildren(left, right)
}

// NewLogVerifier returns a Trillian log verifier configured with the
// RFC 6962 hasher, used as the implementation of VerifyInclusion below.
func NewLogVerifier() logverifier.LogVerifier {
	return logverifier.New(hasher.DefaultHasher)
}

// RootFromICP recomputes the tree root implied by an inclusion proof for
// the leaf at leafIndex in a tree of treeSize leaves, following the
// inner/border-right chaining algorithm of RFC 6962 §2.1.1. leafIndex and
// treeSize are both zero-indexed/absolute; treeSize must be at least
// leafIndex+1.
func RootFromICP(leafIndex, treeSize uint64, leafHash []byte, proof [][]byte) ([]byte, error) {
	if treeSize == 0 {
		return nil, fmt.Errorf("%w: tree_size must be positive", aftlerr.FieldRange)
	}
	if leafIndex >= treeSize {
		return nil, fmt.Errorf("%w: leaf_index %d out of range for tree_size %d", aftlerr.FieldRange, leafIndex, treeSize)
	}

	inner := bits.Len64(leafIndex ^ (treeSize - 1))
	border := countOnes(leafIndex >> uint(inner))
	if len(proof) != inner+border {
		return nil, fmt.Errorf("%w: inclusion proof has %d hashes, want %d (inner=%d, border=%d)", aftlerr.FieldRange, len(proof), inner+border, inner, border)
	}

	root := chainInner(leafHash, proof[:inner], leafIndex)
	root = chainBorderRight(root, proof[inner:])
	return root, nil
}

// chainInner folds the "inner" portion of the proof: the hashes belonging
// to the subtree that contains the leaf, ordered from the leaf upward.
func chainInner(seed []byte, proof [][]byte, leafIndex uint64) []byte {
	h := seed
	for i, p := range proof {
		if (leafIndex>>uint(i))&1 == 0 {
			h = HashChildren(h, p)
		} else {
			h = HashChildren(p, h)
		}
	}
	return h
}

// chainBorderRight folds the remaining "border" hashes, all of which sit
// to the left of the running hash because the leaf lies in the tree's
// rightmost, not-yet-complete subtree.
func chainBorderRight(seed []byte, proof [][]byte) []byte {
	h := seed
	for _, p := range proof {
		h = HashChildren(p, h)
	}
	return h
}

func countOnes(v uint64) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}

// VerifyInclusion confirms that leafHash, combined with proof, folds to
// root for the leaf at leafIndex in a tree of treeSize leaves. It defers
// to Trillian's own logverifier rather than RootFromICP, so that the two
// independent implementations of the same algorithm can be cross-checked
// against each other in tests.
func VerifyInclusion(leafIndex, treeSize uint64, leafHash, root []byte, proof [][]byte) error {
	if leafIndex > 1<<62 || treeSize > 1<<62 {
		return fmt.Errorf("%w: leaf_index/tree_size out of int64 range", aftlerr.FieldRange)
	}
	v := NewLogVerifier()
	if err := v.VerifyInclusionProof(int64(leafIndex), int64(treeSize), proof, root, leafHash); err != nil {
		return fmt.Errorf("%w: %v", aftlerr.MerkleMismatch, err)
	}
	return nil
}
