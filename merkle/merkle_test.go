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

package merkle

import (
	"bytes"
	"errors"
	"testing"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/usbarmory/aftl/aftlerr"
)

// mth and path are direct transcriptions of RFC 6962 §2.1's MTH and PATH
// functions, used here only to build known-good (index, proof, root)
// fixtures independently of the package under test.
func mth(leafHashes [][]byte) []byte {
	n := len(leafHashes)
	if n == 1 {
		return leafHashes[0]
	}
	k := largestPowerOfTwoLessThan(n)
	return HashChildren(mth(leafHashes[:k]), mth(leafHashes[k:]))
}

func path(index int, leafHashes [][]byte) [][]byte {
	n := len(leafHashes)
	if n <= 1 {
		return nil
	}
	k := largestPowerOfTwoLessThan(n)
	if index < k {
		return append(path(index, leafHashes[:k]), mth(leafHashes[k:]))
	}
	return append(path(index-k, leafHashes[k:]), mth(leafHashes[:k]))
}

func largestPowerOfTwoLessThan(n int) int {
	k := 1
	for k*2 < n {
		k *= 2
	}
	return k
}

func testLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = HashLeaf([]byte{byte(i)})
	}
	return leaves
}

func TestRootFromICP(t *testing.T) {
	for _, size := range []int{1, 2, 3, 4, 5, 8, 13} {
		leaves := testLeaves(size)
		wantRoot := mth(leaves)
		for index := 0; index < size; index++ {
			proof := path(index, leaves)
			got, err := RootFromICP(uint64(index), uint64(size), leaves[index], proof)
			if err != nil {
				t.Fatalf("size=%d index=%d: RootFromICP: %v", size, index, err)
			}
			if !bytes.Equal(got, wantRoot) {
				t.Errorf("size=%d index=%d: got root %x, want %x", size, index, got, wantRoot)
			}
		}
	}
}

// TestRootFromICPAgainstCompactRange cross-checks RootFromICP's computed
// root against a root built incrementally with transparency-dev/merkle's
// compact range, the same construction the teacher's own tests use.
func TestRootFromICPAgainstCompactRange(t *testing.T) {
	h := rfc6962.DefaultHasher
	tree := (&compact.RangeFactory{Hash: h.HashChildren}).NewEmptyRange(0)
	leaves := testLeaves(6)
	for _, lh := range leaves {
		if err := tree.Append(lh, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	wantRoot, err := tree.GetRootHash(nil)
	if err != nil {
		t.Fatalf("GetRootHash: %v", err)
	}

	index := 3
	proof := path(index, leaves)
	got, err := RootFromICP(uint64(index), uint64(len(leaves)), leaves[index], proof)
	if err != nil {
		t.Fatalf("RootFromICP: %v", err)
	}
	if !bytes.Equal(got, wantRoot) {
		t.Errorf("got root %x, want %x", got, wantRoot)
	}
}

func TestVerifyInclusion(t *testing.T) {
	leaves := testLeaves(4)
	root := mth(leaves)
	proof := path(2, leaves)

	if err := VerifyInclusion(2, 4, leaves[2], root, proof); err != nil {
		t.Errorf("VerifyInclusion: %v", err)
	}

	tampered := append([]byte(nil), root...)
	tampered[0] ^= 0xff
	if err := VerifyInclusion(2, 4, leaves[2], tampered, proof); !errors.Is(err, aftlerr.MerkleMismatch) {
		t.Errorf("VerifyInclusion with tampered root: got %v, want aftlerr.MerkleMismatch", err)
	}
}

func TestRootFromICPWrongProofLength(t *testing.T) {
	leaves := testLeaves(4)
	proof := path(2, leaves)
	_, err := RootFromICP(2, 4, leaves[2], proof[:len(proof)-1])
	if !errors.Is(err, aftlerr.FieldRange) {
		t.Errorf("got %v, want aftlerr.FieldRange", err)
	}
}

func TestRootFromICPLeafIndexOutOfRange(t *testing.T) {
	leaves := testLeaves(4)
	_, err := RootFromICP(4, 4, leaves[0], nil)
	if !errors.Is(err, aftlerr.FieldRange) {
		t.Errorf("got %v, want aftlerr.FieldRange", err)
	}
}

func TestHashLeafDomainSeparation(t *testing.T) {
	data := []byte("leaf data")
	leafHash := HashLeaf(data)
	nodeHash := HashChildren(data, nil)
	if bytes.Equal(leafHash, nodeHash) {
		t.Errorf("leaf and node hashes collided: domain separation prefix is not being applied")
	}
}
