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

package api

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/usbarmory/aftl/aftlerr"
)

func testEntry(t *testing.T) IcpEntry {
	t.Helper()

	leaf, err := DecodeFirmwareInfoLeaf(leafJSON(`{"description":"test"}`))
	if err != nil {
		t.Fatalf("DecodeFirmwareInfoLeaf: %v", err)
	}

	return IcpEntry{
		LogURL:    "aftl.example.com:9000",
		LeafIndex: 2,
		LogRootDescriptor: LogRootDescriptor{
			Version:   1,
			TreeSize:  4,
			RootHash:  bytes.Repeat([]byte{0x11}, 32),
			Timestamp: 1000,
			Revision:  1,
		},
		FwInfoLeaf:       leaf,
		LogRootSignature: bytes.Repeat([]byte{0x22}, 512),
		Proofs: [][]byte{
			bytes.Repeat([]byte{0x01}, ProofHashSize),
			bytes.Repeat([]byte{0x02}, ProofHashSize),
		},
	}
}

func TestIcpEntryRoundTrip(t *testing.T) {
	e := testEntry(t)
	encoded, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(encoded) != e.Size() {
		t.Fatalf("Encode produced %d bytes, Size() reports %d", len(encoded), e.Size())
	}

	got, err := DecodeIcpEntry(encoded)
	if err != nil {
		t.Fatalf("DecodeIcpEntry: %v", err)
	}
	if diff := cmp.Diff(e, got, cmp.AllowUnexported(FirmwareInfoLeaf{})); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeIcpEntryBadProofHashSize(t *testing.T) {
	e := testEntry(t)
	e.Proofs = [][]byte{bytes.Repeat([]byte{0x01}, 20)} // not 32 bytes

	_, err := e.Encode()
	if !errors.Is(err, aftlerr.FieldRange) {
		t.Errorf("Encode: got %v, want aftlerr.FieldRange", err)
	}
}

func TestDecodeIcpEntryTruncatedHeader(t *testing.T) {
	_, err := DecodeIcpEntry(make([]byte, IcpEntryHeaderSize-1))
	if !errors.Is(err, aftlerr.Framing) {
		t.Errorf("got %v, want aftlerr.Framing", err)
	}
}

func TestDecodeIcpEntryTruncatedPayload(t *testing.T) {
	e := testEntry(t)
	encoded, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = DecodeIcpEntry(encoded[:len(encoded)-10])
	if !errors.Is(err, aftlerr.Framing) {
		t.Errorf("got %v, want aftlerr.Framing", err)
	}
}

func TestDecodeIcpEntryProofHashSizeMismatchInWire(t *testing.T) {
	e := testEntry(t)
	encoded, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// proof_hash_count is the byte at offset 22; raise it from 2 to 4 so that
	// inc_proof_size (offset 23, still 64) divides out to 16, not
	// ProofHashSize, without touching the trailing payload bytes.
	encoded[22] = 4
	_, err = DecodeIcpEntry(encoded)
	if !errors.Is(err, aftlerr.FieldRange) {
		t.Errorf("got %v, want aftlerr.FieldRange", err)
	}
}
