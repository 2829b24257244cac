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

func TestLogRootDescriptorRoundTrip(t *testing.T) {
	d := LogRootDescriptor{
		Version:   1,
		TreeSize:  4,
		RootHash:  bytes.Repeat([]byte{0xab}, 32),
		Timestamp: 1234567890,
		Revision:  7,
		Metadata:  []byte("build-id"),
	}

	encoded, err := d.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(encoded) != d.Size() {
		t.Fatalf("Encode produced %d bytes, Size() reports %d", len(encoded), d.Size())
	}

	got, err := DecodeLogRootDescriptor(encoded)
	if err != nil {
		t.Fatalf("DecodeLogRootDescriptor: %v", err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLogRootDescriptorRoundTripEmptyOptionalFields(t *testing.T) {
	d := LogRootDescriptor{Version: 1, TreeSize: 0}

	encoded, err := d.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeLogRootDescriptor(encoded)
	if err != nil {
		t.Fatalf("DecodeLogRootDescriptor: %v", err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeLogRootDescriptorRootHashTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01})                   // version
	buf.Write(bytes.Repeat([]byte{0x00}, 8))         // tree_size
	buf.WriteByte(200)                               // root_hash_size: exceeds maxRootHashSize
	buf.Write(bytes.Repeat([]byte{0xff}, 200))

	_, err := DecodeLogRootDescriptor(buf.Bytes())
	if !errors.Is(err, aftlerr.FieldRange) {
		t.Errorf("got %v, want aftlerr.FieldRange", err)
	}
}

func TestDecodeLogRootDescriptorTruncated(t *testing.T) {
	_, err := DecodeLogRootDescriptor([]byte{0x00, 0x01, 0x00})
	if !errors.Is(err, aftlerr.Framing) {
		t.Errorf("got %v, want aftlerr.Framing", err)
	}
}

func TestDecodeLogRootDescriptorUnsupportedVersion(t *testing.T) {
	d := LogRootDescriptor{Version: 1, TreeSize: 4}
	encoded, err := d.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded[1] = 2 // version field is the low byte of a 2-byte big-endian value
	_, err = DecodeLogRootDescriptor(encoded)
	if !errors.Is(err, aftlerr.VersionUnsupported) {
		t.Errorf("got %v, want aftlerr.VersionUnsupported", err)
	}
}
