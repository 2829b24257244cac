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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/usbarmory/aftl/aftlerr"
)

// maxRootHashSize bounds the root hash of a LogRootDescriptor, per
// spec.md §3 (metadata is bounded by its uint16 length field);
// minLogRootPart1 and minLogRootPart2 are the fixed-width runs before and
// after the root hash.
const (
	maxRootHashSize = 128
	minLogRootPart1 = 2 + 8 + 1 // version, tree_size, root_hash_size
	minLogRootPart2 = 8 + 8 + 2 // timestamp, revision, metadata_size
)

// LogRootDescriptor is the Trillian signed log root descriptor embedded in
// each AFTL ICP entry. Its byte-exact encoding is the message the
// transparency log signs, so field order, widths, and endianness here are
// load-bearing: see spec.md §6.
type LogRootDescriptor struct {
	Version   uint16
	TreeSize  uint64
	RootHash  []byte
	Timestamp uint64
	Revision  uint64
	Metadata  []byte
}

// NewLogRootDescriptor returns an empty, version-1 descriptor.
func NewLogRootDescriptor() LogRootDescriptor {
	return LogRootDescriptor{Version: 1}
}

// DecodeLogRootDescriptor parses a LogRootDescriptor from its packed,
// big-endian wire form.
func DecodeLogRootDescriptor(data []byte) (LogRootDescriptor, error) {
	var d LogRootDescriptor
	if len(data) < minLogRootPart1 {
		return d, fmt.Errorf("%w: log root descriptor truncated", aftlerr.Framing)
	}
	d.Version = binary.BigEndian.Uint16(data[0:2])
	d.TreeSize = binary.BigEndian.Uint64(data[2:10])
	rootHashSize := int(data[10])
	data = data[11:]

	if rootHashSize > maxRootHashSize {
		return LogRootDescriptor{}, fmt.Errorf("%w: root_hash_size %d exceeds %d", aftlerr.FieldRange, rootHashSize, maxRootHashSize)
	}
	if len(data) < rootHashSize {
		return LogRootDescriptor{}, fmt.Errorf("%w: log root descriptor truncated in root_hash", aftlerr.Framing)
	}
	if rootHashSize > 0 {
		d.RootHash = append([]byte(nil), data[:rootHashSize]...)
	}
	data = data[rootHashSize:]

	if len(data) < minLogRootPart2 {
		return LogRootDescriptor{}, fmt.Errorf("%w: log root descriptor truncated before timestamp", aftlerr.Framing)
	}
	d.Timestamp = binary.BigEndian.Uint64(data[0:8])
	d.Revision = binary.BigEndian.Uint64(data[8:16])
	metadataSize := int(binary.BigEndian.Uint16(data[16:18]))
	data = data[18:]

	if len(data) < metadataSize {
		return LogRootDescriptor{}, fmt.Errorf("%w: log root descriptor truncated in metadata", aftlerr.Framing)
	}
	if metadataSize > 0 {
		d.Metadata = append([]byte(nil), data[:metadataSize]...)
	}

	if err := d.Validate(); err != nil {
		return LogRootDescriptor{}, err
	}
	return d, nil
}

// Size returns the expected encoded size of the descriptor.
func (d LogRootDescriptor) Size() int {
	return minLogRootPart1 + len(d.RootHash) + minLogRootPart2 + len(d.Metadata)
}

// Encode serializes the descriptor to its packed, big-endian wire form.
// This is exactly the byte sequence the transparency log signs.
func (d LogRootDescriptor) Encode() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, d.Size())
	var buf [8]byte

	binary.BigEndian.PutUint16(buf[0:2], d.Version)
	out = append(out, buf[0:2]...)
	binary.BigEndian.PutUint64(buf[0:8], d.TreeSize)
	out = append(out, buf[0:8]...)
	out = append(out, byte(len(d.RootHash)))
	out = append(out, d.RootHash...)
	binary.BigEndian.PutUint64(buf[0:8], d.Timestamp)
	out = append(out, buf[0:8]...)
	binary.BigEndian.PutUint64(buf[0:8], d.Revision)
	out = append(out, buf[0:8]...)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(d.Metadata)))
	out = append(out, buf[0:2]...)
	out = append(out, d.Metadata...)
	return out, nil
}

// Validate ensures the descriptor's fields are internally consistent and
// within the bounds of spec.md §3.
func (d LogRootDescriptor) Validate() error {
	if d.Version != 1 {
		return fmt.Errorf("%w: log root descriptor version %d, want 1", aftlerr.VersionUnsupported, d.Version)
	}
	if len(d.RootHash) > maxRootHashSize {
		return fmt.Errorf("%w: root_hash_size %d exceeds %d", aftlerr.FieldRange, len(d.RootHash), maxRootHashSize)
	}
	if len(d.Metadata) > 0xffff {
		return fmt.Errorf("%w: metadata_size %d exceeds 65535", aftlerr.FieldRange, len(d.Metadata))
	}
	return nil
}

// PrintTo writes a human-readable rendering of the descriptor.
func (d LogRootDescriptor) PrintTo(w io.Writer) {
	fmt.Fprintf(w, "    Log Root Descriptor:\n")
	fmt.Fprintf(w, "      %-23s%d\n", "Version:", d.Version)
	fmt.Fprintf(w, "      %-23s%d\n", "Tree size:", d.TreeSize)
	fmt.Fprintf(w, "      %-23s%d\n", "Root hash size:", len(d.RootHash))
	if len(d.RootHash) > 0 {
		fmt.Fprintf(w, "      %-23s%x\n", "Root hash:", d.RootHash)
		fmt.Fprintf(w, "      %-23s%d\n", "Timestamp (ns):", d.Timestamp)
	}
	fmt.Fprintf(w, "      %-23s%d\n", "Revision:", d.Revision)
	fmt.Fprintf(w, "      %-23s%d\n", "Metadata size:", len(d.Metadata))
	if len(d.Metadata) > 0 {
		fmt.Fprintf(w, "      %-23s%x\n", "Metadata:", d.Metadata)
	}
}
