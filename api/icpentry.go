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
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"unicode"

	"github.com/usbarmory/aftl/aftlerr"
)

// IcpEntryHeaderSize is the fixed size, in bytes, of an IcpEntry's header
// (before its five variable-length payloads).
const IcpEntryHeaderSize = 4 + 8 + 4 + 4 + 2 + 1 + 4

// ProofHashSize is the only accepted hash size for inclusion-proof
// elements: this implementation only supports SHA-256-based logs
// (spec.md §9(a)).
const ProofHashSize = sha256.Size

// IcpEntry is one transparency-log inclusion-proof entry: a leaf index
// into the log, the log's signed root descriptor at the time of
// submission, the firmware-info leaf that was logged, the log's
// signature over the root descriptor, and the audit path proving the
// leaf's inclusion.
type IcpEntry struct {
	LogURL            string
	LeafIndex         uint64
	LogRootDescriptor LogRootDescriptor
	FwInfoLeaf        FirmwareInfoLeaf
	LogRootSignature  []byte
	Proofs            [][]byte
}

// NewIcpEntry returns a zero-value entry ready to be populated by
// FromLogResponse.
func NewIcpEntry() IcpEntry {
	return IcpEntry{
		LogRootDescriptor: NewLogRootDescriptor(),
		FwInfoLeaf:        NewFirmwareInfoLeaf(),
	}
}

// FromLogResponse populates the entry from the pieces of a transparency
// log's AddFirmwareInfo response, per spec.md §4.4's translate_response:
// leafIndex/logRootRaw/logRootSig/proofs come from the response's
// inclusion-proof and signed-tree-head fields, fwInfoLeafRaw is the
// verbatim leaf bytes the log stored.
func (e *IcpEntry) FromLogResponse(logURL string, leafIndex uint64, logRootRaw, fwInfoLeafRaw, logRootSig []byte, proofs [][]byte) error {
	descriptor, err := DecodeLogRootDescriptor(logRootRaw)
	if err != nil {
		return err
	}
	leaf, err := DecodeFirmwareInfoLeaf(fwInfoLeafRaw)
	if err != nil {
		return err
	}
	*e = IcpEntry{
		LogURL:            logURL,
		LeafIndex:         leafIndex,
		LogRootDescriptor: descriptor,
		FwInfoLeaf:        leaf,
		LogRootSignature:  append([]byte(nil), logRootSig...),
		Proofs:            proofs,
	}
	return nil
}

// Size returns the expected total encoded size of the entry, derived from
// its live sub-objects (not from any previously-decoded header).
func (e IcpEntry) Size() int {
	return IcpEntryHeaderSize + len(e.LogURL) + e.LogRootDescriptor.Size() + e.FwInfoLeaf.Size() + len(e.LogRootSignature) + e.proofBytesLen()
}

func (e IcpEntry) proofBytesLen() int {
	n := 0
	for _, p := range e.Proofs {
		n += len(p)
	}
	return n
}

// Validate ensures the entry's fields are sane per spec.md §3's invariants
// for AftlIcpEntry (leaf index range, sub-object validity); tree-size-
// relative bounds on LeafIndex are checked at verification time, not here.
func (e IcpEntry) Validate() error {
	if err := e.LogRootDescriptor.Validate(); err != nil {
		return err
	}
	for _, p := range e.Proofs {
		if len(p) != ProofHashSize {
			return fmt.Errorf("%w: proof hash is %d bytes, want %d", aftlerr.FieldRange, len(p), ProofHashSize)
		}
	}
	return nil
}

// Encode recomputes every sub-payload length from the live objects, packs
// the fixed header with those lengths, and emits the five payloads in
// declared order. A tampered entry whose header disagreed with its
// payloads cannot surface here because the header is always derived,
// never stored.
func (e IcpEntry) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if !isASCII(e.LogURL) {
		return nil, fmt.Errorf("%w: log_url is not ASCII", aftlerr.Framing)
	}
	descriptorBytes, err := e.LogRootDescriptor.Encode()
	if err != nil {
		return nil, err
	}
	leafBytes := e.FwInfoLeaf.Encode()

	out := make([]byte, IcpEntryHeaderSize, e.Size())
	binary.BigEndian.PutUint32(out[0:4], uint32(len(e.LogURL)))
	binary.BigEndian.PutUint64(out[4:12], e.LeafIndex)
	binary.BigEndian.PutUint32(out[12:16], uint32(len(descriptorBytes)))
	binary.BigEndian.PutUint32(out[16:20], uint32(len(leafBytes)))
	binary.BigEndian.PutUint16(out[20:22], uint16(len(e.LogRootSignature)))
	out[22] = byte(len(e.Proofs))
	binary.BigEndian.PutUint32(out[23:27], uint32(e.proofBytesLen()))

	out = append(out, e.LogURL...)
	out = append(out, descriptorBytes...)
	out = append(out, leafBytes...)
	out = append(out, e.LogRootSignature...)
	for _, p := range e.Proofs {
		out = append(out, p...)
	}
	return out, nil
}

// DecodeIcpEntry parses one IcpEntry from the front of data. Unlike
// AftlImage, which consumes entries end-to-end, an IcpEntry's total
// consumed length is available afterwards via Size(), so callers
// sequencing multiple entries should advance by that amount.
func DecodeIcpEntry(data []byte) (IcpEntry, error) {
	if len(data) < IcpEntryHeaderSize {
		return IcpEntry{}, fmt.Errorf("%w: entry header truncated", aftlerr.Framing)
	}
	logURLSize := binary.BigEndian.Uint32(data[0:4])
	leafIndex := binary.BigEndian.Uint64(data[4:12])
	descSize := binary.BigEndian.Uint32(data[12:16])
	leafSize := binary.BigEndian.Uint32(data[16:20])
	sigSize := binary.BigEndian.Uint16(data[20:22])
	proofCount := int(data[22])
	proofBytesSize := binary.BigEndian.Uint32(data[23:27])

	if proofCount > 0 {
		if proofBytesSize%uint32(proofCount) != 0 {
			return IcpEntry{}, fmt.Errorf("%w: inc_proof_size %d not divisible by proof_hash_count %d", aftlerr.Framing, proofBytesSize, proofCount)
		}
		hashSize := proofBytesSize / uint32(proofCount)
		if hashSize != ProofHashSize {
			return IcpEntry{}, fmt.Errorf("%w: proof hash size %d, want %d", aftlerr.FieldRange, hashSize, ProofHashSize)
		}
	} else if proofBytesSize != 0 {
		return IcpEntry{}, fmt.Errorf("%w: inc_proof_size %d with zero proof_hash_count", aftlerr.Framing, proofBytesSize)
	}

	total := int64(IcpEntryHeaderSize) + int64(logURLSize) + int64(descSize) + int64(leafSize) + int64(sigSize) + int64(proofBytesSize)
	rest := data[IcpEntryHeaderSize:]
	if int64(len(rest)) < total-IcpEntryHeaderSize {
		return IcpEntry{}, fmt.Errorf("%w: entry payload truncated", aftlerr.Framing)
	}

	off := 0
	next := func(n uint32) []byte {
		b := rest[off : off+int(n)]
		off += int(n)
		return b
	}

	urlBytes := next(logURLSize)
	if !isASCII(string(urlBytes)) {
		return IcpEntry{}, fmt.Errorf("%w: log_url is not ASCII", aftlerr.Framing)
	}
	descBytes := next(descSize)
	leafBytes := next(leafSize)
	sigBytes := next(uint32(sigSize))
	proofBytes := next(proofBytesSize)

	descriptor, err := DecodeLogRootDescriptor(descBytes)
	if err != nil {
		return IcpEntry{}, err
	}
	leaf, err := DecodeFirmwareInfoLeaf(leafBytes)
	if err != nil {
		return IcpEntry{}, err
	}

	var proofs [][]byte
	for i := 0; i < proofCount; i++ {
		proofs = append(proofs, append([]byte(nil), proofBytes[i*ProofHashSize:(i+1)*ProofHashSize]...))
	}

	e := IcpEntry{
		LogURL:            string(urlBytes),
		LeafIndex:         leafIndex,
		LogRootDescriptor: descriptor,
		FwInfoLeaf:        leaf,
		LogRootSignature:  append([]byte(nil), sigBytes...),
		Proofs:            proofs,
	}
	if err := e.Validate(); err != nil {
		return IcpEntry{}, err
	}
	return e, nil
}

// PrintTo writes a human-readable rendering of the entry and its embedded
// descriptor and leaf.
func (e IcpEntry) PrintTo(w io.Writer) {
	fmt.Fprintf(w, "    %-25s%s\n", "Transparency Log:", e.LogURL)
	fmt.Fprintf(w, "    %-25s%d\n", "Leaf index:", e.LeafIndex)
	fmt.Fprintf(w, "    ICP hashes:              ")
	for i, h := range e.Proofs {
		if i != 0 {
			fmt.Fprintf(w, "                             ")
		}
		fmt.Fprintf(w, "%x\n", h)
	}
	e.LogRootDescriptor.PrintTo(w)
	e.FwInfoLeaf.PrintTo(w)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
