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

// Package avb reads just enough of an Android Verified Boot vbmeta
// image's header and optional footer to locate the end of the vbmeta
// structure proper (where an AftlImage, if any, begins) and to detect
// whether the image belongs to a chained partition. Full AVB semantics -
// descriptor parsing, rollback indices, unlock state - are out of scope:
// this package's only job is handing the orchestrator and front ends an
// accurate byte offset and a vbmeta hash to work with.
package avb

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/aftl/aftlerr"
)

// HeaderSize is the fixed size of an AVB vbmeta header.
const HeaderSize = 256

// FooterSize is the fixed size of an AVB footer, appended after a
// partition's image data when the partition participates in a chain of
// trust (boot, system, vendor, ...).
const FooterSize = 64

var headerMagic = [4]byte{'A', 'V', 'B', '0'}
var footerMagic = [4]byte{'A', 'V', 'B', 'f'}

// Header is the subset of an AVB vbmeta header's fields needed to compute
// the total size of the vbmeta structure.
type Header struct {
	RequiredMajorVersion    uint32
	RequiredMinorVersion    uint32
	AuthenticationBlockSize uint64
	AuxiliaryBlockSize      uint64
}

// ParseHeader parses the leading HeaderSize bytes of a vbmeta image.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: vbmeta header requires %d bytes, got %d", aftlerr.Framing, HeaderSize, len(data))
	}
	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != headerMagic {
		return h, fmt.Errorf("%w: got %q, want %q", aftlerr.Magic, magic, headerMagic)
	}
	h.RequiredMajorVersion = binary.BigEndian.Uint32(data[4:8])
	h.RequiredMinorVersion = binary.BigEndian.Uint32(data[8:12])
	h.AuthenticationBlockSize = binary.BigEndian.Uint64(data[12:20])
	h.AuxiliaryBlockSize = binary.BigEndian.Uint64(data[20:28])
	return h, nil
}

// Size returns the total size, in bytes, of the vbmeta structure this
// header describes: the fixed header plus its authentication and
// auxiliary data blocks.
func (h Header) Size() int64 {
	return int64(HeaderSize) + int64(h.AuthenticationBlockSize) + int64(h.AuxiliaryBlockSize)
}

// Footer is an AVB footer, present when the image is part of a chained
// partition (boot.img, system.img, ...) rather than a standalone vbmeta
// partition.
type Footer struct {
	VbmetaOffset int64
	VbmetaSize   int64
}

// HasFooter reports whether the last FooterSize bytes of data carry a
// valid AVB footer.
func HasFooter(data []byte) bool {
	if len(data) < FooterSize {
		return false
	}
	var magic [4]byte
	copy(magic[:], data[len(data)-FooterSize:len(data)-FooterSize+4])
	return magic == footerMagic
}

// ParseFooter parses the trailing FooterSize bytes of data.
func ParseFooter(data []byte) (Footer, error) {
	var f Footer
	if len(data) < FooterSize {
		return f, fmt.Errorf("%w: footer requires %d bytes, got %d", aftlerr.Framing, FooterSize, len(data))
	}
	tail := data[len(data)-FooterSize:]
	var magic [4]byte
	copy(magic[:], tail[0:4])
	if magic != footerMagic {
		return f, fmt.Errorf("%w: got %q, want %q", aftlerr.Magic, magic, footerMagic)
	}
	f.VbmetaOffset = int64(binary.BigEndian.Uint64(tail[8:16]))
	f.VbmetaSize = int64(binary.BigEndian.Uint64(tail[16:24]))
	return f, nil
}

// Image is a parsed vbmeta image: its standalone vbmeta bytes, whether it
// carries a chained-partition footer, and the offset immediately
// following the vbmeta structure where an AftlImage may be appended.
type Image struct {
	Header      Header
	Chained     bool
	VbmetaBytes []byte
	AftlOffset  int64
}

// Parse locates the vbmeta header within data (at offset 0 for a
// standalone vbmeta partition) and returns the parsed structure.
// An image whose trailing AVB footer gives a nonzero vbmeta offset is
// rejected here with aftlerr.ChainedPartitionUnsupported. Any other image
// carrying an AVB footer is parsed and reported via Chained: callers that
// must reject footer-bearing images (the orchestrator, per spec.md §4.8
// step 1) check that flag.
func Parse(data []byte) (Image, error) {
	if HasFooter(data) {
		footer, err := ParseFooter(data)
		if err != nil {
			return Image{}, err
		}
		if footer.VbmetaOffset != 0 {
			return Image{}, fmt.Errorf("%w: footer vbmeta_offset %d is nonzero", aftlerr.ChainedPartitionUnsupported, footer.VbmetaOffset)
		}
	}

	header, err := ParseHeader(data)
	if err != nil {
		return Image{}, err
	}
	size := header.Size()
	if int64(len(data)) < size {
		return Image{}, fmt.Errorf("%w: vbmeta declares %d bytes, got %d", aftlerr.Framing, size, len(data))
	}

	return Image{
		Header:      header,
		Chained:     HasFooter(data),
		VbmetaBytes: data[:size],
		AftlOffset:  size,
	}, nil
}

// Hash returns the SHA-256 hash of the vbmeta structure (not including
// any footer, AftlImage, or padding that follows it).
func (img Image) Hash() []byte {
	sum := sha256.Sum256(img.VbmetaBytes)
	return sum[:]
}
