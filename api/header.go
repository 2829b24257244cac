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

// Package api contains the wire types for the AFTL image container: the
// header, the inclusion-proof entries, and the structures they are built
// from (the Trillian signed log root descriptor and the firmware-info
// leaf).
package api

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/usbarmory/aftl/aftlerr"
)

// HeaderSize is the fixed, on-disk size of an ImageHeader.
const HeaderSize = 18

// magic identifies an AftlImage container.
var magic = [4]byte{'A', 'F', 'T', 'L'}

// SupportedMajorVersion and SupportedMinorVersion are the highest AVB
// versions this implementation is willing to parse entries for.
const (
	SupportedMajorVersion = 1
	SupportedMinorVersion = 3
)

// ImageHeader is the fixed-size header that precedes the entries in an
// AftlImage.
type ImageHeader struct {
	// RequiredMajorVersion and RequiredMinorVersion record the AVB
	// version that produced this image.
	RequiredMajorVersion uint32
	RequiredMinorVersion uint32

	// AftlImageSize is the total size, in bytes, of the header plus all
	// entries.
	AftlImageSize uint32

	// IcpCount is the number of entries represented by this header.
	IcpCount uint16
}

// NewImageHeader returns an empty header: zero entries, size equal to
// HeaderSize.
func NewImageHeader() ImageHeader {
	return ImageHeader{
		RequiredMajorVersion: SupportedMajorVersion,
		RequiredMinorVersion: SupportedMinorVersion,
		AftlImageSize:        HeaderSize,
		IcpCount:             0,
	}
}

// DecodeImageHeader parses the fixed HeaderSize bytes of an ImageHeader.
func DecodeImageHeader(data []byte) (ImageHeader, error) {
	var h ImageHeader
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: header requires %d bytes, got %d", aftlerr.Framing, HeaderSize, len(data))
	}
	var gotMagic [4]byte
	copy(gotMagic[:], data[0:4])
	if gotMagic != magic {
		return h, fmt.Errorf("%w: got %q, want %q", aftlerr.Magic, gotMagic, magic)
	}
	h.RequiredMajorVersion = binary.BigEndian.Uint32(data[4:8])
	h.RequiredMinorVersion = binary.BigEndian.Uint32(data[8:12])
	h.AftlImageSize = binary.BigEndian.Uint32(data[12:16])
	h.IcpCount = binary.BigEndian.Uint16(data[16:18])
	if err := h.Validate(); err != nil {
		return ImageHeader{}, err
	}
	return h, nil
}

// Encode serializes the header to its fixed HeaderSize-byte form.
func (h ImageHeader) Encode() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, HeaderSize)
	copy(out[0:4], magic[:])
	binary.BigEndian.PutUint32(out[4:8], h.RequiredMajorVersion)
	binary.BigEndian.PutUint32(out[8:12], h.RequiredMinorVersion)
	binary.BigEndian.PutUint32(out[12:16], h.AftlImageSize)
	binary.BigEndian.PutUint16(out[16:18], h.IcpCount)
	return out, nil
}

// Validate ensures the header's fields are within the bounds required by
// spec.md §3.
func (h ImageHeader) Validate() error {
	if h.RequiredMajorVersion > SupportedMajorVersion {
		return fmt.Errorf("%w: major version %d exceeds supported %d", aftlerr.VersionUnsupported, h.RequiredMajorVersion, SupportedMajorVersion)
	}
	if h.RequiredMajorVersion == SupportedMajorVersion && h.RequiredMinorVersion > SupportedMinorVersion {
		return fmt.Errorf("%w: minor version %d exceeds supported %d", aftlerr.VersionUnsupported, h.RequiredMinorVersion, SupportedMinorVersion)
	}
	if h.AftlImageSize < HeaderSize {
		return fmt.Errorf("%w: image size %d smaller than header", aftlerr.FieldRange, h.AftlImageSize)
	}
	// h.IcpCount is a uint16, so it is always within [0, 65535].
	return nil
}

// PrintTo writes a human-readable rendering of the header, matching the
// layout of the original aftltool's print_desc.
func (h ImageHeader) PrintTo(w io.Writer) {
	fmt.Fprintf(w, "  AFTL image header:\n")
	fmt.Fprintf(w, "    %-25s%d\n", "Major version:", h.RequiredMajorVersion)
	fmt.Fprintf(w, "    %-25s%d\n", "Minor version:", h.RequiredMinorVersion)
	fmt.Fprintf(w, "    %-25s%d\n", "Image size:", h.AftlImageSize)
	fmt.Fprintf(w, "    %-25s%d\n", "ICP entries count:", h.IcpCount)
}
