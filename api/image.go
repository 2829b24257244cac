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
	"fmt"
	"io"

	"github.com/usbarmory/aftl/aftlerr"
)

// MaxIcpCount bounds how many entries an image may carry: IcpCount is a
// uint16 field in the header, so no image can exceed this regardless of
// how many logs a caller submitted to.
const MaxIcpCount = 0xffff

// Image is the AFTL image: a header followed by one inclusion-proof entry
// per transparency log the corresponding vbmeta was submitted to. It is
// appended directly after the vbmeta structure.
type Image struct {
	Header  ImageHeader
	Entries []IcpEntry
}

// NewImage returns an empty image with a fresh header and no entries.
func NewImage() Image {
	return Image{Header: NewImageHeader()}
}

// AddEntry appends an entry to the image and updates the header's
// IcpCount and AftlImageSize to match.
func (img *Image) AddEntry(e IcpEntry) error {
	if len(img.Entries) >= MaxIcpCount {
		return fmt.Errorf("%w: image already carries the maximum %d entries", aftlerr.FieldRange, MaxIcpCount)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	img.Entries = append(img.Entries, e)
	img.Header.IcpCount = uint16(len(img.Entries))
	img.Header.AftlImageSize = uint32(img.size())
	return nil
}

func (img Image) size() int {
	n := HeaderSize
	for _, e := range img.Entries {
		n += e.Size()
	}
	return n
}

// Encode serializes the header followed by each entry in order.
func (img Image) Encode() ([]byte, error) {
	if int(img.Header.IcpCount) != len(img.Entries) {
		return nil, fmt.Errorf("%w: header icp_count %d disagrees with %d entries", aftlerr.FieldRange, img.Header.IcpCount, len(img.Entries))
	}
	headerBytes, err := img.Header.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, img.size())
	out = append(out, headerBytes...)
	for i, e := range img.Entries {
		b, err := e.Encode()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeImage parses an AftlImage from the front of data: a fixed header
// followed by exactly Header.IcpCount entries, consuming each entry's
// encoded length to find the next one's start.
func DecodeImage(data []byte) (Image, error) {
	header, err := DecodeImageHeader(data)
	if err != nil {
		return Image{}, err
	}
	if uint32(len(data)) < header.AftlImageSize {
		return Image{}, fmt.Errorf("%w: image declares %d bytes, got %d", aftlerr.Framing, header.AftlImageSize, len(data))
	}

	img := Image{Header: header}
	rest := data[HeaderSize:header.AftlImageSize]
	for i := 0; i < int(header.IcpCount); i++ {
		e, err := DecodeIcpEntry(rest)
		if err != nil {
			return Image{}, fmt.Errorf("entry %d: %w", i, err)
		}
		consumed := e.Size()
		if consumed > len(rest) {
			return Image{}, fmt.Errorf("%w: entry %d overruns image", aftlerr.Framing, i)
		}
		img.Entries = append(img.Entries, e)
		rest = rest[consumed:]
	}
	if len(rest) != 0 {
		return Image{}, fmt.Errorf("%w: %d trailing bytes after last entry", aftlerr.Framing, len(rest))
	}
	return img, nil
}

// FindImage locates an AftlImage appended after footerOffset bytes of
// vbmeta data, such as the AftlOffset reported by avb.Parse. It returns
// only the image; bytes after its declared AftlImageSize (padding) are
// ignored and their offset is not reported.
func FindImage(data []byte, footerOffset int64) (Image, error) {
	if footerOffset < 0 || int64(len(data)) < footerOffset {
		return Image{}, fmt.Errorf("%w: invalid AFTL image offset %d", aftlerr.Framing, footerOffset)
	}
	img, err := DecodeImage(data[footerOffset:])
	if err != nil {
		return Image{}, err
	}
	return img, nil
}

// PrintTo writes a human-readable rendering of the image: its header
// followed by each entry.
func (img Image) PrintTo(w io.Writer) {
	img.Header.PrintTo(w)
	for i, e := range img.Entries {
		fmt.Fprintf(w, "  Entry %d:\n", i)
		e.PrintTo(w)
	}
}
