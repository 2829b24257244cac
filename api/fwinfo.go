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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/usbarmory/aftl/aftlerr"
)

// firmwareInfoFields enumerates the only keys a FirmwareInfoLeaf's inner
// JSON object may contain. Any other key fails validation: this is a
// security property, preventing a typo'd or shadowing key from smuggling
// data past field-name matching.
var firmwareInfoFields = map[string]bool{
	"vbmeta_hash":           true,
	"version_incremental":   true,
	"platform_key":          true,
	"manufacturer_key_hash": true,
	"description":           true,
}

// firmwareInfoEnvelope mirrors the JSON shape the log wraps a FirmwareInfo
// leaf in: Value.FwInfo.info.info is the object carrying the fields above.
type firmwareInfoEnvelope struct {
	Value struct {
		FwInfo struct {
			Info struct {
				Info json.RawMessage `json:"info"`
			} `json:"info"`
		} `json:"FwInfo"`
	} `json:"Value"`
}

// FirmwareInfoLeaf holds the JSON blob the log returns for a firmware
// submission. The original bytes are preserved verbatim for hashing:
// nothing about this type ever re-serializes the JSON for that purpose.
type FirmwareInfoLeaf struct {
	raw    []byte
	fields map[string]string
}

// NewFirmwareInfoLeaf returns an empty leaf (zero-length encoding).
func NewFirmwareInfoLeaf() FirmwareInfoLeaf {
	return FirmwareInfoLeaf{fields: map[string]string{}}
}

// DecodeFirmwareInfoLeaf stores data verbatim and parses it only far enough
// to validate its shape and expose typed field access.
func DecodeFirmwareInfoLeaf(data []byte) (FirmwareInfoLeaf, error) {
	l := FirmwareInfoLeaf{raw: append([]byte(nil), data...)}

	var env firmwareInfoEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return FirmwareInfoLeaf{}, fmt.Errorf("%w: %v", aftlerr.JsonShape, err)
	}
	if len(env.Value.FwInfo.Info.Info) == 0 {
		return FirmwareInfoLeaf{}, fmt.Errorf("%w: missing Value.FwInfo.info.info", aftlerr.JsonShape)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(env.Value.FwInfo.Info.Info, &raw); err != nil {
		return FirmwareInfoLeaf{}, fmt.Errorf("%w: Value.FwInfo.info.info is not an object: %v", aftlerr.JsonShape, err)
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		if !firmwareInfoFields[k] {
			return FirmwareInfoLeaf{}, fmt.Errorf("%w: unrecognized field %q", aftlerr.JsonShape, k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return FirmwareInfoLeaf{}, fmt.Errorf("%w: field %q is not a string: %v", aftlerr.JsonShape, k, err)
		}
		fields[k] = s
	}
	l.fields = fields
	return l, nil
}

// Size returns the length of the stored original bytes.
func (l FirmwareInfoLeaf) Size() int {
	return len(l.raw)
}

// Encode returns the original bytes verbatim.
func (l FirmwareInfoLeaf) Encode() []byte {
	return l.raw
}

func (l FirmwareInfoLeaf) lookupBase64(key string) []byte {
	s, ok := l.fields[key]
	if !ok || s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// VbmetaHash returns the SHA-256 hash of the vbmeta image this leaf
// attests to, decoded from its Base64 JSON representation.
func (l FirmwareInfoLeaf) VbmetaHash() []byte { return l.lookupBase64("vbmeta_hash") }

// VersionIncremental returns the build fingerprint's version_incremental
// component.
func (l FirmwareInfoLeaf) VersionIncremental() string { return l.fields["version_incremental"] }

// PlatformKey returns the vbmeta signing key, decoded from Base64.
func (l FirmwareInfoLeaf) PlatformKey() []byte { return l.lookupBase64("platform_key") }

// ManufacturerKeyHash returns the SHA-256 of the manufacturer's DER-encoded
// subjectPublicKeyInfo, decoded from Base64.
func (l FirmwareInfoLeaf) ManufacturerKeyHash() []byte { return l.lookupBase64("manufacturer_key_hash") }

// Description returns the free-form description field, if present.
func (l FirmwareInfoLeaf) Description() string { return l.fields["description"] }

// PrintTo writes a human-readable rendering of the populated fields, in
// the field order of the original FirmwareInfo message.
func (l FirmwareInfoLeaf) PrintTo(w io.Writer) {
	fmt.Fprintf(w, "    Firmware Info Leaf:\n")
	if h := l.VbmetaHash(); len(h) > 0 {
		fmt.Fprintf(w, "      %-23s%x\n", "VBMeta hash:", h)
	}
	if v := l.VersionIncremental(); v != "" {
		fmt.Fprintf(w, "      %-23s%s\n", "Version incremental:", v)
	}
	if k := l.PlatformKey(); len(k) > 0 {
		fmt.Fprintf(w, "      %-23s%x\n", "Platform key:", k)
	}
	if h := l.ManufacturerKeyHash(); len(h) > 0 {
		fmt.Fprintf(w, "      %-23s%x\n", "Manufacturer key hash:", h)
	}
	if d := l.Description(); d != "" {
		fmt.Fprintf(w, "      %-23s%s\n", "Description:", d)
	}
}
