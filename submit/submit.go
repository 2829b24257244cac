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

// Package submit builds an AddFirmwareInfo request for a vbmeta image,
// sends it to a transparency log, and translates the log's response into
// an api.IcpEntry.
package submit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/usbarmory/aftl/aftlerr"
	"github.com/usbarmory/aftl/api"
	"github.com/usbarmory/aftl/keys"
	"github.com/usbarmory/aftl/logconfig"
	"github.com/usbarmory/aftl/transport"
)

// VbmetaInfo is the subset of a vbmeta image's contents the submission
// builder needs: the vbmeta bytes themselves (sent to the log verbatim)
// and their hash (embedded in the attestation), the build fingerprint's
// version_incremental component, and the vbmeta signing key embedded in
// the image.
type VbmetaInfo struct {
	Vbmeta             []byte
	Hash               []byte
	VersionIncremental string
	PlatformKey        []byte
}

// BuildRequest assembles and signs an AddFirmwareInfoRequest for vb using
// key, per spec.md §4.7 steps 1-7: hash the manufacturer key, build the
// FirmwareInfo payload, sign it with SHA256_RSA4096, and wrap it with the
// vbmeta bytes into the request envelope.
func BuildRequest(vb VbmetaInfo, key keys.Provider) (*transport.AddFirmwareInfoRequest, error) {
	manufacturerKeyHash, err := key.KeyHash()
	if err != nil {
		return nil, err
	}

	fwInfo := transport.FirmwareInfo{
		VbmetaHash:          vb.Hash,
		VersionIncremental:  vb.VersionIncremental,
		PlatformKey:         vb.PlatformKey,
		ManufacturerKeyHash: manufacturerKeyHash,
	}

	fwInfoJSON, err := json.Marshal(fwInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling FirmwareInfo: %v", aftlerr.Signing, err)
	}
	sig, err := key.Sign(fwInfoJSON)
	if err != nil {
		return nil, err
	}

	return &transport.AddFirmwareInfoRequest{
		Vbmeta: vb.Vbmeta,
		FwInfo: transport.SignedFirmwareInfo{
			FwInfo: fwInfo,
			Signature: transport.DigitallySigned{
				HashAlgorithm: "SHA256",
				SigAlgorithm:  keys.Algorithm,
				Signature:     sig,
			},
		},
	}, nil
}

// RequestInclusionProof submits req to the log named by cfg over t, and
// translates the response into an api.IcpEntry. Per spec.md §9, only a
// successful RPC produces an entry: transient failures are the caller's
// responsibility to retry or skip.
func RequestInclusionProof(ctx context.Context, cfg logconfig.Config, t transport.Transport, req *transport.AddFirmwareInfoRequest) (api.IcpEntry, error) {
	resp, err := t.SubmitFirmwareInfo(ctx, cfg.Target, cfg.APIKey, req)
	if err != nil {
		return api.IcpEntry{}, err
	}

	entry := api.NewIcpEntry()
	if err := entry.FromLogResponse(cfg.Target, resp.Proof.LeafIndex, resp.LogRootDescriptor, resp.FwInfoLeaf, resp.LogRootSignature.Signature, resp.Proof.Hashes); err != nil {
		return api.IcpEntry{}, fmt.Errorf("%w: translating response from %q: %v", aftlerr.Transport, cfg.Target, err)
	}
	if entry.LogRootDescriptor.TreeSize != resp.Proof.TreeSize {
		return api.IcpEntry{}, fmt.Errorf("%w: log root tree_size %d disagrees with proof tree_size %d", aftlerr.FieldRange, entry.LogRootDescriptor.TreeSize, resp.Proof.TreeSize)
	}
	return entry, nil
}
