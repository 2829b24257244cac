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

// Package transport defines the wire messages AFTL exchanges with a
// transparency log's AddFirmwareInfo RPC, and the Transport abstraction
// the submission builder calls to perform that RPC without needing to
// know whether it is talking to a real log or a test double.
package transport

import "context"

// FirmwareInfo is the payload a manufacturer submits to a log: the vbmeta
// hash to be logged, the build fingerprint, the vbmeta signing key, the
// manufacturer key's hash, and an optional free-form description.
type FirmwareInfo struct {
	VbmetaHash          []byte `json:"vbmeta_hash"`
	VersionIncremental  string `json:"version_incremental"`
	PlatformKey         []byte `json:"platform_key"`
	ManufacturerKeyHash []byte `json:"manufacturer_key_hash"`
	Description         string `json:"description,omitempty"`
}

// DigitallySigned is a detached signature over a message, naming the
// algorithm it was produced with.
type DigitallySigned struct {
	HashAlgorithm string `json:"hash_algorithm"`
	SigAlgorithm  string `json:"sig_algorithm"`
	Signature     []byte `json:"signature"`
}

// SignedFirmwareInfo wraps a FirmwareInfo payload with the manufacturer's
// signature over it, the message a log actually receives.
type SignedFirmwareInfo struct {
	FwInfo    FirmwareInfo    `json:"fw_info"`
	Signature DigitallySigned `json:"signature"`
}

// AddFirmwareInfoRequest is the request message for a log's
// AddFirmwareInfo RPC: the vbmeta image being logged, and the signed
// firmware-info attesting to it.
type AddFirmwareInfoRequest struct {
	Vbmeta []byte             `json:"vbmeta"`
	FwInfo SignedFirmwareInfo `json:"fw_info"`
}

// InclusionProof is the audit path a log returns for a freshly logged (or
// already-logged, deduplicated) leaf.
type InclusionProof struct {
	LeafIndex uint64   `json:"leaf_index"`
	TreeSize  uint64   `json:"tree_size"`
	Hashes    [][]byte `json:"hashes"`
}

// AddFirmwareInfoResponse is the response message for a log's
// AddFirmwareInfo RPC: the signed tree head at the time of inclusion, the
// exact leaf bytes the log stored, and the proof of inclusion.
type AddFirmwareInfoResponse struct {
	FwInfoLeaf        []byte          `json:"fw_info_leaf"`
	LogRootDescriptor []byte          `json:"log_root_descriptor"`
	LogRootSignature  DigitallySigned `json:"log_root_signature"`
	Proof             InclusionProof  `json:"proof"`
}

// Transport performs a single transparency-log RPC. Production code uses
// GRPCTransport; tests use Fake.
type Transport interface {
	SubmitFirmwareInfo(ctx context.Context, target, apiKey string, req *AddFirmwareInfoRequest) (*AddFirmwareInfoResponse, error)
}
