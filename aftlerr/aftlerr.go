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

// Package aftlerr defines the error category taxonomy shared by the AFTL
// image codecs, verifier, submission builder, and orchestrator. Every
// returned error can be compared against one of the sentinels below with
// errors.Is, without having to parse a message string.
package aftlerr

import "errors"

// Sentinel error categories. Wrap one of these with fmt.Errorf("...: %w", ...)
// to add context while keeping errors.Is matching intact.
var (
	// Framing covers truncated input or length fields that disagree with
	// the actual payload.
	Framing = errors.New("aftl: framing error")

	// Magic covers a container whose magic bytes do not match.
	Magic = errors.New("aftl: magic mismatch")

	// VersionUnsupported covers a major/minor version beyond what this
	// implementation supports.
	VersionUnsupported = errors.New("aftl: unsupported version")

	// FieldRange covers a numeric field outside its allowed bounds.
	FieldRange = errors.New("aftl: field out of range")

	// JsonShape covers a firmware-info leaf whose JSON is missing the
	// expected path or carries unrecognized keys.
	JsonShape = errors.New("aftl: unexpected JSON shape")

	// MerkleMismatch covers a recomputed Merkle root that does not match
	// the signed log root.
	MerkleMismatch = errors.New("aftl: merkle root mismatch")

	// SignatureInvalid covers a log root signature that fails to verify.
	SignatureInvalid = errors.New("aftl: signature invalid")

	// KeyStrength covers a manufacturer key that is not RSA-4096.
	KeyStrength = errors.New("aftl: manufacturer key is not RSA-4096")

	// Signing covers a failure in the signing helper/key provider.
	Signing = errors.New("aftl: signing failed")

	// Transport covers a failure of the network call to the log.
	Transport = errors.New("aftl: transport error")

	// TransportTimeout covers a network call to the log exceeding its
	// deadline.
	TransportTimeout = errors.New("aftl: transport timeout")

	// ChainedPartitionUnsupported covers a vbmeta image that carries a
	// footer indicating it is part of a chained partition.
	ChainedPartitionUnsupported = errors.New("aftl: chained partitions are not supported")

	// IO covers local file/stream errors unrelated to the wire format.
	IO = errors.New("aftl: I/O error")
)
