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

package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"github.com/usbarmory/aftl/aftlerr"
)

const addFirmwareInfoMethod = "/aftl.AFTLog/AddFirmwareInfo"

// jsonCodecName is the gRPC content subtype this package registers its
// codec under; the wire content-type becomes "application/grpc+json".
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec using the standard library's JSON
// package. AFTL logs speak a JSON-over-gRPC variant of the AddFirmwareInfo
// RPC rather than protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return jsonCodecName }

// GRPCTransport is the production Transport: it dials the log's gRPC
// target on demand for each call and invokes AddFirmwareInfo directly
// with grpc.ClientConn.Invoke, bypassing the need for generated stub
// code.
type GRPCTransport struct {
	// Insecure allows dialing without transport security, for use
	// against local test logs only.
	Insecure bool
}

// SubmitFirmwareInfo implements Transport.
func (t *GRPCTransport) SubmitFirmwareInfo(ctx context.Context, target, apiKey string, req *AddFirmwareInfoRequest) (*AddFirmwareInfoResponse, error) {
	var creds grpc.DialOption
	if t.Insecure {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	} else {
		creds = grpc.WithTransportCredentials(credentials.NewTLS(nil))
	}

	conn, err := grpc.DialContext(ctx, target, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %q: %v", aftlerr.Transport, target, err)
	}
	defer conn.Close()

	if apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
	}

	resp := &AddFirmwareInfoResponse{}
	opts := []grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}
	if err := conn.Invoke(ctx, addFirmwareInfoMethod, req, resp, opts...); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", aftlerr.TransportTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", aftlerr.Transport, err)
	}
	return resp, nil
}
