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
	"fmt"
)

// Fake is a Transport test double standing in for a live transparency
// log: it records the last request it received and returns a
// pre-programmed response or error.
type Fake struct {
	Response    *AddFirmwareInfoResponse
	Err         error
	LastTarget  string
	LastAPIKey  string
	LastRequest *AddFirmwareInfoRequest
}

// SubmitFirmwareInfo implements Transport.
func (f *Fake) SubmitFirmwareInfo(_ context.Context, target, apiKey string, req *AddFirmwareInfoRequest) (*AddFirmwareInfoResponse, error) {
	f.LastTarget = target
	f.LastAPIKey = apiKey
	f.LastRequest = req
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Response == nil {
		return nil, fmt.Errorf("transport.Fake: no Response configured")
	}
	return f.Response, nil
}
