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

package orchestrator

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/usbarmory/aftl/aftlerr"
	"github.com/usbarmory/aftl/api"
	"github.com/usbarmory/aftl/avb"
	"github.com/usbarmory/aftl/keys"
	"github.com/usbarmory/aftl/logconfig"
	"github.com/usbarmory/aftl/merkle"
	"github.com/usbarmory/aftl/transport"
)

func writeVbmeta(t *testing.T) string {
	t.Helper()
	header := make([]byte, avb.HeaderSize)
	copy(header[0:4], []byte("AVB0"))

	path := filepath.Join(t.TempDir(), "vbmeta.img")
	if err := os.WriteFile(path, header, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testManufacturerKey(t *testing.T) keys.Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, keys.RequiredKeySize)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	path := filepath.Join(t.TempDir(), "manufacturer.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p, err := keys.NewRSAFileProvider(path)
	if err != nil {
		t.Fatalf("NewRSAFileProvider: %v", err)
	}
	return p
}

func signDescriptor(key *rsa.PrivateKey, descriptorBytes []byte) ([]byte, error) {
	hashed := sha256.Sum256(descriptorBytes)
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
}

func logKeyPair(t *testing.T) (*rsa.PrivateKey, crypto.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key, &key.PublicKey
}

func fakeResponseFor(t *testing.T, logKey *rsa.PrivateKey, vbmetaHash []byte) *transport.AddFirmwareInfoResponse {
	t.Helper()
	inner := fmt.Sprintf(`{"vbmeta_hash":%q}`, base64.StdEncoding.EncodeToString(vbmetaHash))
	leafRaw := []byte(fmt.Sprintf(`{"Value":{"FwInfo":{"info":{"info":%s}}}}`, inner))
	leaf, err := api.DecodeFirmwareInfoLeaf(leafRaw)
	if err != nil {
		t.Fatalf("DecodeFirmwareInfoLeaf: %v", err)
	}

	sibling := merkle.HashLeaf([]byte("sibling"))
	leafHash := merkle.HashLeaf(leaf.Encode())
	root := merkle.HashChildren(sibling, leafHash)

	descriptor := api.LogRootDescriptor{Version: 1, TreeSize: 2, RootHash: root, Timestamp: 1, Revision: 1}
	descBytes, err := descriptor.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sig, err := signDescriptor(logKey, descBytes)
	if err != nil {
		t.Fatalf("signDescriptor: %v", err)
	}

	return &transport.AddFirmwareInfoResponse{
		FwInfoLeaf:        leaf.Encode(),
		LogRootDescriptor: descBytes,
		LogRootSignature:  transport.DigitallySigned{Signature: sig},
		Proof: transport.InclusionProof{
			LeafIndex: 1,
			TreeSize:  2,
			Hashes:    [][]byte{sibling},
		},
	}
}

func TestMakeICPFromVbmetaSingleLog(t *testing.T) {
	vbmetaPath := writeVbmeta(t)
	origData, err := os.ReadFile(vbmetaPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	vbImg, err := avb.Parse(origData)
	if err != nil {
		t.Fatalf("avb.Parse: %v", err)
	}

	logKey, logPub := logKeyPair(t)
	resp := fakeResponseFor(t, logKey, vbImg.Hash())

	opts := Options{
		Logs:      []logconfig.Config{{Target: "aftl.example.com:9000", PubKey: logPub}},
		Key:       testManufacturerKey(t),
		Transport: &transport.Fake{Response: resp},
		Padding:   16,
		Timeout:   5 * time.Second,
	}

	ok, err := MakeICPFromVbmeta(context.Background(), vbmetaPath, VbmetaMetadata{VersionIncremental: "1"}, opts)
	if err != nil {
		t.Fatalf("MakeICPFromVbmeta: %v", err)
	}
	if !ok {
		t.Fatal("MakeICPFromVbmeta reported failure")
	}

	written, err := os.ReadFile(vbmetaPath)
	if err != nil {
		t.Fatalf("ReadFile after write: %v", err)
	}
	if len(written) <= len(vbImg.VbmetaBytes)+16 {
		t.Errorf("written file is %d bytes, expected more than vbmeta+padding (%d)", len(written), len(vbImg.VbmetaBytes)+16)
	}

	img, err := api.FindImage(written, vbImg.AftlOffset)
	if err != nil {
		t.Fatalf("FindImage: %v", err)
	}
	if len(img.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(img.Entries))
	}
}

func TestMakeICPFromVbmetaPartialLogFailureReturnsFalse(t *testing.T) {
	vbmetaPath := writeVbmeta(t)
	origData, err := os.ReadFile(vbmetaPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	vbImg, err := avb.Parse(origData)
	if err != nil {
		t.Fatalf("avb.Parse: %v", err)
	}

	goodKey, goodPub := logKeyPair(t)
	resp := fakeResponseFor(t, goodKey, vbImg.Hash())

	opts := Options{
		Logs: []logconfig.Config{
			{Target: "good.example.com:9000", PubKey: goodPub},
			{Target: "flaky.example.com:9000", PubKey: goodPub},
		},
		Key:       testManufacturerKey(t),
		Transport: &flakyTransport{good: &transport.Fake{Response: resp}},
		Timeout:   time.Second,
	}

	ok, err := MakeICPFromVbmeta(context.Background(), vbmetaPath, VbmetaMetadata{VersionIncremental: "1"}, opts)
	if err != nil {
		t.Fatalf("MakeICPFromVbmeta returned an error instead of false for a partial log failure: %v", err)
	}
	if ok {
		t.Fatal("MakeICPFromVbmeta reported success with a failed log in the set")
	}

	written, err := os.ReadFile(vbmetaPath)
	if err != nil {
		t.Fatalf("ReadFile after run: %v", err)
	}
	if string(written) != string(origData) {
		t.Error("vbmeta file was modified despite MakeICPFromVbmeta reporting failure")
	}
}

// flakyTransport always fails for "flaky.example.com:9000" and otherwise
// delegates to good, modeling one unreachable log among several configured.
type flakyTransport struct {
	good transport.Transport
}

func (f *flakyTransport) SubmitFirmwareInfo(ctx context.Context, target, apiKey string, req *transport.AddFirmwareInfoRequest) (*transport.AddFirmwareInfoResponse, error) {
	if target == "flaky.example.com:9000" {
		return nil, fmt.Errorf("%w: simulated unreachable log", aftlerr.Transport)
	}
	return f.good.SubmitFirmwareInfo(ctx, target, apiKey, req)
}

func TestMakeICPFromVbmetaRejectsChainedPartition(t *testing.T) {
	header := make([]byte, avb.HeaderSize)
	copy(header[0:4], []byte("AVB0"))
	data := append(header, make([]byte, 1024)...)

	footer := make([]byte, avb.FooterSize)
	copy(footer[0:4], []byte("AVBf"))
	footer[15] = 1 // vbmeta_offset nonzero -> chained
	data = append(data, footer...)

	path := filepath.Join(t.TempDir(), "chained.img")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts := Options{Key: testManufacturerKey(t), Timeout: time.Second}
	_, err := MakeICPFromVbmeta(context.Background(), path, VbmetaMetadata{}, opts)
	if err == nil {
		t.Fatal("MakeICPFromVbmeta succeeded on a chained-partition image")
	}
}
