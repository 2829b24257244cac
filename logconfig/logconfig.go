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

// Package logconfig parses the --transparency_log repeatable flag
// accepted by the AFTL command line tools: a comma-separated descriptor
// naming a log's gRPC target, the PEM file holding its public key, and an
// optional API key.
package logconfig

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/usbarmory/aftl/aftlerr"
)

// Config describes one transparency log to submit to or verify against.
type Config struct {
	// Target is the gRPC "host:port" the log is reachable at.
	Target string

	// PubKey is the log's parsed public key, used to verify the
	// signature over returned log root descriptors.
	PubKey crypto.PublicKey

	// APIKey is sent as per-RPC metadata if non-empty.
	APIKey string
}

// Parse parses a single "host:port,pubkey_pem_path[,api_key]" descriptor.
func Parse(descriptor string) (Config, error) {
	parts := strings.SplitN(descriptor, ",", 3)
	if len(parts) < 2 {
		return Config{}, fmt.Errorf("%w: log descriptor %q must be host:port,pubkey_pem_path[,api_key]", aftlerr.FieldRange, descriptor)
	}

	target := strings.TrimSpace(parts[0])
	if target == "" {
		return Config{}, fmt.Errorf("%w: empty target in log descriptor %q", aftlerr.FieldRange, descriptor)
	}

	pubKeyPath := strings.TrimSpace(parts[1])
	pubKey, err := readPublicKey(pubKeyPath)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Target: target, PubKey: pubKey}
	if len(parts) == 3 {
		cfg.APIKey = strings.TrimSpace(parts[2])
	}
	return cfg, nil
}

// ParseAll parses every element of descriptors, in order. The returned
// slice's order determines submission order when submitting sequentially.
func ParseAll(descriptors []string) ([]Config, error) {
	configs := make([]Config, 0, len(descriptors))
	for _, d := range descriptors {
		cfg, err := Parse(d)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func readPublicKey(path string) (crypto.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading public key %q: %v", aftlerr.IO, path, err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: %q does not contain PEM data", aftlerr.IO, path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, err2 := x509.ParseCertificate(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("%w: parsing public key %q: %v", aftlerr.IO, path, err)
		}
		return cert.PublicKey, nil
	}
	return pub, nil
}
