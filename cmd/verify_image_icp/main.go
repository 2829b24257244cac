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

// verify_image_icp verifies every inclusion proof embedded in a vbmeta
// image against one or more transparency log public keys.
package main

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"

	"github.com/usbarmory/aftl/frontend"
)

var (
	vbmetaImage = flag.String("vbmeta_image", "", "Path to the vbmeta image to verify")
)

func main() {
	var pubKeyFiles multiFlag
	flag.Var(&pubKeyFiles, "log_pubkey", "Repeatable: path to a PEM-encoded transparency log public key")
	flag.Parse()

	if err := validateFlags(pubKeyFiles); err != nil {
		glog.Errorf("Invalid flag(s):\n%s", err)
		os.Exit(2)
	}

	pubKeys, err := readPublicKeys(pubKeyFiles)
	if err != nil {
		glog.Errorf("Failed to read --log_pubkey: %v", err)
		os.Exit(2)
	}

	ok, err := frontend.VerifyImageICP(*vbmetaImage, pubKeys, os.Stdout)
	if err != nil {
		glog.Errorf("Failed to verify %q: %v", *vbmetaImage, err)
		os.Exit(2)
	}
	if !ok {
		os.Exit(1)
	}
}

func validateFlags(pubKeyFiles []string) error {
	errs := make([]string, 0)
	if *vbmetaImage == "" {
		errs = append(errs, "--vbmeta_image can't be empty")
	}
	if len(pubKeyFiles) == 0 {
		errs = append(errs, "at least one --log_pubkey is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "\n"))
	}
	return nil
}

func readPublicKeys(paths []string) ([]crypto.PublicKey, error) {
	keys := make([]crypto.PublicKey, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		block, _ := pem.Decode(b)
		if block == nil {
			return nil, fmt.Errorf("%q does not contain PEM data", p)
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", p, err)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

// multiFlag implements flag.Value for a repeatable string flag.
type multiFlag []string

func (f *multiFlag) String() string { return strings.Join(*f, ",") }
func (f *multiFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}
