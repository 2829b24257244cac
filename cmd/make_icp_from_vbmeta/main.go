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

// make_icp_from_vbmeta submits a vbmeta image to one or more AFTL
// transparency logs and appends the returned inclusion proofs to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/usbarmory/aftl/keys"
	"github.com/usbarmory/aftl/logconfig"
	"github.com/usbarmory/aftl/orchestrator"
	"github.com/usbarmory/aftl/transport"
)

var (
	vbmetaImage        = flag.String("vbmeta_image", "", "Path to the vbmeta image to submit")
	manufacturerKey    = flag.String("manufacturer_key", "", "Path to the PEM-encoded RSA-4096 manufacturer signing key")
	versionIncremental = flag.String("version_incremental", "", "Build fingerprint's version_incremental field")
	platformKeyFile    = flag.String("platform_key", "", "Path to the vbmeta signing key, DER-encoded")
	padding            = flag.Int("padding", 0, "Zero-pad the output to a multiple of this many bytes (0: no padding)")
	timeout            = flag.Duration("timeout", 30*time.Second, "Per-log submission timeout")
	parallel           = flag.Bool("parallel", false, "Submit to all configured logs concurrently")
	insecure           = flag.Bool("insecure", false, "Dial transparency logs without transport security (testing only)")
)

func main() {
	var logDescriptors multiFlag
	flag.Var(&logDescriptors, "transparency_log", "Repeatable: host:port,pubkey_pem_path[,api_key] for a log to submit to")
	flag.Parse()

	if err := validateFlags(logDescriptors); err != nil {
		glog.Errorf("Invalid flag(s):\n%s", err)
		os.Exit(2)
	}

	logs, err := logconfig.ParseAll(logDescriptors)
	if err != nil {
		glog.Errorf("Invalid --transparency_log: %v", err)
		os.Exit(2)
	}

	key, err := keys.NewRSAFileProvider(*manufacturerKey)
	if err != nil {
		glog.Errorf("Invalid --manufacturer_key: %v", err)
		os.Exit(2)
	}

	var platformKeyDER []byte
	if *platformKeyFile != "" {
		platformKeyDER, err = os.ReadFile(*platformKeyFile)
		if err != nil {
			glog.Errorf("Failed to read --platform_key: %v", err)
			os.Exit(2)
		}
	}

	opts := orchestrator.Options{
		Logs:      logs,
		Key:       key,
		Transport: &transport.GRPCTransport{Insecure: *insecure},
		Padding:   *padding,
		Timeout:   *timeout,
		Parallel:  *parallel,
	}
	meta := orchestrator.VbmetaMetadata{
		VersionIncremental: *versionIncremental,
		PlatformKeyDER:     platformKeyDER,
	}

	ok, err := orchestrator.MakeICPFromVbmeta(context.Background(), *vbmetaImage, meta, opts)
	if err != nil {
		glog.Errorf("Failed to make ICP from vbmeta: %v", err)
		os.Exit(2)
	}
	if !ok {
		glog.Error("Not every configured log produced a valid inclusion proof, or the assembled AftlImage failed self-verification")
		os.Exit(1)
	}
	fmt.Printf("OK: appended inclusion proof(s) from %d log(s) to %s\n", len(logs), *vbmetaImage)
}

func validateFlags(logDescriptors []string) error {
	errs := make([]string, 0)
	checkEmpty := func(n, s string) {
		if s == "" {
			errs = append(errs, fmt.Sprintf("--%s can't be empty", n))
		}
	}
	checkEmpty("vbmeta_image", *vbmetaImage)
	checkEmpty("manufacturer_key", *manufacturerKey)
	checkEmpty("version_incremental", *versionIncremental)
	if len(logDescriptors) == 0 {
		errs = append(errs, "at least one --transparency_log is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "\n"))
	}
	return nil
}

// multiFlag implements flag.Value for a repeatable string flag.
type multiFlag []string

func (f *multiFlag) String() string { return strings.Join(*f, ",") }
func (f *multiFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}
