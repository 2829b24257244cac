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

// Package orchestrator implements MakeICPFromVbmeta: submitting a vbmeta
// image to one or more transparency logs and assembling the returned
// inclusion proofs into an AftlImage appended to the vbmeta on disk.
package orchestrator

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang/glog"

	"github.com/usbarmory/aftl/aftlerr"
	"github.com/usbarmory/aftl/api"
	"github.com/usbarmory/aftl/avb"
	"github.com/usbarmory/aftl/keys"
	"github.com/usbarmory/aftl/logconfig"
	"github.com/usbarmory/aftl/submit"
	"github.com/usbarmory/aftl/transport"
	"github.com/usbarmory/aftl/verify"
)

// VbmetaMetadata carries the vbmeta fields AFTL logs, which this package
// does not extract itself: producing them requires full AVB descriptor
// parsing (vbmeta's auxiliary data block), which is outside this
// implementation's scope. Callers obtain these from their own AVB
// tooling before calling MakeICPFromVbmeta.
type VbmetaMetadata struct {
	VersionIncremental string
	PlatformKeyDER     []byte
}

// Options configures a MakeICPFromVbmeta run.
type Options struct {
	// Logs is the set of transparency logs to submit to, tried in order
	// for sequential submission or concurrently when Parallel is set.
	Logs []logconfig.Config

	// Key signs the submission on the manufacturer's behalf.
	Key keys.Provider

	// Transport performs the actual RPC; production callers pass a
	// *transport.GRPCTransport.
	Transport transport.Transport

	// Padding, when positive, is the block size the output is rounded up
	// to: zero bytes are appended after the AftlImage until the length of
	// vbmeta plus image is a multiple of Padding (spec.md §4.8 step 6).
	Padding int

	// Timeout bounds each individual log submission.
	Timeout time.Duration

	// Parallel submits to every log concurrently instead of in the
	// configured order; either way, every log must succeed for the run
	// to be considered successful (spec.md §5's resource model allows,
	// but does not require, parallelizing across logs).
	Parallel bool
}

// MakeICPFromVbmeta reads the vbmeta image at vbmetaPath, submits it to
// every configured log, verifies the resulting AftlImage, and writes the
// vbmeta image followed by the image, zero-padded to a multiple of
// Options.Padding, back to vbmetaPath. It returns false (with a nil error)
// when a configured log produced no inclusion proof or when the assembled
// image failed its own verification; all other failures are returned as
// errors.
func MakeICPFromVbmeta(ctx context.Context, vbmetaPath string, meta VbmetaMetadata, opts Options) (bool, error) {
	data, err := os.ReadFile(vbmetaPath)
	if err != nil {
		return false, fmt.Errorf("%w: reading %q: %v", aftlerr.IO, vbmetaPath, err)
	}

	vbImg, err := avb.Parse(data)
	if err != nil {
		return false, err
	}
	if vbImg.Chained {
		return false, fmt.Errorf("%w: %q is part of a chained partition", aftlerr.ChainedPartitionUnsupported, vbmetaPath)
	}

	req, err := submit.BuildRequest(submit.VbmetaInfo{
		Vbmeta:             vbImg.VbmetaBytes,
		Hash:               vbImg.Hash(),
		VersionIncremental: meta.VersionIncremental,
		PlatformKey:        meta.PlatformKeyDER,
	}, opts.Key)
	if err != nil {
		return false, err
	}

	results := submitToLogs(ctx, opts, req)

	image := api.NewImage()
	pubKeys := make([]crypto.PublicKey, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			glog.Errorf("submission to %q failed, skipping: %v", opts.Logs[r.index].Target, r.err)
			continue
		}
		if err := image.AddEntry(r.entry); err != nil {
			return false, fmt.Errorf("entry for %q: %w", opts.Logs[r.index].Target, err)
		}
		pubKeys = append(pubKeys, opts.Logs[r.index].PubKey)
	}

	if len(image.Entries) != len(opts.Logs) {
		glog.Errorf("only %d of %d configured log(s) produced an inclusion proof for %q", len(image.Entries), len(opts.Logs), vbmetaPath)
		return false, nil
	}

	if err := verify.VbmetaHash(image, vbImg.Hash(), pubKeys); err != nil {
		glog.Errorf("assembled AftlImage for %q failed self-verification: %v", vbmetaPath, err)
		return false, nil
	}

	imageBytes, err := image.Encode()
	if err != nil {
		return false, err
	}

	var out bytes.Buffer
	out.Write(vbImg.VbmetaBytes)
	out.Write(imageBytes)
	if opts.Padding > 0 {
		if rem := out.Len() % opts.Padding; rem != 0 {
			out.Write(make([]byte, opts.Padding-rem))
		}
	}

	if err := os.WriteFile(vbmetaPath, out.Bytes(), 0644); err != nil {
		return false, fmt.Errorf("%w: writing %q: %v", aftlerr.IO, vbmetaPath, err)
	}
	return true, nil
}

// submitResult is the outcome of submitting req to a single log:
// opts.Logs[index] produced either entry or, on failure (even after
// retries are exhausted), err.
type submitResult struct {
	index int
	entry api.IcpEntry
	err   error
}

// submitToLogs submits req to every log in opts.Logs, either sequentially
// or concurrently depending on opts.Parallel, retrying each submission on
// transient transport failures. A log that still fails after retries is
// logged and skipped rather than aborting the run: the caller decides
// whether the resulting partial set of entries is acceptable.
func submitToLogs(ctx context.Context, opts Options, req *transport.AddFirmwareInfoRequest) []submitResult {
	n := len(opts.Logs)
	results := make([]submitResult, n)

	submitOne := func(i int) {
		cfg := opts.Logs[i]
		callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		entry, err := submitWithRetry(callCtx, cfg, opts, req)
		results[i] = submitResult{index: i, entry: entry, err: err}
	}

	if opts.Parallel {
		var wg sync.WaitGroup
		for i := range opts.Logs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				submitOne(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range opts.Logs {
			submitOne(i)
		}
	}

	return results
}

// submitWithRetry retries req against cfg until an inclusion proof is
// obtained or retries are exhausted.
func submitWithRetry(callCtx context.Context, cfg logconfig.Config, opts Options, req *transport.AddFirmwareInfoRequest) (api.IcpEntry, error) {
	var result api.IcpEntry
	err := retry.Do(
		func() error {
			e, err := submit.RequestInclusionProof(callCtx, cfg, opts.Transport, req)
			if err != nil {
				return err
			}
			result = e
			return nil
		},
		retry.Context(callCtx),
		retry.Attempts(3),
		retry.RetryIf(errorIsTransient),
	)
	return result, err
}

func errorIsTransient(err error) bool {
	return errors.Is(err, aftlerr.Transport) || errors.Is(err, aftlerr.TransportTimeout)
}
