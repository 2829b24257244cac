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

// load_test_aftl drives a configurable number of concurrent synthetic
// submissions against a transparency log, to exercise it the way a fleet
// of devices submitting vbmeta images concurrently would. It generalizes
// the reference aftltool's multiprocessing-based load test to a
// goroutine pool, tagging every submission with a correlation ID so its
// outcome can be matched back to its request in logs.
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/usbarmory/aftl/keys"
	"github.com/usbarmory/aftl/logconfig"
	"github.com/usbarmory/aftl/submit"
	"github.com/usbarmory/aftl/transport"
)

var (
	transparencyLog = flag.String("transparency_log", "", "host:port,pubkey_pem_path[,api_key] of the log under test")
	manufacturerKey = flag.String("manufacturer_key", "", "Path to the PEM-encoded RSA-4096 manufacturer signing key")
	concurrency     = flag.Int("concurrency", 8, "Number of concurrent submitting workers")
	requests        = flag.Int("requests", 100, "Total number of submissions to make")
	timeout         = flag.Duration("timeout", 30*time.Second, "Per-submission timeout")
	insecure        = flag.Bool("insecure", false, "Dial the log without transport security (testing only)")
)

func main() {
	flag.Parse()
	if *transparencyLog == "" || *manufacturerKey == "" {
		glog.Error("--transparency_log and --manufacturer_key are required")
		os.Exit(2)
	}

	cfg, err := logconfig.Parse(*transparencyLog)
	if err != nil {
		glog.Errorf("Invalid --transparency_log: %v", err)
		os.Exit(2)
	}
	key, err := keys.NewRSAFileProvider(*manufacturerKey)
	if err != nil {
		glog.Errorf("Invalid --manufacturer_key: %v", err)
		os.Exit(2)
	}
	tr := &transport.GRPCTransport{Insecure: *insecure}

	var succeeded, failed int64
	jobs := make(chan int, *requests)
	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for range jobs {
				id := uuid.New()
				if err := submitOne(cfg, key, tr, id); err != nil {
					glog.Errorf("[%s] submission failed: %v", id, err)
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&succeeded, 1)
			}
		}(w)
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("completed %d requests (%d ok, %d failed) in %s\n", *requests, succeeded, failed, elapsed)
}

// submitOne builds a synthetic, unique vbmeta hash tagged with id so the
// log under test treats each request as a distinct leaf rather than
// deduplicating it, and submits it to cfg.
func submitOne(cfg logconfig.Config, key keys.Provider, tr transport.Transport, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	vbmeta := make([]byte, 4096)
	copy(vbmeta, []byte(id.String()))
	if _, err := rand.Read(vbmeta[len(id.String()):]); err != nil {
		return err
	}
	h := sha256.Sum256(vbmeta)

	req, err := submit.BuildRequest(submit.VbmetaInfo{
		Vbmeta:             vbmeta,
		Hash:               h[:],
		VersionIncremental: id.String(),
	}, key)
	if err != nil {
		return err
	}
	_, err = submit.RequestInclusionProof(ctx, cfg, tr, req)
	return err
}
