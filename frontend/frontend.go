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

// Package frontend implements the read-only operations offered to end
// users of an already-assembled vbmeta+AftlImage file: printing its
// contents, and verifying its inclusion proofs.
package frontend

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/usbarmory/aftl/api"
	"github.com/usbarmory/aftl/avb"
	"github.com/usbarmory/aftl/verify"
)

// locateImage reads vbmetaPath and returns the AftlImage appended after
// its vbmeta structure, along with the vbmeta hash the image's entries
// should attest to.
func locateImage(vbmetaPath string) (api.Image, []byte, error) {
	data, err := os.ReadFile(vbmetaPath)
	if err != nil {
		return api.Image{}, nil, err
	}
	vbImg, err := avb.Parse(data)
	if err != nil {
		return api.Image{}, nil, err
	}
	img, err := api.FindImage(data, vbImg.AftlOffset)
	if err != nil {
		return api.Image{}, nil, err
	}
	return img, vbImg.Hash(), nil
}

// InfoImageICP prints the contents of the AftlImage embedded in the
// vbmeta image at vbmetaPath to w. It returns false, with no error, if
// the file can be read but carries no parseable AftlImage.
func InfoImageICP(vbmetaPath string, w io.Writer) (bool, error) {
	img, _, err := locateImage(vbmetaPath)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return false, err
		}
		return false, nil
	}
	img.PrintTo(w)
	return true, nil
}

// VerifyImageICP verifies every inclusion proof embedded in the vbmeta
// image at vbmetaPath against pubKeys, and that every entry attests to
// the vbmeta's own hash. It reports the outcome to w and returns whether
// verification succeeded.
func VerifyImageICP(vbmetaPath string, pubKeys []crypto.PublicKey, w io.Writer) (bool, error) {
	img, vbmetaHash, err := locateImage(vbmetaPath)
	if err != nil {
		return false, err
	}

	if err := verify.VbmetaHash(img, vbmetaHash, pubKeys); err != nil {
		fmt.Fprint(w, "The inclusion proofs for the image do not validate.\n")
		return false, nil
	}
	fmt.Fprint(w, "The inclusion proofs for the image successfully validate.\n")
	return true, nil
}
