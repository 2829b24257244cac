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

// info_image_icp prints the contents of the AftlImage embedded in a
// vbmeta image.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/usbarmory/aftl/frontend"
)

var vbmetaImage = flag.String("vbmeta_image", "", "Path to the vbmeta image to inspect")

func main() {
	flag.Parse()
	if *vbmetaImage == "" {
		glog.Error("--vbmeta_image can't be empty")
		os.Exit(2)
	}

	ok, err := frontend.InfoImageICP(*vbmetaImage, os.Stdout)
	if err != nil {
		glog.Errorf("Failed to read %q: %v", *vbmetaImage, err)
		os.Exit(2)
	}
	if !ok {
		glog.Errorf("%q carries no AftlImage", *vbmetaImage)
		os.Exit(1)
	}
}
