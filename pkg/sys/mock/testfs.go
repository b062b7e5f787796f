/*
Copyright © 2025-2026 The debootstick authors
SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mock

import (
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/alessio/debootstick/pkg/sys/vfs"
)

// TestFS builds a throwaway filesystem pre-populated with the given tree.
// Values may be strings, byte slices or nested maps, as accepted by vfst.
// The returned cleanup function removes the backing directory.
func TestFS(tree map[string]any) (vfs.FS, func(), error) {
	tfs, cleanup, err := vfst.NewTestFS(tree)
	if err != nil {
		return nil, func() {}, err
	}
	return tfs, cleanup, nil
}
