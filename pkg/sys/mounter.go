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

package sys

import (
	"k8s.io/mount-utils"
)

// Mounter performs mount and unmount operations.
type Mounter interface {
	Mount(source string, target string, fstype string, options []string) error
	Unmount(target string) error
	IsMountPoint(path string) (bool, error)
}

type mounter struct {
	mnt mount.Interface
}

var _ Mounter = (*mounter)(nil)

// NewMounter returns a Mounter backed by the given mount binary.
func NewMounter(binary string) Mounter {
	return &mounter{
		mnt: mount.New(binary),
	}
}

func (m mounter) Mount(source string, target string, fstype string, options []string) error {
	return m.mnt.Mount(source, target, fstype, options)
}

func (m mounter) Unmount(target string) error {
	return m.mnt.Unmount(target)
}

func (m mounter) IsMountPoint(path string) (bool, error) {
	return m.mnt.IsMountPoint(path)
}
