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

// Package lvm wraps the logical volume manager tooling used to carve the
// root filesystem out of the image's LVM partition.
package lvm

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/alessio/debootstick/pkg/sys"
)

type LVM struct {
	ctx context.Context
	s   *sys.System
}

func NewLVM(ctx context.Context, s *sys.System) *LVM {
	return &LVM{ctx: ctx, s: s}
}

// CreatePhysicalVolume initializes the given device as an LVM physical
// volume, wiping any previous signature.
func (l LVM) CreatePhysicalVolume(device string) error {
	_, err := l.s.Runner().RunContext(l.ctx, "pvcreate", "-ff", "-y", device)
	if err != nil {
		return fmt.Errorf("creating physical volume on %s: %w", device, err)
	}
	return nil
}

// CreateVolumeGroup creates a volume group spanning the given device.
func (l LVM) CreateVolumeGroup(vg, device string) error {
	_, err := l.s.Runner().RunContext(l.ctx, "vgcreate", vg, device)
	if err != nil {
		return fmt.Errorf("creating volume group %s on %s: %w", vg, device, err)
	}
	return nil
}

// CreateLogicalVolume creates a logical volume spanning all free space in
// the volume group and returns its device path.
func (l LVM) CreateLogicalVolume(vg, name string) (string, error) {
	_, err := l.s.Runner().RunContext(l.ctx, "lvcreate", "-y", "-l", "100%FREE", "-n", name, vg)
	if err != nil {
		return "", fmt.Errorf("creating logical volume %s/%s: %w", vg, name, err)
	}
	return DevicePath(vg, name), nil
}

// Deactivate deactivates every logical volume of the given volume group.
// Logical volumes must be deactivated before the partition mappings they
// sit on can be removed.
func (l LVM) Deactivate(vg string) error {
	_, err := l.s.Runner().Run("vgchange", "-a", "n", vg)
	if err != nil {
		return fmt.Errorf("deactivating volume group %s: %w", vg, err)
	}
	return nil
}

// DevicePath returns the canonical device path of a logical volume.
func DevicePath(vg, lv string) string {
	return filepath.Join("/dev", vg, lv)
}
