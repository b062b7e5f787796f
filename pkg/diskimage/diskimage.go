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

// Package diskimage assembles bootable disk images: a GPT-partitioned
// backing file exposed through a loop device, carrying an EFI partition, a
// BIOS-boot partition and an LVM partition holding the root filesystem.
// Every host resource acquired on the way is recorded in a ledger so a
// failed or interrupted build unwinds cleanly.
package diskimage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/alessio/debootstick/pkg/block"
	"github.com/alessio/debootstick/pkg/block/kpartx"
	"github.com/alessio/debootstick/pkg/block/loop"
	"github.com/alessio/debootstick/pkg/block/lsblk"
	"github.com/alessio/debootstick/pkg/ledger"
	"github.com/alessio/debootstick/pkg/lvm"
	"github.com/alessio/debootstick/pkg/sizing"
	"github.com/alessio/debootstick/pkg/sys"
	"github.com/alessio/debootstick/pkg/sys/vfs"
)

const (
	// EfiLabel marks the EFI system partition of produced images.
	EfiLabel = "DBSTCK_EFI"

	// RootVolumeLabel marks the root filesystem. The UEFI loader embedded in
	// the image searches for this label at boot.
	RootVolumeLabel = "ROOT"

	// RootVolumeName is the logical volume name of the root filesystem.
	RootVolumeName = "root"

	efiPartIndex  = 1
	biosPartIndex = 2
	lvmPartIndex  = 3
)

// mkfsExtraFeatures disables ext4 features the i386-pc grub modules cannot
// read, the image must stay bootable on BIOS-only machines.
var mkfsExtraFeatures = "^metadata_csum_seed,^orphan_file"

// Image describes a created image and the host resources currently backing
// it. It stays valid until Release is called.
type Image struct {
	Path        string
	TotalSize   sizing.KiB
	EfiSize     sizing.KiB
	Loop        string
	EfiDevice   string
	BiosDevice  string
	LVMDevice   string
	VolumeGroup string
	RootDevice  string
	RootMount   string
	EFIMount    string

	handles []ledger.Handle
}

// Builder creates disk images, recording every acquired resource in the
// ledger it is given.
type Builder struct {
	ctx    context.Context
	s      *sys.System
	ledger *ledger.Ledger
	lvm    *lvm.LVM
	device block.Device
}

type BuilderOption func(*Builder)

// WithDevice overrides the block device prober, used in tests.
func WithDevice(d block.Device) BuilderOption {
	return func(b *Builder) {
		b.device = d
	}
}

func NewBuilder(ctx context.Context, s *sys.System, l *ledger.Ledger, opts ...BuilderOption) *Builder {
	b := &Builder{
		ctx:    ctx,
		s:      s,
		ledger: l,
		lvm:    lvm.NewLVM(ctx, s),
		device: lsblk.NewLsDevice(s),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create builds an image of the given total size at path, with an EFI
// partition of efiSize, the fixed BIOS-boot partition and an LVM partition
// spanning the rest. The root logical volume is created in a volume group
// named vgName, formatted and mounted under workDir together with the EFI
// partition. On error every resource acquired so far is released and the
// backing file is removed.
func (b *Builder) Create(path string, total, efiSize sizing.KiB, vgName, workDir string) (img *Image, err error) {
	img = &Image{
		Path:        path,
		TotalSize:   total,
		EfiSize:     efiSize,
		VolumeGroup: vgName,
	}
	defer func() {
		if err != nil {
			_ = b.Release(img)
			_ = b.s.FS().Remove(path)
			img = nil
		}
	}()

	b.s.Logger().Info("Creating %s image at %s", total, path)
	if err = b.createBackingFile(path, total); err != nil {
		return img, err
	}
	if err = b.partition(path, efiSize); err != nil {
		return img, err
	}
	if err = b.attach(img); err != nil {
		return img, err
	}
	if err = b.verifyPartitions(img); err != nil {
		return img, err
	}
	if err = b.createRootVolume(img); err != nil {
		return img, err
	}
	if err = b.format(img); err != nil {
		return img, err
	}
	if err = b.mount(img, workDir); err != nil {
		return img, err
	}
	return img, nil
}

// Release unwinds every resource acquired for the given image, most recent
// first. Resources already released by a broader unwind are skipped. The
// backing file itself is kept.
func (b *Builder) Release(img *Image) error {
	var errs []error
	for i := len(img.handles) - 1; i >= 0; i-- {
		if err := b.ledger.UndoOne(img.handles[i]); err != nil {
			errs = append(errs, err)
		}
	}
	img.handles = nil
	return errors.Join(errs...)
}

func (b *Builder) createBackingFile(path string, total sizing.KiB) error {
	f, err := b.s.FS().Create(path)
	if err != nil {
		return fmt.Errorf("creating image file %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	// sparse, blocks materialize as the filesystems are written
	if err = b.s.FS().Truncate(path, int64(total)*1024); err != nil {
		return fmt.Errorf("sizing image file %s: %w", path, err)
	}
	return nil
}

func (b *Builder) partition(path string, efiSize sizing.KiB) error {
	if _, err := b.s.Runner().RunContext(b.ctx, "sgdisk", "--zap-all", path); err != nil {
		return fmt.Errorf("clearing partition table of %s: %w", path, err)
	}
	_, err := b.s.Runner().RunContext(b.ctx, "sgdisk",
		fmt.Sprintf("--new=%d:0:+%s", efiPartIndex, efiSize), fmt.Sprintf("--typecode=%d:ef00", efiPartIndex),
		fmt.Sprintf("--new=%d:0:+%s", biosPartIndex, sizing.BiosBootSize), fmt.Sprintf("--typecode=%d:ef02", biosPartIndex),
		fmt.Sprintf("--new=%d:0:0", lvmPartIndex), fmt.Sprintf("--typecode=%d:8e00", lvmPartIndex),
		path,
	)
	if err != nil {
		return fmt.Errorf("partitioning %s: %w", path, err)
	}
	return nil
}

// attach exposes the backing file as a loop device and maps its partitions.
// Both steps are ledgered individually so the unwind detaches in the right
// order regardless of where a later step fails.
func (b *Builder) attach(img *Image) error {
	h, err := b.ledger.Record("loop device for "+img.Path,
		func() error {
			device, err := loop.Attach(b.ctx, b.s, img.Path)
			if err != nil {
				return err
			}
			img.Loop = device
			return nil
		},
		func() error {
			return loop.Detach(b.s, img.Loop)
		})
	if err != nil {
		return err
	}
	img.handles = append(img.handles, h)

	h, err = b.ledger.Record("partition mappings of "+img.Path,
		func() error {
			return kpartx.MapPartitions(b.ctx, b.s, img.Loop)
		},
		func() error {
			return kpartx.Unmap(b.s, img.Loop)
		})
	if err != nil {
		return err
	}
	img.handles = append(img.handles, h)

	img.EfiDevice = kpartx.MappedPartition(img.Loop, efiPartIndex)
	img.BiosDevice = kpartx.MappedPartition(img.Loop, biosPartIndex)
	img.LVMDevice = kpartx.MappedPartition(img.Loop, lvmPartIndex)
	return kpartx.WaitForDevice(b.ctx, b.s, img.LVMDevice)
}

// verifyPartitions cross-checks the mapped device nodes against what the
// host actually reports for the loop device.
func (b *Builder) verifyPartitions(img *Image) error {
	parts, err := b.device.GetDevicePartitions(img.Loop)
	if err != nil {
		return fmt.Errorf("probing partitions of %s: %w", img.Loop, err)
	}
	for _, device := range []string{img.EfiDevice, img.BiosDevice, img.LVMDevice} {
		if parts.GetPartitionByPath(device) == nil {
			return fmt.Errorf("partition %s of %s not reported by the host", device, img.Loop)
		}
	}
	return nil
}

func (b *Builder) createRootVolume(img *Image) error {
	h, err := b.ledger.Record("volume group "+img.VolumeGroup,
		func() error {
			if err := b.lvm.CreatePhysicalVolume(img.LVMDevice); err != nil {
				return err
			}
			return b.lvm.CreateVolumeGroup(img.VolumeGroup, img.LVMDevice)
		},
		func() error {
			return b.lvm.Deactivate(img.VolumeGroup)
		})
	if err != nil {
		return err
	}
	img.handles = append(img.handles, h)

	img.RootDevice, err = b.lvm.CreateLogicalVolume(img.VolumeGroup, RootVolumeName)
	if err != nil {
		return err
	}
	return kpartx.WaitForDevice(b.ctx, b.s, img.RootDevice)
}

func (b *Builder) format(img *Image) error {
	_, err := b.s.Runner().RunContext(b.ctx, "mkfs.ext4",
		"-q", "-F", "-m", "2", "-L", RootVolumeLabel, "-O", mkfsExtraFeatures, img.RootDevice)
	if err != nil {
		return fmt.Errorf("formatting root volume %s: %w", img.RootDevice, err)
	}
	_, err = b.s.Runner().RunContext(b.ctx, "mkfs.vfat", "-n", EfiLabel, img.EfiDevice)
	if err != nil {
		return fmt.Errorf("formatting EFI partition %s: %w", img.EfiDevice, err)
	}
	// mkfs succeeding is not proof the kernel sees the new filesystems on
	// the mapped nodes, cross-check before mounting
	if err = b.verifyFS(img.RootDevice, "ext4"); err != nil {
		return err
	}
	return b.verifyFS(img.EfiDevice, "vfat")
}

func (b *Builder) verifyFS(device, want string) error {
	fs, err := b.device.GetPartitionFS(device)
	if err != nil {
		return fmt.Errorf("probing filesystem of %s: %w", device, err)
	}
	if fs != want {
		return fmt.Errorf("%s reports filesystem %q, expected %q", device, fs, want)
	}
	return nil
}

func (b *Builder) mount(img *Image, workDir string) error {
	var err error
	img.RootMount, err = b.mountAt(img.RootDevice, "ext4", filepath.Join(workDir, "root"), img)
	if err != nil {
		return err
	}
	img.EFIMount, err = b.mountAt(img.EfiDevice, "vfat", filepath.Join(workDir, "efi"), img)
	return err
}

func (b *Builder) mountAt(device, fstype, target string, img *Image) (string, error) {
	h, err := b.ledger.Record("mountpoint directory "+target,
		func() error {
			return vfs.MkdirAll(b.s.FS(), target, vfs.DirPerm)
		},
		func() error {
			return b.s.FS().RemoveAll(target)
		})
	if err != nil {
		return "", err
	}
	img.handles = append(img.handles, h)

	h, err = b.ledger.Record(fmt.Sprintf("mount of %s on %s", device, target),
		func() error {
			return b.s.Mounter().Mount(device, target, fstype, nil)
		},
		func() error {
			// nothing may keep the mount busy: leave it and flush twice so
			// in-flight writes land before the unmount
			if err := b.s.Syscall().Chdir("/"); err != nil {
				return err
			}
			b.s.Syscall().Sync()
			b.s.Syscall().Sync()
			return b.s.Mounter().Unmount(target)
		})
	if err != nil {
		return "", err
	}
	img.handles = append(img.handles, h)
	return target, nil
}
