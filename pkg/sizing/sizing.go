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

// Package sizing holds the overhead-corrected size arithmetic used to
// dimension the draft and final images. All functions are pure.
package sizing

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"unicode"

	"github.com/docker/go-units"
)

// KiB is a size in kibibytes.
type KiB uint64

const (
	// BiosBootSize is the fixed size of the BIOS-boot partition.
	BiosBootSize KiB = 1024

	// DraftMargin is the workspace slack added to the draft image so that
	// customization work (package installs, generated files) cannot run out
	// of space. It does not affect final image sizing.
	DraftMargin KiB = 2 * 1024 * 1024

	// FsOverheadPct is the filesystem metadata and reserved-block overhead
	// applied when deriving the final root filesystem capacity from measured
	// content.
	FsOverheadPct uint = 10

	// LvmOverheadPct accounts for LVM metadata and extent rounding on the
	// final LVM partition.
	LvmOverheadPct uint = 4

	// EfiOverheadPct is the FAT filesystem overhead applied on top of the
	// measured UEFI loader size.
	EfiOverheadPct uint = 20

	// EfiSizeFloor is the minimum EFI partition size regardless of the
	// loader measurement.
	EfiSizeFloor KiB = 1024
)

func (k KiB) String() string {
	return fmt.Sprintf("%dK", uint64(k))
}

// OverheadInflate grows size so that removing pct percent of the result
// yields approximately size again: size * 100 / (100 - pct).
func OverheadInflate(size KiB, pct uint) KiB {
	if pct >= 100 {
		return size
	}
	return size * 100 / KiB(100-pct)
}

// InflateChain applies the given overhead percentages sequentially, each one
// computed on the previous result.
func InflateChain(size KiB, pcts ...uint) KiB {
	for _, pct := range pcts {
		size = OverheadInflate(size, pct)
	}
	return size
}

// EfiCapacity derives the EFI partition size from the measured UEFI loader
// size, inflated by the FAT overhead and floored.
func EfiCapacity(loader KiB) KiB {
	c := OverheadInflate(loader, EfiOverheadPct)
	if c < EfiSizeFloor {
		return EfiSizeFloor
	}
	return c
}

// DraftCapacity is the total size of the oversized draft image: the EFI and
// BIOS-boot partitions, the estimated raw tree size and the fixed margin.
func DraftCapacity(efi, tree KiB) KiB {
	return efi + BiosBootSize + tree + DraftMargin
}

// LVMPartitionCapacity is the portion of an image total occupied by the LVM
// partition, i.e. everything past the EFI and BIOS-boot partitions.
func LVMPartitionCapacity(total, efi KiB) KiB {
	return total - efi - BiosBootSize
}

// FinalLVMCapacity derives the final LVM partition size from the measured
// draft content, inflating for filesystem overhead first and LVM overhead on
// top of that.
func FinalLVMCapacity(measured KiB) KiB {
	return InflateChain(measured, FsOverheadPct, LvmOverheadPct)
}

// FinalCapacity is the total size of the final image. The non-LVM portion
// (EFI + BIOS-boot) is carried over exactly as measured from the draft build
// rather than recomputed, since it is structurally fixed.
func FinalCapacity(finalLVM, draftTotal, draftLVM KiB) KiB {
	return finalLVM + (draftTotal - draftLVM)
}

// ParseSize parses a human size string with a K/M/G/T suffix into KiB,
// rounding up. A bare number is taken as bytes.
func ParseSize(s string) (KiB, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	if unicode.IsDigit(rune(s[len(s)-1])) {
		v, err := strconv.ParseUint(s, 10, bits.UintSize)
		if err != nil {
			return 0, err
		}
		return KiB((v + 1023) / 1024), nil
	}
	b, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if b < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return KiB((b + 1023) / 1024), nil
}
