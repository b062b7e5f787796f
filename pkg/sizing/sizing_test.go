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

package sizing_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/alessio/debootstick/pkg/sizing"
)

func TestSizingSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sizing test suite")
}

var _ = Describe("Overhead arithmetic", Label("sizing"), func() {
	It("inverts the stated overhead within rounding tolerance", func() {
		for _, size := range []sizing.KiB{1, 100, 4096, 520000, 10 * 1024 * 1024} {
			for _, pct := range []uint{2, 5, 10, 20} {
				inflated := sizing.OverheadInflate(size, pct)
				back := inflated * sizing.KiB(100-pct) / 100
				Expect(back).To(BeNumerically("~", size, 1),
					"size=%d pct=%d inflated=%d", size, pct, inflated)
			}
		}
	})

	It("is monotonic non-decreasing in size", func() {
		prev := sizing.KiB(0)
		for size := sizing.KiB(0); size < 10000; size += 17 {
			got := sizing.OverheadInflate(size, 10)
			Expect(got).To(BeNumerically(">=", prev))
			prev = got
		}
	})

	It("chains overheads sequentially", func() {
		chained := sizing.InflateChain(520000, 10, 4)
		Expect(chained).To(Equal(sizing.OverheadInflate(sizing.OverheadInflate(520000, 10), 4)))
	})

	It("floors tiny EFI loaders", func() {
		Expect(sizing.EfiCapacity(10)).To(Equal(sizing.EfiSizeFloor))
	})
})

var _ = Describe("Capacity planning", Label("sizing"), func() {
	It("reproduces the two-phase sizing scenario", func() {
		const (
			tree     sizing.KiB = 500000
			efi      sizing.KiB = 2000
			measured sizing.KiB = 520000
		)

		draftTotal := sizing.DraftCapacity(efi, tree)
		Expect(draftTotal).To(Equal(efi + 1024 + tree + sizing.DraftMargin))

		draftLVM := sizing.LVMPartitionCapacity(draftTotal, efi)
		Expect(draftLVM).To(Equal(draftTotal - efi - 1024))

		finalLVM := sizing.FinalLVMCapacity(measured)
		Expect(finalLVM).To(Equal(
			sizing.OverheadInflate(sizing.OverheadInflate(measured, sizing.FsOverheadPct), sizing.LvmOverheadPct)))

		finalTotal := sizing.FinalCapacity(finalLVM, draftTotal, draftLVM)
		Expect(finalTotal).To(Equal(finalLVM + (draftTotal - draftLVM)))

		// The EFI/BIOS-boot portion of the final image exactly matches the
		// draft's, and the final capacity covers the inflated content.
		Expect(finalTotal - finalLVM).To(Equal(draftTotal - draftLVM))
		Expect(finalLVM).To(BeNumerically(">=", sizing.InflateChain(measured, sizing.FsOverheadPct, sizing.LvmOverheadPct)))
	})
})

var _ = Describe("ParseSize", Label("sizing"), func() {
	It("parses suffixed sizes into KiB", func() {
		Expect(sizing.ParseSize("2G")).To(Equal(sizing.KiB(2 * 1024 * 1024)))
		Expect(sizing.ParseSize("512M")).To(Equal(sizing.KiB(512 * 1024)))
		Expect(sizing.ParseSize("1024K")).To(Equal(sizing.KiB(1024)))
	})

	It("rounds bare byte counts up to the next KiB", func() {
		Expect(sizing.ParseSize("1025")).To(Equal(sizing.KiB(2)))
	})

	It("rejects garbage", func() {
		_, err := sizing.ParseSize("many")
		Expect(err).To(HaveOccurred())
		_, err = sizing.ParseSize("")
		Expect(err).To(HaveOccurred())
	})

	It("rejects negative sizes", func() {
		_, err := sizing.ParseSize("-5M")
		Expect(err).To(HaveOccurred())
		_, err = sizing.ParseSize("-1024")
		Expect(err).To(HaveOccurred())
	})
})
