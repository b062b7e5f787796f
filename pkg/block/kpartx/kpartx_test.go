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

package kpartx_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/alessio/debootstick/pkg/block/kpartx"
	"github.com/alessio/debootstick/pkg/sys"
	sysmock "github.com/alessio/debootstick/pkg/sys/mock"
	"github.com/alessio/debootstick/pkg/sys/vfs"
)

func TestKpartxSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Kpartx test suite")
}

var _ = Describe("Partition mappings", Label("kpartx"), func() {
	var runner *sysmock.Runner
	var tfs vfs.FS
	var cleanup func()
	var s *sys.System

	BeforeEach(func() {
		var err error
		tfs, cleanup, err = sysmock.TestFS(map[string]any{
			"/dev/empty": []byte{},
		})
		Expect(err).NotTo(HaveOccurred())

		runner = sysmock.NewRunner()
		s, err = sys.NewSystem(
			sys.WithRunner(runner),
			sys.WithFS(tfs),
			sys.WithMounter(sysmock.NewMounter()),
			sys.WithSyscall(&sysmock.Syscall{}),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	It("activates and removes mappings through kpartx", func() {
		Expect(kpartx.MapPartitions(context.Background(), s, "/dev/loop2")).To(Succeed())
		Expect(kpartx.Unmap(s, "/dev/loop2")).To(Succeed())
		Expect(runner.CmdsMatch([][]string{
			{"kpartx", "-a", "-s", "/dev/loop2"},
			{"kpartx", "-d", "/dev/loop2"},
		})).To(Succeed())
	})

	It("derives mapped partition node names", func() {
		Expect(kpartx.MappedPartition("/dev/loop2", 3)).To(Equal("/dev/mapper/loop2p3"))
	})

	It("returns as soon as the device node exists", func() {
		Expect(vfs.MkdirAll(tfs, "/dev/mapper", vfs.DirPerm)).To(Succeed())
		Expect(tfs.WriteFile("/dev/mapper/loop2p3", []byte{}, vfs.FilePerm)).To(Succeed())
		Expect(kpartx.WaitForDevice(context.Background(), s, "/dev/mapper/loop2p3")).To(Succeed())
	})

	It("fails with a distinct timeout error when the node never appears", func() {
		err := kpartx.WaitForDeviceWithBudget(context.Background(), s, "/dev/mapper/loop2p3", 3, time.Millisecond)
		Expect(err).To(MatchError(kpartx.ErrDeviceWaitTimeout))
	})

	It("honors context cancellation while waiting", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := kpartx.WaitForDeviceWithBudget(ctx, s, "/dev/mapper/loop2p3", 100, 10*time.Millisecond)
		Expect(err).To(MatchError(context.Canceled))
	})
})
