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

package lvm_test

import (
	"context"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/alessio/debootstick/pkg/lvm"
	"github.com/alessio/debootstick/pkg/sys"
	sysmock "github.com/alessio/debootstick/pkg/sys/mock"
)

func TestLVMSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LVM test suite")
}

var _ = Describe("LVM", Label("lvm"), func() {
	var runner *sysmock.Runner
	var l *lvm.LVM

	BeforeEach(func() {
		runner = sysmock.NewRunner()
		s, err := sys.NewSystem(
			sys.WithRunner(runner),
			sys.WithMounter(sysmock.NewMounter()),
			sys.WithSyscall(&sysmock.Syscall{}),
		)
		Expect(err).NotTo(HaveOccurred())
		l = lvm.NewLVM(context.Background(), s)
	})

	It("builds the full LVM stack on a mapped partition", func() {
		Expect(l.CreatePhysicalVolume("/dev/mapper/loop0p3")).To(Succeed())
		Expect(l.CreateVolumeGroup("dbstck_0ab1", "/dev/mapper/loop0p3")).To(Succeed())
		dev, err := l.CreateLogicalVolume("dbstck_0ab1", "ROOT")
		Expect(err).NotTo(HaveOccurred())
		Expect(dev).To(Equal("/dev/dbstck_0ab1/ROOT"))
		Expect(runner.CmdsMatch([][]string{
			{"pvcreate", "-ff", "-y", "/dev/mapper/loop0p3"},
			{"vgcreate", "dbstck_0ab1", "/dev/mapper/loop0p3"},
			{"lvcreate", "-y", "-l", "100%FREE", "-n", "ROOT", "dbstck_0ab1"},
		})).To(Succeed())
	})

	It("deactivates a volume group", func() {
		Expect(l.Deactivate("dbstck_0ab1")).To(Succeed())
		Expect(runner.CmdsMatch([][]string{
			{"vgchange", "-a", "n", "dbstck_0ab1"},
		})).To(Succeed())
	})

	It("wraps tool failures with context", func() {
		runner.ReturnError = fmt.Errorf("device busy")
		err := l.CreatePhysicalVolume("/dev/mapper/loop0p3")
		Expect(err).To(MatchError(ContainSubstring("creating physical volume")))
	})
})
