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

package loop_test

import (
	"context"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/alessio/debootstick/pkg/block/loop"
	"github.com/alessio/debootstick/pkg/sys"
	sysmock "github.com/alessio/debootstick/pkg/sys/mock"
)

func TestLoopSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Loop test suite")
}

var _ = Describe("Loop devices", Label("loop"), func() {
	var runner *sysmock.Runner
	var s *sys.System

	BeforeEach(func() {
		var err error
		runner = sysmock.NewRunner()
		s, err = sys.NewSystem(
			sys.WithRunner(runner),
			sys.WithMounter(sysmock.NewMounter()),
			sys.WithSyscall(&sysmock.Syscall{}),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	It("attaches a backing file and reports the device", func() {
		runner.ReturnValue = []byte("/dev/loop7\n")
		dev, err := loop.Attach(context.Background(), s, "/work/draft.img")
		Expect(err).NotTo(HaveOccurred())
		Expect(dev).To(Equal("/dev/loop7"))
		Expect(runner.CmdsMatch([][]string{
			{"losetup", "--find", "--show", "/work/draft.img"},
		})).To(Succeed())
	})

	It("rejects empty losetup output", func() {
		runner.ReturnValue = []byte("\n")
		_, err := loop.Attach(context.Background(), s, "/work/draft.img")
		Expect(err).To(HaveOccurred())
	})

	It("propagates attach failures", func() {
		runner.ReturnError = fmt.Errorf("no free loop devices")
		_, err := loop.Attach(context.Background(), s, "/work/draft.img")
		Expect(err).To(MatchError(ContainSubstring("no free loop devices")))
	})

	It("detaches a device", func() {
		Expect(loop.Detach(s, "/dev/loop7")).To(Succeed())
		Expect(runner.CmdsMatch([][]string{
			{"losetup", "-d", "/dev/loop7"},
		})).To(Succeed())
	})
})
