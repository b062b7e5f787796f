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

package diskimage_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/alessio/debootstick/pkg/diskimage"
	"github.com/alessio/debootstick/pkg/ledger"
	"github.com/alessio/debootstick/pkg/sys"
	sysmock "github.com/alessio/debootstick/pkg/sys/mock"
	"github.com/alessio/debootstick/pkg/sys/vfs"
)

func TestDiskImageSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Disk image test suite")
}

const lsblkLoop3 = `{
  "blockdevices": [
    {"label": null, "partlabel": null, "partuuid": null, "size": 5368709120,
     "fstype": null, "mountpoints": [null], "path": "/dev/loop3", "pkname": null, "type": "loop"},
    {"label": null, "partlabel": null, "partuuid": "f1e2", "size": 2048000,
     "fstype": "vfat", "mountpoints": [null], "path": "/dev/mapper/loop3p1", "pkname": "/dev/loop3", "type": "dm"},
    {"label": null, "partlabel": null, "partuuid": "f1e3", "size": 1048576,
     "fstype": null, "mountpoints": [null], "path": "/dev/mapper/loop3p2", "pkname": "/dev/loop3", "type": "dm"},
    {"label": null, "partlabel": null, "partuuid": "f1e4", "size": 5363662848,
     "fstype": "LVM2_member", "mountpoints": [null], "path": "/dev/mapper/loop3p3", "pkname": "/dev/loop3", "type": "dm"}
  ]
}`

const lsblkEfiPart = `{
  "blockdevices": [
    {"label": "DBSTCK_EFI", "partlabel": null, "partuuid": "f1e2", "size": 2048000,
     "fstype": "vfat", "mountpoints": [null], "path": "/dev/mapper/loop3p1", "pkname": "/dev/loop3", "type": "dm"}
  ]
}`

const lsblkRootLV = `{
  "blockdevices": [
    {"label": "ROOT", "partlabel": null, "partuuid": null, "size": 5242880000,
     "fstype": "ext4", "mountpoints": [null], "path": "/dev/DBSTCK_0a1b2c3d/root", "pkname": "/dev/mapper/loop3p3", "type": "lvm"}
  ]
}`

var _ = Describe("Builder", Label("diskimage"), func() {
	var tfs vfs.FS
	var cleanup func()
	var runner *sysmock.Runner
	var mounter *sysmock.Mounter
	var syscall *sysmock.Syscall
	var s *sys.System
	var ldg *ledger.Ledger
	var builder *diskimage.Builder

	const vgName = "DBSTCK_0a1b2c3d"

	// mimics the host: losetup allocates a device, kpartx and lvcreate make
	// device nodes appear, lsblk reports the mapped partitions
	hostSideEffect := func(command string, args ...string) ([]byte, error) {
		switch command {
		case "losetup":
			return []byte("/dev/loop3\n"), nil
		case "kpartx":
			if args[0] != "-a" {
				return nil, nil
			}
			for _, node := range []string{"loop3p1", "loop3p2", "loop3p3"} {
				if err := tfs.WriteFile("/dev/mapper/"+node, nil, vfs.FilePerm); err != nil {
					return nil, err
				}
			}
			return nil, nil
		case "lsblk":
			switch args[len(args)-1] {
			case "/dev/mapper/loop3p1":
				return []byte(lsblkEfiPart), nil
			case "/dev/" + vgName + "/root":
				return []byte(lsblkRootLV), nil
			}
			return []byte(lsblkLoop3), nil
		case "lvcreate":
			if err := vfs.MkdirAll(tfs, "/dev/"+vgName, vfs.DirPerm); err != nil {
				return nil, err
			}
			return nil, tfs.WriteFile("/dev/"+vgName+"/root", nil, vfs.FilePerm)
		}
		return nil, nil
	}

	BeforeEach(func() {
		var err error
		tfs, cleanup, err = sysmock.TestFS(map[string]any{
			"/dev/mapper/.keep": "",
			"/work/.keep":       "",
		})
		Expect(err).NotTo(HaveOccurred())

		runner = sysmock.NewRunner()
		runner.SideEffect = hostSideEffect
		mounter = sysmock.NewMounter()
		syscall = &sysmock.Syscall{}
		s, err = sys.NewSystem(
			sys.WithRunner(runner),
			sys.WithFS(tfs),
			sys.WithMounter(mounter),
			sys.WithSyscall(syscall),
		)
		Expect(err).NotTo(HaveOccurred())

		ldg = ledger.New()
		builder = diskimage.NewBuilder(context.Background(), s, ldg)
	})

	AfterEach(func() {
		cleanup()
	})

	It("creates a partitioned, formatted and mounted image", func() {
		img, err := builder.Create("/work/draft.img", 5*1024*1024, 2000, vgName, "/work")
		Expect(err).NotTo(HaveOccurred())

		Expect(img.Loop).To(Equal("/dev/loop3"))
		Expect(img.EfiDevice).To(Equal("/dev/mapper/loop3p1"))
		Expect(img.BiosDevice).To(Equal("/dev/mapper/loop3p2"))
		Expect(img.LVMDevice).To(Equal("/dev/mapper/loop3p3"))
		Expect(img.RootDevice).To(Equal("/dev/" + vgName + "/root"))
		Expect(img.RootMount).To(Equal("/work/root"))
		Expect(img.EFIMount).To(Equal("/work/efi"))

		Expect(runner.CmdsMatch([][]string{
			{"sgdisk", "--zap-all", "/work/draft.img"},
			{"sgdisk", "--new=1:0:+2000K", "--typecode=1:ef00", "--new=2:0:+1024K", "--typecode=2:ef02", "--new=3:0:0", "--typecode=3:8e00", "/work/draft.img"},
			{"losetup", "--find", "--show", "/work/draft.img"},
			{"kpartx", "-a", "-s", "/dev/loop3"},
			{"lsblk"},
			{"pvcreate", "-ff", "-y", "/dev/mapper/loop3p3"},
			{"vgcreate", vgName, "/dev/mapper/loop3p3"},
			{"lvcreate", "-y", "-l", "100%FREE", "-n", "root", vgName},
			{"mkfs.ext4", "-q", "-F", "-m", "2", "-L", "ROOT"},
			{"mkfs.vfat", "-n", "DBSTCK_EFI", "/dev/mapper/loop3p1"},
			{"lsblk", "-p", "-b", "-n", "-J"},
			{"lsblk", "-p", "-b", "-n", "-J"},
		})).To(Succeed())

		Expect(mounter.List()).To(HaveLen(2))
		// loop, mappings, volume group, two mountpoint dirs, two mounts
		Expect(ldg.Len()).To(Equal(7))

		ok, err := vfs.Exists(tfs, "/work/draft.img")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("releases resources most recent first and keeps the backing file", func() {
		img, err := builder.Create("/work/draft.img", 5*1024*1024, 2000, vgName, "/work")
		Expect(err).NotTo(HaveOccurred())
		runner.ClearCmds()

		Expect(builder.Release(img)).To(Succeed())
		Expect(runner.CmdsMatch([][]string{
			{"vgchange", "-a", "n", vgName},
			{"kpartx", "-d", "/dev/loop3"},
			{"losetup", "-d", "/dev/loop3"},
		})).To(Succeed())
		Expect(mounter.List()).To(BeEmpty())
		Expect(ldg.Len()).To(BeZero())
		// unmounting flushed caches first
		Expect(syscall.SyncCalls()).To(Equal(4))
		Expect(syscall.Chdirs()).To(ContainElement("/"))

		ok, err := vfs.Exists(tfs, "/work/draft.img")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("is a no-op to release after a broader unwind consumed the handles", func() {
		img, err := builder.Create("/work/draft.img", 5*1024*1024, 2000, vgName, "/work")
		Expect(err).NotTo(HaveOccurred())

		Expect(ldg.UndoAll()).To(Succeed())
		runner.ClearCmds()
		Expect(builder.Release(img)).To(Succeed())
		Expect(runner.Cmds()).To(BeEmpty())
	})

	It("returns the error and removes the backing file when partitioning fails", func() {
		runner.SideEffect = func(command string, args ...string) ([]byte, error) {
			if command == "sgdisk" {
				return []byte("unable to open device"), errors.New("exit status 2")
			}
			return hostSideEffect(command, args...)
		}

		img, err := builder.Create("/work/draft.img", 5*1024*1024, 2000, vgName, "/work")
		Expect(err).To(HaveOccurred())
		Expect(img).To(BeNil())
		Expect(ldg.Len()).To(BeZero())

		ok, err := vfs.Exists(tfs, "/work/draft.img")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("unwinds and removes the backing file when a step fails", func() {
		inner := hostSideEffect
		runner.SideEffect = func(command string, args ...string) ([]byte, error) {
			if command == "vgcreate" {
				return []byte("device excluded by filter"), errors.New("exit status 5")
			}
			return inner(command, args...)
		}

		_, err := builder.Create("/work/draft.img", 5*1024*1024, 2000, vgName, "/work")
		Expect(err).To(HaveOccurred())

		Expect(ldg.Len()).To(BeZero())
		Expect(mounter.List()).To(BeEmpty())
		Expect(runner.IncludesCmds([][]string{
			{"vgcreate"},
			{"kpartx", "-d", "/dev/loop3"},
			{"losetup", "-d", "/dev/loop3"},
		})).To(Succeed())

		ok, err := vfs.Exists(tfs, "/work/draft.img")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("unwinds when a formatted filesystem is not visible on the host", func() {
		inner := hostSideEffect
		runner.SideEffect = func(command string, args ...string) ([]byte, error) {
			if command == "lsblk" && args[len(args)-1] == "/dev/"+vgName+"/root" {
				// mkfs ran but the node still reports no filesystem
				return []byte(`{"blockdevices": [{"size": 1024, "mountpoints": [null], "path": "/dev/` + vgName + `/root", "type": "lvm"}]}`), nil
			}
			return inner(command, args...)
		}

		img, err := builder.Create("/work/draft.img", 5*1024*1024, 2000, vgName, "/work")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(`expected "ext4"`))
		Expect(img).To(BeNil())
		Expect(ldg.Len()).To(BeZero())
	})

	It("fails when the host does not report the expected partitions", func() {
		inner := hostSideEffect
		runner.SideEffect = func(command string, args ...string) ([]byte, error) {
			if command == "lsblk" {
				return []byte(`{"blockdevices": []}`), nil
			}
			return inner(command, args...)
		}

		_, err := builder.Create("/work/draft.img", 5*1024*1024, 2000, vgName, "/work")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("not reported by the host"))
		Expect(ldg.Len()).To(BeZero())
	})
})
