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

// Package build orchestrates the two-phase image construction: an oversized
// draft image hosts the customization work, its resulting content is
// measured, and a minimally sized final image is built by replaying that
// content. Every side-effecting step goes through a ledger so a failure or
// interrupt at any phase unwinds the host completely.
package build

import (
	"context"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	"github.com/alessio/debootstick/pkg/bootloader"
	"github.com/alessio/debootstick/pkg/chroot"
	"github.com/alessio/debootstick/pkg/diskimage"
	"github.com/alessio/debootstick/pkg/ledger"
	"github.com/alessio/debootstick/pkg/rsync"
	"github.com/alessio/debootstick/pkg/sizing"
	"github.com/alessio/debootstick/pkg/sys"
	"github.com/alessio/debootstick/pkg/sys/vfs"
)

// Root credential policies applied to the produced image.
const (
	RootPasswordAsk       = "ask"
	RootPasswordNone      = "none"
	RootPasswordFirstBoot = "first-boot"
)

const (
	vgPrefix   = "DBSTCK_"
	configDir  = "etc/debootstick"
	configFile = "config.yaml"
	initPath   = "sbin/init"
)

//go:embed firstboot/init.sh
var firstBootShim string

// transientGlobs name the draft content stripped before measurement, it is
// runtime state that would only waste space in the minimized final image.
var transientGlobs = []string{
	"tmp/*",
	"var/tmp/*",
	"run/*",
	"var/run/*",
	"var/cache/apt/archives/*.deb",
	"var/cache/apt/archives/partial/*",
	"var/lib/apt/lists/*",
	"var/crash/*",
}

// Options configure a pipeline run.
type Options struct {
	// SourceTree is the chroot-like directory tree to build the image from.
	SourceTree string
	// OutputPath is where the final image file is written.
	OutputPath string

	KernelCmdline string
	SerialConsole bool

	// RootPassword is one of the RootPassword* policies.
	RootPassword string
	// RootPasswordHash is the pre-hashed credential applied when the policy
	// is RootPasswordAsk. Gathering it is the caller's concern.
	RootPasswordHash string

	// ChrootCmds are customization commands run inside the draft root, each
	// through the shell, in order.
	ChrootCmds []string

	// EfiSize overrides the EFI partition size derived from the built UEFI
	// loader. Zero means derive.
	EfiSize sizing.KiB

	// Bootloader selects the bootloader implementation, grub by default.
	Bootloader string

	// KeepDraft skips releasing and deleting the draft image, for debugging.
	KeepDraft bool
}

// imageConfig is the configuration artifact persisted inside the root
// filesystem. The first-boot shim reads it to discover the storage layout
// after the image has been copied to arbitrary physical media.
type imageConfig struct {
	VolumeGroup        string `yaml:"volume_group"`
	RootPasswordPolicy string `yaml:"root_password_policy"`
	KernelCmdline      string `yaml:"kernel_cmdline,omitempty"`
}

// Pipeline is the linear build state machine.
type Pipeline struct {
	ctx     context.Context
	s       *sys.System
	opts    Options
	ledger  *ledger.Ledger
	builder *diskimage.Builder
	boot    bootloader.Bootloader

	phase    Phase
	token    string
	workDir  string
	stubPath string

	efiSize    sizing.KiB
	draftTotal sizing.KiB
	draftLVM   sizing.KiB
	finalTotal sizing.KiB

	draft *diskimage.Image
	final *diskimage.Image
}

// New validates the options and assembles a pipeline around a fresh ledger.
func New(ctx context.Context, s *sys.System, opts Options) (*Pipeline, error) {
	if ok, err := vfs.IsDir(s.FS(), opts.SourceTree); err != nil || !ok {
		return nil, fmt.Errorf("source tree %s is not a directory", opts.SourceTree)
	}
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("no output path given")
	}
	switch opts.RootPassword {
	case "", RootPasswordAsk, RootPasswordNone, RootPasswordFirstBoot:
	default:
		return nil, fmt.Errorf("unknown root password policy %q", opts.RootPassword)
	}
	if opts.Bootloader == "" {
		opts.Bootloader = bootloader.BootGrub
	}
	boot, err := bootloader.New(opts.Bootloader, s)
	if err != nil {
		return nil, err
	}

	l := ledger.New()
	return &Pipeline{
		ctx:     ctx,
		s:       s,
		opts:    opts,
		ledger:  l,
		builder: diskimage.NewBuilder(ctx, s, l),
		boot:    boot,
		token:   strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}, nil
}

// Ledger exposes the run's ledger, the interrupt handler drains it through
// the same path as a failing phase.
func (p *Pipeline) Ledger() *ledger.Ledger {
	return p.ledger
}

// Phase returns the most recently completed phase.
func (p *Pipeline) Phase() Phase {
	return p.phase
}

// WorkDir returns the run's scratch directory, empty until Run starts.
func (p *Pipeline) WorkDir() string {
	return p.workDir
}

func (p *Pipeline) draftVG() string { return vgPrefix + p.token + "_DRAFT" }
func (p *Pipeline) finalVG() string { return vgPrefix + p.token }

// Run drives the pipeline to completion. Whatever the outcome, the ledger
// is fully unwound exactly once before returning; on failure the partial
// output file is removed so callers never observe a corrupt artifact.
func (p *Pipeline) Run() (err error) {
	defer func() {
		err = p.finish(err)
	}()

	_, err = p.ledger.Record("work directory",
		func() error {
			var tErr error
			p.workDir, tErr = vfs.TempDir(p.s.FS(), "", "debootstick")
			return tErr
		},
		func() error {
			if p.opts.KeepDraft {
				p.s.Logger().Info("Keeping work directory at %s", p.workDir)
				return nil
			}
			return p.s.FS().RemoveAll(p.workDir)
		})
	if err != nil {
		return err
	}

	steps := []struct {
		phase Phase
		run   func() error
	}{
		{UEFIBinaryBuilt, p.buildUEFIBinary},
		{DraftSized, p.sizeDraft},
		{DraftCreated, p.createDraft},
		{TreeCopied, p.copyTree},
		{Customized, p.customize},
		{Finalized, p.finalize},
		{FinalSized, p.sizeFinal},
		{FinalCreated, p.createFinal},
		{ContentCopied, p.copyContent},
		{DraftReleased, p.releaseDraft},
		{BootloaderInstalled, p.installBootloader},
		{EFIPopulated, p.populateESP},
		{Done, p.releaseFinal},
	}
	for _, step := range steps {
		if err = p.ctx.Err(); err != nil {
			return err
		}
		if err = step.run(); err != nil {
			return fmt.Errorf("phase %s: %w", step.phase, err)
		}
		p.phase = step.phase
		p.s.Logger().Debug("completed phase %s", step.phase)
	}
	p.s.Logger().Info("Image ready at %s", p.opts.OutputPath)
	return nil
}

// finish unwinds the ledger exactly once and, on failure, removes the
// partial output so no truncated image survives the run.
func (p *Pipeline) finish(err error) error {
	cleanupErr := p.ledger.UndoAll()
	if cleanupErr != nil {
		p.s.Logger().Warn("cleanup left residues: %v", cleanupErr)
	}
	if err == nil {
		return cleanupErr
	}
	if p.phase < Done {
		if ok, _ := vfs.Exists(p.s.FS(), p.opts.OutputPath); ok {
			if rmErr := p.s.FS().Remove(p.opts.OutputPath); rmErr != nil {
				p.s.Logger().Warn("could not remove partial output %s: %v", p.opts.OutputPath, rmErr)
			} else {
				p.s.Logger().Info("Removed partial output %s", p.opts.OutputPath)
			}
		}
	}
	return err
}

// buildUEFIBinary builds the standalone UEFI loader up front: its measured
// size feeds the EFI partition estimate for both images.
func (p *Pipeline) buildUEFIBinary() error {
	p.stubPath = filepath.Join(p.workDir, "bootx64.efi")
	if err := p.boot.BuildStandaloneEfi(p.ctx, p.opts.SourceTree, p.stubPath); err != nil {
		return err
	}
	if p.opts.EfiSize > 0 {
		p.efiSize = p.opts.EfiSize
		return nil
	}
	info, err := p.s.FS().Stat(p.stubPath)
	if err != nil {
		return fmt.Errorf("measuring UEFI loader: %w", err)
	}
	p.efiSize = sizing.EfiCapacity(sizing.KiB((info.Size() + 1023) / 1024))
	return nil
}

func (p *Pipeline) sizeDraft() error {
	tree, err := vfs.DirSizeKiB(p.s.FS(), p.opts.SourceTree)
	if err != nil {
		return fmt.Errorf("measuring source tree: %w", err)
	}
	p.draftTotal = sizing.DraftCapacity(p.efiSize, sizing.KiB(tree))
	p.draftLVM = sizing.LVMPartitionCapacity(p.draftTotal, p.efiSize)
	p.s.Logger().Info("Draft image: %s total, %s LVM partition", p.draftTotal, p.draftLVM)
	return nil
}

func (p *Pipeline) createDraft() error {
	img, err := p.builder.Create(
		filepath.Join(p.workDir, "draft.img"),
		p.draftTotal, p.efiSize, p.draftVG(),
		filepath.Join(p.workDir, "draft"),
	)
	if err != nil {
		return err
	}
	p.draft = img
	return nil
}

func (p *Pipeline) copyTree() error {
	r := rsync.NewRsync(p.s, rsync.WithContext(p.ctx))
	return r.SyncData(p.opts.SourceTree, p.draft.RootMount)
}

// customize runs the configured commands chrooted in the draft root. The
// chroot environment, including the host's name-resolution configuration
// bound in so package managers can reach the network, is a scoped ledger
// entry released right after the step regardless of outcome. Failures are
// fatal, a half-customized tree must not reach the final image.
func (p *Pipeline) customize() error {
	c := chroot.NewChroot(p.s, p.draft.RootMount)
	c.SetExtraMounts(map[string]string{"/etc/resolv.conf": "/etc/resolv.conf"})
	return p.ledger.Scoped("customization chroot of "+p.draft.RootMount,
		c.Prepare, c.Close,
		func() error {
			for _, cmd := range p.opts.ChrootCmds {
				p.s.Logger().Info("Running customization command: %s", cmd)
				out, err := c.Run(p.ctx, "sh", "-c", cmd)
				if err != nil {
					return fmt.Errorf("customization command %q: %w: %s", cmd, err, strings.TrimSpace(string(out)))
				}
			}
			return p.applyRootPassword(c)
		})
}

func (p *Pipeline) applyRootPassword(c *chroot.Chroot) error {
	switch p.opts.RootPassword {
	case RootPasswordNone:
		out, err := c.Run(p.ctx, "passwd", "-dq", "root")
		if err != nil {
			return fmt.Errorf("clearing root password: %w: %s", err, strings.TrimSpace(string(out)))
		}
	case RootPasswordAsk:
		if p.opts.RootPasswordHash == "" {
			return nil
		}
		out, err := c.Run(p.ctx, "sh", "-c",
			fmt.Sprintf("echo 'root:%s' | chpasswd -e", p.opts.RootPasswordHash))
		if err != nil {
			return fmt.Errorf("setting root password: %w: %s", err, strings.TrimSpace(string(out)))
		}
	}
	// first-boot policy is recorded in the image config and handled by the
	// init shim on the target machine
	return nil
}

// finalize strips transient runtime state from the draft, installs the
// first-boot init shim, writes the persisted image configuration and the
// bootloader defaults. Everything written here is replayed into the final
// image.
func (p *Pipeline) finalize() error {
	root := p.draft.RootMount
	if err := vfs.RemoveGlob(p.s.FS(), root, transientGlobs...); err != nil {
		return fmt.Errorf("stripping transient files: %w", err)
	}
	if err := p.installFirstBootShim(root); err != nil {
		return err
	}
	if err := p.writeImageConfig(root); err != nil {
		return err
	}
	return p.boot.InstallConfig(root, p.opts.KernelCmdline, p.opts.SerialConsole)
}

// installFirstBootShim moves the original init entry point aside and puts
// the shim in its place. The shim restores the original on first boot after
// completing the fixups that need the real target media.
func (p *Pipeline) installFirstBootShim(root string) error {
	init := filepath.Join(root, initPath)
	if ok, _ := vfs.Exists(p.s.FS(), init); !ok {
		return fmt.Errorf("no %s in the customized tree", initPath)
	}
	if err := p.s.FS().Rename(init, init+".orig"); err != nil {
		return fmt.Errorf("moving original init aside: %w", err)
	}
	if err := p.s.FS().WriteFile(init, []byte(firstBootShim), 0o755); err != nil {
		return fmt.Errorf("installing first-boot shim: %w", err)
	}
	return p.s.FS().Chmod(init, 0o755)
}

func (p *Pipeline) writeImageConfig(root string) error {
	cfg := imageConfig{
		// the replayed content ends up in the final image, so the final
		// volume-group name is the one recorded
		VolumeGroup:        p.finalVG(),
		RootPasswordPolicy: p.opts.RootPassword,
		KernelCmdline:      p.opts.KernelCmdline,
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encoding image configuration: %w", err)
	}
	dir := filepath.Join(root, configDir)
	if err := vfs.MkdirAll(p.s.FS(), dir, vfs.DirPerm); err != nil {
		return err
	}
	return p.s.FS().WriteFile(filepath.Join(dir, configFile), data, vfs.FilePerm)
}

func (p *Pipeline) sizeFinal() error {
	measured, err := vfs.DirSizeKiB(p.s.FS(), p.draft.RootMount)
	if err != nil {
		return fmt.Errorf("measuring draft content: %w", err)
	}
	finalLVM := sizing.FinalLVMCapacity(sizing.KiB(measured))
	p.finalTotal = sizing.FinalCapacity(finalLVM, p.draftTotal, p.draftLVM)
	p.s.Logger().Info("Final image: %s total for %dK of content", p.finalTotal, measured)
	return nil
}

func (p *Pipeline) createFinal() error {
	img, err := p.builder.Create(
		p.opts.OutputPath,
		p.finalTotal, p.efiSize, p.finalVG(),
		filepath.Join(p.workDir, "final"),
	)
	if err != nil {
		return err
	}
	p.final = img
	return nil
}

func (p *Pipeline) copyContent() error {
	r := rsync.NewRsync(p.s, rsync.WithContext(p.ctx))
	return r.SyncData(p.draft.RootMount, p.final.RootMount)
}

// releaseDraft frees the draft's mounts, mappings and loop device and
// discards its large backing file before the bootloader work starts.
func (p *Pipeline) releaseDraft() error {
	if p.opts.KeepDraft {
		p.s.Logger().Info("Keeping draft image at %s", p.draft.Path)
		return nil
	}
	if err := p.builder.Release(p.draft); err != nil {
		return err
	}
	return p.s.FS().Remove(p.draft.Path)
}

// installBootloader runs the BIOS bootloader installation chrooted in the
// final root. A tmpfs is scoped over the chroot's /tmp for the duration so
// the install scratch space does not consume blocks in the deliberately
// minimized filesystem.
func (p *Pipeline) installBootloader() error {
	tmp := filepath.Join(p.final.RootMount, "tmp")
	return p.ledger.Scoped("tmpfs on "+tmp,
		func() error {
			if err := vfs.MkdirAll(p.s.FS(), tmp, vfs.DirPerm); err != nil {
				return err
			}
			return p.s.Mounter().Mount("tmpfs", tmp, "tmpfs", nil)
		},
		func() error {
			return p.s.Mounter().Unmount(tmp)
		},
		func() error {
			return p.boot.InstallBios(p.ctx, p.final.RootMount, p.final.Loop)
		})
}

func (p *Pipeline) populateESP() error {
	return p.boot.PopulateESP(p.final.EFIMount, p.stubPath)
}

func (p *Pipeline) releaseFinal() error {
	return p.builder.Release(p.final)
}
