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

package bootloader

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/joho/godotenv"

	"github.com/alessio/debootstick/pkg/chroot"
	"github.com/alessio/debootstick/pkg/sys"
	"github.com/alessio/debootstick/pkg/sys/vfs"
)

const (
	// RootLabel is the filesystem label the standalone UEFI loader searches
	// attached storage for.
	RootLabel = "ROOT"

	OsReleasePath = "/etc/os-release"

	standaloneCfgPath = "/tmp/grub-standalone.cfg"
	standaloneOutPath = "/tmp/bootx64.efi"
	defaultsCfgPath   = "/etc/default/grub.d/90-debootstick.cfg"
	espLoaderDir      = "EFI/BOOT"
	espLoaderName     = "BOOTX64.EFI"
)

//go:embed grubtemplates/grub_standalone.cfg
var grubStandaloneCfg string

//go:embed grubtemplates/grub_defaults.cfg
var grubDefaultsCfg string

type Grub struct {
	s *sys.System
}

type Option func(*Grub)

func NewGrub(s *sys.System, opts ...Option) *Grub {
	g := &Grub{s}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Bootloader = (*Grub)(nil)

// BuildStandaloneEfi builds a self-contained UEFI loader inside the given
// root tree (the grub tooling lives there, not on the host) and copies it
// out to the output path. The embedded config makes the loader search
// attached storage for the filesystem labeled ROOT and chain into that
// filesystem's own grub configuration, so the UEFI boot path stays a thin
// shim over the single maintained bootloader installation.
func (g *Grub) BuildStandaloneEfi(ctx context.Context, rootPath, output string) error {
	g.s.Logger().Info("Building standalone UEFI loader")

	cfg, err := renderTemplate("grub-standalone", grubStandaloneCfg, map[string]string{"Label": RootLabel})
	if err != nil {
		return fmt.Errorf("rendering standalone grub config: %w", err)
	}
	cfgPath := filepath.Join(rootPath, standaloneCfgPath)
	if err = g.s.FS().WriteFile(cfgPath, cfg, vfs.FilePerm); err != nil {
		return fmt.Errorf("writing standalone grub config: %w", err)
	}
	defer func() { _ = g.s.FS().Remove(cfgPath) }()

	c := chroot.NewChroot(g.s, rootPath)
	out, err := c.Run(ctx, "grub-mkstandalone",
		"--format", "x86_64-efi",
		"--output", standaloneOutPath,
		fmt.Sprintf("boot/grub/grub.cfg=%s", standaloneCfgPath),
	)
	if err != nil {
		return fmt.Errorf("grub-mkstandalone failed: %w: %s", err, bytes.TrimSpace(out))
	}
	stub := filepath.Join(rootPath, standaloneOutPath)
	defer func() { _ = g.s.FS().Remove(stub) }()

	if err = vfs.CopyFile(g.s.FS(), stub, output); err != nil {
		return fmt.Errorf("copying UEFI loader to %s: %w", output, err)
	}
	return nil
}

// InstallConfig writes the grub defaults consumed by grub-mkconfig on the
// next InstallBios call and on in-place kernel upgrades after deployment.
func (g *Grub) InstallConfig(rootPath, kernelCmdline string, serialConsole bool) error {
	data := struct {
		DisplayName   string
		CmdLine       string
		SerialConsole bool
	}{
		DisplayName:   g.displayName(rootPath),
		CmdLine:       kernelCmdline,
		SerialConsole: serialConsole,
	}
	cfg, err := renderTemplate("grub-defaults", grubDefaultsCfg, data)
	if err != nil {
		return fmt.Errorf("rendering grub defaults: %w", err)
	}
	target := filepath.Join(rootPath, defaultsCfgPath)
	if err = vfs.MkdirAll(g.s.FS(), filepath.Dir(target), vfs.DirPerm); err != nil {
		return err
	}
	if err = g.s.FS().WriteFile(target, cfg, vfs.FilePerm); err != nil {
		return fmt.Errorf("writing grub defaults: %w", err)
	}
	return nil
}

// InstallBios runs the BIOS bootloader installation chrooted in the image
// root, targeting the image's disk device, and regenerates the grub
// configuration the standalone UEFI loader chains into.
func (g *Grub) InstallBios(ctx context.Context, rootPath, device string) error {
	g.s.Logger().Info("Installing BIOS bootloader on %s", device)

	c := chroot.NewChroot(g.s, rootPath)
	if err := c.Prepare(); err != nil {
		return fmt.Errorf("preparing chroot environment: %w", err)
	}
	defer func() { _ = c.Close() }()

	out, err := c.Run(ctx, "grub-install",
		"--target=i386-pc",
		"--modules=part_gpt lvm ext2 biosdisk",
		device,
	)
	if err != nil {
		return fmt.Errorf("grub-install failed: %w: %s", err, bytes.TrimSpace(out))
	}

	out, err = c.Run(ctx, "grub-mkconfig", "-o", "/boot/grub/grub.cfg")
	if err != nil {
		return fmt.Errorf("grub-mkconfig failed: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// PopulateESP places the standalone loader at the removable-media default
// path of the EFI system partition.
func (g *Grub) PopulateESP(espDir, stubPath string) error {
	target := filepath.Join(espDir, espLoaderDir, espLoaderName)
	if err := vfs.MkdirAll(g.s.FS(), filepath.Dir(target), vfs.DirPerm); err != nil {
		return err
	}
	if err := vfs.CopyFile(g.s.FS(), stubPath, target); err != nil {
		return fmt.Errorf("populating EFI partition: %w", err)
	}
	return nil
}

// displayName resolves the menu display name from the image's os-release.
func (g *Grub) displayName(rootPath string) string {
	const fallback = "Linux"
	data, err := g.s.FS().ReadFile(filepath.Join(rootPath, OsReleasePath))
	if err != nil {
		return fallback
	}
	vars, err := godotenv.UnmarshalBytes(data)
	if err != nil {
		return fallback
	}
	if name := vars["PRETTY_NAME"]; name != "" {
		return name
	}
	if name := vars["NAME"]; name != "" {
		return name
	}
	return fallback
}

func renderTemplate(name, text string, data any) ([]byte, error) {
	tpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
