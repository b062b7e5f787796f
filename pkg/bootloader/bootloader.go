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
	"context"
	"errors"
	"fmt"

	"github.com/alessio/debootstick/pkg/sys"
)

// Bootloader covers both boot paths of the produced image: a BIOS install
// into the image's boot sectors and a standalone UEFI loader dropped on the
// EFI system partition. Both chain into the single grub installation kept
// inside the root filesystem.
type Bootloader interface {
	BuildStandaloneEfi(ctx context.Context, rootPath, output string) error
	InstallConfig(rootPath, kernelCmdline string, serialConsole bool) error
	InstallBios(ctx context.Context, rootPath, device string) error
	PopulateESP(espDir, stubPath string) error
}

const (
	BootNone = "none"
	BootGrub = "grub"
)

func New(name string, s *sys.System) (Bootloader, error) {
	switch name {
	case BootGrub:
		return NewGrub(s), nil
	case BootNone:
		return NewNone(s), nil
	default:
		return nil, fmt.Errorf("unknown bootloader %s: %w", name, errors.ErrUnsupported)
	}
}

type None struct {
	s *sys.System
}

func NewNone(s *sys.System) *None {
	return &None{s}
}

func (n *None) BuildStandaloneEfi(_ context.Context, _, _ string) error {
	n.s.Logger().Info("Skipping UEFI loader build")
	return nil
}

func (n *None) InstallConfig(_, _ string, _ bool) error {
	n.s.Logger().Info("Skipping bootloader configuration")
	return nil
}

func (n *None) InstallBios(_ context.Context, _, _ string) error {
	n.s.Logger().Info("Skipping BIOS bootloader installation")
	return nil
}

func (n *None) PopulateESP(_, _ string) error {
	n.s.Logger().Info("Skipping EFI partition population")
	return nil
}
