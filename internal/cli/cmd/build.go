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

package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// BuildFlags contains the flags for the build command.
type BuildFlags struct {
	RootPasswordAsk       bool
	RootPasswordNone      bool
	RootPasswordFirstBoot bool
	SerialConsole         bool
	KernelCmdline         string
	EfiSize               string
	ChrootCmds            cli.StringSlice
	KeepDraft             bool
}

// BuildArgs holds the parsed build command flags.
var BuildArgs BuildFlags

// NewBuildCommand creates the build command.
func NewBuildCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Build a bootable BIOS+UEFI disk image from a filesystem tree",
		UsageText: fmt.Sprintf("%s build [OPTIONS] TREE_DIR OUTPUT_IMAGE", appName),
		Action:    action,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "root-password-ask",
				Usage:       "Set the root password now (read from the DEBOOTSTICK_ROOT_PASSWORD_HASH environment variable, pre-hashed)",
				Destination: &BuildArgs.RootPasswordAsk,
			},
			&cli.BoolFlag{
				Name:        "root-password-none",
				Usage:       "Remove the root password (passwordless login)",
				Destination: &BuildArgs.RootPasswordNone,
			},
			&cli.BoolFlag{
				Name:        "root-password-first-boot",
				Usage:       "Ask for the root password on the image's first boot",
				Destination: &BuildArgs.RootPasswordFirstBoot,
			},
			&cli.BoolFlag{
				Name:        "serial-console",
				Usage:       "Configure the bootloader and kernel for a serial console",
				Destination: &BuildArgs.SerialConsole,
			},
			&cli.StringFlag{
				Name:        "kernel-cmdline",
				Usage:       "Extra kernel command line parameters",
				Destination: &BuildArgs.KernelCmdline,
			},
			&cli.StringFlag{
				Name:        "efi-size",
				Usage:       "Override the EFI partition size (e.g. 64M), derived from the UEFI loader by default",
				Destination: &BuildArgs.EfiSize,
			},
			&cli.StringSliceFlag{
				Name:        "chroot-cmd",
				Usage:       "Customization command run inside the draft image, repeatable",
				Destination: &BuildArgs.ChrootCmds,
			},
			&cli.BoolFlag{
				Name:        "keep-draft",
				Usage:       "Keep the draft image and work directory for debugging",
				Destination: &BuildArgs.KeepDraft,
			},
		},
	}
}
