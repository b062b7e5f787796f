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

	"github.com/alessio/debootstick/pkg/log"
	"github.com/alessio/debootstick/pkg/sys"
)

// Usage is the one-line application description.
const Usage = "Turn a chroot-like filesystem tree into a bootable disk image"

// version is set at link time.
var version = "v0.1.0-dev"

func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug output",
		},
	}
}

// Setup builds the system facade every action works through and stores it
// in the application metadata.
func Setup(ctx *cli.Context) error {
	logger := log.New()
	if ctx.Bool("debug") {
		logger.SetDebugLevel()
	}
	s, err := sys.NewSystem(sys.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("setting up the system facade: %w", err)
	}
	if ctx.App.Metadata == nil {
		ctx.App.Metadata = map[string]any{}
	}
	ctx.App.Metadata["system"] = s
	return nil
}

func Teardown(*cli.Context) error {
	return nil
}

// System retrieves the shared system facade placed by Setup.
func System(ctx *cli.Context) (*sys.System, error) {
	if ctx.App.Metadata == nil || ctx.App.Metadata["system"] == nil {
		return nil, fmt.Errorf("error setting up initial configuration")
	}
	return ctx.App.Metadata["system"].(*sys.System), nil
}

func NewVersionCommand(appName string) *cli.Command {
	return &cli.Command{
		Name:      "version",
		Usage:     "Print the version and exit",
		UsageText: fmt.Sprintf("%s version", appName),
		Action: func(ctx *cli.Context) error {
			fmt.Fprintln(ctx.App.Writer, version)
			return nil
		},
	}
}
