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

package action

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/alessio/debootstick/internal/build"
	"github.com/alessio/debootstick/internal/cli/cmd"
	"github.com/alessio/debootstick/pkg/sizing"
)

// rootPasswordHashEnv carries the pre-hashed credential for the
// --root-password-ask policy; prompt handling is the caller's concern.
const rootPasswordHashEnv = "DEBOOTSTICK_ROOT_PASSWORD_HASH"

// Build runs the image construction pipeline. An interrupt cancels the run
// context, lets the ledger unwind, then re-raises the signal to the process
// group with default disposition so the exit status reflects the signal.
func Build(ctx *cli.Context) error {
	s, err := cmd.System(ctx)
	if err != nil {
		return err
	}
	args := &cmd.BuildArgs

	if ctx.NArg() != 2 {
		return fmt.Errorf("expected a source tree and an output path, got %d arguments", ctx.NArg())
	}
	opts := build.Options{
		SourceTree:    ctx.Args().Get(0),
		OutputPath:    ctx.Args().Get(1),
		KernelCmdline: args.KernelCmdline,
		SerialConsole: args.SerialConsole,
		ChrootCmds:    args.ChrootCmds.Value(),
		KeepDraft:     args.KeepDraft,
	}
	if opts.RootPassword, err = rootPasswordPolicy(args); err != nil {
		return err
	}
	if opts.RootPassword == build.RootPasswordAsk {
		opts.RootPasswordHash = os.Getenv(rootPasswordHashEnv)
		if opts.RootPasswordHash == "" {
			return fmt.Errorf("--root-password-ask requires %s to be set", rootPasswordHashEnv)
		}
	}
	if args.EfiSize != "" {
		if opts.EfiSize, err = sizing.ParseSize(args.EfiSize); err != nil {
			return fmt.Errorf("invalid --efi-size value %q: %w", args.EfiSize, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	pipeline, err := build.New(runCtx, s, opts)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	interrupted := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if sig, ok := <-sigCh; ok {
			s.Logger().Warn("Received %s, aborting the build", sig)
			interrupted <- sig
			cancel()
		}
	}()

	err = pipeline.Run()
	signal.Stop(sigCh)

	select {
	case sig := <-interrupted:
		s.Logger().Error("Build interrupted during phase %s, host state restored", pipeline.Phase())
		signal.Reset(sig)
		_ = syscall.Kill(0, sig.(syscall.Signal))
		return fmt.Errorf("interrupted")
	default:
	}
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return nil
}

// rootPasswordPolicy maps the mutually exclusive credential flags onto a
// policy. No flag keeps whatever the source tree already has.
func rootPasswordPolicy(args *cmd.BuildFlags) (string, error) {
	set := 0
	policy := ""
	if args.RootPasswordAsk {
		set++
		policy = build.RootPasswordAsk
	}
	if args.RootPasswordNone {
		set++
		policy = build.RootPasswordNone
	}
	if args.RootPasswordFirstBoot {
		set++
		policy = build.RootPasswordFirstBoot
	}
	if set > 1 {
		return "", fmt.Errorf("at most one root password policy flag may be given")
	}
	return policy, nil
}
