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

package sys

import (
	"context"
	"os/exec"
	"strings"

	"github.com/alessio/debootstick/pkg/log"
)

// Runner executes external commands. All image construction steps go through
// it so tests can intercept every tool invocation.
type Runner interface {
	Run(command string, args ...string) ([]byte, error)
	RunContext(ctx context.Context, command string, args ...string) ([]byte, error)
	RunContextEnv(ctx context.Context, env []string, command string, args ...string) ([]byte, error)
}

type realRunner struct {
	logger log.Logger
}

var _ Runner = (*realRunner)(nil)

func (r realRunner) Run(command string, args ...string) ([]byte, error) {
	return r.RunContext(context.Background(), command, args...)
}

func (r realRunner) RunContext(ctx context.Context, command string, args ...string) ([]byte, error) {
	return r.RunContextEnv(ctx, nil, command, args...)
}

func (r realRunner) RunContextEnv(ctx context.Context, env []string, command string, args ...string) ([]byte, error) {
	if r.logger != nil {
		r.logger.Debug("running command: %s %s", command, strings.Join(args, " "))
	}
	cmd := exec.CommandContext(ctx, command, args...)
	if len(env) > 0 {
		cmd.Env = env
	}
	out, err := cmd.CombinedOutput()
	if err != nil && r.logger != nil {
		r.logger.Debug("command %s failed: %s", command, strings.TrimSpace(string(out)))
	}
	return out, err
}
