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

package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/alessio/debootstick/pkg/sys"
)

// Runner is a command runner mock recording every invocation. A SideEffect
// hook, when set, decides the output and error of each command.
type Runner struct {
	ReturnValue []byte
	ReturnError error
	SideEffect  func(command string, args ...string) ([]byte, error)

	mu   sync.Mutex
	cmds [][]string
	envs [][]string
}

var _ sys.Runner = (*Runner)(nil)

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) Run(command string, args ...string) ([]byte, error) {
	return r.RunContext(context.Background(), command, args...)
}

func (r *Runner) RunContext(ctx context.Context, command string, args ...string) ([]byte, error) {
	return r.RunContextEnv(ctx, nil, command, args...)
}

func (r *Runner) RunContextEnv(ctx context.Context, env []string, command string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cmds = append(r.cmds, append([]string{command}, args...))
	r.envs = append(r.envs, env)
	r.mu.Unlock()
	if r.SideEffect != nil {
		return r.SideEffect(command, args...)
	}
	return r.ReturnValue, r.ReturnError
}

// Cmds returns a copy of all recorded invocations in order.
func (r *Runner) Cmds() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.cmds))
	copy(out, r.cmds)
	return out
}

// LastEnv returns the environment of the most recent invocation, nil when
// nothing ran or the command inherited the host environment.
func (r *Runner) LastEnv() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.envs) == 0 {
		return nil
	}
	return r.envs[len(r.envs)-1]
}

// ClearCmds drops the recorded invocations.
func (r *Runner) ClearCmds() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = nil
	r.envs = nil
}

// CmdsMatch checks that the recorded invocations are exactly the given
// sequence. Each expected command is compared by prefix, so trailing
// arguments may be omitted.
func (r *Runner) CmdsMatch(expected [][]string) error {
	cmds := r.Cmds()
	if len(cmds) != len(expected) {
		return fmt.Errorf("expected %d commands, got %d: %v", len(expected), len(cmds), cmds)
	}
	for i, want := range expected {
		if !matchesPrefix(cmds[i], want) {
			return fmt.Errorf("command %d mismatch: expected prefix %v, got %v", i, want, cmds[i])
		}
	}
	return nil
}

// IncludesCmds checks that the given commands appear, in order, within the
// recorded sequence. Comparison is by prefix.
func (r *Runner) IncludesCmds(expected [][]string) error {
	cmds := r.Cmds()
	i := 0
	for _, got := range cmds {
		if i == len(expected) {
			break
		}
		if matchesPrefix(got, expected[i]) {
			i++
		}
	}
	if i != len(expected) {
		return fmt.Errorf("command %v not found in recorded sequence %v", expected[i], cmds)
	}
	return nil
}

func matchesPrefix(got, want []string) bool {
	if len(got) < len(want) {
		return false
	}
	return slices.Equal(got[:len(want)], want)
}
