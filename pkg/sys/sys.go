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
	vfs4 "github.com/twpayne/go-vfs/v4"

	"github.com/alessio/debootstick/pkg/log"
	"github.com/alessio/debootstick/pkg/sys/vfs"
)

// System aggregates the host facilities every side-effecting component
// depends on: external command execution, filesystem access, mounting,
// raw syscalls and logging. Tests substitute mocks for each of them.
type System struct {
	logger  log.Logger
	fs      vfs.FS
	runner  Runner
	mounter Mounter
	syscall Syscall
}

type Option func(*System)

func WithLogger(logger log.Logger) Option {
	return func(s *System) {
		s.logger = logger
	}
}

func WithFS(fs vfs.FS) Option {
	return func(s *System) {
		s.fs = fs
	}
}

func WithRunner(runner Runner) Option {
	return func(s *System) {
		s.runner = runner
	}
}

func WithMounter(mounter Mounter) Option {
	return func(s *System) {
		s.mounter = mounter
	}
}

func WithSyscall(syscall Syscall) Option {
	return func(s *System) {
		s.syscall = syscall
	}
}

func NewSystem(opts ...Option) (*System, error) {
	s := &System{}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = log.New()
	}
	if s.fs == nil {
		s.fs = vfs4.OSFS
	}
	if s.syscall == nil {
		s.syscall = &realSyscall{}
	}
	if s.runner == nil {
		s.runner = &realRunner{logger: s.logger}
	}
	if s.mounter == nil {
		s.mounter = NewMounter("/usr/bin/mount")
	}
	return s, nil
}

func (s System) Logger() log.Logger {
	return s.logger
}

func (s System) FS() vfs.FS {
	return s.fs
}

func (s System) Runner() Runner {
	return s.runner
}

func (s System) Mounter() Mounter {
	return s.mounter
}

func (s System) Syscall() Syscall {
	return s.syscall
}
