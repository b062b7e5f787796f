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

import "syscall"

// Syscall abstracts the raw kernel calls used during chrooted execution and
// during unmount preparation (working directory switch and cache flush).
type Syscall interface {
	Chroot(path string) error
	Chdir(path string) error
	Sync()
}

type realSyscall struct{}

var _ Syscall = (*realSyscall)(nil)

func (r realSyscall) Chroot(path string) error {
	return syscall.Chroot(path)
}

func (r realSyscall) Chdir(path string) error {
	return syscall.Chdir(path)
}

func (r realSyscall) Sync() {
	syscall.Sync()
}
