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
	"fmt"
	"sync"

	"github.com/alessio/debootstick/pkg/sys"
)

// Syscall records chroot, chdir and sync calls without performing them.
type Syscall struct {
	ErrorOnChroot bool

	mu        sync.Mutex
	chroots   []string
	chdirs    []string
	syncCalls int
}

var _ sys.Syscall = (*Syscall)(nil)

func (s *Syscall) Chroot(path string) error {
	if s.ErrorOnChroot {
		return fmt.Errorf("chroot error")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chroots = append(s.chroots, path)
	return nil
}

func (s *Syscall) Chdir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chdirs = append(s.chdirs, path)
	return nil
}

func (s *Syscall) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncCalls++
}

func (s *Syscall) Chroots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.chroots))
	copy(out, s.chroots)
	return out
}

func (s *Syscall) Chdirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.chdirs))
	copy(out, s.chdirs)
	return out
}

func (s *Syscall) SyncCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncCalls
}
