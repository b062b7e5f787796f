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

type MountPoint struct {
	Source  string
	Target  string
	FSType  string
	Options []string
}

// Mounter records mount and unmount calls without touching the host.
type Mounter struct {
	ErrorOnMount   bool
	ErrorOnUnmount bool

	mu     sync.Mutex
	mounts []MountPoint
}

var _ sys.Mounter = (*Mounter)(nil)

func NewMounter() *Mounter {
	return &Mounter{}
}

func (m *Mounter) Mount(source string, target string, fstype string, options []string) error {
	if m.ErrorOnMount {
		return fmt.Errorf("mount error")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounts = append(m.mounts, MountPoint{source, target, fstype, options})
	return nil
}

func (m *Mounter) Unmount(target string) error {
	if m.ErrorOnUnmount {
		return fmt.Errorf("unmount error")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.mounts) - 1; i >= 0; i-- {
		if m.mounts[i].Target == target {
			m.mounts = append(m.mounts[:i], m.mounts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("not mounted: %s", target)
}

func (m *Mounter) IsMountPoint(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mnt := range m.mounts {
		if mnt.Target == path {
			return true, nil
		}
	}
	return false, nil
}

// List returns the currently active mock mounts.
func (m *Mounter) List() []MountPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MountPoint, len(m.mounts))
	copy(out, m.mounts)
	return out
}
