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

// Package chroot executes commands and callbacks inside a directory tree,
// with the pseudo filesystems the tools expect bind-mounted in.
package chroot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alessio/debootstick/pkg/sys"
	"github.com/alessio/debootstick/pkg/sys/vfs"
)

// Chroot represents a directory tree commands can be run in.
type Chroot struct {
	path          string
	defaultMounts []string
	extraMounts   map[string]string
	activeMounts  []string
	env           []string
	s             *sys.System
}

// defaultEnv replaces the host environment for chrooted commands: the
// host's PATH entries may not exist inside the tree, and package tools
// must not block on interactive prompts during an unattended build.
func defaultEnv() []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"DEBIAN_FRONTEND=noninteractive",
		"LC_ALL=C",
	}
}

func NewChroot(s *sys.System, path string) *Chroot {
	return &Chroot{
		path:          path,
		defaultMounts: []string{"/dev", "/dev/pts", "/proc", "/sys"},
		extraMounts:   map[string]string{},
		env:           defaultEnv(),
		s:             s,
	}
}

// SetEnv overrides the environment chrooted commands run with.
func (c *Chroot) SetEnv(env []string) {
	c.env = env
}

// SetExtraMounts sets additional bind mounts (host path to chroot-relative
// target) applied by Prepare after the default ones.
func (c *Chroot) SetExtraMounts(mounts map[string]string) {
	c.extraMounts = mounts
}

// Prepare creates the chroot environment by bind-mounting the default
// pseudo filesystems and any extra mounts.
func (c *Chroot) Prepare() (err error) {
	if len(c.activeMounts) > 0 {
		return errors.New("there are already active mountpoints for this instance")
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	for _, mnt := range c.defaultMounts {
		target := filepath.Join(c.path, mnt)
		if err = vfs.MkdirAll(c.s.FS(), target, vfs.DirPerm); err != nil {
			return err
		}
		if err = c.s.Mounter().Mount(mnt, target, "bind", []string{"bind"}); err != nil {
			return err
		}
		c.activeMounts = append(c.activeMounts, target)
	}

	for source, relTarget := range c.extraMounts {
		target := filepath.Join(c.path, relTarget)
		if err = c.prepareTarget(source, target); err != nil {
			return err
		}
		if err = c.s.Mounter().Mount(source, target, "bind", []string{"bind"}); err != nil {
			return err
		}
		c.activeMounts = append(c.activeMounts, target)
	}
	return nil
}

// bind-mounting a file requires an existing file as mountpoint
func (c *Chroot) prepareTarget(source, target string) error {
	info, err := c.s.FS().Stat(source)
	if err != nil {
		return fmt.Errorf("stating bind source %s: %w", source, err)
	}
	if info.IsDir() {
		return vfs.MkdirAll(c.s.FS(), target, vfs.DirPerm)
	}
	if err := vfs.MkdirAll(c.s.FS(), filepath.Dir(target), vfs.DirPerm); err != nil {
		return err
	}
	if ok, _ := vfs.Exists(c.s.FS(), target); !ok {
		return c.s.FS().WriteFile(target, nil, vfs.FilePerm)
	}
	return nil
}

// Close unmounts every active mountpoint of this instance in reverse order.
func (c *Chroot) Close() error {
	var errs []error
	for i := len(c.activeMounts) - 1; i >= 0; i-- {
		if err := c.s.Mounter().Unmount(c.activeMounts[i]); err != nil {
			errs = append(errs, fmt.Errorf("unmounting %s: %w", c.activeMounts[i], err))
		}
	}
	c.activeMounts = nil
	return errors.Join(errs...)
}

// RunCallback runs the given callback with the process root switched to the
// chroot path. The original root and working directory are restored before
// returning, on every path.
func (c *Chroot) RunCallback(callback func() error) (err error) {
	// keep an open handle on the current root to escape the chroot later
	oldRoot, err := c.s.FS().OpenFile("/", os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("opening host root: %w", err)
	}
	defer oldRoot.Close()

	raw, err := c.s.FS().RawPath(c.path)
	if err != nil {
		return fmt.Errorf("resolving chroot path %s: %w", c.path, err)
	}
	if err = c.s.Syscall().Chroot(raw); err != nil {
		return fmt.Errorf("chrooting into %s: %w", c.path, err)
	}
	defer func() {
		if cErr := oldRoot.Chdir(); cErr != nil && err == nil {
			err = cErr
			return
		}
		if cErr := c.s.Syscall().Chroot("."); cErr != nil && err == nil {
			err = cErr
		}
	}()
	if err = c.s.Syscall().Chdir("/"); err != nil {
		return fmt.Errorf("changing to chroot root: %w", err)
	}

	return callback()
}

// Run executes a command inside the chroot. The environment is prepared and
// torn down around the call unless the caller already did so.
func (c *Chroot) Run(ctx context.Context, command string, args ...string) (out []byte, err error) {
	if len(c.activeMounts) == 0 {
		if err = c.Prepare(); err != nil {
			return nil, fmt.Errorf("preparing chroot environment: %w", err)
		}
		defer func() {
			if cErr := c.Close(); cErr != nil && err == nil {
				err = cErr
			}
		}()
	}
	cbErr := c.RunCallback(func() error {
		var runErr error
		out, runErr = c.s.Runner().RunContextEnv(ctx, c.env, command, args...)
		return runErr
	})
	return out, cbErr
}

// ChrootedCallback runs the given callback in a chroot with the default
// mounts plus the provided bind mounts prepared for the duration of the
// call.
func ChrootedCallback(s *sys.System, path string, bindMounts map[string]string, callback func() error) (err error) {
	c := NewChroot(s, path)
	if bindMounts == nil {
		bindMounts = map[string]string{}
	}
	c.SetExtraMounts(bindMounts)
	if err = c.Prepare(); err != nil {
		return fmt.Errorf("preparing chroot environment: %w", err)
	}
	defer func() {
		if cErr := c.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()
	return c.RunCallback(callback)
}
