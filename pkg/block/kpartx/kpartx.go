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

// Package kpartx activates device-mapper mappings for the partitions of a
// loop device and waits for the kernel to materialize the device nodes.
package kpartx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alessio/debootstick/pkg/sys"
)

// ErrDeviceWaitTimeout is returned when a mapped partition device node does
// not appear within the wait budget.
var ErrDeviceWaitTimeout = errors.New("timed out waiting for mapped device node")

const (
	defaultWaitAttempts = 50
	defaultWaitInterval = 100 * time.Millisecond
)

// MapPartitions activates partition mappings for the given loop device.
func MapPartitions(ctx context.Context, s *sys.System, loopDevice string) error {
	_, err := s.Runner().RunContext(ctx, "kpartx", "-a", "-s", loopDevice)
	if err != nil {
		return fmt.Errorf("mapping partitions of %s: %w", loopDevice, err)
	}
	return nil
}

// Unmap removes the partition mappings of the given loop device.
func Unmap(s *sys.System, loopDevice string) error {
	_, err := s.Runner().Run("kpartx", "-d", loopDevice)
	if err != nil {
		return fmt.Errorf("unmapping partitions of %s: %w", loopDevice, err)
	}
	return nil
}

// MappedPartition returns the device-mapper node path for the Nth partition
// of the given loop device (1-based).
func MappedPartition(loopDevice string, index int) string {
	return filepath.Join("/dev/mapper", fmt.Sprintf("%sp%d", filepath.Base(loopDevice), index))
}

// WaitForDevice blocks until the given device node exists. Device node
// creation is asynchronous relative to the mapping activation call, so the
// node may lag behind kpartx returning. The wait is bounded: after the
// default retry budget is exhausted ErrDeviceWaitTimeout is returned.
func WaitForDevice(ctx context.Context, s *sys.System, path string) error {
	return WaitForDeviceWithBudget(ctx, s, path, defaultWaitAttempts, defaultWaitInterval)
}

// WaitForDeviceWithBudget is WaitForDevice with an explicit retry budget.
func WaitForDeviceWithBudget(ctx context.Context, s *sys.System, path string, attempts int, interval time.Duration) error {
	for i := 0; i < attempts; i++ {
		if _, err := s.FS().Stat(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("probing device node %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("device node %s after %d attempts: %w", path, attempts, ErrDeviceWaitTimeout)
}
