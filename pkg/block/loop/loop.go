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

// Package loop wraps loop device attachment of image backing files.
package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/alessio/debootstick/pkg/sys"
)

// Attach exposes the given backing file as a loop device and returns the
// allocated device path.
func Attach(ctx context.Context, s *sys.System, file string) (string, error) {
	out, err := s.Runner().RunContext(ctx, "losetup", "--find", "--show", file)
	if err != nil {
		return "", fmt.Errorf("attaching %s to a loop device: %w", file, err)
	}
	device := strings.TrimSpace(string(out))
	if device == "" {
		return "", fmt.Errorf("losetup did not report a device for %s", file)
	}
	s.Logger().Debug("attached %s to %s", file, device)
	return device, nil
}

// Detach releases the given loop device.
func Detach(s *sys.System, device string) error {
	_, err := s.Runner().Run("losetup", "-d", device)
	if err != nil {
		return fmt.Errorf("detaching loop device %s: %w", device, err)
	}
	return nil
}
