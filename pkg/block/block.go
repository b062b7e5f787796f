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

// Package block defines the partition model shared by the block device
// probing implementations.
package block

import "github.com/alessio/debootstick/pkg/sizing"

// Partition describes a single partition or mapped device as reported by
// the host.
type Partition struct {
	Label       string
	Name        string
	UUID        string
	Size        sizing.KiB
	FileSystem  string
	MountPoints []string
	Path        string
	Disk        string
}

type PartitionList []*Partition

// Device probes partitions of host block devices.
type Device interface {
	GetDevicePartitions(device string) (PartitionList, error)
	GetPartitionFS(partition string) (string, error)
}

// GetPartitionByPath returns the partition with the given device path, or
// nil when absent.
func (p PartitionList) GetPartitionByPath(path string) *Partition {
	for _, part := range p {
		if part.Path == path {
			return part
		}
	}
	return nil
}
