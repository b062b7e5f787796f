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

package lsblk

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alessio/debootstick/pkg/block"
	"github.com/alessio/debootstick/pkg/sizing"
	"github.com/alessio/debootstick/pkg/sys"
)

type lsDevice struct {
	runner sys.Runner
}

func NewLsDevice(s *sys.System) *lsDevice { //nolint:revive
	return &lsDevice{runner: s.Runner()}
}

var _ block.Device = (*lsDevice)(nil)

type jPart struct {
	Label       string   `json:"label,omitempty"`
	Name        string   `json:"partlabel,omitempty"`
	UUID        string   `json:"partuuid,omitempty"`
	Size        uint64   `json:"size,omitempty"`
	FS          string   `json:"fstype,omitempty"`
	MountPoints []string `json:"mountpoints,omitempty"`
	Path        string   `json:"path,omitempty"`
	Disk        string   `json:"pkname,omitempty"`
	Type        string   `json:"type,omitempty"`
}

type jParts []*block.Partition

func (p jPart) Partition() *block.Partition {
	// Converts B to KiB
	return &block.Partition{
		Label:       p.Label,
		Size:        sizing.KiB(p.Size / 1024),
		FileSystem:  p.FS,
		UUID:        p.UUID,
		MountPoints: p.MountPoints,
		Path:        p.Path,
		Disk:        p.Disk,
		Name:        p.Name,
	}
}

func (p *jParts) UnmarshalJSON(data []byte) error {
	var parts []jPart

	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}

	var partitions jParts
	for _, part := range parts {
		// keep partitions, loop devices and device-mapper nodes, the image
		// builder works on kpartx-mapped loop partitions
		if part.Type == "part" || part.Type == "loop" || part.Type == "dm" || part.Type == "lvm" {
			partitions = append(partitions, part.Partition())
		}
	}
	*p = partitions
	return nil
}

func unmarshalLsblk(lsblkOut []byte) (block.PartitionList, error) {
	var objmap map[string]*json.RawMessage
	err := json.Unmarshal(lsblkOut, &objmap)
	if err != nil {
		return nil, err
	}

	if _, ok := objmap["blockdevices"]; !ok {
		return nil, errors.New("invalid json object, no 'blockdevices' key found")
	}

	var parts jParts
	err = json.Unmarshal(*objmap["blockdevices"], &parts)
	if err != nil {
		return nil, err
	}

	return block.PartitionList(parts), nil
}

// GetDevicePartitions gets a slice of partitions found in the given device.
// If the device is a disk or loop device it lists all its partitions, if the
// device is already a partition it simply lists that single partition.
func (l lsDevice) GetDevicePartitions(device string) (block.PartitionList, error) {
	out, err := l.runner.Run("lsblk", "-p", "-b", "-n", "-J", "--output", "LABEL,PARTLABEL,PARTUUID,SIZE,FSTYPE,MOUNTPOINTS,PATH,PKNAME,TYPE", device)
	if err != nil {
		return nil, err
	}

	return unmarshalLsblk(out)
}

// GetPartitionFS gets the filesystem type for the given partition device. If
// the given device can't be parsed as a single partition by lsblk it errors.
func (l lsDevice) GetPartitionFS(partition string) (string, error) {
	pLst, err := l.GetDevicePartitions(partition)
	if err != nil {
		return "", err
	}
	if len(pLst) != 1 {
		return "", fmt.Errorf("could not parse a single partition: %v", pLst)
	}
	return pLst[0].FileSystem, nil
}
