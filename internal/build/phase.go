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

package build

// Phase is a step of the linear build pipeline. Phases only ever advance;
// any failure aborts the run and unwinds whatever the completed phases
// acquired.
type Phase int

const (
	Init Phase = iota
	UEFIBinaryBuilt
	DraftSized
	DraftCreated
	TreeCopied
	Customized
	Finalized
	FinalSized
	FinalCreated
	ContentCopied
	DraftReleased
	BootloaderInstalled
	EFIPopulated
	Done
)

var phaseNames = map[Phase]string{
	Init:                "init",
	UEFIBinaryBuilt:     "uefi-binary-built",
	DraftSized:          "draft-sized",
	DraftCreated:        "draft-created",
	TreeCopied:          "tree-copied",
	Customized:          "customized",
	Finalized:           "finalized",
	FinalSized:          "final-sized",
	FinalCreated:        "final-created",
	ContentCopied:       "content-copied",
	DraftReleased:       "draft-released",
	BootloaderInstalled: "bootloader-installed",
	EFIPopulated:        "efi-populated",
	Done:                "done",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}
