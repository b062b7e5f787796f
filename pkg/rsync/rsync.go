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

// Package rsync copies directory trees with full fidelity. It is used to
// populate the draft image from the source tree and to replay the draft's
// measured content into the final image.
package rsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/alessio/debootstick/pkg/sys"
)

type Rsync struct {
	ctx   context.Context
	s     *sys.System
	flags []string
}

type Opt func(*Rsync)

func WithContext(ctx context.Context) Opt {
	return func(r *Rsync) {
		r.ctx = ctx
	}
}

func WithFlags(flags ...string) Opt {
	return func(r *Rsync) {
		r.flags = flags
	}
}

// DefaultFlags preserve everything the replayed root filesystem needs to
// stay bootable: permissions, ownership by numeric id, hard links, ACLs,
// xattrs and sparse regions.
func DefaultFlags() []string {
	return []string{
		"--archive", "--hard-links", "--acls", "--xattrs",
		"--numeric-ids", "--sparse", "--delete",
	}
}

func NewRsync(s *sys.System, opts ...Opt) *Rsync {
	r := &Rsync{
		ctx:   context.Background(),
		s:     s,
		flags: DefaultFlags(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SyncData copies the contents of source into target. A trailing slash is
// enforced on the source so rsync copies contents rather than the directory
// itself.
func (r Rsync) SyncData(source, target string) error {
	if !strings.HasSuffix(source, "/") {
		source += "/"
	}
	args := append([]string{}, r.flags...)
	args = append(args, source, target)
	out, err := r.s.Runner().RunContext(r.ctx, "rsync", args...)
	if err != nil {
		return fmt.Errorf("syncing %s to %s: %w: %s", source, target, err, strings.TrimSpace(string(out)))
	}
	return nil
}
