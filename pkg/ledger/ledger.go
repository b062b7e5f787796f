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

// Package ledger tracks side-effecting system operations so they can be
// unwound in reverse order on error or interruption. Every recorded entry
// pairs the operation that ran with the closure that undoes it, keyed by a
// generated handle so a specific resource can be released out of order.
package ledger

import (
	"errors"
	"fmt"
	"sync"
)

// Handle identifies a recorded entry. Handles are unique for the lifetime
// of a Ledger.
type Handle uint64

type entry struct {
	handle Handle
	desc   string
	undo   func() error
}

// Ledger is the ordered record of reversible operations. Entries are kept
// most-recent-first. The zero value is not usable, call New.
type Ledger struct {
	mu      sync.Mutex
	next    Handle
	entries []entry
}

func New() *Ledger {
	return &Ledger{next: 1}
}

// Record executes op and, only if it succeeds, records undo under a fresh
// handle. On failure nothing is recorded and the error is returned, so a
// single call never leaves more than one side effect behind.
func (l *Ledger) Record(desc string, op, undo func() error) (Handle, error) {
	if err := op(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.next
	l.next++
	l.entries = append([]entry{{handle: h, desc: desc, undo: undo}}, l.entries...)
	return h, nil
}

// UndoOne removes the entry identified by h, wherever it sits in the
// sequence, and executes its undo immediately. A handle already consumed by
// a broader unwind is a no-op.
func (l *Ledger) UndoOne(h Handle) error {
	l.mu.Lock()
	var found *entry
	for i, e := range l.entries {
		if e.handle == h {
			found = &e
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	if found == nil {
		return nil
	}
	if err := found.undo(); err != nil {
		return fmt.Errorf("undoing %s: %w", found.desc, err)
	}
	return nil
}

// UndoAll executes every remaining undo in reverse insertion order and
// leaves the ledger empty. Errors do not stop the unwind; they are joined
// and returned at the end. Calling UndoAll on an empty ledger is a no-op.
func (l *Ledger) UndoAll() error {
	var errs []error
	for {
		l.mu.Lock()
		if len(l.entries) == 0 {
			l.mu.Unlock()
			break
		}
		e := l.entries[0]
		l.entries = l.entries[1:]
		l.mu.Unlock()
		if err := e.undo(); err != nil {
			errs = append(errs, fmt.Errorf("undoing %s: %w", e.desc, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of entries currently held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Scoped runs op, then body, and releases the acquired resource exactly once
// before returning, on every exit path. The entry is removed from the ledger
// before its undo runs, so a later UndoAll cannot execute it twice. A body
// error is not suppressed by the release; if both fail the errors are joined.
func (l *Ledger) Scoped(desc string, op, undo func() error, body func() error) error {
	h, err := l.Record(desc, op, undo)
	if err != nil {
		return err
	}
	bodyErr := body()
	undoErr := l.UndoOne(h)
	switch {
	case bodyErr != nil && undoErr != nil:
		return errors.Join(bodyErr, undoErr)
	case bodyErr != nil:
		return bodyErr
	default:
		return undoErr
	}
}
