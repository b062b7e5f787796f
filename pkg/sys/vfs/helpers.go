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

package vfs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MkdirAll creates the given directory and all missing parents.
func MkdirAll(fsys FS, path string, perm os.FileMode) error {
	path = filepath.Clean(path)
	if ok, _ := Exists(fsys, path); ok {
		return nil
	}
	parent := filepath.Dir(path)
	if parent != path {
		if err := MkdirAll(fsys, parent, perm); err != nil {
			return err
		}
	}
	err := fsys.Mkdir(path, perm)
	if err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// TempDir creates a uniquely named directory under dir, or under the default
// temporary directory when dir is empty.
func TempDir(fsys FS, dir, prefix string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := MkdirAll(fsys, dir, DirPerm); err != nil {
		return "", err
	}
	for range 10000 {
		name := filepath.Join(dir, fmt.Sprintf("%s-%s", prefix, randomSuffix()))
		err := fsys.Mkdir(name, DirPerm)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		return name, nil
	}
	return "", fmt.Errorf("could not create temporary directory in %s", dir)
}

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Exists checks whether the given path exists.
func Exists(fsys FS, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// IsDir checks whether the given path is an existing directory.
func IsDir(fsys FS, path string) (bool, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// CopyFile copies the source file to the target path, creating parent
// directories as needed. The source permissions are preserved.
func CopyFile(fsys FS, source, target string) error {
	info, err := fsys.Stat(source)
	if err != nil {
		return err
	}
	if err := MkdirAll(fsys, filepath.Dir(target), DirPerm); err != nil {
		return err
	}
	in, err := fsys.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fsys.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// DirSizeKiB returns the apparent size of the directory tree in KiB, rounded
// up. Symlinks are counted by their own size, not their target's.
func DirSizeKiB(fsys FS, dir string) (uint64, error) {
	var bytes int64
	err := walkDir(fsys, dir, func(path string, info os.FileInfo) {
		if info.Mode().IsRegular() || info.Mode()&os.ModeSymlink != 0 {
			bytes += info.Size()
		}
	})
	if err != nil {
		return 0, err
	}
	return uint64((bytes + 1023) / 1024), nil
}

func walkDir(fsys FS, dir string, fn func(path string, info os.FileInfo)) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := fsys.Lstat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := walkDir(fsys, path, fn); err != nil {
				return err
			}
			continue
		}
		fn(path, info)
	}
	return nil
}

// RemoveGlob removes every path matching any of the given glob patterns,
// relative to root. Missing matches are not an error.
func RemoveGlob(fsys FS, root string, patterns ...string) error {
	for _, pattern := range patterns {
		raw, err := fsys.RawPath(root)
		if err != nil {
			return err
		}
		matches, err := filepath.Glob(filepath.Join(raw, pattern))
		if err != nil {
			return err
		}
		for _, m := range matches {
			rel := strings.TrimPrefix(m, raw)
			if err := fsys.RemoveAll(filepath.Join(root, rel)); err != nil {
				return err
			}
		}
	}
	return nil
}
