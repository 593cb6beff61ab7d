// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package paths provides cross-platform path utilities for glmocr.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir returns the per-user data directory for glmocr.
// Returns ~/.glmocr on Unix-like systems and %USERPROFILE%\.glmocr on Windows.
// Falls back to "./.glmocr" if the home directory cannot be determined.
func DefaultDataDir() string {
	home := userHomeDir()
	if home == "" {
		return filepath.FromSlash("./.glmocr")
	}
	return filepath.Join(home, ".glmocr")
}

// EnsureDir creates dir (and parents) if it does not exist.
// An empty dir is a no-op; it stands for the system temp directory.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// userHomeDir returns the user's home directory in a cross-platform manner.
// On Unix: $HOME
// On Windows: %USERPROFILE% (preferred) or %HOMEDRIVE%%HOMEPATH%
// Note: On Windows, we check USERPROFILE first because $HOME from Git Bash/MSYS2
// may contain Unix-style paths (e.g., /c/Users/...) that don't work with Windows APIs.
func userHomeDir() string {
	if runtime.GOOS == "windows" {
		if home := os.Getenv("USERPROFILE"); home != "" {
			return home
		}
		if drive, path := os.Getenv("HOMEDRIVE"), os.Getenv("HOMEPATH"); drive != "" && path != "" {
			return filepath.Join(drive, path)
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		return home
	}

	home, _ := os.UserHomeDir()
	return home
}
