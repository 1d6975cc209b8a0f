// Copyright (c) 2026 John Earle
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

// Package exclusion holds the workstation names and user codes for which no
// ticket is filed. Both lists are loaded once at startup and read-only after.
package exclusion

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Registry answers case-insensitive membership queries against the two lists.
type Registry struct {
	computers map[string]bool
	users     map[string]bool
}

// Load reads both exclusion files. Either file being unreadable is an error;
// there is no fallback to an empty list.
func Load(computerNamesPath, userCodesPath string) (*Registry, error) {
	computers, err := readSet(computerNamesPath)
	if err != nil {
		return nil, fmt.Errorf("load excluded computer names: %w", err)
	}
	users, err := readSet(userCodesPath)
	if err != nil {
		return nil, fmt.Errorf("load excluded user codes: %w", err)
	}
	return &Registry{computers: computers, users: users}, nil
}

// New builds a registry from in-memory lists.
func New(computerNames, userCodes []string) *Registry {
	return &Registry{
		computers: toSet(computerNames),
		users:     toSet(userCodes),
	}
}

// IsExcludedUser reports whether the user code is on the exclusion list.
func (r *Registry) IsExcludedUser(id string) bool {
	return r.contains(r.users, id)
}

// IsExcludedComputer reports whether the workstation is on the exclusion list.
func (r *Registry) IsExcludedComputer(name string) bool {
	return r.contains(r.computers, name)
}

// Len returns the number of entries in each list.
func (r *Registry) Len() (computers, users int) {
	return len(r.computers), len(r.users)
}

func (r *Registry) contains(set map[string]bool, value string) bool {
	key := strings.ToLower(strings.TrimSpace(value))
	if key == "" {
		return false
	}
	return set[key]
}

func readSet(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var values []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		values = append(values, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return toSet(values), nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		// Blank lines would otherwise match an empty workstation name.
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = true
		}
	}
	return set
}
