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

// Package archive reads identifying metadata out of client error-report
// archives without extracting them to disk.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/bcem/errorintake/internal/models"
)

const (
	commentEntry   = "comment.txt"
	logsPrefix     = "logs/"
	userCodeMarker = "userCode="
)

// Extractor pulls the user comment and the reporting user's code out of an
// archive. LogMarker selects which log entries are searched for the user code.
type Extractor struct {
	LogMarker string
}

// NewExtractor creates an extractor searching logs whose name contains marker.
func NewExtractor(marker string) *Extractor {
	return &Extractor{LogMarker: marker}
}

// Extract scans the archive's entries once, stopping as soon as both values
// are known. Missing values are left nil; only an unreadable archive is an error.
func (e *Extractor) Extract(path string) (models.ArchiveMetadata, error) {
	var meta models.ArchiveMetadata

	rc, err := zip.OpenReader(path)
	if err != nil {
		return meta, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer rc.Close()

	for _, f := range rc.File {
		if meta.Comment != nil && meta.UserCode != nil {
			break
		}

		switch {
		case meta.Comment == nil && strings.Contains(f.Name, commentEntry):
			comment, err := readEntry(f)
			if err != nil {
				return meta, fmt.Errorf("read %s: %w", f.Name, err)
			}
			meta.Comment = &comment

		case meta.UserCode == nil && e.isUserLog(f.Name):
			code, err := scanUserCode(f)
			if err != nil {
				return meta, fmt.Errorf("scan %s: %w", f.Name, err)
			}
			if code != "" {
				meta.UserCode = &code
			}
		}
	}

	return meta, nil
}

func (e *Extractor) isUserLog(name string) bool {
	return strings.HasPrefix(name, logsPrefix) && strings.Contains(name, e.LogMarker)
}

func readEntry(f *zip.File) (string, error) {
	r, err := f.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// scanUserCode returns the first user code found in the log, or "" if no
// line carries one.
func scanUserCode(f *zip.File) (string, error) {
	r, err := f.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if code, ok := ParseUserCode(line); ok {
			return code, nil
		}
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
	}
}

// ParseUserCode extracts the text between "userCode=" and the following "@"
// (or the end of the line). Lines without the marker, or with an empty code,
// report false.
func ParseUserCode(line string) (string, bool) {
	_, rest, found := strings.Cut(line, userCodeMarker)
	if !found {
		return "", false
	}
	code, _, _ := strings.Cut(rest, "@")
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	return code, true
}
