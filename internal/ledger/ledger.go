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

// Package ledger walks the source tree for error-report archives and copies
// each new one into the mirror tree. The mirror doubles as the processed
// ledger: once a mirrored file exists, its archive is never visited again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bcem/errorintake/internal/models"
)

// Claimer is an optional cross-host claim taken before the mirror copy.
// Implemented by dedup.Filter.
type Claimer interface {
	IsNew(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// VisitFunc is called once for every archive mirrored by a scan.
type VisitFunc func(ctx context.Context, archive models.DiscoveredArchive) error

// ScanResult summarises a completed scan.
type ScanResult struct {
	Discovered int // files matching the search term
	Mirrored   int // newly copied and handed to the visitor
	Skipped    int // already mirrored or claimed elsewhere
	Errors     int // walk, copy or visit failures
}

// Ledger pairs a source tree with its mirror.
type Ledger struct {
	sourceDir  string
	mirrorDir  string
	searchTerm string
	claimer    Claimer
}

// Config holds the settings for a ledger.
type Config struct {
	SourceDir  string
	MirrorDir  string
	SearchTerm string
	Claimer    Claimer
}

// New creates a ledger.
func New(cfg Config) *Ledger {
	return &Ledger{
		sourceDir:  filepath.Clean(cfg.SourceDir),
		mirrorDir:  filepath.Clean(cfg.MirrorDir),
		searchTerm: cfg.SearchTerm,
		claimer:    cfg.Claimer,
	}
}

// errAlreadyHandled marks an archive that is mirrored or claimed elsewhere.
var errAlreadyHandled = errors.New("archive already handled")

// Scan walks the source tree once. Every matching file without a mirror copy
// is copied (keeping its modification time) and passed to visit. A visit
// error is logged and counted; the archive stays mirrored.
//
// The context is only checked between files.
func (l *Ledger) Scan(ctx context.Context, visit VisitFunc) (ScanResult, error) {
	var res ScanResult

	if err := os.MkdirAll(l.mirrorDir, 0o755); err != nil {
		return res, fmt.Errorf("create mirror root %s: %w", l.mirrorDir, err)
	}

	err := filepath.WalkDir(l.sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == l.sourceDir {
				return walkErr
			}
			slog.Warn("skipping unreadable path", "path", path, "error", walkErr)
			res.Errors++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			// A mirror nested inside the source tree must not be re-ingested.
			if path == l.mirrorDir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.Contains(d.Name(), l.searchTerm) {
			return nil
		}

		res.Discovered++

		archive, err := l.mirror(ctx, path)
		if errors.Is(err, errAlreadyHandled) {
			res.Skipped++
			return nil
		}
		if err != nil {
			slog.Error("failed to mirror archive", "path", path, "error", err)
			res.Errors++
			return nil
		}

		res.Mirrored++
		slog.Info("archive mirrored",
			"archive", archive.RelativePath,
			"mirror", archive.MirrorPath,
		)

		if err := visit(ctx, archive); err != nil {
			slog.Error("failed to process archive",
				"archive", archive.RelativePath,
				"error", err,
			)
			res.Errors++
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walk %s: %w", l.sourceDir, err)
	}

	return res, nil
}

// mirror claims and copies one source file.
func (l *Ledger) mirror(ctx context.Context, sourcePath string) (models.DiscoveredArchive, error) {
	var archive models.DiscoveredArchive

	rel, err := filepath.Rel(l.sourceDir, sourcePath)
	if err != nil {
		return archive, fmt.Errorf("relative path: %w", err)
	}
	dest := filepath.Join(l.mirrorDir, rel)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return archive, fmt.Errorf("create mirror directory: %w", err)
	}

	if _, err := os.Stat(dest); err == nil {
		return archive, errAlreadyHandled
	} else if !errors.Is(err, fs.ErrNotExist) {
		return archive, fmt.Errorf("stat mirror: %w", err)
	}

	key := filepath.ToSlash(rel)
	if l.claimer != nil {
		isNew, err := l.claimer.IsNew(ctx, key)
		if err != nil {
			slog.Warn("claim check failed, relying on mirror", "archive", key, "error", err)
		} else if !isNew {
			slog.Debug("archive claimed by another host", "archive", key)
			return archive, errAlreadyHandled
		}
	}

	modTime, err := copyFile(sourcePath, dest)
	if err != nil {
		if l.claimer != nil && !errors.Is(err, errAlreadyHandled) {
			if rerr := l.claimer.Release(ctx, key); rerr != nil {
				slog.Warn("failed to release claim", "archive", key, "error", rerr)
			}
		}
		return archive, err
	}

	return models.DiscoveredArchive{
		SourcePath:   sourcePath,
		RelativePath: rel,
		MirrorPath:   dest,
		ModifiedAt:   modTime,
	}, nil
}

// copyFile copies src to a new file at dst, failing with errAlreadyHandled
// if dst appeared in the meantime. The destination keeps the source's
// modification time. A partial copy is removed.
func copyFile(src, dst string) (modTime time.Time, err error) {
	info, err := os.Stat(src)
	if err != nil {
		return modTime, fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return modTime, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if errors.Is(err, fs.ErrExist) {
		return modTime, errAlreadyHandled
	}
	if err != nil {
		return modTime, fmt.Errorf("create mirror file: %w", err)
	}

	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return modTime, fmt.Errorf("copy: %w", err)
	}
	if err = out.Close(); err != nil {
		return modTime, fmt.Errorf("close mirror file: %w", err)
	}

	modTime = info.ModTime()
	if err = os.Chtimes(dst, modTime, modTime); err != nil {
		return modTime, fmt.Errorf("preserve modification time: %w", err)
	}
	return modTime, nil
}
