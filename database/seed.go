/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/uptrace/bun"
)

const (
	defaultSeedRoot = "configs/sql"
	commonSeedGroup = "common"
	unorderedSeed   = 999
)

var seedOrderPattern = regexp.MustCompile(`^(\d+)_`)

// ErrSeedRootMissing is returned when the seed root directory does not exist.
var ErrSeedRootMissing = errors.New("seed root does not exist")

// SeedFile is one SQL file found under the seed root.
type SeedFile struct {
	// Path is slash-separated and relative to the seed root.
	Path  string
	Group string
	Order int
}

// Name returns the base name of the file.
func (f SeedFile) Name() string { return path.Base(f.Path) }

// SeedResult is the outcome of running one SeedFile.
type SeedResult struct {
	File    SeedFile
	Rows    int64
	Elapsed time.Duration
	Err     error
}

// Seeder runs SQL files from <root>/common and then <root>/environments/<env>.
// Within a group files run by their numeric prefix ("01_users.sql"); files
// without one run last in name order. Each file runs in its own transaction.
type Seeder struct {
	db     *bun.DB
	root   string
	fsys   fs.FS
	env    string
	logger Logger
}

// NewSeeder returns a Seeder for cfg. An empty Filepath means "configs/sql".
func NewSeeder(db *bun.DB, cfg DataInitConfig, logger Logger) *Seeder {
	root := cfg.Filepath
	if root == "" {
		root = defaultSeedRoot
	}
	if logger == nil {
		logger = NopLogger{}
	}
	return &Seeder{db: db, root: root, fsys: os.DirFS(root), env: cfg.Environment, logger: logger}
}

// CheckRoot returns ErrSeedRootMissing when the root does not exist and an
// error when it is not a directory.
func (s *Seeder) CheckRoot() error {
	info, err := os.Stat(s.root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrSeedRootMissing, s.root)
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("seed root is not a directory: %s", s.root)
	}
	return nil
}

// Files lists the SQL files in execution order.
func (s *Seeder) Files() ([]SeedFile, error) {
	common, err := s.group(commonSeedGroup, commonSeedGroup)
	if err != nil {
		return nil, err
	}
	if s.env == "" {
		return common, nil
	}
	env, err := s.group(path.Join("environments", s.env), s.env)
	if err != nil {
		return nil, err
	}
	return append(common, env...), nil
}

func (s *Seeder) group(dir, name string) ([]SeedFile, error) {
	var files []SeedFile
	err := fs.WalkDir(s.fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) && p == dir {
			return fs.SkipAll
		}
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(path.Ext(p), ".sql") {
			files = append(files, SeedFile{Path: p, Group: name, Order: seedOrder(d.Name())})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list seed files in %s: %w", dir, err)
	}
	slices.SortStableFunc(files, func(a, b SeedFile) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return strings.Compare(a.Name(), b.Name())
	})
	return files, nil
}

func seedOrder(name string) int {
	if m := seedOrderPattern.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return unorderedSeed
}

// Run executes every file and stops at the first failure. Files that ran
// before it stay applied. The returned results include the failed file.
func (s *Seeder) Run(ctx context.Context) ([]SeedResult, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	s.logger.Info("Seeding database", "environment", s.env, "root", s.root, "files", len(files))

	results := make([]SeedResult, 0, len(files))
	for _, file := range files {
		res := s.run(ctx, file)
		results = append(results, res)
		if res.Err != nil {
			s.logger.Error("Seed file failed", "file", file.Path, "error", res.Err)
			return results, fmt.Errorf("seed file %s: %w", file.Path, res.Err)
		}
		s.logger.Debug("Seed file applied", "file", file.Path, "rows", res.Rows, "elapsed", res.Elapsed)
	}
	return results, nil
}

func (s *Seeder) run(ctx context.Context, file SeedFile) (res SeedResult) {
	res.File = file
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	raw, err := fs.ReadFile(s.fsys, file.Path)
	if err != nil {
		res.Err = err
		return res
	}
	content, err := s.render(string(raw))
	if err != nil {
		res.Err = err
		return res
	}
	statements := splitStatements(content)
	if len(statements) == 0 {
		return res
	}

	res.Err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, stmt := range statements {
			r, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("%q: %w", stmt, err)
			}
			if n, err := r.RowsAffected(); err == nil {
				res.Rows += n
			}
		}
		return nil
	})
	return res
}

// render expands text/template actions against the process environment plus
// ENVIRONMENT and TIMESTAMP. Undefined variables are an error.
func (s *Seeder) render(content string) (string, error) {
	if !strings.Contains(content, "{{") {
		return content, nil
	}
	tmpl, err := template.New("seed").Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse seed template: %w", err)
	}

	vars := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	vars["ENVIRONMENT"] = s.env
	vars["TIMESTAMP"] = time.Now().Format(time.DateTime)

	var out bytes.Buffer
	if err := tmpl.Execute(&out, vars); err != nil {
		return "", fmt.Errorf("failed to render seed template: %w", err)
	}
	return out.String(), nil
}

// splitStatements splits on lines ending with ";". Blank lines and "--"
// comment lines are dropped and continuation lines are joined by a space.
func splitStatements(content string) []string {
	var (
		statements []string
		parts      []string
	)
	flush := func() {
		if len(parts) > 0 {
			statements = append(statements, strings.Join(parts, " "))
			parts = parts[:0]
		}
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		parts = append(parts, line)
		if strings.HasSuffix(line, ";") {
			flush()
		}
	}
	flush()
	return statements
}
