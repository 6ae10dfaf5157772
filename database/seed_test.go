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
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	content := `-- header comment
INSERT INTO teams (name)
  VALUES ('a');

INSERT INTO teams (name) VALUES ('b');
-- trailing statement without semicolon
DELETE FROM teams WHERE name = 'c'`

	assert.Equal(t, []string{
		"INSERT INTO teams (name) VALUES ('a');",
		"INSERT INTO teams (name) VALUES ('b');",
		"DELETE FROM teams WHERE name = 'c'",
	}, splitStatements(content))
	assert.Empty(t, splitStatements("-- nothing\n\n"))
}

func TestSeedOrder(t *testing.T) {
	assert.Equal(t, 1, seedOrder("01_users.sql"))
	assert.Equal(t, 120, seedOrder("120_posts.sql"))
	assert.Equal(t, unorderedSeed, seedOrder("users.sql"))
	assert.Equal(t, unorderedSeed, seedOrder("v1_users.sql"))
}

func TestSeederFiles(t *testing.T) {
	root := t.TempDir()
	writeSeed(t, root, "common/10_b.sql", "")
	writeSeed(t, root, "common/02_a.sql", "")
	writeSeed(t, root, "common/z.sql", "")
	writeSeed(t, root, "common/a.sql", "")
	writeSeed(t, root, "common/readme.md", "")
	writeSeed(t, root, "common/nested/01_deep.SQL", "")
	writeSeed(t, root, "environments/dev/01_dev.sql", "")
	writeSeed(t, root, "environments/prod/01_prod.sql", "")

	files, err := NewSeeder(nil, DataInitConfig{Filepath: root, Environment: "dev"}, nil).Files()
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{
		"common/nested/01_deep.SQL",
		"common/02_a.sql",
		"common/10_b.sql",
		"common/a.sql",
		"common/z.sql",
		"environments/dev/01_dev.sql",
	}, paths)
	assert.Equal(t, "dev", files[len(files)-1].Group)
	assert.Equal(t, commonSeedGroup, files[0].Group)
	assert.Equal(t, "01_deep.SQL", files[0].Name())

	files, err = NewSeeder(nil, DataInitConfig{Filepath: root}, nil).Files()
	require.NoError(t, err)
	assert.Len(t, files, 5, "no environment means common only")

	files, err = NewSeeder(nil, DataInitConfig{Filepath: root, Environment: "staging"}, nil).Files()
	require.NoError(t, err)
	assert.Len(t, files, 5, "a missing environment directory is empty")
}

func TestSeederCheckRoot(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, NewSeeder(nil, DataInitConfig{Filepath: root}, nil).CheckRoot())

	err := NewSeeder(nil, DataInitConfig{Filepath: filepath.Join(root, "absent")}, nil).CheckRoot()
	assert.ErrorIs(t, err, ErrSeedRootMissing)

	writeSeed(t, root, "file.sql", "")
	err = NewSeeder(nil, DataInitConfig{Filepath: filepath.Join(root, "file.sql")}, nil).CheckRoot()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSeedRootMissing)
}

func TestSeederRender(t *testing.T) {
	t.Setenv("SEED_ADMIN", "root")
	s := NewSeeder(nil, DataInitConfig{Environment: "test"}, nil)

	out, err := s.render("INSERT INTO users VALUES ('{{.SEED_ADMIN}}', '{{.ENVIRONMENT}}');")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users VALUES ('root', 'test');", out)

	_, err = s.render("SELECT '{{.SEED_UNDEFINED_VARIABLE}}';")
	assert.Error(t, err)
	_, err = s.render("SELECT '{{.Broken';")
	assert.Error(t, err)

	plain := "SELECT '{' || '}';"
	out, err = s.render(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestSeederRunStopsAtFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeSeed(t, root, "common/01_teams.sql", "INSERT INTO teams (name) VALUES ('one');\nINSERT INTO teams (name) VALUES ('two');")
	writeSeed(t, root, "common/02_broken.sql", "INSERT INTO teams (name) VALUES ('three');\nINSERT INTO nowhere VALUES (1);")
	writeSeed(t, root, "common/03_never.sql", "INSERT INTO teams (name) VALUES ('four');")

	m := newTestManager(t, WithModels(teamModels()))
	require.NoError(t, m.RunMigrations(ctx))

	results, err := NewSeeder(m.DB(), DataInitConfig{Filepath: root}, NopLogger{}).Run(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "02_broken.sql")
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.EqualValues(t, 2, results[0].Rows)
	assert.Error(t, results[1].Err)
	assert.Positive(t, results[1].Elapsed)

	// the failed file rolled back as a whole
	var names []string
	require.NoError(t, m.DB().NewSelect().Model((*team)(nil)).Column("name").Order("name").Scan(ctx, &names))
	assert.Equal(t, []string{"one", "two"}, names)
}
