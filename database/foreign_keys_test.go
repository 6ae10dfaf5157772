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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForeignKeyNames(t *testing.T) {
	fk := ForeignKey{Table: "posts", Column: "blog_id", ReferenceTable: "blogs", ReferenceColumn: "id"}
	assert.Equal(t, "fk_posts_blog_id", fk.ConstraintName())
	assert.Equal(t, "posts.blog_id -> blogs.id", fk.String())

	fk.Name = "posts_blog"
	assert.Equal(t, "posts_blog", fk.ConstraintName())
}

func TestRemovesDependents(t *testing.T) {
	for action, want := range map[string]bool{
		ActionCascade:  true,
		"cascade":      true,
		ActionSetNull:  true,
		"set  default": true,
		ActionRestrict: false,
		ActionNoAction: false,
		"":             false,
	} {
		fk := ForeignKey{OnDelete: action}
		assert.Equal(t, want, fk.RemovesDependents(), action)
	}
}

func TestForeignKeyValidate(t *testing.T) {
	ok := ForeignKey{Table: "posts", Column: "blog_id", ReferenceTable: "blogs", ReferenceColumn: "id", OnDelete: "set null"}
	assert.NoError(t, ok.Validate())

	bad := ForeignKey{OnDelete: "EXPLODE", OnUpdate: "SOMETIMES"}
	err := bad.Validate()
	require.Error(t, err)
	assert.Equal(t, `foreign key fk__: table is empty
foreign key fk__: column is empty
foreign key fk__: reference_table is empty
foreign key fk__: reference_column is empty
foreign key fk__: invalid on_delete action "EXPLODE"
foreign key fk__: invalid on_update action "SOMETIMES"`, err.Error())

	assert.NoError(t, NewForeignKeySet().Validate())
	assert.Error(t, NewForeignKeySet(ok, bad).Validate())
}

func TestForeignKeySetLookups(t *testing.T) {
	set := NewForeignKeySet(
		ForeignKey{Table: "posts", Column: "blog_id", ReferenceTable: "blogs", ReferenceColumn: "id", OnDelete: ActionRestrict},
		ForeignKey{Table: "post_tags", Column: "post_id", ReferenceTable: "posts", ReferenceColumn: "id", OnDelete: ActionCascade},
		ForeignKey{Table: "post_tags", Column: "tag_id", ReferenceTable: "tags", ReferenceColumn: "id", OnDelete: ActionCascade},
	)

	assert.Len(t, set.All(), 3)
	assert.Len(t, set.DeclaredOn("POST_TAGS"), 2)
	referencing := set.Referencing("posts")
	require.Len(t, referencing, 1)
	assert.Equal(t, "post_tags", referencing[0].Table)
	assert.Empty(t, set.Referencing("post_tags"))

	// same derived name replaces the earlier key
	set.Add(ForeignKey{Table: "posts", Column: "blog_id", ReferenceTable: "blogs", ReferenceColumn: "id", OnDelete: ActionCascade})
	assert.Len(t, set.All(), 3)
	assert.True(t, set.Referencing("blogs")[0].RemovesDependents())

	all := set.All()
	all[0].Table = "mutated"
	assert.Equal(t, "posts", set.All()[0].Table)
}

func TestApplyToCreateTable(t *testing.T) {
	m := newTestManager(t)
	set := NewForeignKeySet(ForeignKey{
		Table: "players", Column: "team_id", ReferenceTable: "teams", ReferenceColumn: "id",
		OnDelete: "cascade", OnUpdate: ActionNoAction,
	})

	q := set.ApplyToCreateTable(m.DB().NewCreateTable().Model((*player)(nil)), "players")
	assert.Contains(t, q.String(), `FOREIGN KEY ("team_id") REFERENCES "teams" ("id") ON DELETE CASCADE ON UPDATE NO ACTION`)

	q = set.ApplyToCreateTable(m.DB().NewCreateTable().Model((*team)(nil)), "teams")
	assert.NotContains(t, q.String(), "FOREIGN KEY")
}

func TestLoadAndSaveForeignKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`foreign_keys:
  - table: posts
    column: blog_id
    reference_table: blogs
    reference_column: id
    on_delete: RESTRICT
    constraint_name: posts_blog
`), 0o644))

	keys, err := LoadForeignKeys(path)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "posts_blog", keys[0].ConstraintName())
	assert.Equal(t, ActionRestrict, keys[0].OnDelete)

	saved := filepath.Join(dir, "out", "fks.yaml")
	require.NoError(t, SaveForeignKeys(saved, keys))
	reloaded, err := LoadForeignKeys(saved)
	require.NoError(t, err)
	assert.Equal(t, keys, reloaded)

	_, err = LoadForeignKeys(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
	require.NoError(t, os.WriteFile(path, []byte("foreign_keys: {"), 0o644))
	_, err = LoadForeignKeys(path)
	assert.Error(t, err)
}

func TestWithForeignKeyFileMergesValidFiles(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`foreign_keys:
  - table: players
    column: team_id
    reference_table: teams
    reference_column: id
    on_delete: SET NULL
`), 0o644))
	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte(`foreign_keys:
  - table: players
    column: coach_id
    on_delete: SOMETIMES
`), 0o644))

	code := teamForeignKeys()
	m := NewManager(sqliteConfig(),
		WithLogger(NopLogger{}),
		WithForeignKeys(code),
		WithForeignKeyFile(valid),
		WithForeignKeyFile(invalid),
		WithForeignKeyFile(filepath.Join(dir, "absent.yaml")),
	)
	require.NotNil(t, m)

	keys := code.All()
	require.Len(t, keys, 1)
	assert.Equal(t, ActionSetNull, keys[0].OnDelete)
	assert.NoError(t, m.Close())
}
