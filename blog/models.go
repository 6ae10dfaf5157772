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

package blog

import (
	"github.com/uptrace/bun"

	"github.com/tomoncle/unitofwork/database"
	"github.com/tomoncle/unitofwork/types"
)

// Blog owns posts. Posts block the removal of their blog.
type Blog struct {
	bun.BaseModel `bun:"table:blogs,alias:b"`

	ID      int64   `bun:"id,pk,autoincrement" json:"id"`
	Name    string  `bun:"name,notnull,unique" json:"name" validate:"required,max=200"`
	URL     string  `bun:"url" json:"url" validate:"omitempty,url"`
	Version int64   `bun:"version,notnull" json:"version"`
	Posts   []*Post `bun:"rel:has-many,join:id=blog_id" json:"posts,omitempty"`
}

// Post belongs to a blog and is tagged through post_tags.
type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	ID         int64            `bun:"id,pk,autoincrement" json:"id"`
	BlogID     int64            `bun:"blog_id,notnull" json:"blog_id" validate:"required"`
	Title      string           `bun:"title,notnull" json:"title" validate:"required,max=300"`
	Content    string           `bun:"content" json:"content"`
	Attributes types.JsonObject `bun:"attributes,type:text" json:"attributes,omitempty"`
	Version    int64            `bun:"version,notnull" json:"version"`
	Blog       *Blog            `bun:"rel:belongs-to,join:blog_id=id" json:"blog,omitempty"`
	Tags       []*Tag           `bun:"m2m:post_tags,join:Post=Tag" json:"tags,omitempty"`
}

// Tag labels posts.
type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:t"`

	ID    int64   `bun:"id,pk,autoincrement" json:"id"`
	Name  string  `bun:"name,notnull,unique" json:"name" validate:"required,max=64"`
	Posts []*Post `bun:"m2m:post_tags,join:Tag=Post" json:"posts,omitempty"`
}

// PostTag is the join model of the Post and Tag many-to-many relation.
type PostTag struct {
	bun.BaseModel `bun:"table:post_tags,alias:pt"`

	PostID int64 `bun:"post_id,pk" json:"post_id"`
	Post   *Post `bun:"rel:belongs-to,join:post_id=id" json:"-"`
	TagID  int64 `bun:"tag_id,pk" json:"tag_id"`
	Tag    *Tag  `bun:"rel:belongs-to,join:tag_id=id" json:"-"`
}

// Models returns the blog models ordered so referenced tables are created
// first.
func Models() *database.ModelRegistry {
	return database.NewModelRegistry(
		database.NewModel((*Blog)(nil), 10),
		database.NewModel((*Tag)(nil), 10),
		database.NewModel((*Post)(nil), 20),
		database.NewModel((*PostTag)(nil), 30),
	)
}

// ForeignKeys returns the constraints between the blog tables. Removing a
// post or a tag removes its post_tags rows; a blog cannot be removed while
// it has posts.
func ForeignKeys() []database.ForeignKey {
	return []database.ForeignKey{
		{
			Table:           "posts",
			Column:          "blog_id",
			ReferenceTable:  "blogs",
			ReferenceColumn: "id",
			OnDelete:        database.ActionRestrict,
		},
		{
			Table:           "post_tags",
			Column:          "post_id",
			ReferenceTable:  "posts",
			ReferenceColumn: "id",
			OnDelete:        database.ActionCascade,
		},
		{
			Table:           "post_tags",
			Column:          "tag_id",
			ReferenceTable:  "tags",
			ReferenceColumn: "id",
			OnDelete:        database.ActionCascade,
		},
	}
}
