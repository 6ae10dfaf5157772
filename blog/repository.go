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
	"cmp"
	"context"
	"slices"

	"github.com/tomoncle/unitofwork/repository"
	"github.com/tomoncle/unitofwork/types"
)

// BlogRepository reads blogs together with their posts.
type BlogRepository struct {
	repository.EagerRepository[Blog]
}

// NewBlogRepository returns a BlogRepository staging into uow.
func NewBlogRepository(uow *repository.UnitOfWork) *BlogRepository {
	return &BlogRepository{repository.NewEagerRepository[Blog](uow)}
}

// GetWithPosts returns the blog with its posts, ordered by id.
func (r *BlogRepository) GetWithPosts(ctx context.Context, id int64) (*Blog, error) {
	blog, err := r.GetByIDWith(ctx, id, "Posts")
	if err != nil {
		return nil, err
	}
	sortPosts(blog.Posts)
	return blog, nil
}

// AllWithPosts returns every blog with its posts.
func (r *BlogRepository) AllWithPosts(ctx context.Context) ([]*Blog, error) {
	blogs, err := r.GetAllWith(ctx, "Posts")
	if err != nil {
		return nil, err
	}
	for _, blog := range blogs {
		sortPosts(blog.Posts)
	}
	return blogs, nil
}

// PostRepository reads posts with their tags and blog.
type PostRepository struct {
	repository.EagerRepository[Post]
}

// NewPostRepository returns a PostRepository staging into uow.
func NewPostRepository(uow *repository.UnitOfWork) *PostRepository {
	return &PostRepository{repository.NewEagerRepository[Post](uow)}
}

// GetWithTags returns the post with its blog and tags.
func (r *PostRepository) GetWithTags(ctx context.Context, id int64) (*Post, error) {
	return r.GetByIDWith(ctx, id, "Blog", "Tags")
}

// ByBlog returns the posts of a blog.
func (r *PostRepository) ByBlog(ctx context.Context, blogID int64) ([]*Post, error) {
	return r.List(ctx, types.NewQueryFilter("?TableAlias.blog_id = ?", blogID))
}

// Tag links post to tag. Both must already be persisted.
func (r *PostRepository) Tag(ctx context.Context, post *Post, tag *Tag) error {
	links := repository.NewRepository[PostTag](r.UnitOfWork())
	return links.Add(ctx, &PostTag{PostID: post.ID, TagID: tag.ID})
}

func sortPosts(posts []*Post) {
	slices.SortFunc(posts, func(a, b *Post) int { return cmp.Compare(a.ID, b.ID) })
}
