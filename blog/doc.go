// Package blog is a small domain built on the repository package: blogs,
// posts and tags, with repositories that read relations eagerly.
package blog
