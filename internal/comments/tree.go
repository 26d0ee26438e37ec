// Package comments assembles the two-level comment tree of a post.
package comments

import (
	"sort"

	"socialsync/internal/models"
)

// Thread is a root comment with its direct replies, oldest reply first.
type Thread struct {
	models.Comment
	Replies []models.Comment `json:"replies"`
}

// Split partitions a flat result set into roots and replies.
func Split(all []models.Comment) (roots, replies []models.Comment) {
	for _, c := range all {
		if c.IsRoot() {
			roots = append(roots, c)
		} else {
			replies = append(replies, c)
		}
	}
	return roots, replies
}

// Assemble builds threads from roots and replies. Roots are ordered newest
// first. A reply whose parent is not one of the roots, or that belongs to a
// different post than its parent, is dropped. That also covers replies to
// replies. The tree never grows past one level.
func Assemble(roots, replies []models.Comment) []Thread {
	threads := make([]Thread, 0, len(roots))
	index := make(map[string]int, len(roots))
	for _, r := range roots {
		if !r.IsRoot() {
			continue
		}
		if _, dup := index[r.ID]; dup {
			continue
		}
		index[r.ID] = len(threads)
		threads = append(threads, Thread{Comment: r})
	}

	seen := make(map[string]bool, len(replies))
	for _, c := range replies {
		if c.IsRoot() || seen[c.ID] {
			continue
		}
		i, ok := index[*c.ParentCommentID]
		if !ok || c.PostID != threads[i].PostID {
			continue
		}
		seen[c.ID] = true
		threads[i].Replies = append(threads[i].Replies, c)
	}

	for i := range threads {
		sort.SliceStable(threads[i].Replies, func(a, b int) bool {
			ra, rb := threads[i].Replies[a], threads[i].Replies[b]
			if ra.CreatedAt.Equal(rb.CreatedAt) {
				return ra.ID < rb.ID
			}
			return ra.CreatedAt.Before(rb.CreatedAt)
		})
	}
	sort.SliceStable(threads, func(a, b int) bool {
		return threads[a].CreatedAt.After(threads[b].CreatedAt)
	})
	return threads
}

// Build splits a flat list and assembles it.
func Build(all []models.Comment) []Thread {
	return Assemble(Split(all))
}

// ValidateParent rejects a reply whose parent is itself a reply.
func ValidateParent(parent models.Comment, postID string) error {
	if !parent.IsRoot() {
		return models.NewMalformedError("replies can only target top-level comments", models.ErrMalformedReply)
	}
	if parent.PostID != postID {
		return models.NewMalformedError("reply parent belongs to a different post", models.ErrMalformedReply)
	}
	return nil
}
