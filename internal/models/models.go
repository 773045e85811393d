package models

import (
	"time"
)

// TargetType says whether a reaction or bookmark points at a post or a reply.
type TargetType string

const (
	TargetPost  TargetType = "post"
	TargetReply TargetType = "reply"
)

// Valid reports whether t is one of the two known target types.
func (t TargetType) Valid() bool {
	return t == TargetPost || t == TargetReply
}

// PostStatus controls listing visibility. Only public posts appear in feeds.
type PostStatus string

const (
	StatusPublic   PostStatus = "public"
	StatusPrivate  PostStatus = "private"
	StatusArchived PostStatus = "archived"
)

// Vote values as stored in the reactions table.
const (
	ValueUp   = 1
	ValueDown = -1
)

// Post is a discussion thread root. Upvotes, Downvotes, Score and ReplyCount
// are derived columns: only the reactions aggregator and the reply creation
// path write them.
type Post struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	AuthorID    uint       `gorm:"not null;index" json:"authorId"`
	CategoryID  *uint      `gorm:"index" json:"categoryId"`
	Title       string     `gorm:"not null" json:"title"`
	Content     string     `gorm:"type:text;not null" json:"content"`
	Tags        []string   `gorm:"serializer:json" json:"tags"`
	CatalogRef  string     `gorm:"index" json:"catalogRef"` // external catalog item this post discusses
	Status      PostStatus `gorm:"not null;default:public;index" json:"status"`
	ScheduledAt *time.Time `json:"scheduledAt"`
	Views       int64      `gorm:"not null;default:0" json:"views"`
	Upvotes     int64      `gorm:"not null;default:0" json:"upvotes"`
	Downvotes   int64      `gorm:"not null;default:0" json:"downvotes"`
	Score       int64      `gorm:"not null;default:0;index" json:"score"`
	ReplyCount  int64      `gorm:"not null;default:0" json:"replyCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Reply is a comment on a post. ParentReplyID is nil for top-level replies;
// when set, the parent must belong to the same post.
type Reply struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	PostID        uint      `gorm:"not null;index" json:"postId"`
	ParentReplyID *uint     `gorm:"index" json:"parentReplyId"`
	AuthorID      uint      `gorm:"not null;index" json:"authorId"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	Upvotes       int64     `gorm:"not null;default:0" json:"upvotes"`
	Downvotes     int64     `gorm:"not null;default:0" json:"downvotes"`
	Score         int64     `gorm:"not null;default:0" json:"score"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Reaction is one user's current vote on one target. The composite unique
// index makes mutual exclusivity structural: there is at most one row per
// (user, target), holding +1 or -1. No row means no reaction.
type Reaction struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	UserID     uint       `gorm:"not null;index;uniqueIndex:idx_user_target_reaction" json:"userId"`
	TargetType TargetType `gorm:"not null;uniqueIndex:idx_user_target_reaction" json:"targetType"`
	TargetID   uint       `gorm:"not null;index;uniqueIndex:idx_user_target_reaction" json:"targetId"`
	Value      int        `gorm:"not null" json:"value"` // ValueUp or ValueDown
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Bookmark marks a target as saved by a user, independent of any reaction.
type Bookmark struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	UserID     uint       `gorm:"not null;index;uniqueIndex:idx_user_target_bookmark" json:"userId"`
	TargetType TargetType `gorm:"not null;uniqueIndex:idx_user_target_bookmark" json:"targetType"`
	TargetID   uint       `gorm:"not null;index;uniqueIndex:idx_user_target_bookmark" json:"targetId"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Aggregate is the derived vote triple readers observe for a target.
type Aggregate struct {
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
	Score     int64 `json:"score"`
}
