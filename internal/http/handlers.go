package http

import (
	"errors"
	"html"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sajalbasnet/chautari/internal/apperr"
	"github.com/sajalbasnet/chautari/internal/bookmarks"
	"github.com/sajalbasnet/chautari/internal/feed"
	"github.com/sajalbasnet/chautari/internal/models"
	"github.com/sajalbasnet/chautari/internal/reactions"
	"github.com/sajalbasnet/chautari/internal/thread"
	"github.com/sajalbasnet/chautari/internal/ws"
)

// --- Configuration Constants ---
const (
	maxTitleLength   = 200
	maxContentLength = 10000
	maxTags          = 5
	rateLimitRPS     = 1.0 / 3.0 // 1 request every 3 seconds
	rateLimitBurst   = 1

	defaultReplyDepth = 4
	defaultPageSize   = 10
	maxPageSize       = 50
)

// Sanitizer cleans user-submitted text before storage. Real sanitization is
// a collaborator concern; the default just escapes HTML.
type Sanitizer interface {
	Sanitize(raw string) string
}

type htmlEscaper struct{}

func (htmlEscaper) Sanitize(raw string) string { return html.EscapeString(raw) }

// Env wires the handlers to their services.
type Env struct {
	DB        *gorm.DB
	Hub       *ws.Hub
	Reactions *reactions.Service
	Bookmarks *bookmarks.Registry
	Feed      *feed.Paginator
	Sanitizer Sanitizer

	MaxReplyDepth int
	PageSize      int
}

func NewEnv(db *gorm.DB, hub *ws.Hub) *Env {
	return &Env{
		DB:            db,
		Hub:           hub,
		Reactions:     reactions.NewService(db),
		Bookmarks:     bookmarks.NewRegistry(db),
		Feed:          feed.NewPaginator(db),
		Sanitizer:     htmlEscaper{},
		MaxReplyDepth: envInt("MAX_REPLY_DEPTH", defaultReplyDepth),
		PageSize:      envInt("FEED_PAGE_SIZE", defaultPageSize),
	}
}

// envInt reads a positive integer from the environment, falling back on the
// default when the variable is unset or unusable.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		log.Printf("ignoring %s=%q: want a positive integer", name, raw)
		return fallback
	}
	return n
}

// respondErr maps taxonomy errors to their status; anything unexpected is
// logged here at the boundary and reported as a 500.
func respondErr(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("unhandled error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// --- Structs for request binding ---

type CreatePostInput struct {
	Title       string     `json:"title" binding:"required,min=1,max=200"`
	Content     string     `json:"content" binding:"required,min=1,max=10000"`
	Tags        []string   `json:"tags" binding:"max=5"`
	CategoryID  *uint      `json:"categoryId"`
	CatalogRef  string     `json:"catalogRef"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

type UpdatePostInput struct {
	Title       *string    `json:"title"`
	Content     *string    `json:"content"`
	Tags        *[]string  `json:"tags"`
	CategoryID  *uint      `json:"categoryId"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

type CreateReplyInput struct {
	Content       string `json:"content" binding:"required,min=1,max=10000"`
	ParentReplyID *uint  `json:"parentReplyId"`
}

type ReactionInput struct {
	TargetType models.TargetType `json:"targetType" binding:"required"`
	TargetID   uint              `json:"targetId" binding:"required"`
	Desired    string            `json:"desired" binding:"required,oneof=up down none"`
}

type BookmarkInput struct {
	TargetType models.TargetType `json:"targetType" binding:"required"`
	TargetID   uint              `json:"targetId" binding:"required"`
}

// --- Post handlers ---

func (e *Env) CreatePost(c *gin.Context) {
	userID := currentUser(c)
	if userID == 0 {
		respondErr(c, apperr.ErrUnauthorized)
		return
	}
	var input CreatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	post := models.Post{
		AuthorID:    userID,
		Title:       e.Sanitizer.Sanitize(input.Title),
		Content:     e.Sanitizer.Sanitize(input.Content),
		Tags:        input.Tags,
		CategoryID:  input.CategoryID,
		CatalogRef:  input.CatalogRef,
		ScheduledAt: input.ScheduledAt,
		Status:      models.StatusPublic,
	}
	if err := e.DB.Create(&post).Error; err != nil {
		respondErr(c, apperr.Storage(err))
		return
	}

	e.Hub.Send("new_post", post)
	c.JSON(http.StatusCreated, post)
}

func (e *Env) GetPost(c *gin.Context) {
	postID, err := paramID(c, "id")
	if err != nil {
		respondErr(c, err)
		return
	}
	userID := currentUser(c)

	var post models.Post
	if err := e.DB.First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondErr(c, apperr.ErrNotFound)
		} else {
			respondErr(c, apperr.Storage(err))
		}
		return
	}
	if post.Status != models.StatusPublic && post.AuthorID != userID {
		respondErr(c, apperr.ErrNotFound)
		return
	}

	// Views feeds the mostViewed sort; a lost race on the counter is fine.
	if err := e.DB.Model(&post).UpdateColumn("views", gorm.Expr("views + 1")).Error; err == nil {
		post.Views++
	}

	resp := gin.H{"post": post}
	if userID != 0 {
		target := reactions.Target{Type: models.TargetPost, ID: post.ID}
		if state, err := e.Reactions.Current(c.Request.Context(), userID, target); err == nil {
			resp["viewerReaction"] = state
		}
		if on, err := e.Bookmarks.IsBookmarked(c.Request.Context(), userID, target); err == nil {
			resp["viewerBookmarked"] = on
		}
	}
	c.JSON(http.StatusOK, resp)
}

// UpdatePost lets the author edit title, content, tags, category and
// schedule. Derived fields are not editable through any handler.
func (e *Env) UpdatePost(c *gin.Context) {
	userID := currentUser(c)
	if userID == 0 {
		respondErr(c, apperr.ErrUnauthorized)
		return
	}
	postID, err := paramID(c, "id")
	if err != nil {
		respondErr(c, err)
		return
	}
	var input UpdatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if input.Tags != nil && len(*input.Tags) > maxTags {
		respondErr(c, apperr.Invalid("at most 5 tags"))
		return
	}

	var post models.Post
	txErr := e.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound
			}
			return apperr.Storage(err)
		}
		if post.AuthorID != userID {
			return apperr.ErrUnauthorized
		}

		updates := map[string]interface{}{}
		if input.Title != nil {
			updates["title"] = e.Sanitizer.Sanitize(*input.Title)
		}
		if input.Content != nil {
			updates["content"] = e.Sanitizer.Sanitize(*input.Content)
		}
		if input.Tags != nil {
			updates["tags"] = *input.Tags
		}
		if input.CategoryID != nil {
			updates["category_id"] = *input.CategoryID
		}
		if input.ScheduledAt != nil {
			updates["scheduled_at"] = *input.ScheduledAt
		}
		if len(updates) == 0 {
			return apperr.Invalid("no editable fields given")
		}
		if err := tx.Model(&post).Updates(updates).Error; err != nil {
			return apperr.Storage(err)
		}
		return nil
	})
	if txErr != nil {
		respondErr(c, txErr)
		return
	}
	c.JSON(http.StatusOK, post)
}

// ArchivePost takes a post out of every listing. Admin-only.
func (e *Env) ArchivePost(c *gin.Context) {
	postID, err := paramID(c, "id")
	if err != nil {
		respondErr(c, err)
		return
	}
	res := e.DB.Model(&models.Post{}).Where("id = ?", postID).
		Update("status", models.StatusArchived)
	if res.Error != nil {
		respondErr(c, apperr.Storage(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		respondErr(c, apperr.ErrNotFound)
		return
	}

	e.Hub.Send("post_archived", gin.H{"id": postID})
	c.JSON(http.StatusOK, gin.H{"id": postID, "status": models.StatusArchived})
}

// --- Reply handlers ---

func (e *Env) CreateReply(c *gin.Context) {
	userID := currentUser(c)
	if userID == 0 {
		respondErr(c, apperr.ErrUnauthorized)
		return
	}
	postID, err := paramID(c, "id")
	if err != nil {
		respondErr(c, err)
		return
	}
	var input CreateReplyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	reply := models.Reply{
		PostID:        uint(postID),
		ParentReplyID: input.ParentReplyID,
		AuthorID:      userID,
		Content:       e.Sanitizer.Sanitize(input.Content),
	}
	txErr := e.DB.Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound
			}
			return apperr.Storage(err)
		}
		if input.ParentReplyID != nil {
			var parent models.Reply
			if err := tx.First(&parent, *input.ParentReplyID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.ErrNotFound
				}
				return apperr.Storage(err)
			}
			if parent.PostID != uint(postID) {
				return apperr.Invalid("parent reply belongs to another post")
			}
		}
		if err := tx.Create(&reply).Error; err != nil {
			return apperr.Storage(err)
		}
		// ReplyCount is derived; this is its only writer.
		if err := tx.Model(&post).UpdateColumn("reply_count", gorm.Expr("reply_count + 1")).Error; err != nil {
			return apperr.Storage(err)
		}
		return nil
	})
	if txErr != nil {
		respondErr(c, txErr)
		return
	}

	e.Hub.Send("new_reply", reply)
	c.JSON(http.StatusCreated, reply)
}

// GetReplies returns the post's replies as an ordered forest.
func (e *Env) GetReplies(c *gin.Context) {
	postID, err := paramID(c, "id")
	if err != nil {
		respondErr(c, err)
		return
	}

	var n int64
	if err := e.DB.Model(&models.Post{}).Where("id = ?", postID).Count(&n).Error; err != nil {
		respondErr(c, apperr.Storage(err))
		return
	}
	if n == 0 {
		respondErr(c, apperr.ErrNotFound)
		return
	}

	var replies []models.Reply
	if err := e.DB.Where("post_id = ?", postID).Find(&replies).Error; err != nil {
		respondErr(c, apperr.Storage(err))
		return
	}
	forest := thread.BuildTree(replies, e.MaxReplyDepth)
	if forest == nil {
		forest = []*thread.Node{}
	}
	c.JSON(http.StatusOK, gin.H{"replies": forest, "total": len(replies)})
}

// --- Reaction handlers ---

func (e *Env) SetReaction(c *gin.Context) {
	var input ReactionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	target := reactions.Target{Type: input.TargetType, ID: input.TargetID}
	res, err := e.Reactions.SetReaction(c.Request.Context(), currentUser(c), target, input.Desired)
	if err != nil {
		respondErr(c, err)
		return
	}

	e.Hub.Send("score", gin.H{
		"targetType": target.Type,
		"targetId":   target.ID,
		"aggregate":  res.Aggregate,
	})
	c.JSON(http.StatusOK, res)
}

func (e *Env) GetAggregate(c *gin.Context) {
	target, err := targetQuery(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	agg, err := e.Reactions.Aggregator().Get(c.Request.Context(), target)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// --- Bookmark handlers ---

func (e *Env) ToggleBookmark(c *gin.Context) {
	var input BookmarkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	target := reactions.Target{Type: input.TargetType, ID: input.TargetID}
	on, err := e.Bookmarks.Toggle(c.Request.Context(), currentUser(c), target)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarked": on})
}

func (e *Env) ListBookmarks(c *gin.Context) {
	targetType := models.TargetType(c.DefaultQuery("type", string(models.TargetPost)))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(e.PageSize)))
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	rows, err := e.Bookmarks.List(c.Request.Context(), currentUser(c), targetType, page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	if rows == nil {
		rows = []models.Bookmark{}
	}
	c.JSON(http.StatusOK, gin.H{"bookmarks": rows, "page": page})
}

// --- Feed handler ---

func (e *Env) GetFeed(c *gin.Context) {
	f := feed.Filter{
		Tag:        c.Query("tag"),
		Search:     c.Query("q"),
		CatalogRef: c.Query("ref"),
	}
	if raw := c.Query("category"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondErr(c, apperr.Invalid("malformed category id"))
			return
		}
		cid := uint(id)
		f.CategoryID = &cid
	}
	if raw := c.Query("author"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondErr(c, apperr.Invalid("malformed author id"))
			return
		}
		aid := uint(id)
		f.AuthorID = &aid
	}

	sortName := c.DefaultQuery("sort", feed.SortNewest)
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(e.PageSize)))
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	page, err := e.Feed.NextPage(c.Request.Context(), f, sortName, c.Query("cursor"), pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	if page.Items == nil {
		page.Items = []models.Post{}
	}
	c.JSON(http.StatusOK, page)
}

// --- helpers ---

func paramID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, apperr.Invalid("malformed id")
	}
	return uint(id), nil
}

func targetQuery(c *gin.Context) (reactions.Target, error) {
	tt := models.TargetType(c.Query("type"))
	if !tt.Valid() {
		return reactions.Target{}, apperr.Invalid("type must be post or reply")
	}
	id, err := strconv.ParseUint(c.Query("id"), 10, 32)
	if err != nil || id == 0 {
		return reactions.Target{}, apperr.Invalid("malformed id")
	}
	return reactions.Target{Type: tt, ID: uint(id)}, nil
}
