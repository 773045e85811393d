// Package feed merges a filtered, sorted post listing into a continuously
// growing sequence via keyset pagination. Cursors are position markers in a
// total order (sort key descending, id ascending tiebreak), never offsets,
// so inserts and deletes between fetches cannot skip an already-seen item or
// return one twice.
package feed

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sajalbasnet/chautari/internal/apperr"
	"github.com/sajalbasnet/chautari/internal/models"
)

// Sort names accepted by NextPage.
const (
	SortNewest      = "newest"
	SortMostViewed  = "mostViewed"
	SortMostLiked   = "mostLiked"
	SortMostReplies = "mostReplies"
)

// Filter is a conjunction: every set field must match.
type Filter struct {
	CategoryID *uint  `json:"categoryId"`
	AuthorID   *uint  `json:"authorId"`
	Tag        string `json:"tag"`
	Search     string `json:"search"`
	CatalogRef string `json:"catalogRef"`
}

// Page is one slice of the feed. NextCursor is nil once the listing is
// exhausted; it is never non-nil alongside an empty Items.
type Page struct {
	Items      []models.Post `json:"items"`
	NextCursor *string       `json:"nextCursor"`
}

// Paginator serves feed pages over the posts table.
type Paginator struct {
	db *gorm.DB

	// now is swappable for tests of the scheduledAt gate.
	now func() time.Time
}

func NewPaginator(db *gorm.DB) *Paginator {
	return &Paginator{db: db, now: time.Now}
}

// sortColumn maps a sort name to the column holding its key. Every sort
// orders by that column descending with id ascending as the documented
// tiebreak, which makes the ordering total.
func sortColumn(sortName string) (string, bool) {
	switch sortName {
	case SortNewest:
		return "created_at", true
	case SortMostViewed:
		return "views", true
	case SortMostLiked:
		return "score", true
	case SortMostReplies:
		return "reply_count", true
	}
	return "", false
}

func sortKeyOf(p *models.Post, sortName string) int64 {
	switch sortName {
	case SortMostViewed:
		return p.Views
	case SortMostLiked:
		return p.Score
	case SortMostReplies:
		return p.ReplyCount
	default: // SortNewest
		// Full nanosecond precision: rows keep whatever time.Now() produced,
		// and a truncated key would make the keyset predicate skip rows that
		// share the truncated value.
		return p.CreatedAt.UnixNano()
	}
}

// NextPage returns up to pageSize posts strictly after the cursor position
// under the requested ordering. Re-fetching the same cursor after a failure
// yields the same page, so the caller's concatenation stays duplicate-free.
func (p *Paginator) NextPage(ctx context.Context, f Filter, sortName string, cursorToken string, pageSize int) (Page, error) {
	col, ok := sortColumn(sortName)
	if !ok {
		return Page{}, apperr.Invalid("unknown sort")
	}
	if pageSize < 1 {
		return Page{}, apperr.Invalid("pageSize must be positive")
	}

	q := p.db.WithContext(ctx).Model(&models.Post{})

	// Visibility is part of the WHERE, not an afterthought over fetched rows:
	// filtering after paging would break page-size accounting.
	q = q.Where("status = ?", models.StatusPublic).
		Where("(scheduled_at IS NULL OR scheduled_at <= ?)", p.now())

	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if f.AuthorID != nil {
		q = q.Where("author_id = ?", *f.AuthorID)
	}
	if f.CatalogRef != "" {
		q = q.Where("catalog_ref = ?", f.CatalogRef)
	}
	if f.Tag != "" {
		// Tags are JSON-serialized; match the quoted element.
		q = q.Where(`tags LIKE ? ESCAPE '\'`, `%"`+escapeLike(f.Tag)+`"%`)
	}
	if f.Search != "" {
		like := "%" + escapeLike(f.Search) + "%"
		q = q.Where(`(title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`, like, like)
	}

	if cursorToken != "" {
		c, err := decodeCursor(cursorToken, sortName)
		if err != nil {
			return Page{}, err
		}
		key := keyArg(c.Key, sortName)
		q = q.Where("(("+col+" < ?) OR ("+col+" = ? AND id > ?))", key, key, c.ID)
	}

	var items []models.Post
	err := q.Order(col + " DESC, id ASC").Limit(pageSize).Find(&items).Error
	if err != nil {
		return Page{}, apperr.Storage(err)
	}

	page := Page{Items: items}
	if len(items) == pageSize {
		last := &items[len(items)-1]
		token := encodeCursor(cursor{
			Sort: sortName,
			Key:  sortKeyOf(last, sortName),
			ID:   last.ID,
		})
		page.NextCursor = &token
	}
	return page, nil
}

// escapeLike neutralizes LIKE metacharacters in user input so a search for
// "100%" matches the literal text instead of everything.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// keyArg turns the cursor's int64 key back into the value the column
// compares against. Timestamps travel as unix nanoseconds.
func keyArg(k int64, sortName string) interface{} {
	if sortName == SortNewest {
		return time.Unix(0, k).UTC()
	}
	return k
}
