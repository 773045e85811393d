package feed

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sajalbasnet/chautari/internal/apperr"
	"github.com/sajalbasnet/chautari/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Post{}))
	return db
}

func testPaginator(db *gorm.DB) *Paginator {
	p := NewPaginator(db)
	p.now = func() time.Time { return base.Add(time.Hour) }
	return p
}

func seed(t *testing.T, db *gorm.DB, p models.Post) models.Post {
	t.Helper()
	if p.Status == "" {
		p.Status = models.StatusPublic
	}
	if p.Title == "" {
		p.Title = "t"
	}
	if p.Content == "" {
		p.Content = "c"
	}
	if p.AuthorID == 0 {
		p.AuthorID = 1
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

// drain follows cursors until exhaustion and returns all item ids in order.
func drain(t *testing.T, p *Paginator, f Filter, sortName string, pageSize int) ([]uint, []int) {
	t.Helper()
	var ids []uint
	var sizes []int
	cursor := ""
	for {
		page, err := p.NextPage(context.Background(), f, sortName, cursor, pageSize)
		require.NoError(t, err)
		if len(page.Items) == 0 {
			require.Nil(t, page.NextCursor, "empty page must not carry a cursor")
			break
		}
		sizes = append(sizes, len(page.Items))
		for i := range page.Items {
			ids = append(ids, page.Items[i].ID)
		}
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}
	return ids, sizes
}

func TestNewestPagination23Posts(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)
	for i := 0; i < 23; i++ {
		seed(t, db, models.Post{CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	ids, sizes := drain(t, p, Filter{}, SortNewest, 10)
	assert.Equal(t, []int{10, 10, 3}, sizes)
	require.Len(t, ids, 23)

	// Newest first, no duplicates, nothing skipped.
	seen := map[uint]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, 23)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i-1], ids[i]) // ids were created in time order
	}
}

// With every sort key equal, the id tiebreak alone must carry the ordering.
func TestTiebreakKeepsOrderTotal(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)
	for i := 0; i < 7; i++ {
		seed(t, db, models.Post{Score: 3, CreatedAt: base})
	}

	ids, _ := drain(t, p, Filter{}, SortMostLiked, 3)
	require.Len(t, ids, 7)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i]) // id ascending within equal keys
	}
}

func TestAllSortsDrainCompletely(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)
	for i := 0; i < 11; i++ {
		seed(t, db, models.Post{
			CreatedAt:  base.Add(time.Duration(i%4) * time.Second),
			Score:      int64(i % 3),
			Views:      int64(i % 2),
			ReplyCount: int64(i % 5),
		})
	}

	for _, sortName := range []string{SortNewest, SortMostViewed, SortMostLiked, SortMostReplies} {
		ids, _ := drain(t, p, Filter{}, sortName, 4)
		assert.Len(t, ids, 11, "sort %s dropped or duplicated items", sortName)
		seen := map[uint]bool{}
		for _, id := range ids {
			assert.False(t, seen[id], "sort %s returned id %d twice", sortName, id)
			seen[id] = true
		}
	}
}

func TestVisibilityExcludedBeforePaging(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)

	visible := seed(t, db, models.Post{CreatedAt: base})
	seed(t, db, models.Post{Status: models.StatusPrivate, CreatedAt: base})
	seed(t, db, models.Post{Status: models.StatusArchived, CreatedAt: base})
	future := base.Add(2 * time.Hour)
	seed(t, db, models.Post{ScheduledAt: &future, CreatedAt: base})
	past := base.Add(30 * time.Minute)
	scheduled := seed(t, db, models.Post{ScheduledAt: &past, CreatedAt: base})

	ids, _ := drain(t, p, Filter{}, SortNewest, 10)
	assert.ElementsMatch(t, []uint{visible.ID, scheduled.ID}, ids)
}

func TestConjunctionFilter(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)
	cat := uint(3)

	match := seed(t, db, models.Post{
		AuthorID:   9,
		CategoryID: &cat,
		Tags:       []string{"horror", "classic"},
		Title:      "midnight screening",
		CatalogRef: "tt0078748",
		CreatedAt:  base,
	})
	seed(t, db, models.Post{AuthorID: 9, CategoryID: &cat, Tags: []string{"comedy"}, CreatedAt: base})
	seed(t, db, models.Post{AuthorID: 2, Tags: []string{"horror"}, CreatedAt: base})

	ids, _ := drain(t, p, Filter{
		CategoryID: &cat,
		AuthorID:   &match.AuthorID,
		Tag:        "horror",
		Search:     "midnight",
		CatalogRef: "tt0078748",
	}, SortNewest, 10)
	assert.Equal(t, []uint{match.ID}, ids)
}

func TestExactPageBoundary(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)
	for i := 0; i < 20; i++ {
		seed(t, db, models.Post{CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	page1, err := p.NextPage(context.Background(), Filter{}, SortNewest, "", 10)
	require.NoError(t, err)
	require.NotNil(t, page1.NextCursor)

	page2, err := p.NextPage(context.Background(), Filter{}, SortNewest, *page1.NextCursor, 10)
	require.NoError(t, err)
	require.Len(t, page2.Items, 10)
	// A full final page still carries a cursor; the follow-up call comes
	// back empty with no cursor, never empty with one.
	require.NotNil(t, page2.NextCursor)

	page3, err := p.NextPage(context.Background(), Filter{}, SortNewest, *page2.NextCursor, 10)
	require.NoError(t, err)
	assert.Empty(t, page3.Items)
	assert.Nil(t, page3.NextCursor)
}

func TestRetrySameCursorIsIdempotent(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)
	for i := 0; i < 8; i++ {
		seed(t, db, models.Post{CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	first, err := p.NextPage(context.Background(), Filter{}, SortNewest, "", 5)
	require.NoError(t, err)
	require.NotNil(t, first.NextCursor)

	again, err := p.NextPage(context.Background(), Filter{}, SortNewest, *first.NextCursor, 5)
	require.NoError(t, err)
	retry, err := p.NextPage(context.Background(), Filter{}, SortNewest, *first.NextCursor, 5)
	require.NoError(t, err)

	require.Len(t, again.Items, 3)
	require.Len(t, retry.Items, 3)
	for i := range again.Items {
		assert.Equal(t, again.Items[i].ID, retry.Items[i].ID)
	}
}

func TestInsertBetweenPagesNeverSkipsSeenItems(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)
	for i := 0; i < 6; i++ {
		seed(t, db, models.Post{CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	page1, err := p.NextPage(context.Background(), Filter{}, SortNewest, "", 4)
	require.NoError(t, err)
	require.Len(t, page1.Items, 4)

	// A post inserted after the first fetch sorts before everything already
	// seen; it must not push seen items into page two.
	seed(t, db, models.Post{CreatedAt: base.Add(time.Minute)})

	page2, err := p.NextPage(context.Background(), Filter{}, SortNewest, *page1.NextCursor, 4)
	require.NoError(t, err)

	seen := map[uint]bool{}
	for i := range page1.Items {
		seen[page1.Items[i].ID] = true
	}
	for i := range page2.Items {
		assert.False(t, seen[page2.Items[i].ID], "item returned twice across pages")
	}
	assert.Len(t, page2.Items, 2)
}

// Rows keep whatever precision time.Now() produced; posts created within the
// same microsecond must still all come back across page boundaries.
func TestSubMicrosecondTimestampsNotSkipped(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)
	for i := 0; i < 6; i++ {
		seed(t, db, models.Post{CreatedAt: base.Add(time.Duration(i*100) * time.Nanosecond)})
	}

	ids, _ := drain(t, p, Filter{}, SortNewest, 2)
	require.Len(t, ids, 6, "items skipped across page boundaries")
	seen := map[uint]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i-1], ids[i]) // ids were created in time order
	}
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)

	literal := seed(t, db, models.Post{Title: "100% practical effects", CreatedAt: base})
	seed(t, db, models.Post{Title: "100 minutes long", CreatedAt: base})
	seed(t, db, models.Post{Title: "completely unrelated", CreatedAt: base})

	ids, _ := drain(t, p, Filter{Search: "100%"}, SortNewest, 10)
	assert.Equal(t, []uint{literal.ID}, ids)

	// Underscores in tag filters match literally too.
	tagged := seed(t, db, models.Post{Tags: []string{"sci_fi"}, CreatedAt: base})
	seed(t, db, models.Post{Tags: []string{"scifi"}, CreatedAt: base})
	ids, _ = drain(t, p, Filter{Tag: "sci_fi"}, SortNewest, 10)
	assert.Equal(t, []uint{tagged.ID}, ids)
}

func TestBadInputs(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)

	_, err := p.NextPage(context.Background(), Filter{}, "loudest", "", 10)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = p.NextPage(context.Background(), Filter{}, SortNewest, "!!!not-base64!!!", 10)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = p.NextPage(context.Background(), Filter{}, SortNewest, "", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	// A cursor minted under one sort cannot resume another.
	seed(t, db, models.Post{CreatedAt: base})
	seed(t, db, models.Post{CreatedAt: base.Add(time.Second)})
	page, err := p.NextPage(context.Background(), Filter{}, SortNewest, "", 1)
	require.NoError(t, err)
	require.NotNil(t, page.NextCursor)
	_, err = p.NextPage(context.Background(), Filter{}, SortMostLiked, *page.NextCursor, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestEmptyResultHasNilCursor(t *testing.T) {
	db := testDB(t)
	p := testPaginator(db)

	page, err := p.NextPage(context.Background(), Filter{}, SortNewest, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)
}
