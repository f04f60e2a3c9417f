package service_test

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"urlshortener/internal/database"
	"urlshortener/internal/service"
)

func newSQLiteShortener(t *testing.T, opts ...service.Option) *service.Shortener {
	t.Helper()
	store, err := database.ConnectSQLite(context.Background(), filepath.Join(t.TempDir(), "links.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gen, err := service.NewCodeGenerator(service.DefaultCodeLength)
	require.NoError(t, err)
	return service.NewShortener(store, gen, opts...)
}

func TestCreateResolveStatsScenario(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	link, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://a.com"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-Za-z]{6,8}$`), link.ShortCode)
	assert.Zero(t, link.VisitCount)
	assert.NotZero(t, link.ID)
	assert.Equal(t, service.LinkTTL, link.ExpiresAt.Sub(link.CreatedAt))

	target, err := s.Resolve(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, "https://a.com", target)

	stats, err := s.Stats(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.VisitCount)
	assert.Equal(t, "https://a.com", stats.OriginalURL)
	assert.True(t, link.ExpiresAt.Equal(stats.ExpiresAt))

	stored, err := s.Get(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.True(t, link.CreatedAt.Equal(stored.CreatedAt), "created_at round-trips: %s vs %s", link.CreatedAt, stored.CreatedAt)
	assert.Equal(t, service.LinkTTL, stored.ExpiresAt.Sub(stored.CreatedAt))
}

func TestConcurrentResolvesCountEveryVisit(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	link, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://a.com", CustomAlias: "hot-link"})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Resolve(ctx, link.ShortCode)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stats, err := s.Stats(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(n), stats.VisitCount)
}

func TestConcurrentCreatesWithSameAlias(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(ctx, service.CreateRequest{
				OriginalURL: fmt.Sprintf("https://a.com/%d", i),
				CustomAlias: "contested",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case service.KindOf(err) == service.KindAliasConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestConcurrentRenamesToSameAlias(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	const n = 20
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("link-%d", i)
		_, err := s.Create(ctx, service.CreateRequest{
			OriginalURL: fmt.Sprintf("https://rename.example/%d", i),
			CustomAlias: codes[i],
		})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Update(ctx, codes[i], service.UpdateRequest{
				OriginalURL: fmt.Sprintf("https://rename.example/%d", i),
				CustomAlias: "contested",
			})
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			assert.Equal(t, -1, winner, "more than one rename succeeded")
			winner = i
		case service.KindOf(err) == service.KindAliasConflict:
		default:
			t.Fatalf("unexpected error for %s: %v", codes[i], err)
		}
	}
	require.NotEqual(t, -1, winner, "no rename succeeded")

	got, err := s.Get(ctx, "contested")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("https://rename.example/%d", winner), got.OriginalURL)

	for i, code := range codes {
		_, err := s.Get(ctx, code)
		if i == winner {
			assert.ErrorIs(t, err, service.ErrNotFound)
			continue
		}
		assert.NoError(t, err, "losing rename keeps %s", code)
	}
}

func TestConcurrentGeneratedCodesAreUnique(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	const n = 50
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			link, err := s.Create(ctx, service.CreateRequest{OriginalURL: fmt.Sprintf("https://gen.example/%d", i)})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			codes[link.ShortCode] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, codes, n)
}

func TestOriginalURLUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	first, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://dup.example"})
	require.NoError(t, err)

	_, err = s.Create(ctx, service.CreateRequest{OriginalURL: "https://dup.example"})
	assert.ErrorIs(t, err, service.ErrDuplicateOriginalURL)

	_, err = s.Create(ctx, service.CreateRequest{OriginalURL: "https://dup.example", CustomAlias: "other"})
	assert.ErrorIs(t, err, service.ErrDuplicateOriginalURL)

	t.Run("update onto a taken url fails at the store", func(t *testing.T) {
		second, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://second.example"})
		require.NoError(t, err)

		err = s.Update(ctx, second.ShortCode, service.UpdateRequest{OriginalURL: "https://dup.example"})
		assert.ErrorIs(t, err, service.ErrDuplicateOriginalURL)

		got, err := s.Get(ctx, second.ShortCode)
		require.NoError(t, err)
		assert.Equal(t, "https://second.example", got.OriginalURL)

		code, err := s.SearchByOriginalURL(ctx, "https://dup.example")
		require.NoError(t, err)
		assert.Equal(t, first.ShortCode, code)
	})
}

func TestAliasEqualToExistingCodeConflicts(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	generated, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://a.com"})
	require.NoError(t, err)

	_, err = s.Create(ctx, service.CreateRequest{OriginalURL: "https://b.com", CustomAlias: generated.ShortCode})
	assert.ErrorIs(t, err, service.ErrAliasConflict)
}

func TestDeleteThenResolve(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	link, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://a.com"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, link.ShortCode))

	_, err = s.Resolve(ctx, link.ShortCode)
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, link.ShortCode), service.ErrNotFound)

	// The url is free again once its link is gone.
	_, err = s.Create(ctx, service.CreateRequest{OriginalURL: "https://a.com"})
	assert.NoError(t, err)
}

func TestSearchTrimsWhitespace(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	link, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://e.com/x"})
	require.NoError(t, err)

	code, err := s.SearchByOriginalURL(ctx, " https://e.com/x ")
	require.NoError(t, err)
	assert.Equal(t, link.ShortCode, code)

	_, err = s.SearchByOriginalURL(ctx, "https://e.com/y")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestUpdateKeepsCountersAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	link, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://a.com", CustomAlias: "before"})
	require.NoError(t, err)
	_, err = s.Resolve(ctx, "before")
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, "before", service.UpdateRequest{OriginalURL: "https://b.com", CustomAlias: "after"}))

	_, err = s.Get(ctx, "before")
	assert.ErrorIs(t, err, service.ErrNotFound)

	got, err := s.Get(ctx, "after")
	require.NoError(t, err)
	assert.Equal(t, "https://b.com", got.OriginalURL)
	assert.Equal(t, int64(1), got.VisitCount)
	assert.True(t, link.ExpiresAt.Equal(got.ExpiresAt))
	assert.True(t, link.CreatedAt.Equal(got.CreatedAt))
}

func TestRenameOntoTakenCodeLeavesBothUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteShortener(t)

	_, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://a.com", CustomAlias: "first"})
	require.NoError(t, err)
	_, err = s.Create(ctx, service.CreateRequest{OriginalURL: "https://b.com", CustomAlias: "second"})
	require.NoError(t, err)

	err = s.Update(ctx, "first", service.UpdateRequest{OriginalURL: "https://c.com", CustomAlias: "second"})
	assert.ErrorIs(t, err, service.ErrAliasConflict)

	first, err := s.Get(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, "https://a.com", first.OriginalURL)

	second, err := s.Get(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, "https://b.com", second.OriginalURL)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Add(-72 * time.Hour)
	s := newSQLiteShortener(t, service.WithClock(func() time.Time { return now }))

	_, err := s.Create(ctx, service.CreateRequest{OriginalURL: "https://old.example", CustomAlias: "old-one"})
	require.NoError(t, err)

	now = time.Now()
	_, err = s.Create(ctx, service.CreateRequest{OriginalURL: "https://new.example", CustomAlias: "new-one"})
	require.NoError(t, err)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "old-one")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = s.Get(ctx, "new-one")
	assert.NoError(t, err)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newSQLiteShortener(t)
	dst := newSQLiteShortener(t)

	_, err := src.Create(ctx, service.CreateRequest{OriginalURL: "https://a.com", CustomAlias: "alpha"})
	require.NoError(t, err)
	_, err = src.Create(ctx, service.CreateRequest{OriginalURL: "https://b.com"})
	require.NoError(t, err)
	_, err = src.Resolve(ctx, "alpha")
	require.NoError(t, err)

	links, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)

	for _, l := range links {
		_, err := dst.Import(ctx, l)
		require.NoError(t, err)
	}

	stats, err := dst.Stats(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.VisitCount)

	// Both unique columns collide; either constraint may be reported first.
	_, err = dst.Import(ctx, links[0])
	assert.Contains(t, []service.Kind{service.KindAliasConflict, service.KindDuplicateOriginalURL}, service.KindOf(err))
}
