package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"urlshortener/internal/metrics"
	"urlshortener/internal/types"
)

//go:generate mockgen -destination=../mocks/mock_store.go -package=mocks urlshortener/internal/service LinkStore

const (
	// LinkTTL is the fixed lifetime stamped on every link at creation.
	LinkTTL = 48 * time.Hour

	DefaultMaxAttempts = 10
)

// LinkStore is the persistence port of the Shortener. Implementations report
// constraint failures with the sentinel errors in package types.
type LinkStore interface {
	CreateLink(ctx context.Context, link *types.Link) error
	ShortCodeExists(ctx context.Context, code string) (bool, error)
	GetLinkByCode(ctx context.Context, code string) (*types.Link, error)
	GetLinkByOriginalURL(ctx context.Context, originalURL string) (*types.Link, error)
	// IncrementVisits must add one to visit_count atomically.
	IncrementVisits(ctx context.Context, code string) (*types.Link, error)
	UpdateLink(ctx context.Context, code string, upd types.LinkUpdate) error
	DeleteLink(ctx context.Context, code string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	ListLinks(ctx context.Context) ([]types.Link, error)
}

type Option func(*Shortener)

func WithMaxAttempts(n int) Option {
	return func(s *Shortener) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Shortener) { s.now = now }
}

// WithExpiryEnforcement makes Resolve refuse links past their expires_at.
func WithExpiryEnforcement(enabled bool) Option {
	return func(s *Shortener) { s.enforceExpiry = enabled }
}

// Shortener is the link registry. It keeps no state of its own between calls;
// all coordination happens in the store.
type Shortener struct {
	store         LinkStore
	codes         CodeGenerator
	maxAttempts   int
	now           func() time.Time
	enforceExpiry bool
}

func NewShortener(store LinkStore, codes CodeGenerator, opts ...Option) *Shortener {
	s := &Shortener{
		store:       store,
		codes:       codes,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRequest struct {
	OriginalURL string
	CustomAlias string
	OwnerID     *int64
}

type UpdateRequest struct {
	OriginalURL string
	CustomAlias string
}

func (s *Shortener) Create(ctx context.Context, req CreateRequest) (*types.Link, error) {
	if req.OriginalURL == "" {
		return nil, newError(KindInvalidInput, "original url is required", nil)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	link := &types.Link{
		OriginalURL: req.OriginalURL,
		CreatedAt:   now,
		ExpiresAt:   now.Add(LinkTTL),
		OwnerID:     req.OwnerID,
	}

	if req.CustomAlias != "" {
		taken, err := s.store.ShortCodeExists(ctx, req.CustomAlias)
		if err != nil {
			return nil, translate(err)
		}
		if taken {
			return nil, newError(KindAliasConflict, fmt.Sprintf("alias %q already exists", req.CustomAlias), nil)
		}

		link.ShortCode = req.CustomAlias
		if err := s.store.CreateLink(ctx, link); err != nil {
			return nil, translate(err)
		}
		metrics.LinksCreated.WithLabelValues("alias").Inc()
		return link, nil
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.codes.NewCode()
		if err != nil {
			return nil, newError(KindInternal, "failed to generate short code", err)
		}

		taken, err := s.store.ShortCodeExists(ctx, code)
		if err != nil {
			return nil, translate(err)
		}
		if taken {
			metrics.CodeCollisions.Inc()
			slog.Debug("generated short code collided", "short_code", code, "attempt", attempt)
			continue
		}

		link.ShortCode = code
		err = s.store.CreateLink(ctx, link)
		if errors.Is(err, types.ErrShortCodeTaken) {
			// Lost a race with a concurrent create between check and insert.
			metrics.CodeCollisions.Inc()
			slog.Debug("generated short code taken at insert", "short_code", code, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, translate(err)
		}

		metrics.LinksCreated.WithLabelValues("generated").Inc()
		return link, nil
	}

	metrics.GenerationExhausted.Inc()
	slog.Error("short code generation exhausted", "attempts", s.maxAttempts)
	return nil, newError(KindGenerationExhausted,
		fmt.Sprintf("no free short code after %d attempts", s.maxAttempts), nil)
}

// Resolve returns the target of code and counts the visit.
func (s *Shortener) Resolve(ctx context.Context, code string) (string, error) {
	if s.enforceExpiry {
		link, err := s.store.GetLinkByCode(ctx, code)
		if err != nil {
			return "", translate(err)
		}
		if link.Expired(s.now()) {
			return "", newError(KindExpired, fmt.Sprintf("link %q expired at %s", code, link.ExpiresAt.Format(time.RFC3339)), nil)
		}
	}

	link, err := s.store.IncrementVisits(ctx, code)
	if err != nil {
		return "", translate(err)
	}
	metrics.LinksResolved.Inc()
	return link.OriginalURL, nil
}

func (s *Shortener) Delete(ctx context.Context, code string) error {
	if err := s.store.DeleteLink(ctx, code); err != nil {
		return translate(err)
	}
	return nil
}

// Update rewrites the target of code and optionally renames it. The new
// original url is not checked against other links here; the store's
// constraint is the only guard.
func (s *Shortener) Update(ctx context.Context, code string, req UpdateRequest) error {
	if req.OriginalURL == "" {
		return newError(KindInvalidInput, "original url is required", nil)
	}

	if _, err := s.store.GetLinkByCode(ctx, code); err != nil {
		return translate(err)
	}

	newCode := code
	if req.CustomAlias != "" && req.CustomAlias != code {
		taken, err := s.store.ShortCodeExists(ctx, req.CustomAlias)
		if err != nil {
			return translate(err)
		}
		if taken {
			return newError(KindAliasConflict, fmt.Sprintf("alias %q already exists", req.CustomAlias), nil)
		}
		newCode = req.CustomAlias
	}

	err := s.store.UpdateLink(ctx, code, types.LinkUpdate{
		OriginalURL: req.OriginalURL,
		ShortCode:   newCode,
	})
	if err != nil {
		return translate(err)
	}
	return nil
}

func (s *Shortener) Stats(ctx context.Context, code string) (*types.LinkStats, error) {
	link, err := s.store.GetLinkByCode(ctx, code)
	if err != nil {
		return nil, translate(err)
	}
	return &types.LinkStats{
		OriginalURL: link.OriginalURL,
		ShortCode:   link.ShortCode,
		VisitCount:  link.VisitCount,
		ExpiresAt:   link.ExpiresAt,
	}, nil
}

// SearchByOriginalURL finds the code for an exact (whitespace-trimmed) url.
func (s *Shortener) SearchByOriginalURL(ctx context.Context, originalURL string) (string, error) {
	link, err := s.store.GetLinkByOriginalURL(ctx, strings.TrimSpace(originalURL))
	if err != nil {
		return "", translate(err)
	}
	return link.ShortCode, nil
}

// Get returns the full record without counting a visit.
func (s *Shortener) Get(ctx context.Context, code string) (*types.Link, error) {
	link, err := s.store.GetLinkByCode(ctx, code)
	if err != nil {
		return nil, translate(err)
	}
	return link, nil
}

func (s *Shortener) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, translate(err)
	}
	metrics.LinksPurged.Add(float64(n))
	return n, nil
}

func (s *Shortener) Export(ctx context.Context) ([]types.Link, error) {
	links, err := s.store.ListLinks(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return links, nil
}

// Import stores a previously exported link under its original code, keeping
// created_at and visit_count. expires_at is recomputed from created_at.
func (s *Shortener) Import(ctx context.Context, link types.Link) (*types.Link, error) {
	if link.ShortCode == "" || link.OriginalURL == "" {
		return nil, newError(KindInvalidInput, "short code and original url are required", nil)
	}
	if link.VisitCount < 0 {
		return nil, newError(KindInvalidInput, "visit count must not be negative", nil)
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now()
	}
	link.CreatedAt = link.CreatedAt.UTC().Truncate(time.Microsecond)
	link.ExpiresAt = link.CreatedAt.Add(LinkTTL)
	link.ID = 0

	if err := s.store.CreateLink(ctx, &link); err != nil {
		return nil, translate(err)
	}
	return &link, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return newError(KindNotFound, ErrNotFound.Message, err)
	case errors.Is(err, types.ErrShortCodeTaken):
		return newError(KindAliasConflict, ErrAliasConflict.Message, err)
	case errors.Is(err, types.ErrOriginalURLTaken):
		return newError(KindDuplicateOriginalURL, ErrDuplicateOriginalURL.Message, err)
	}
	return newError(KindInternal, "storage failure", err)
}
