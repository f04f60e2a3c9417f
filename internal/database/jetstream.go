package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"urlshortener/internal/types"
)

const (
	kvCodePrefix = "code."
	kvURLPrefix  = "url."
	kvSeqKey     = "meta.seq"
)

// JetStreamStore keeps links in a NATS JetStream key-value bucket.
// Uniqueness relies on KeyValue.Create; counters use revision-checked updates.
type JetStreamStore struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
}

func ConnectJetStream(ctx context.Context, natsURL, bucket string) (*JetStreamStore, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open bucket %q: %w", bucket, err)
	}

	return &JetStreamStore{conn: conn, kv: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	bucket, err := js.KeyValue(ctx, name)
	if err == nil {
		return bucket, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "short code to link records",
	})
}

// urlKey hashes the URL because KV keys are restricted to a small alphabet.
func urlKey(originalURL string) string {
	sum := sha256.Sum256([]byte(originalURL))
	return kvURLPrefix + hex.EncodeToString(sum[:])
}

func codeKey(code string) string { return kvCodePrefix + code }

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *JetStreamStore) CreateLink(ctx context.Context, link *types.Link) error {
	id, err := s.nextID(ctx)
	if err != nil {
		return err
	}
	link.ID = id

	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}

	if _, err := s.kv.Create(ctx, codeKey(link.ShortCode), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s", types.ErrShortCodeTaken, link.ShortCode)
		}
		return fmt.Errorf("failed to store link: %w", err)
	}

	if _, err := s.kv.Create(ctx, urlKey(link.OriginalURL), []byte(link.ShortCode)); err != nil {
		_ = s.kv.Delete(ctx, codeKey(link.ShortCode))
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s", types.ErrOriginalURLTaken, link.OriginalURL)
		}
		return fmt.Errorf("failed to index original url: %w", err)
	}
	return nil
}

// nextID bumps the sequence key with a compare-and-swap loop.
func (s *JetStreamStore) nextID(ctx context.Context) (int64, error) {
	for {
		entry, err := s.kv.Get(ctx, kvSeqKey)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			if _, err := s.kv.Create(ctx, kvSeqKey, []byte("1")); err == nil {
				return 1, nil
			} else if !isRevisionConflict(err) {
				return 0, fmt.Errorf("failed to init id sequence: %w", err)
			}
		case err != nil:
			return 0, fmt.Errorf("failed to read id sequence: %w", err)
		default:
			cur, err := strconv.ParseInt(string(entry.Value()), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("corrupt id sequence: %w", err)
			}
			next := cur + 1
			if _, err := s.kv.Update(ctx, kvSeqKey, []byte(strconv.FormatInt(next, 10)), entry.Revision()); err == nil {
				return next, nil
			} else if !isRevisionConflict(err) {
				return 0, fmt.Errorf("failed to bump id sequence: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}

func (s *JetStreamStore) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := s.kv.Get(ctx, codeKey(code))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check short code existence: %w", err)
	}
	return true, nil
}

func (s *JetStreamStore) getEntry(ctx context.Context, code string) (*types.Link, uint64, error) {
	entry, err := s.kv.Get(ctx, codeKey(code))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("%w: short_code = %q", types.ErrNotFound, code)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get link: %w", err)
	}

	var link types.Link
	if err := json.Unmarshal(entry.Value(), &link); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal link: %w", err)
	}
	return &link, entry.Revision(), nil
}

func (s *JetStreamStore) GetLinkByCode(ctx context.Context, code string) (*types.Link, error) {
	link, _, err := s.getEntry(ctx, code)
	return link, err
}

func (s *JetStreamStore) GetLinkByOriginalURL(ctx context.Context, originalURL string) (*types.Link, error) {
	entry, err := s.kv.Get(ctx, urlKey(originalURL))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: original_url = %q", types.ErrNotFound, originalURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get url index: %w", err)
	}
	return s.GetLinkByCode(ctx, string(entry.Value()))
}

func (s *JetStreamStore) IncrementVisits(ctx context.Context, code string) (*types.Link, error) {
	for {
		link, rev, err := s.getEntry(ctx, code)
		if err != nil {
			return nil, err
		}
		link.VisitCount++

		data, err := json.Marshal(link)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal link: %w", err)
		}
		if _, err := s.kv.Update(ctx, codeKey(code), data, rev); err == nil {
			return link, nil
		} else if !isRevisionConflict(err) {
			return nil, fmt.Errorf("failed to store visit: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (s *JetStreamStore) UpdateLink(ctx context.Context, code string, upd types.LinkUpdate) error {
	for {
		link, rev, err := s.getEntry(ctx, code)
		if err != nil {
			return err
		}
		oldURL := link.OriginalURL
		link.OriginalURL = upd.OriginalURL
		link.ShortCode = upd.ShortCode

		data, err := json.Marshal(link)
		if err != nil {
			return fmt.Errorf("failed to marshal link: %w", err)
		}

		urlChanged := oldURL != upd.OriginalURL
		if urlChanged {
			if _, err := s.kv.Create(ctx, urlKey(upd.OriginalURL), []byte(upd.ShortCode)); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					return fmt.Errorf("%w: %s", types.ErrOriginalURLTaken, upd.OriginalURL)
				}
				return fmt.Errorf("failed to index original url: %w", err)
			}
		}
		rollback := func() {
			if urlChanged {
				_ = s.kv.Delete(ctx, urlKey(upd.OriginalURL))
			}
		}

		if upd.ShortCode == code {
			if _, err := s.kv.Update(ctx, codeKey(code), data, rev); err != nil {
				rollback()
				if isRevisionConflict(err) {
					continue
				}
				return fmt.Errorf("failed to update link: %w", err)
			}
		} else {
			if _, err := s.kv.Create(ctx, codeKey(upd.ShortCode), data); err != nil {
				rollback()
				if errors.Is(err, jetstream.ErrKeyExists) {
					return fmt.Errorf("%w: %s", types.ErrShortCodeTaken, upd.ShortCode)
				}
				return fmt.Errorf("failed to store renamed link: %w", err)
			}
			if err := s.kv.Delete(ctx, codeKey(code), jetstream.LastRevision(rev)); err != nil {
				_ = s.kv.Delete(ctx, codeKey(upd.ShortCode))
				rollback()
				if isRevisionConflict(err) {
					continue
				}
				return fmt.Errorf("failed to remove old code: %w", err)
			}
		}

		if urlChanged {
			_ = s.kv.Delete(ctx, urlKey(oldURL))
		} else if upd.ShortCode != code {
			if _, err := s.kv.Put(ctx, urlKey(oldURL), []byte(upd.ShortCode)); err != nil {
				return fmt.Errorf("failed to re-point url index: %w", err)
			}
		}
		return nil
	}
}

func (s *JetStreamStore) DeleteLink(ctx context.Context, code string) error {
	for {
		link, rev, err := s.getEntry(ctx, code)
		if err != nil {
			return err
		}
		err = s.kv.Delete(ctx, codeKey(code), jetstream.LastRevision(rev))
		if err == nil {
			if err := s.kv.Delete(ctx, urlKey(link.OriginalURL)); err != nil {
				return fmt.Errorf("failed to delete url index: %w", err)
			}
			return nil
		}
		if !isRevisionConflict(err) {
			return fmt.Errorf("failed to delete link: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *JetStreamStore) codes(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var codes []string
	for _, k := range keys {
		if code, ok := strings.CutPrefix(k, kvCodePrefix); ok {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (s *JetStreamStore) ListLinks(ctx context.Context) ([]types.Link, error) {
	codes, err := s.codes(ctx)
	if err != nil {
		return nil, err
	}

	links := make([]types.Link, 0, len(codes))
	for _, code := range codes {
		link, err := s.GetLinkByCode(ctx, code)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, nil
}

func (s *JetStreamStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	links, err := s.ListLinks(ctx)
	if err != nil {
		return 0, err
	}

	var purged int64
	for _, link := range links {
		if !link.Expired(now) {
			continue
		}
		err := s.DeleteLink(ctx, link.ShortCode)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (s *JetStreamStore) Ping(ctx context.Context) error {
	if !s.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		return s.conn.FlushTimeout(time.Until(deadline))
	}
	return s.conn.FlushTimeout(2 * time.Second)
}

func (s *JetStreamStore) Close() error {
	s.conn.Close()
	return nil
}
