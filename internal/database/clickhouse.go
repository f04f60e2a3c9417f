package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	clickmigrations "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/oschwald/geoip2-golang"
	"urlshortener/internal/types"
)

//go:embed migrations/clickhouse/*.sql
var migrationsClickHouseFS embed.FS

const (
	clickBufferSize    = 1000
	clickBatchSize     = 100
	clickFlushInterval = 5 * time.Second
	unknownLocation    = "Unknown"
)

// ClickSink persists a batch of enriched clicks.
type ClickSink func(ctx context.Context, rows []types.Analytic) error

// Analytics buffers redirect clicks and writes them to ClickHouse in batches.
type Analytics struct {
	db            *sql.DB
	sink          ClickSink
	clicksBuffer  chan types.ClickData
	geo           *geoip2.Reader
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
}

func ConnectClickHouse(ctx context.Context, addr, user, pass, dbName, geoPath string) (*Analytics, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
			Username: user,
			Password: pass,
		},
		DialTimeout: time.Second * 30,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	driver, err := clickmigrations.WithInstance(conn, &clickmigrations.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := runMigrations(migrationsClickHouseFS, "migrations/clickhouse", "clickhouse", driver); err != nil {
		_ = conn.Close()
		return nil, err
	}

	var geo *geoip2.Reader
	if geoPath != "" {
		geo, err = geoip2.Open(geoPath)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open geoip database: %w", err)
		}
	}

	a := NewAnalytics(nil, geo)
	a.db = conn
	a.sink = a.insertClicks
	return a, nil
}

// NewAnalytics builds an analytics pipeline around sink. geo may be nil, in
// which case every click is recorded with an unknown location.
func NewAnalytics(sink ClickSink, geo *geoip2.Reader) *Analytics {
	return &Analytics{
		sink:          sink,
		clicksBuffer:  make(chan types.ClickData, clickBufferSize),
		geo:           geo,
		batchSize:     clickBatchSize,
		flushInterval: clickFlushInterval,
	}
}

// Start runs the batching worker until ctx is cancelled. Buffered clicks are
// flushed before the worker exits.
func (a *Analytics) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.worker(ctx)
	}()
}

func (a *Analytics) worker(ctx context.Context) {
	var buffer []types.Analytic
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(buffer) == 0 {
			return
		}
		if err := a.sink(ctx, buffer); err != nil {
			slog.Warn("failed to record clicks", "error", err, "clicks", len(buffer))
		}
		buffer = nil
	}

	for {
		select {
		case data := <-a.clicksBuffer:
			buffer = append(buffer, a.enrich(data))
			if len(buffer) >= a.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
		drain:
			for {
				select {
				case data := <-a.clicksBuffer:
					buffer = append(buffer, a.enrich(data))
				default:
					break drain
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdownCtx)
			cancel()
			return
		}
	}
}

func (a *Analytics) enrich(data types.ClickData) types.Analytic {
	row := types.Analytic{
		ShortCode: data.ShortCode,
		Country:   unknownLocation,
		City:      unknownLocation,
		UserAgent: data.UserAgent,
		Referer:   data.Referer,
		ClickedAt: data.ClickedAt,
	}
	if a.geo == nil {
		return row
	}

	ip := net.ParseIP(data.IP)
	if ip == nil {
		return row
	}
	record, err := a.geo.City(ip)
	if err != nil {
		return row
	}
	if name, ok := record.City.Names["en"]; ok {
		row.City = name
	}
	if name, ok := record.Country.Names["en"]; ok {
		row.Country = name
	}
	return row
}

func (a *Analytics) insertClicks(ctx context.Context, rows []types.Analytic) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO clicks (short_code, country, city, user_agent, referer, clicked_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err = stmt.ExecContext(ctx, row.ShortCode, row.Country, row.City, row.UserAgent, row.Referer, row.ClickedAt)
		if err != nil {
			slog.Error("failed to exec insert for click", "error", err, "short_code", row.ShortCode)
			continue
		}
	}
	return tx.Commit()
}

// PushClick queues a click without blocking; clicks are dropped when the
// buffer is full.
func (a *Analytics) PushClick(data types.ClickData) {
	if data.ClickedAt.IsZero() {
		data.ClickedAt = time.Now().UTC()
	}
	select {
	case a.clicksBuffer <- data:
	default:
		slog.Warn("Analytics buffer full, dropping click data", "short_code", data.ShortCode)
	}
}

// Close waits for a started worker to drain, then releases the geo reader and
// the ClickHouse connection.
func (a *Analytics) Close() error {
	a.wg.Wait()
	if a.geo != nil {
		if err := a.geo.Close(); err != nil {
			return err
		}
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
