package clickhouse

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"costtrend/internal/domain/consumption"
	"costtrend/internal/metrics"
	"costtrend/pkg/clickhouse"
	"costtrend/pkg/errors"
	"costtrend/pkg/logger"
)

const consumptionTable = "consumption_records"

// pageOrder sorts on every selected column so OFFSET pages neither overlap nor skip rows.
// Maps are not comparable and sort by their hash; rows tied on all of it are interchangeable.
const pageOrder = "from_date, resource_type, region, service, operation, to_date, " +
	"quantity, unit_price, currency, cityHash64(mapKeys(tags), mapValues(tags))"

const createConsumptionTable = `
	CREATE TABLE IF NOT EXISTS consumption_records (
		resource_type LowCardinality(String),
		service       LowCardinality(String),
		operation     String,
		region        LowCardinality(String),
		tags          Map(String, String),
		from_date     DateTime64(3, 'UTC'),
		to_date       DateTime64(3, 'UTC'),
		quantity      Float64,
		unit_price    Float64,
		currency      LowCardinality(String),
		ingested_at   DateTime DEFAULT now()
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(from_date)
	ORDER BY (region, resource_type, from_date)
`

// ConsumptionRepository serves consumption records from ClickHouse page by page and
// ingests new records through a batch writer.
type ConsumptionRepository struct {
	conn     driver.Conn
	pageSize int
	writer   *clickhouse.BatchWriter[*consumption.Record]
	log      *logger.Logger
}

// NewConsumptionRepository creates a new consumption repository
func NewConsumptionRepository(conn driver.Conn, pageSize int, log *logger.Logger) *ConsumptionRepository {
	if pageSize <= 0 {
		pageSize = 5000
	}
	repo := &ConsumptionRepository{
		conn:     conn,
		pageSize: pageSize,
		log:      log.With("repository", "consumption"),
	}

	repo.writer = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[*consumption.Record]{
		FlushFunc:    repo.flushBatch,
		Table:        consumptionTable,
		MaxBatchSize: 1000,
		MaxAge:       5 * time.Second,
		Logger:       log,
	})

	return repo
}

// EnsureSchema creates the consumption table when missing
func (r *ConsumptionRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, createConsumptionTable); err != nil {
		return errors.Wrap(err, "failed to create consumption table")
	}
	return nil
}

// Start begins the background flush loop
func (r *ConsumptionRepository) Start(ctx context.Context) {
	r.writer.Start(ctx)
}

// Stop flushes pending records
func (r *ConsumptionRepository) Stop(ctx context.Context) error {
	return r.writer.Stop(ctx)
}

// Store buffers records for insertion
func (r *ConsumptionRepository) Store(ctx context.Context, records ...*consumption.Record) error {
	return r.writer.Add(ctx, records...)
}

// Flush writes buffered records immediately
func (r *ConsumptionRepository) Flush(ctx context.Context) error {
	return r.writer.Flush(ctx)
}

func (r *ConsumptionRepository) flushBatch(ctx context.Context, batch []*consumption.Record) error {
	start := time.Now()

	stmt, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO consumption_records (
			resource_type, service, operation, region, tags,
			from_date, to_date, quantity, unit_price, currency
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for _, rec := range batch {
		tags := rec.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		if err := stmt.Append(
			rec.ResourceType, rec.Service, rec.Operation, rec.Region, tags,
			rec.From, rec.To, rec.Quantity, rec.UnitPrice, rec.Currency,
		); err != nil {
			return errors.Wrap(err, "failed to append to batch")
		}
	}

	err = stmt.Send()
	metrics.RecordDBQuery("clickhouse", "insert_consumption", time.Since(start), err)
	if err != nil {
		return errors.Wrap(err, "failed to send batch")
	}
	return nil
}

// FetchPage implements consumption.PagedSource. The page token is the row offset.
func (r *ConsumptionRepository) FetchPage(ctx context.Context, q consumption.Query, pageToken string) (*consumption.Page, error) {
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, errors.NewValidationError("page_token", "must be a non-negative offset", pageToken)
		}
		offset = n
	}

	where, args := buildWhere(q)
	start := time.Now()

	var rows []consumption.Record
	query := `
		SELECT resource_type, service, operation, region, tags,
		       from_date, to_date, quantity, unit_price, currency
		FROM consumption_records
		WHERE ` + where + `
		ORDER BY ` + pageOrder + `
		LIMIT ? OFFSET ?
	`
	err := r.conn.Select(ctx, &rows, query, append(args, r.pageSize+1, offset)...)
	metrics.RecordDBQuery("clickhouse", "select_consumption", time.Since(start), err)
	if err != nil {
		return nil, errors.Join(errors.ErrUpstreamUnavailable, errors.Wrap(err, "failed to query consumption"))
	}

	page := &consumption.Page{}
	if len(rows) > r.pageSize {
		rows = rows[:r.pageSize]
		page.NextToken = strconv.Itoa(offset + r.pageSize)
	}

	page.Records = make([]*consumption.Record, len(rows))
	for i := range rows {
		page.Records[i] = &rows[i]
	}

	if offset == 0 && page.NextToken != "" {
		total, err := r.count(ctx, where, args)
		if err != nil {
			r.log.Warnw("Failed to estimate consumption page count", "error", err)
		} else {
			page.EstimatedPages = int((total + uint64(r.pageSize) - 1) / uint64(r.pageSize))
		}
	}

	return page, nil
}

func (r *ConsumptionRepository) count(ctx context.Context, where string, args []interface{}) (uint64, error) {
	var total uint64
	row := r.conn.QueryRow(ctx, `SELECT count() FROM consumption_records WHERE `+where, args...)
	if err := row.Scan(&total); err != nil {
		return 0, errors.Wrap(err, "failed to count consumption")
	}
	return total, nil
}

// buildWhere renders the window and filters of q as a WHERE clause with positional args
func buildWhere(q consumption.Query) (string, []interface{}) {
	conds := []string{"from_date < ?", "greatest(to_date, from_date + INTERVAL 1 DAY) > ?"}
	args := []interface{}{q.Window.To, q.Window.From}

	f := q.Filters
	if f.Region != "" {
		conds = append(conds, "lower(region) = ?")
		args = append(args, strings.ToLower(f.Region))
	}
	if f.ResourceType != "" {
		conds = append(conds, "lower(resource_type) = ?")
		args = append(args, strings.ToLower(f.ResourceType))
	}
	if f.Service != "" {
		conds = append(conds, "lower(service) = ?")
		args = append(args, strings.ToLower(f.Service))
	}
	if f.Tag != "" {
		key, value, hasValue := f.TagPair()
		conds = append(conds, "mapContains(tags, ?)")
		args = append(args, key)
		if hasValue {
			conds = append(conds, "tags[?] = ?")
			args = append(args, key, value)
		}
	}

	return strings.Join(conds, " AND "), args
}
