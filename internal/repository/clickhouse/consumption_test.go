package clickhouse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/period"
)

func TestBuildWhere(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filters  consumption.Filters
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "window only",
			wantSQL:  "from_date < ? AND greatest(to_date, from_date + INTERVAL 1 DAY) > ?",
			wantArgs: []interface{}{to, from},
		},
		{
			name:     "region and type",
			filters:  consumption.Filters{Region: "EU-West", ResourceType: "Compute"},
			wantSQL:  "from_date < ? AND greatest(to_date, from_date + INTERVAL 1 DAY) > ? AND lower(region) = ? AND lower(resource_type) = ?",
			wantArgs: []interface{}{to, from, "eu-west", "compute"},
		},
		{
			name:     "tag pair",
			filters:  consumption.Filters{Tag: "env=prod"},
			wantSQL:  "from_date < ? AND greatest(to_date, from_date + INTERVAL 1 DAY) > ? AND mapContains(tags, ?) AND tags[?] = ?",
			wantArgs: []interface{}{to, from, "env", "env", "prod"},
		},
		{
			name:     "tag key",
			filters:  consumption.Filters{Service: "S3", Tag: "team"},
			wantSQL:  "from_date < ? AND greatest(to_date, from_date + INTERVAL 1 DAY) > ? AND lower(service) = ? AND mapContains(tags, ?)",
			wantArgs: []interface{}{to, from, "s3", "team"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildWhere(consumption.Query{
				Window:      period.NewWindow(from, to),
				Granularity: period.Day,
				Filters:     tt.filters,
			})
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestPageOrder_CoversEveryColumn(t *testing.T) {
	columns := []string{
		"resource_type", "service", "operation", "region", "tags",
		"from_date", "to_date", "quantity", "unit_price", "currency",
	}
	for _, col := range columns {
		assert.Contains(t, pageOrder, col, "ORDER BY misses %s", col)
	}
	assert.True(t, strings.HasPrefix(pageOrder, "from_date, "), "pages stay chronological")
}
