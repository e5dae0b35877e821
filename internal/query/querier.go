package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"Go2FlowSpectra/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// TotalsRequest selects the counters summed by Totals.
type TotalsRequest struct {
	Collector string
	Since     time.Time
	Until     time.Time
}

// Total is one counter summed over the requested window.
type Total struct {
	Metric string
	Name   string
	Value  float64
}

// HistoryRequest selects the samples returned by History.
type HistoryRequest struct {
	Metric string
	Tags   map[string]string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Point is one stored sample.
type Point struct {
	Time  time.Time
	Value float64
}

// Querier reads the flow_stats table written by the ClickHouse writer.
type Querier interface {
	Totals(ctx context.Context, req TotalsRequest) ([]Total, error)
	History(ctx context.Context, req HistoryRequest) ([]Point, error)
	Close() error
}

// tagKeys are the tags a history query may filter on.
var tagKeys = map[string]bool{
	"name": true, "ip": true, "port": true, "qtype": true, "transport": true, "direction": true,
}

type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func timeRange(where []string, args []interface{}, since, until time.Time) ([]string, []interface{}) {
	if !since.IsZero() {
		where = append(where, "Timestamp >= ?")
		args = append(args, since)
	}
	if !until.IsZero() {
		where = append(where, "Timestamp <= ?")
		args = append(args, until)
	}
	return where, args
}

// totalsQuery sums interval counters, which add up to the window total.
func totalsQuery(req TotalsRequest) (string, []interface{}) {
	where := []string{"Type = 'c'"}
	var args []interface{}
	if req.Collector != "" {
		where = append(where, "Collector = ?")
		args = append(args, req.Collector)
	}
	where, args = timeRange(where, args, req.Since, req.Until)

	var b strings.Builder
	b.WriteString("SELECT Metric, Tags['name'] AS Name, sum(Value) AS Total FROM flow_stats")
	b.WriteString(" WHERE " + strings.Join(where, " AND "))
	b.WriteString(" GROUP BY Metric, Name ORDER BY Metric, Total DESC")
	return b.String(), args
}

func historyQuery(req HistoryRequest) (string, []interface{}, error) {
	if req.Metric == "" {
		return "", nil, fmt.Errorf("a metric name is required")
	}
	where := []string{"Metric = ?"}
	args := []interface{}{req.Metric}

	keys := make([]string, 0, len(req.Tags))
	for k := range req.Tags {
		if !tagKeys[k] {
			return "", nil, fmt.Errorf("unsupported tag: %s", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		where = append(where, fmt.Sprintf("Tags['%s'] = ?", k))
		args = append(args, req.Tags[k])
	}
	where, args = timeRange(where, args, req.Since, req.Until)

	var b strings.Builder
	b.WriteString("SELECT Timestamp, sum(Value) FROM flow_stats")
	b.WriteString(" WHERE " + strings.Join(where, " AND "))
	b.WriteString(" GROUP BY Timestamp ORDER BY Timestamp")
	if req.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", req.Limit)
	}
	return b.String(), args, nil
}

// Totals sums every counter per metric and server name.
func (q *clickhouseQuerier) Totals(ctx context.Context, req TotalsRequest) ([]Total, error) {
	sql, args := totalsQuery(req)
	rows, err := q.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var totals []Total
	for rows.Next() {
		var t Total
		if err := rows.Scan(&t.Metric, &t.Name, &t.Value); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// History returns the samples of one metric, summed across the rows that
// match the tag filter.
func (q *clickhouseQuerier) History(ctx context.Context, req HistoryRequest) ([]Point, error) {
	sql, args, err := historyQuery(req)
	if err != nil {
		return nil, err
	}
	rows, err := q.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Time, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}
