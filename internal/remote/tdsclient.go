package remote

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// TdsConfig holds the parameters for Dataverse's TDS read endpoint, the same
// SQL-Server wire protocol a direct SQL Server connection speaks.
type TdsConfig struct {
	Server   string
	Port     int
	Database string
	User     string
	Password string
}

// TdsClient implements TdsExecutor over go-mssqldb, grounded on
// mysql.Connect's shape: build a DSN, open, ping, then cap the pool for a
// CLI-scale workload.
type TdsClient struct {
	db *sql.DB
}

// DialTds opens a TDS connection and verifies it with a ping.
func DialTds(cfg TdsConfig) (*TdsClient, error) {
	dsn := buildTdsDSN(cfg)

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("remote: opening tds connection: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("remote: pinging tds endpoint: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	return &TdsClient{db: db}, nil
}

// Close releases the underlying connection pool.
func (c *TdsClient) Close() error { return c.db.Close() }

func buildTdsDSN(cfg TdsConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 1433
	}
	query := url.Values{}
	query.Add("database", cfg.Database)
	query.Add("encrypt", "true")

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Server, port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// TdsExecuteSql implements TdsExecutor: a TDS passthrough SELECT, capped at
// maxRows (0 means unbounded) since §4.5.12 never auto-pages this path.
func (c *TdsClient) TdsExecuteSql(ctx context.Context, sqlText string, maxRows int64) (*TdsResult, error) {
	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("remote: tds query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("remote: reading tds columns: %w", err)
	}

	result := &TdsResult{}
	var count int64
	for rows.Next() {
		if maxRows > 0 && count >= maxRows {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("remote: scanning tds row: %w", err)
		}
		row := sqltypes.NewQueryRow("")
		for i, name := range cols {
			row.Set(name, sqltypes.QueryValue{Raw: values[i]})
		}
		result.Records = append(result.Records, row)
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("remote: iterating tds rows: %w", err)
	}
	return result, nil
}
