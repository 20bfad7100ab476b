// Package dbquery runs SQL on behalf of scripts and renders every outcome,
// including failures, as a JSON string the script can parse.
package dbquery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Config selects the database and how it is prepared.
type Config struct {
	DSN          string   `toml:"dsn"            env:"DSN"`
	MaxOpenConns int      `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	InitScripts  []string `toml:"init_scripts"   env:"INIT_SCRIPTS"`
}

// Pool is a shared SQLite handle safe for concurrent use.
type Pool struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens the database described by cfg. An in-memory database is pinned
// to a single connection; every new connection would otherwise see its own
// empty database.
func Open(cfg Config, log *zap.Logger) (*Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = MemoryDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", dsn, err)
	}
	if isMemory(dsn) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database %q: %w", dsn, err)
	}
	return &Pool{db: db, log: log.Named("db")}, nil
}

func isMemory(dsn string) bool {
	return dsn == MemoryDSN || strings.Contains(dsn, "mode=memory")
}

// DB exposes the underlying handle.
func (p *Pool) DB() *sql.DB { return p.db }

// Close closes the database.
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// RunScripts executes each SQL file in order.
func (p *Pool) RunScripts(ctx context.Context, paths []string) error {
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading init script: %w", err)
		}
		if _, err := p.db.ExecContext(ctx, string(src)); err != nil {
			return fmt.Errorf("running init script %s: %w", path, err)
		}
		p.log.Info("ran init script", zap.String("path", path))
	}
	return nil
}

type failure struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

type execResult struct {
	RowsAffected int64 `json:"rowsAffected"`
	Success      bool  `json:"success"`
}

// Unavailable is the result reported when no database is configured.
func Unavailable() string {
	return failed("Database not initialized")
}

func failed(msg string) string {
	data, _ := json.Marshal(failure{Error: msg})
	return string(data)
}

// Query runs query with the positional parameters encoded in paramsJSON and
// returns the outcome as JSON. It never returns an error: failures come back
// as {"error": ..., "success": false}.
//
// Statements starting with SELECT return an array of row objects. Anything
// else returns {"rowsAffected": n, "success": true}.
func (p *Pool) Query(ctx context.Context, query, paramsJSON string) string {
	if p == nil || p.db == nil {
		return Unavailable()
	}
	p.log.Debug("executing query", zap.String("sql", query), zap.String("params", paramsJSON))

	args, msg := bindParams(paramsJSON)
	if msg != "" {
		return failed(msg)
	}

	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return p.selectRows(ctx, query, args)
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return failed(fmt.Sprintf("Database query failed: %v", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return failed(fmt.Sprintf("Database query failed: %v", err))
	}
	data, _ := json.Marshal(execResult{RowsAffected: n, Success: true})
	return string(data)
}

func (p *Pool) selectRows(ctx context.Context, query string, args []any) string {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return failed(fmt.Sprintf("Database query failed: %v", err))
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return failed(fmt.Sprintf("Database query failed: %v", err))
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return failed(fmt.Sprintf("Database query failed: %v", err))
		}
		obj := make(map[string]any, len(columns))
		for i, col := range columns {
			obj[col] = columnValue(values[i])
		}
		results = append(results, obj)
	}
	if err := rows.Err(); err != nil {
		return failed(fmt.Sprintf("Database query failed: %v", err))
	}

	data, err := json.Marshal(results)
	if err != nil {
		return failed(fmt.Sprintf("JSON serialization failed: %v", err))
	}
	return string(data)
}

// columnValue maps a scanned SQLite value to its JSON form. Non-finite
// floats become 0.
func columnValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return x
	case bool:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return nil
	}
}

// bindParams decodes a JSON array into driver arguments. A non-empty second
// result is the error message to report.
func bindParams(paramsJSON string) ([]any, string) {
	trimmed := strings.TrimSpace(paramsJSON)
	if trimmed == "" {
		return nil, ""
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, "params must be an array"
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, "params must be an array"
	}

	args := make([]any, 0, len(list))
	for _, v := range list {
		switch x := v.(type) {
		case string:
			args = append(args, x)
		case json.Number:
			if i, err := x.Int64(); err == nil {
				args = append(args, i)
			} else if f, err := x.Float64(); err == nil {
				args = append(args, f)
			} else {
				return nil, "Invalid number type"
			}
		case bool:
			args = append(args, x)
		case nil:
			args = append(args, nil)
		default:
			return nil, "Unsupported parameter type"
		}
	}
	return args, ""
}
