package dbquery

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const usersSchema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL
);
INSERT INTO users (name, email) VALUES ('Alice', 'alice@example.com');
INSERT INTO users (name, email) VALUES ('Bob', 'bob@example.com');
`

func openUsers(t *testing.T) *Pool {
	t.Helper()
	script := filepath.Join(t.TempDir(), "schema.sql")
	require.NoError(t, os.WriteFile(script, []byte(usersSchema), 0o644))

	p, err := Open(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.RunScripts(context.Background(), []string{script}))
	return p
}

func TestQuery_SelectReturnsRowObjects(t *testing.T) {
	p := openUsers(t)

	out := p.Query(context.Background(), "SELECT id, name FROM users WHERE id = ?", "[1]")
	require.JSONEq(t, `[{"id":1,"name":"Alice"}]`, out)
}

func TestQuery_SelectStarKeepsColumnsAndTypes(t *testing.T) {
	p := openUsers(t)

	out := p.Query(context.Background(), "SELECT * FROM users WHERE id = ?", "[1]")
	require.JSONEq(t, `[{"id":1,"name":"Alice","email":"alice@example.com"}]`, out)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 3)
	require.IsType(t, float64(0), rows[0]["id"], "id must be a JSON number")
}

func TestQuery_SelectEmptyIsArray(t *testing.T) {
	p := openUsers(t)

	out := p.Query(context.Background(), "  select * from users where id = ?", `[99]`)
	require.Equal(t, "[]", out)
}

func TestQuery_InsertReportsRowsAffected(t *testing.T) {
	p := openUsers(t)
	ctx := context.Background()

	out := p.Query(ctx, "INSERT INTO users (name, email) VALUES (?, ?)", `["X","x@y"]`)
	require.Equal(t, `{"rowsAffected":1,"success":true}`, out)

	count := p.Query(ctx, "SELECT COUNT(*) AS total FROM users", "[]")
	require.JSONEq(t, `[{"total":3}]`, count)
}

func TestQuery_BindsByJSONType(t *testing.T) {
	p := openUsers(t)

	out := p.Query(context.Background(), "SELECT ? AS s, ? AS i, ? AS f, ? AS n", `["a", 7, 1.5, null]`)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "a", rows[0]["s"])
	require.EqualValues(t, 7, rows[0]["i"])
	require.EqualValues(t, 1.5, rows[0]["f"])
	require.Nil(t, rows[0]["n"])
}

func TestQuery_UnsupportedParamType(t *testing.T) {
	p := openUsers(t)

	out := p.Query(context.Background(), "SELECT ?", `[{"a":1}]`)
	require.Equal(t, `{"error":"Unsupported parameter type","success":false}`, out)

	out = p.Query(context.Background(), "SELECT ?", `[[1]]`)
	require.Equal(t, `{"error":"Unsupported parameter type","success":false}`, out)
}

func TestQuery_ParamsMustBeArray(t *testing.T) {
	p := openUsers(t)

	for _, params := range []string{`{"a":1}`, `"x"`, `null`, `not json`} {
		out := p.Query(context.Background(), "SELECT 1", params)
		require.Equal(t, `{"error":"params must be an array","success":false}`, out, params)
	}
}

func TestQuery_EmptyParamsMeansNone(t *testing.T) {
	p := openUsers(t)

	out := p.Query(context.Background(), "SELECT 1 AS one", "")
	require.JSONEq(t, `[{"one":1}]`, out)
}

func TestQuery_SQLErrorIsReported(t *testing.T) {
	p := openUsers(t)

	out := p.Query(context.Background(), "SELECT * FROM nope", "[]")
	var f struct {
		Error   string `json:"error"`
		Success bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &f))
	require.False(t, f.Success)
	require.Contains(t, f.Error, "Database query failed: ")

	out = p.Query(context.Background(), "UPDATE nope SET a = 1", "[]")
	require.NoError(t, json.Unmarshal([]byte(out), &f))
	require.Contains(t, f.Error, "Database query failed: ")
}

func TestQuery_NilPool(t *testing.T) {
	var p *Pool
	out := p.Query(context.Background(), "SELECT 1", "[]")
	require.Equal(t, `{"error":"Database not initialized","success":false}`, out)
}

func TestQuery_MemoryDatabaseIsShared(t *testing.T) {
	p, err := Open(Config{DSN: MemoryDSN}, nil)
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	require.Equal(t, `{"rowsAffected":0,"success":true}`, p.Query(ctx, "CREATE TABLE t (v TEXT)", ""))
	require.Equal(t, `{"rowsAffected":1,"success":true}`, p.Query(ctx, "INSERT INTO t VALUES (?)", `["x"]`))
	require.JSONEq(t, `[{"v":"x"}]`, p.Query(ctx, "SELECT v FROM t", ""))
}

func TestColumnValue_NonFiniteFloat(t *testing.T) {
	require.Equal(t, 0, columnValue(math.NaN()))
	require.Equal(t, 0, columnValue(math.Inf(1)))
	require.Equal(t, "b", columnValue([]byte("b")))
}
