// Package dbtest holds test doubles and container helpers for code built on
// db.Querier.
package dbtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call is one statement seen by Querier.
type Call struct {
	SQL  string
	Args []any
}

// Querier is an in-memory db.Querier. OnQuery serves Query and QueryRow,
// OnExec serves Exec; both default to empty results.
type Querier struct {
	OnQuery func(sql string, args []any) ([][]any, error)
	OnExec  func(sql string, args []any) (int64, error)

	mu    sync.Mutex
	calls []Call
}

func (q *Querier) record(sql string, args []any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, Call{SQL: sql, Args: args})
}

// Calls returns the statements executed so far.
func (q *Querier) Calls() []Call {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Call(nil), q.calls...)
}

// CallsTo returns the calls whose SQL (or prepared statement name) equals name.
func (q *Querier) CallsTo(name string) []Call {
	var out []Call
	for _, c := range q.Calls() {
		if c.SQL == name {
			out = append(out, c)
		}
	}
	return out
}

func (q *Querier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.record(sql, args)
	var n int64
	if q.OnExec != nil {
		var err error
		if n, err = q.OnExec(sql, args); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	verb := strings.ToUpper(strings.Fields(sql + " EXEC")[0])
	return pgconn.NewCommandTag(fmt.Sprintf("%s %d", verb, n)), nil
}

func (q *Querier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.record(sql, args)
	if q.OnQuery == nil {
		return &Rows{}, nil
	}
	data, err := q.OnQuery(sql, args)
	if err != nil {
		return nil, err
	}
	return &Rows{data: data}, nil
}

func (q *Querier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return errRow{err}
	}
	r := rows.(*Rows)
	if len(r.data) == 0 {
		return errRow{pgx.ErrNoRows}
	}
	return &Rows{data: r.data[:1], pos: 1}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// Rows serves fixed values. Scan assigns by reflection: nil clears the
// destination, otherwise the value must be assignable or convertible.
type Rows struct {
	data [][]any
	pos  int
	err  error
}

func (r *Rows) Close()                                       {}
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Values() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.data) {
		return nil, fmt.Errorf("no current row")
	}
	return r.data[r.pos-1], nil
}

func (r *Rows) Scan(dest ...any) error {
	row, err := r.Values()
	if err != nil {
		return err
	}
	if len(row) != len(dest) {
		return fmt.Errorf("scan: row has %d values, %d destinations", len(row), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if row[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		sv := reflect.ValueOf(row[i])
		switch {
		case sv.Type().AssignableTo(target.Type()):
			target.Set(sv)
		case target.Kind() == reflect.Pointer && sv.Type().AssignableTo(target.Type().Elem()):
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(sv)
			target.Set(p)
		case sv.Type().ConvertibleTo(target.Type()):
			target.Set(sv.Convert(target.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %s", row[i], target.Type())
		}
	}
	return nil
}
