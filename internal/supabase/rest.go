package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type Filter struct {
	Column string
	Op     string
	Value  string
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: "eq", Value: fmt.Sprint(value)}
}

type Order struct {
	Column string
	Desc   bool
}

// Query is a row selection: columns, filters, ordering and an optional limit.
type Query struct {
	Columns string
	Filters []Filter
	Order   []Order
	Limit   int
}

func (q Query) Values() url.Values {
	v := url.Values{}
	columns := q.Columns
	if columns == "" {
		columns = "*"
	}
	v.Set("select", columns)
	for _, f := range q.Filters {
		v.Add(f.Column, f.Op+"."+f.Value)
	}
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		v.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Select reads rows of table into out, which must point to a slice.
func (c *Client) Select(ctx context.Context, table string, q Query, out any) error {
	return c.do(ctx, request{
		method: http.MethodGet,
		path:   "/rest/v1/" + table,
		query:  q.Values(),
	}, out)
}

// Insert creates one row and decodes the created representation into out.
func (c *Client) Insert(ctx context.Context, table string, row any, out any) error {
	body, err := jsonBody([]any{row})
	if err != nil {
		return err
	}
	var created []json.RawMessage
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/rest/v1/" + table,
		query:       url.Values{"select": {"*"}},
		body:        body,
		contentType: "application/json",
		header:      http.Header{"Prefer": {"return=representation"}},
	}, &created)
	if err != nil {
		return err
	}
	if len(created) == 0 {
		return errors.New("insert into " + table + " returned no row")
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(created[0], out)
}

// RPC calls a database function and decodes its result into out.
func (c *Client) RPC(ctx context.Context, fn string, args any, out any) error {
	body, err := jsonBody(args)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/rest/v1/rpc/" + fn,
		body:        body,
		contentType: "application/json",
	}, out)
}
