package driver

import (
	"context"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func toRows(rows []any) ([]*ytree.Node, error) {
	result := make([]*ytree.Node, 0, len(rows))
	for _, row := range rows {
		node, err := ytree.FromGo(row)
		if err != nil {
			return nil, err
		}
		result = append(result, node)
	}
	return result, nil
}

func withRows(rows []*ytree.Node) Option {
	return func(r *Request) { r.Rows = rows }
}

func (d *Driver) tabular(ctx context.Context, command string, params map[string]any, rows []*ytree.Node, opts []Option) ([]*ytree.Node, error) {
	if rows != nil {
		opts = append(opts, withRows(rows))
	}
	rsp, err := d.Execute(ctx, newRequest(command, params, opts))
	if err != nil {
		return nil, err
	}
	return rsp.Rows, nil
}

// WriteTable writes rows to path. Prefix path with <append=%true> to append.
func (d *Driver) WriteTable(ctx context.Context, path string, rows []*ytree.Node, opts ...Option) error {
	_, err := d.tabular(ctx, "write_table", map[string]any{"path": path}, rows, opts)
	return err
}

// WriteRows converts Go values to rows and writes them.
func (d *Driver) WriteRows(ctx context.Context, path string, rows []any, opts ...Option) error {
	nodes, err := toRows(rows)
	if err != nil {
		return err
	}
	return d.WriteTable(ctx, path, nodes, opts...)
}

func (d *Driver) ReadTable(ctx context.Context, path string, opts ...Option) ([]*ytree.Node, error) {
	return d.tabular(ctx, "read_table", map[string]any{"path": path}, nil, opts)
}

func (d *Driver) AlterTable(ctx context.Context, path string, opts ...Option) error {
	return d.void(ctx, "alter_table", map[string]any{"path": path}, opts)
}

func (d *Driver) WriteFile(ctx context.Context, path string, data []byte, opts ...Option) error {
	opts = append(opts, func(r *Request) { r.Data = data })
	return d.void(ctx, "write_file", map[string]any{"path": path}, opts)
}

func (d *Driver) ReadFile(ctx context.Context, path string, opts ...Option) ([]byte, error) {
	rsp, err := d.Execute(ctx, newRequest("read_file", map[string]any{"path": path}, opts))
	if err != nil {
		return nil, err
	}
	return rsp.Data, nil
}
