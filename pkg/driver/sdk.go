package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"go.ytsaurus.tech/yt/go/guid"
	"go.ytsaurus.tech/yt/go/ypath"
	"go.ytsaurus.tech/yt/go/yson"
	"go.ytsaurus.tech/yt/go/yt"
	"go.ytsaurus.tech/yt/go/yt/ythttp"
	"go.ytsaurus.tech/yt/go/yt/ytrpc"
	"k8s.io/utils/ptr"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// UnsupportedCommandError is returned by backends that cannot express a command.
type UnsupportedCommandError struct {
	Backend BackendKind
	Command string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("command %q is not supported by the %s backend", e.Command, e.Backend)
}

// SDKBackend executes the cypress, transaction, table and scheduler subset of
// commands through the Go SDK.
type SDKBackend struct {
	kind   BackendKind
	client yt.Client
	logger logr.Logger
}

func NewSDKBackend(config Config, logger logr.Logger) (*SDKBackend, error) {
	config.setDefaults()
	ytConfig := &yt.Config{
		Proxy:                 config.Proxy,
		RPCProxy:              config.RPCProxy,
		Token:                 config.Token,
		LightRequestTimeout:   ptr.To(config.LightRequestTimeout),
		DisableProxyDiscovery: true,
	}
	if config.SDKLogger != nil {
		ytConfig.Logger = config.SDKLogger
	}

	var client yt.Client
	var err error
	if config.Backend == BackendRPC {
		client, err = ytrpc.NewClient(ytConfig)
	} else {
		client, err = ythttp.NewClient(ytConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create yt client: %w", err)
	}
	return NewSDKBackendFromClient(config.Backend, client, logger), nil
}

// NewSDKBackendFromClient wraps an existing client.
func NewSDKBackendFromClient(kind BackendKind, client yt.Client, logger logr.Logger) *SDKBackend {
	if kind == "" {
		kind = BackendSDK
	}
	return &SDKBackend{kind: kind, client: client, logger: logger}
}

func (b *SDKBackend) Kind() BackendKind { return b.kind }

// Client exposes the underlying SDK client.
func (b *SDKBackend) Client() yt.Client { return b.client }

func (b *SDKBackend) Close() error {
	b.client.Stop()
	return nil
}

type sdkParams struct {
	node *ytree.Node
	err  error
}

func (p *sdkParams) str(key string) string {
	return p.node.Get(key).Str()
}

func (p *sdkParams) flag(key string) bool {
	return p.node.Get(key).BoolOr(false)
}

// path renders a rich path back to its string form.
func (p *sdkParams) path(key string) ypath.Path {
	n := p.node.Get(key)
	if n == nil {
		p.fail(fmt.Errorf("missing parameter %q", key))
		return ""
	}
	s := n.Str()
	if !n.HasAttrs() {
		return ypath.Path(s)
	}
	attrs := string(ytree.MustMarshalText(ytree.Entity().WithAttrs(n.Attrs())))
	return ypath.Path(strings.TrimSuffix(attrs, "#") + s)
}

func (p *sdkParams) strings(key string) []string {
	items, err := p.node.Get(key).AsList()
	if err != nil {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		result = append(result, item.Str())
	}
	return result
}

func (p *sdkParams) attrs(key string) map[string]any {
	m, ok := p.node.Get(key).ToGo().(map[string]any)
	if !ok {
		return nil
	}
	return m
}

func (p *sdkParams) guid(key string) guid.GUID {
	g, err := guid.ParseString(p.str(key))
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %w", key, err))
	}
	return g
}

func (p *sdkParams) txOptions() *yt.TransactionOptions {
	if !p.node.Has("transaction_id") {
		return nil
	}
	return &yt.TransactionOptions{
		TransactionID: yt.TxID(p.guid("transaction_id")),
		PingAncestors: p.flag("ping_ancestor_transactions"),
	}
}

// startTxOptions maps start_transaction parameters. A parent transaction
// goes into TransactionOptions and the timeout is given in milliseconds.
func (p *sdkParams) startTxOptions() *yt.StartTxOptions {
	opts := &yt.StartTxOptions{
		Attributes:         p.attrs("attributes"),
		TransactionOptions: p.txOptions(),
	}
	if timeout := p.node.Get("timeout"); timeout != nil {
		opts.Timeout = ptr.To(yson.Duration(time.Duration(timeout.IntOr(0)) * time.Millisecond))
	}
	return opts
}

func (p *sdkParams) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func valueOf(v any) (*Response, error) {
	node, err := ytree.FromGo(v)
	if err != nil {
		return nil, err
	}
	return &Response{Value: node}, nil
}

func idResponse(id any, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	return &Response{Value: ytree.String(idString(id))}, nil
}

func idString(id any) string {
	switch v := id.(type) {
	case guid.GUID:
		return v.String()
	case yt.NodeID:
		return guid.GUID(v).String()
	case yt.TxID:
		return guid.GUID(v).String()
	case yt.OperationID:
		return guid.GUID(v).String()
	}
	return fmt.Sprint(id)
}

func (b *SDKBackend) Execute(ctx context.Context, call *Call) (*Response, error) {
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}
	p := &sdkParams{node: call.Params}
	rsp, err := b.execute(ctx, call, p)
	if p.err != nil {
		return nil, p.err
	}
	return rsp, err
}

func (b *SDKBackend) execute(ctx context.Context, call *Call, p *sdkParams) (*Response, error) {
	c := b.client
	switch call.Descriptor.Name {
	case "get":
		var raw yson.RawValue
		err := c.GetNode(ctx, p.path("path"), &raw, &yt.GetNodeOptions{
			Attributes:         p.strings("attributes"),
			TransactionOptions: p.txOptions(),
		})
		if err != nil {
			return nil, err
		}
		return valueOf(raw)
	case "set":
		return &Response{}, c.SetNode(ctx, p.path("path"), call.Input, &yt.SetNodeOptions{
			Recursive:          p.flag("recursive"),
			Force:              p.flag("force"),
			TransactionOptions: p.txOptions(),
		})
	case "exists":
		ok, err := c.NodeExists(ctx, p.path("path"), &yt.NodeExistsOptions{TransactionOptions: p.txOptions()})
		if err != nil {
			return nil, err
		}
		return &Response{Value: ytree.Bool(ok)}, nil
	case "list":
		var raw yson.RawValue
		err := c.ListNode(ctx, p.path("path"), &raw, &yt.ListNodeOptions{
			Attributes:         p.strings("attributes"),
			TransactionOptions: p.txOptions(),
		})
		if err != nil {
			return nil, err
		}
		return valueOf(raw)
	case "create":
		if !p.node.Has("path") {
			return b.createObject(ctx, p)
		}
		return idResponse(c.CreateNode(ctx, p.path("path"), yt.NodeType(p.str("type")), &yt.CreateNodeOptions{
			Recursive:          p.flag("recursive"),
			IgnoreExisting:     p.flag("ignore_existing"),
			Force:              p.flag("force"),
			Attributes:         p.attrs("attributes"),
			TransactionOptions: p.txOptions(),
		}))
	case "create_object":
		return b.createObject(ctx, p)
	case "remove":
		return &Response{}, c.RemoveNode(ctx, p.path("path"), &yt.RemoveNodeOptions{
			Recursive:          p.flag("recursive"),
			Force:              p.flag("force"),
			TransactionOptions: p.txOptions(),
		})
	case "copy":
		return idResponse(c.CopyNode(ctx, p.path("source_path"), p.path("destination_path"), &yt.CopyNodeOptions{
			Recursive:          p.flag("recursive"),
			IgnoreExisting:     p.flag("ignore_existing"),
			Force:              p.flag("force"),
			TransactionOptions: p.txOptions(),
		}))
	case "move":
		return idResponse(c.MoveNode(ctx, p.path("source_path"), p.path("destination_path"), &yt.MoveNodeOptions{
			Recursive:          p.flag("recursive"),
			Force:              p.flag("force"),
			TransactionOptions: p.txOptions(),
		}))
	case "link":
		return idResponse(c.LinkNode(ctx, p.path("target_path"), p.path("link_path"), &yt.LinkNodeOptions{
			Recursive:          p.flag("recursive"),
			IgnoreExisting:     p.flag("ignore_existing"),
			Force:              p.flag("force"),
			Attributes:         p.attrs("attributes"),
			TransactionOptions: p.txOptions(),
		}))
	case "add_member":
		return &Response{}, c.AddMember(ctx, p.str("group"), p.str("member"), nil)
	case "remove_member":
		return &Response{}, c.RemoveMember(ctx, p.str("group"), p.str("member"), nil)

	case "start_transaction":
		return idResponse(c.StartTx(ctx, p.startTxOptions()))
	case "ping_transaction":
		return &Response{}, c.PingTx(ctx, yt.TxID(p.guid("transaction_id")), nil)
	case "commit_transaction":
		return &Response{}, c.CommitTx(ctx, yt.TxID(p.guid("transaction_id")), nil)
	case "abort_transaction":
		return &Response{}, c.AbortTx(ctx, yt.TxID(p.guid("transaction_id")), nil)

	case "read_table":
		reader, err := c.ReadTable(ctx, p.path("path"), nil)
		if err != nil {
			return nil, err
		}
		return readRows(reader)
	case "write_table":
		writer, err := c.WriteTable(ctx, p.path("path"), nil)
		if err != nil {
			return nil, err
		}
		for _, row := range call.Rows {
			if err := writer.Write(row); err != nil {
				_ = writer.Rollback()
				return nil, err
			}
		}
		return &Response{}, writer.Commit()

	case "mount_table":
		return &Response{}, c.MountTable(ctx, ypath.Path(p.str("path")), nil)
	case "unmount_table":
		return &Response{}, c.UnmountTable(ctx, ypath.Path(p.str("path")), &yt.UnmountTableOptions{Force: p.flag("force")})
	case "remount_table":
		return &Response{}, c.RemountTable(ctx, ypath.Path(p.str("path")), nil)
	case "insert_rows":
		return &Response{}, c.InsertRows(ctx, ypath.Path(p.str("path")), rowsAsAny(call.Rows), nil)
	case "delete_rows":
		return &Response{}, c.DeleteRows(ctx, ypath.Path(p.str("path")), rowsAsAny(call.Rows), nil)
	case "lookup_rows":
		reader, err := c.LookupRows(ctx, ypath.Path(p.str("path")), rowsAsAny(call.Rows), nil)
		if err != nil {
			return nil, err
		}
		return readRows(reader)
	case "select_rows":
		reader, err := c.SelectRows(ctx, p.str("query"), nil)
		if err != nil {
			return nil, err
		}
		return readRows(reader)

	case "start_operation":
		return idResponse(c.StartOperation(ctx, yt.OperationType(p.str("operation_type")), p.node.Get("spec"),
			&yt.StartOperationOptions{TransactionOptions: p.txOptions()}))
	case "get_operation":
		status, err := c.GetOperation(ctx, yt.OperationID(p.guid("operation_id")), &yt.GetOperationOptions{
			Attributes: p.strings("attributes"),
		})
		if err != nil {
			return nil, err
		}
		return valueOf(status)
	case "abort_operation":
		return &Response{}, c.AbortOperation(ctx, yt.OperationID(p.guid("operation_id")), nil)
	case "complete_operation":
		return &Response{}, c.CompleteOperation(ctx, yt.OperationID(p.guid("operation_id")), nil)
	case "suspend_operation":
		return &Response{}, c.SuspendOperation(ctx, yt.OperationID(p.guid("operation_id")), &yt.SuspendOperationOptions{
			AbortRunningJobs: p.flag("abort_running_jobs"),
		})
	case "resume_operation":
		return &Response{}, c.ResumeOperation(ctx, yt.OperationID(p.guid("operation_id")), nil)
	case "update_operation_parameters":
		return &Response{}, c.UpdateOperationParameters(ctx, yt.OperationID(p.guid("operation_id")), p.node.Get("parameters"), nil)
	case "list_jobs":
		result, err := c.ListJobs(ctx, yt.OperationID(p.guid("operation_id")), nil)
		if err != nil {
			return nil, err
		}
		return valueOf(result)
	}
	return nil, &UnsupportedCommandError{Backend: b.kind, Command: call.Descriptor.Name}
}

func (b *SDKBackend) createObject(ctx context.Context, p *sdkParams) (*Response, error) {
	return idResponse(b.client.CreateObject(ctx, yt.NodeType(p.str("type")), &yt.CreateObjectOptions{
		IgnoreExisting: p.flag("ignore_existing"),
		Attributes:     p.attrs("attributes"),
	}))
}

func rowsAsAny(rows []*ytree.Node) []any {
	result := make([]any, 0, len(rows))
	for _, row := range rows {
		result = append(result, row)
	}
	return result
}

func readRows(reader yt.TableReader) (*Response, error) {
	defer reader.Close()
	var rows []*ytree.Node
	for reader.Next() {
		var raw yson.RawValue
		if err := reader.Scan(&raw); err != nil {
			return nil, err
		}
		row, err := ytree.Parse(raw)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return &Response{Rows: rows}, nil
}

// IsUnsupported reports whether err means the backend cannot run the command.
func IsUnsupported(err error) bool {
	var unsupported *UnsupportedCommandError
	return errors.As(err, &unsupported)
}
