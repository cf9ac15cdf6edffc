package driver

import (
	"time"

	"go.ytsaurus.tech/yt/go/guid"
	"go.ytsaurus.tech/yt/go/yt"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// Request is one command invocation as issued by callers.
type Request struct {
	Command string
	Params  map[string]any
	// Input is the structured input, Rows the tabular one and Data the binary one.
	Input *ytree.Node
	Rows  []*ytree.Node
	Data  []byte
	// User overrides the authenticated user for this request.
	User    string
	Timeout time.Duration
}

// Response carries the command output in the form given by the descriptor.
type Response struct {
	Value *ytree.Node
	Rows  []*ytree.Node
	Data  []byte
}

// Call is a resolved request handed to a backend.
type Call struct {
	Descriptor CommandDescriptor
	// WireName is the command name for the API version of the backend.
	WireName string
	Params   *ytree.Node
	Input    *ytree.Node
	Rows     []*ytree.Node
	Data     []byte
	User     string
	Timeout  time.Duration
}

// Option adjusts a request built by the typed command helpers.
type Option func(*Request)

func (r *Request) set(key string, value any) {
	if r.Params == nil {
		r.Params = map[string]any{}
	}
	r.Params[key] = value
}

func newRequest(command string, params map[string]any, opts []Option) *Request {
	r := &Request{Command: command, Params: map[string]any{}}
	for k, v := range params {
		r.Params[k] = v
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func WithParam(key string, value any) Option {
	return func(r *Request) { r.set(key, value) }
}

func WithTx(id yt.TxID) Option {
	return func(r *Request) { r.set("transaction_id", guid.GUID(id).String()) }
}

// PingAncestors makes the request ping the ancestors of its transaction.
func PingAncestors() Option {
	return WithParam("ping_ancestor_transactions", true)
}

// WithAttributes sets attributes of a created object.
func WithAttributes(attrs map[string]any) Option {
	return WithParam("attributes", attrs)
}

// WithAttributeKeys requests attributes in get and list results.
func WithAttributeKeys(keys ...string) Option {
	return WithParam("attributes", keys)
}

func WithUser(user string) Option {
	return func(r *Request) { r.User = user }
}

func WithTimeout(timeout time.Duration) Option {
	return func(r *Request) { r.Timeout = timeout }
}

func Recursive() Option      { return WithParam("recursive", true) }
func Force() Option          { return WithParam("force", true) }
func IgnoreExisting() Option { return WithParam("ignore_existing", true) }

// WithInput sets the structured input of the request.
func WithInput(input *ytree.Node) Option {
	return func(r *Request) { r.Input = input }
}
