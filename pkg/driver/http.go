package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.ytsaurus.tech/yt/go/yson"
	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	HeaderParameters    = "X-YT-Parameters"
	HeaderHeaderFormat  = "X-YT-Header-Format"
	HeaderInputFormat   = "X-YT-Input-Format"
	HeaderOutputFormat  = "X-YT-Output-Format"
	HeaderError         = "X-YT-Error"
	HeaderCorrelationID = "X-YT-Correlation-Id"

	textYSONFormat   = "<format=text>yson"
	binaryYSONFormat = "<format=binary>yson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPBackend talks to the HTTP proxy API without the SDK.
type HTTPBackend struct {
	config Config
	client *http.Client
}

func NewHTTPBackend(config Config) *HTTPBackend {
	config.setDefaults()
	return &HTTPBackend{config: config, client: config.HTTPClient}
}

func (b *HTTPBackend) Kind() BackendKind { return BackendHTTP }

func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// URL returns the endpoint of a command.
func (b *HTTPBackend) URL(command string) string {
	proxy := b.config.Proxy
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	return fmt.Sprintf("%s/api/v%d/%s", strings.TrimSuffix(proxy, "/"), b.config.APIVersion, command)
}

func httpMethod(d CommandDescriptor) string {
	switch {
	case d.Input != DataNone:
		return http.MethodPut
	case d.Mutating:
		return http.MethodPost
	}
	return http.MethodGet
}

func (b *HTTPBackend) Execute(ctx context.Context, call *Call) (*Response, error) {
	timeout := call.Timeout
	if timeout == 0 {
		timeout = b.config.LightRequestTimeout
		if call.Descriptor.Heavy {
			timeout = b.config.HeavyRequestTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := encodeInput(call)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod(call.Descriptor), b.URL(call.WireName), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	params, err := ytree.MarshalText(call.Params)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderHeaderFormat, textYSONFormat)
	req.Header.Set(HeaderParameters, string(params))
	req.Header.Set(HeaderCorrelationID, uuid.NewString())
	if call.Descriptor.Input != DataNone {
		req.Header.Set(HeaderInputFormat, binaryYSONFormat)
	}
	if call.Descriptor.Output != DataNone {
		req.Header.Set(HeaderOutputFormat, binaryYSONFormat)
	}
	if b.config.Token != "" {
		req.Header.Set("Authorization", "OAuth "+b.config.Token)
	}

	rsp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, yterrs.Wrap(yterrs.CodeTimeout, "request timed out", err)
		}
		return nil, yterrs.Wrap(yterrs.CodeTransportError, "transport error", err)
	}
	defer rsp.Body.Close()

	if ytErr, err := decodeHeaderError(rsp.Header); ytErr != nil || err != nil {
		return nil, firstErr(ytErr, err)
	}
	data, readErr := io.ReadAll(rsp.Body)
	if ytErr, err := decodeHeaderError(rsp.Trailer); ytErr != nil || err != nil {
		return nil, firstErr(ytErr, err)
	}
	if rsp.StatusCode >= http.StatusBadRequest {
		if ytErr, err := DecodeErrorJSON(data); err == nil {
			return nil, ytErr
		}
		if ytErr, err := DecodeErrorYSON(data); err == nil {
			return nil, ytErr
		}
		return nil, &yterrors.Error{
			Code:    yterrs.CodeTransportError,
			Message: fmt.Sprintf("unexpected HTTP status %d: %s", rsp.StatusCode, truncate(string(data), 256)),
		}
	}
	if readErr != nil {
		return nil, yterrs.Wrap(yterrs.CodeTransportError, "failed to read response body", readErr)
	}
	return decodeOutput(call.Descriptor, b.config.APIVersion, data)
}

func firstErr(ytErr *yterrors.Error, err error) error {
	if ytErr != nil {
		return ytErr
	}
	return err
}

func encodeInput(call *Call) ([]byte, error) {
	switch call.Descriptor.Input {
	case DataStructured:
		input := call.Input
		if input == nil {
			input = ytree.Entity()
		}
		return ytree.MarshalBinary(input)
	case DataTabular:
		return ytree.MarshalListFragment(call.Rows, ytree.FormatBinary), nil
	case DataBinary:
		return call.Data, nil
	}
	return nil, nil
}

func decodeOutput(d CommandDescriptor, apiVersion int, data []byte) (*Response, error) {
	switch d.Output {
	case DataStructured:
		if len(bytes.TrimSpace(data)) == 0 {
			return &Response{Value: ytree.Entity()}, nil
		}
		value, err := ytree.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s response: %w", d.Name, err)
		}
		return &Response{Value: UnwrapResult(d, apiVersion, value)}, nil
	case DataTabular:
		rows, err := ytree.ParseListFragment(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s rows: %w", d.Name, err)
		}
		return &Response{Rows: rows}, nil
	case DataBinary:
		return &Response{Data: data}, nil
	}
	return &Response{}, nil
}

// UnwrapResult strips the API v4 result envelope.
func UnwrapResult(d CommandDescriptor, apiVersion int, value *ytree.Node) *ytree.Node {
	if apiVersion < 4 || d.ResultKey == "" || value.Kind() != ytree.KindMap || value.Len() != 1 {
		return value
	}
	if inner := value.Get(d.ResultKey); inner != nil {
		return inner
	}
	return value
}

// WrapResult puts a structured result into the API v4 envelope.
func WrapResult(d CommandDescriptor, apiVersion int, value *ytree.Node) *ytree.Node {
	if apiVersion < 4 || d.ResultKey == "" {
		return value
	}
	return ytree.Map(map[string]*ytree.Node{d.ResultKey: value})
}

// EncodeErrorJSON renders an error the way proxies put it into X-YT-Error.
func EncodeErrorJSON(e *yterrors.Error) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeErrorJSON(data []byte) (*yterrors.Error, error) {
	var ytErr yterrors.Error
	if err := json.Unmarshal(data, &ytErr); err != nil {
		return nil, err
	}
	return checkDecodedError(&ytErr)
}

// DecodeErrorYSON reads an error from a response body written in YSON.
func DecodeErrorYSON(data []byte) (*yterrors.Error, error) {
	var ytErr yterrors.Error
	if err := yson.Unmarshal(data, &ytErr); err != nil {
		return nil, err
	}
	return checkDecodedError(&ytErr)
}

func checkDecodedError(e *yterrors.Error) (*yterrors.Error, error) {
	if e.Code == 0 && e.Message == "" {
		return nil, fmt.Errorf("not an error object")
	}
	return e, nil
}

func decodeHeaderError(h http.Header) (*yterrors.Error, error) {
	value := h.Get(HeaderError)
	if value == "" {
		return nil, nil
	}
	ytErr, err := DecodeErrorJSON([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s header: %w", HeaderError, err)
	}
	return ytErr, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
