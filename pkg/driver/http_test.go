package driver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func newHTTPDriver(t *testing.T, apiVersion int, handler http.HandlerFunc) *Driver {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	config := Config{
		Proxy:      server.URL,
		APIVersion: apiVersion,
		Token:      "secret",
	}
	config.setDefaults()
	return NewWithBackend(config, NewHTTPBackend(config), logr.Discard())
}

func TestHTTPBackendGet(t *testing.T) {
	d := newHTTPDriver(t, 4, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/get", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "OAuth secret", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get(HeaderCorrelationID))

		params, err := ytree.ParseString(r.Header.Get(HeaderParameters))
		require.NoError(t, err)
		require.Equal(t, "//tmp/a", params.Get("path").Str())

		data, _ := ytree.MarshalBinary(ytree.MustParse(`{value={x=1}}`))
		_, _ = w.Write(data)
	})

	value, err := d.Get(context.Background(), "//tmp/a")
	require.NoError(t, err)
	require.Equal(t, int64(1), value.Get("x").IntOr(0))
}

func TestHTTPBackendAPIv3(t *testing.T) {
	d := newHTTPDriver(t, 3, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/start_tx", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`"1-2-3-4"`))
	})

	tx, err := d.StartTx(context.Background(), TxOptions{NoPing: true})
	require.NoError(t, err)
	require.Equal(t, "1-2-3-4", tx.ID())
}

func TestHTTPBackendWriteTable(t *testing.T) {
	d := newHTTPDriver(t, 4, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, binaryYSONFormat, r.Header.Get(HeaderInputFormat))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		rows, err := ytree.ParseListFragment(body)
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})

	err := d.WriteTable(context.Background(), "//tmp/t", []*ytree.Node{
		ytree.MustParse(`{a=1}`),
		ytree.MustParse(`{a=2}`),
	})
	require.NoError(t, err)
}

func TestHTTPBackendHeaderError(t *testing.T) {
	d := newHTTPDriver(t, 4, func(w http.ResponseWriter, r *http.Request) {
		data, err := EncodeErrorJSON(&yterrors.Error{
			Code:    1,
			Message: "Error resolving path",
			InnerErrors: []*yterrors.Error{
				{Code: yterrs.CodeResolveError, Message: "Node //tmp has no child with key \"x\""},
			},
		})
		require.NoError(t, err)
		w.Header().Set(HeaderError, string(data))
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := d.Get(context.Background(), "//tmp/x")
	require.True(t, yterrs.ContainsKind(err, yterrs.KindResolveError))
	require.True(t, yterrs.ContainsText(err, "has no child"))
}

func TestHTTPBackendBodyError(t *testing.T) {
	d := newHTTPDriver(t, 4, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":900,"message":"Authentication failed"}`))
	})

	_, err := d.Get(context.Background(), "//tmp")
	require.True(t, yterrs.ContainsKind(err, yterrs.KindTokenError))
}

func TestHTTPBackendYSONBodyError(t *testing.T) {
	d := newHTTPDriver(t, 4, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{code=500;message="Error resolving path //tmp/x";inner_errors=[{code=500;message="Node has no child";attributes={path="//tmp/x"}}]}`))
	})

	_, err := d.Get(context.Background(), "//tmp/x")
	require.True(t, yterrs.ContainsText(err, "has no child"))
	ytErr := yterrors.FindErrorCode(err, 500)
	require.NotNil(t, ytErr)
}

func TestErrorJSONRoundTripKeepsInnerErrors(t *testing.T) {
	data, err := EncodeErrorJSON(&yterrors.Error{
		Code:       yterrs.CodeResolveError,
		Message:    "outer",
		Attributes: map[string]any{"path": "//tmp/x"},
		InnerErrors: []*yterrors.Error{
			{Code: yterrs.CodeAuthorizationError, Message: "inner"},
		},
	})
	require.NoError(t, err)

	decoded, err := DecodeErrorJSON(data)
	require.NoError(t, err)
	require.Equal(t, yterrs.CodeResolveError, decoded.Code)
	require.Equal(t, "//tmp/x", decoded.Attributes["path"])
	require.Len(t, decoded.InnerErrors, 1)
	require.Equal(t, "inner", decoded.InnerErrors[0].Message)

	_, err = DecodeErrorJSON([]byte(`{"value":1}`))
	require.Error(t, err)
}

func TestWrapUnwrapResult(t *testing.T) {
	r := NewRegistry(4)
	d, err := r.Lookup("create")
	require.NoError(t, err)

	wrapped := WrapResult(d, 4, ytree.String("1-2-3-4"))
	require.Equal(t, "1-2-3-4", wrapped.Get("node_id").Str())
	require.Equal(t, "1-2-3-4", UnwrapResult(d, 4, wrapped).Str())
	require.Equal(t, "1-2-3-4", WrapResult(d, 3, ytree.String("1-2-3-4")).Str())
}
