package ytfake

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.ytsaurus.tech/yt/go/yson"
	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/driver"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// params wraps the X-YT-Parameters map of one request.
type params struct {
	values *ytree.Node
}

func (p *params) node(key string) *ytree.Node {
	return p.values.Get(key)
}

func (p *params) str(key string) string {
	return p.values.Get(key).Str()
}

func (p *params) flag(key string) bool {
	return p.values.Get(key).BoolOr(false)
}

// strings returns nil when key is absent.
func (p *params) strings(key string) []string {
	if !p.values.Has(key) {
		return nil
	}
	return stringList(p.values.Get(key))
}

// path returns a required path parameter without its rich path attributes.
func (p *params) path(key string) (string, *yterrors.Error) {
	v := p.values.Get(key)
	if v == nil || v.Str() == "" {
		return "", badParam("Parameter %q is required", key)
	}
	return v.Str(), nil
}

func (p *params) pathAttr(key, attr string) *ytree.Node {
	return p.values.Get(key).Attr(attr)
}

type request struct {
	params *params
	input  *ytree.Node
	rows   []*ytree.Node
	data   []byte
}

type result struct {
	value *ytree.Node
	rows  []*ytree.Node
	data  []byte
}

func structured(value *ytree.Node, err *yterrors.Error) (result, *yterrors.Error) {
	return result{value: value}, err
}

func tabular(rows []*ytree.Node, err *yterrors.Error) (result, *yterrors.Error) {
	return result{rows: rows}, err
}

func binary(data []byte, err *yterrors.Error) (result, *yterrors.Error) {
	return result{data: data}, err
}

func (c *Cluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	version, command, ok := parseAPIPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	desc, err := driver.NewRegistry(version).Lookup(command)
	if err != nil {
		writeError(w, http.StatusNotFound, badParam("Command %q is not supported", command))
		return
	}
	req, ytErr := decodeRequest(desc, r)
	if ytErr != nil {
		writeError(w, http.StatusBadRequest, ytErr)
		return
	}

	c.mu.Lock()
	if ytErr = c.takeFault(desc.Name); ytErr == nil {
		c.expireTxs()
		var res result
		res, ytErr = c.dispatch(desc.Name, req)
		c.mu.Unlock()
		if ytErr == nil {
			c.logger.V(2).Info("Command served", "command", desc.Name)
			writeResult(w, desc, version, res)
			return
		}
	} else {
		c.mu.Unlock()
	}
	c.logger.V(1).Info("Command failed", "command", desc.Name, "error", ytErr.Message)
	writeError(w, http.StatusBadRequest, ytErr)
}

func parseAPIPath(path string) (int, string, bool) {
	rest, ok := strings.CutPrefix(path, "/api/v")
	if !ok {
		return 0, "", false
	}
	v, command, ok := strings.Cut(rest, "/")
	if !ok || command == "" {
		return 0, "", false
	}
	version, err := strconv.Atoi(v)
	if err != nil {
		return 0, "", false
	}
	return version, command, true
}

func decodeRequest(desc driver.CommandDescriptor, r *http.Request) (*request, *yterrors.Error) {
	req := &request{params: &params{values: ytree.EmptyMap()}}
	if header := r.Header.Get(driver.HeaderParameters); header != "" {
		values, err := ytree.ParseString(header)
		if err != nil || values.Kind() != ytree.KindMap {
			return nil, badParam("Malformed %s header", driver.HeaderParameters)
		}
		req.params.values = values
	}
	if desc.Input == driver.DataNone {
		return req, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, newError(yterrs.CodeTransportError, "Failed to read request body: %v", err)
	}
	switch desc.Input {
	case driver.DataStructured:
		if req.input, err = ytree.Parse(body); err != nil {
			return nil, badParam("Malformed input: %v", err)
		}
	case driver.DataTabular:
		if req.rows, err = ytree.ParseListFragment(body); err != nil {
			return nil, badParam("Malformed input rows: %v", err)
		}
	case driver.DataBinary:
		req.data = body
	}
	return req, nil
}

func writeResult(w http.ResponseWriter, desc driver.CommandDescriptor, version int, res result) {
	switch desc.Output {
	case driver.DataStructured:
		value := res.value
		if value == nil {
			value = ytree.Entity()
		}
		data, err := ytree.MarshalBinary(driver.WrapResult(desc, version, value))
		if err != nil {
			writeError(w, http.StatusInternalServerError, badParam("Failed to encode result: %v", err))
			return
		}
		_, _ = w.Write(data)
	case driver.DataTabular:
		_, _ = w.Write(ytree.MarshalListFragment(res.rows, ytree.FormatBinary))
	case driver.DataBinary:
		_, _ = w.Write(res.data)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func writeError(w http.ResponseWriter, status int, ytErr *yterrors.Error) {
	data, err := driver.EncodeErrorJSON(ytErr)
	if err != nil {
		http.Error(w, ytErr.Message, status)
		return
	}
	w.Header().Set(driver.HeaderError, string(data))
	body, err := yson.Marshal(ytErr)
	if err != nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/x-yt-yson-text")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// dispatch is called with mu held.
func (c *Cluster) dispatch(command string, req *request) (result, *yterrors.Error) {
	p := req.params
	switch command {
	case "get":
		return structured(c.get(p))
	case "set":
		return structured(c.set(p, req.input))
	case "exists":
		return structured(c.exists(p))
	case "list":
		return structured(c.list(p))
	case "create":
		return structured(c.create(p))
	case "remove":
		return structured(c.remove(p))
	case "copy":
		return structured(c.copyOrMove(p, false))
	case "move":
		return structured(c.copyOrMove(p, true))
	case "link":
		return structured(c.link(p))
	case "lock":
		return structured(c.lock(p))
	case "unlock":
		return structured(c.unlock(p))
	case "concatenate":
		return structured(c.concatenate(p))
	case "multiset_attributes":
		return structured(c.multisetAttributes(p, req.input))

	case "create_object":
		return structured(c.createObjectCmd(p))
	case "add_member":
		return structured(c.addMember(p))
	case "remove_member":
		return structured(c.removeMember(p))
	case "check_permission":
		return structured(c.checkPermission(p))

	case "start_transaction":
		return structured(c.startTransaction(p))
	case "ping_transaction":
		return structured(c.pingTransaction(p))
	case "commit_transaction":
		return structured(c.commitTransaction(p))
	case "abort_transaction":
		return structured(c.abortTransaction(p))

	case "read_table":
		return tabular(c.readTable(p))
	case "write_table":
		return structured(c.writeTable(p, req.rows))
	case "read_file":
		return binary(c.readFile(p))
	case "write_file":
		return structured(c.writeFile(p, req.data))
	case "alter_table":
		return structured(c.alterTable(p))

	case "mount_table":
		return structured(c.mountTable(p))
	case "unmount_table":
		return structured(c.unmountTable(p))
	case "remount_table":
		return structured(c.remountTable(p))
	case "freeze_table":
		return structured(c.freezeTable(p, true))
	case "unfreeze_table":
		return structured(c.freezeTable(p, false))
	case "reshard_table":
		return structured(c.reshardTable(p))
	case "alter_table_replica":
		return structured(c.alterTableReplica(p))
	case "insert_rows":
		return structured(c.insertRows(p, req.rows))
	case "delete_rows":
		return structured(c.deleteRows(p, req.rows))
	case "lookup_rows":
		return tabular(c.lookupRows(p, req.rows))
	case "select_rows":
		return tabular(c.selectRows(p))
	case "generate_timestamp":
		return structured(c.generateTimestamp(p))

	case "start_operation":
		return structured(c.startOperation(p))
	case "get_operation":
		return structured(c.getOperation(p))
	case "list_operations":
		return structured(c.listOperations(p))
	case "abort_operation":
		return structured(c.abortOperation(p))
	case "complete_operation":
		return structured(c.completeOperation(p))
	case "suspend_operation":
		return structured(c.suspendOperation(p))
	case "resume_operation":
		return structured(c.resumeOperation(p))
	case "update_operation_parameters":
		return structured(c.updateOperationParameters(p))
	case "list_jobs":
		return structured(c.listJobs(p))
	case "get_job":
		return structured(c.getJob(p))
	case "abort_job":
		return structured(c.abortJob(p))
	case "get_job_stderr":
		return binary(c.getJobStderr(p))

	case "yp_create_object":
		return structured(c.ypCreateObject(p))
	case "yp_get_object":
		return structured(c.ypGetObject(p))
	case "yp_select_objects":
		return structured(c.ypSelectObjects(p))
	case "yp_update_object":
		return structured(c.ypUpdateObject(p))
	case "yp_remove_object":
		return structured(c.ypRemoveObject(p))
	case "yp_check_object_permissions":
		return structured(c.ypCheckObjectPermissions(p))
	case "yp_get_object_access_allowed_for":
		return structured(c.ypGetObjectAccessAllowedFor(p))
	case "yp_get_user_access_allowed_to":
		return structured(c.ypGetUserAccessAllowedTo(p))
	case "yp_update_hfsm_state":
		return structured(c.ypUpdateHfsmState(p))
	case "yp_request_eviction":
		return structured(c.ypRequestEviction(p))
	case "yp_abort_eviction":
		return structured(c.ypAbortEviction(p))
	case "yp_acknowledge_eviction":
		return structured(c.ypAcknowledgeEviction(p))
	}
	return result{}, badParam("Command %q is not supported", command)
}
