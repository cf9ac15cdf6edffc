package driver

import (
	"fmt"
	"sort"
)

// DataType is the kind of an input or output stream of a command.
type DataType int

const (
	DataNone DataType = iota
	DataStructured
	DataTabular
	DataBinary
)

func (t DataType) String() string {
	switch t {
	case DataStructured:
		return "structured"
	case DataTabular:
		return "tabular"
	case DataBinary:
		return "binary"
	}
	return "null"
}

// CommandDescriptor describes one driver command.
type CommandDescriptor struct {
	Name   string
	Input  DataType
	Output DataType
	// Mutating commands get a mutation id and are marked as retries on resend.
	Mutating bool
	Heavy    bool
	YP       bool
	// ResultKey names the field API v4 wraps the structured result into.
	ResultKey string
}

func light(name string, in, out DataType, mutating bool, resultKey string) CommandDescriptor {
	return CommandDescriptor{Name: name, Input: in, Output: out, Mutating: mutating, ResultKey: resultKey}
}

func heavy(name string, in, out DataType, mutating bool) CommandDescriptor {
	return CommandDescriptor{Name: name, Input: in, Output: out, Mutating: mutating, Heavy: true}
}

func yp(name string, mutating bool) CommandDescriptor {
	return CommandDescriptor{Name: "yp_" + name, Input: DataNone, Output: DataStructured, Mutating: mutating, YP: true}
}

func builtinCommands() []CommandDescriptor {
	return []CommandDescriptor{
		// Cypress.
		light("get", DataNone, DataStructured, false, "value"),
		light("set", DataStructured, DataNone, true, ""),
		light("exists", DataNone, DataStructured, false, "value"),
		light("list", DataNone, DataStructured, false, "value"),
		light("create", DataNone, DataStructured, true, "node_id"),
		light("remove", DataNone, DataNone, true, ""),
		light("copy", DataNone, DataStructured, true, "node_id"),
		light("move", DataNone, DataStructured, true, "node_id"),
		light("link", DataNone, DataStructured, true, "node_id"),
		light("lock", DataNone, DataStructured, true, ""),
		light("unlock", DataNone, DataNone, true, ""),
		light("concatenate", DataNone, DataNone, true, ""),
		light("multiset_attributes", DataStructured, DataNone, true, ""),

		// Objects and security.
		light("create_object", DataNone, DataStructured, true, "object_id"),
		light("add_member", DataNone, DataNone, true, ""),
		light("remove_member", DataNone, DataNone, true, ""),
		light("check_permission", DataNone, DataStructured, false, ""),

		// Transactions.
		light("start_transaction", DataNone, DataStructured, true, "transaction_id"),
		light("ping_transaction", DataNone, DataNone, false, ""),
		light("commit_transaction", DataNone, DataNone, true, ""),
		light("abort_transaction", DataNone, DataNone, true, ""),

		// Static tables and files.
		heavy("read_table", DataNone, DataTabular, false),
		heavy("write_table", DataTabular, DataNone, true),
		heavy("read_file", DataNone, DataBinary, false),
		heavy("write_file", DataBinary, DataNone, true),
		light("alter_table", DataNone, DataNone, true, ""),

		// Dynamic tables.
		light("mount_table", DataNone, DataNone, true, ""),
		light("unmount_table", DataNone, DataNone, true, ""),
		light("remount_table", DataNone, DataNone, true, ""),
		light("freeze_table", DataNone, DataNone, true, ""),
		light("unfreeze_table", DataNone, DataNone, true, ""),
		light("reshard_table", DataNone, DataNone, true, ""),
		light("alter_table_replica", DataNone, DataNone, true, ""),
		heavy("insert_rows", DataTabular, DataNone, false),
		heavy("delete_rows", DataTabular, DataNone, false),
		heavy("lookup_rows", DataTabular, DataTabular, false),
		heavy("select_rows", DataNone, DataTabular, false),
		light("generate_timestamp", DataNone, DataStructured, false, "timestamp"),

		// Scheduler.
		light("start_operation", DataNone, DataStructured, true, "operation_id"),
		light("get_operation", DataNone, DataStructured, false, ""),
		light("list_operations", DataNone, DataStructured, false, ""),
		light("abort_operation", DataNone, DataNone, true, ""),
		light("complete_operation", DataNone, DataNone, true, ""),
		light("suspend_operation", DataNone, DataNone, true, ""),
		light("resume_operation", DataNone, DataNone, true, ""),
		light("update_operation_parameters", DataNone, DataNone, true, ""),
		light("list_jobs", DataNone, DataStructured, false, ""),
		light("get_job", DataNone, DataStructured, false, ""),
		light("abort_job", DataNone, DataNone, false, ""),
		heavy("get_job_stderr", DataNone, DataBinary, false),

		// YP object API.
		yp("create_object", true),
		yp("get_object", false),
		yp("select_objects", false),
		yp("update_object", true),
		yp("remove_object", true),
		yp("check_object_permissions", false),
		yp("get_object_access_allowed_for", false),
		yp("get_user_access_allowed_to", false),
		yp("update_hfsm_state", true),
		yp("request_eviction", true),
		yp("abort_eviction", true),
		yp("acknowledge_eviction", true),
	}
}

// apiV3Names maps canonical command names to their API v3 spelling.
var apiV3Names = map[string]string{
	"start_transaction":           "start_tx",
	"ping_transaction":            "ping_tx",
	"commit_transaction":          "commit_tx",
	"abort_transaction":           "abort_tx",
	"start_operation":             "start_op",
	"abort_operation":             "abort_op",
	"complete_operation":          "complete_op",
	"suspend_operation":           "suspend_op",
	"resume_operation":            "resume_op",
	"update_operation_parameters": "update_op_parameters",
}

// Registry resolves command names for one API version.
type Registry struct {
	apiVersion int
	commands   map[string]CommandDescriptor
	aliases    map[string]string
}

func NewRegistry(apiVersion int) *Registry {
	r := &Registry{
		apiVersion: apiVersion,
		commands:   map[string]CommandDescriptor{},
		aliases:    map[string]string{},
	}
	for _, d := range builtinCommands() {
		r.commands[d.Name] = d
	}
	// Both spellings are accepted regardless of the version spoken on the wire.
	for canonical, short := range apiV3Names {
		r.aliases[short] = canonical
	}
	return r
}

func (r *Registry) APIVersion() int { return r.apiVersion }

// Lookup returns the descriptor for a canonical or API v3 command name.
func (r *Registry) Lookup(name string) (CommandDescriptor, error) {
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	d, ok := r.commands[name]
	if !ok {
		return CommandDescriptor{}, fmt.Errorf("unknown command %q", name)
	}
	return d, nil
}

// WireName is the command name sent to the server.
func (r *Registry) WireName(d CommandDescriptor) string {
	if r.apiVersion < 4 {
		if short, ok := apiV3Names[d.Name]; ok {
			return short
		}
	}
	return d.Name
}

// Register adds or replaces a command.
func (r *Registry) Register(d CommandDescriptor) {
	r.commands[d.Name] = d
}

// Commands lists all known commands sorted by name.
func (r *Registry) Commands() []CommandDescriptor {
	result := make([]CommandDescriptor, 0, len(r.commands))
	for _, d := range r.commands {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
