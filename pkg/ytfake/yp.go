package ytfake

import (
	"maps"
	"slices"
	"strings"
	"time"

	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	ypHfsmUp            = "up"
	ypSchedulingPending = "pending"
	ypAssigned          = "assigned"
	ypEvictionNone      = "none"
	ypEvictionRequested = "requested"
)

var ypObjectTypes = []string{"pod", "pod_set", "resource", "node", "node_segment", "account", "user", "group", "network_project", "internet_address"}

// ypStore keeps YP objects as documents with meta, spec, status and labels.
type ypStore struct {
	objects map[string]map[string]*ytree.Node
}

func newYPStore() *ypStore {
	s := &ypStore{objects: map[string]map[string]*ytree.Node{}}
	for _, objectType := range ypObjectTypes {
		s.objects[objectType] = map[string]*ytree.Node{}
	}
	for objectType, ids := range consts.YPBuiltinObjects {
		for _, id := range ids {
			obj := newYPObject(objectType, id, time.Now())
			if objectType == "group" {
				obj.Get("spec").Set("members", ytree.List(ytree.String(consts.RootUserName)))
			}
			s.objects[objectType][id] = obj
		}
	}
	return s
}

func newYPObject(objectType, id string, now time.Time) *ytree.Node {
	return ytree.Map(map[string]*ytree.Node{
		"meta": ytree.Map(map[string]*ytree.Node{
			"id":            ytree.String(id),
			"type":          ytree.String(objectType),
			"creation_time": ytree.Int(now.UnixMicro()),
		}),
		"spec":   ytree.EmptyMap(),
		"status": ytree.EmptyMap(),
		"labels": ytree.EmptyMap(),
	})
}

func isYPBuiltin(objectType, id string) bool {
	return slices.Contains(consts.YPBuiltinObjects[objectType], id)
}

func (s *ypStore) get(objectType, id string) (*ytree.Node, *yterrors.Error) {
	objects, ok := s.objects[objectType]
	if !ok {
		return nil, badParam("Unknown object type %q", objectType)
	}
	obj, ok := objects[id]
	if !ok {
		return nil, newError(yterrs.CodeResolveError, "No such %s %q", objectType, id)
	}
	return obj, nil
}

func (s *ypStore) sorted(objectType string) []*ytree.Node {
	objects := s.objects[objectType]
	result := make([]*ytree.Node, 0, len(objects))
	for _, id := range slices.Sorted(maps.Keys(objects)) {
		result = append(result, objects[id])
	}
	return result
}

func ypPath(path string) []string {
	return splitTokens(strings.TrimSpace(path))
}

func ypSelect(obj *ytree.Node, selector string) *ytree.Node {
	v, ok := navigate(obj, ypPath(selector))
	if !ok {
		return ytree.Entity()
	}
	return v.Clone()
}

func (c *Cluster) ypCreateObject(p *params) (*ytree.Node, *yterrors.Error) {
	objectType := p.str("object_type")
	objects, ok := c.yp.objects[objectType]
	if !ok {
		return nil, badParam("Unknown object type %q", objectType)
	}
	attrs := p.node("attributes")
	if attrs == nil {
		attrs = ytree.EmptyMap()
	}
	id := attrs.Get("meta").Get("id").Str()
	if id == "" {
		id = strings.ReplaceAll(newID(), "-", "")
	}
	if _, exists := objects[id]; exists {
		return nil, newError(yterrs.CodeAlreadyExists, "%s %q already exists", objectType, id)
	}
	obj := newYPObject(objectType, id, c.now())
	for _, section := range attrs.Keys() {
		if section == "meta" {
			for _, key := range attrs.Get("meta").Keys() {
				if key != "id" && key != "type" {
					obj.Get("meta").Set(key, attrs.Get("meta").Get(key).Clone())
				}
			}
			continue
		}
		obj.Set(section, attrs.Get(section).Clone())
	}

	switch objectType {
	case "pod":
		podSetID := obj.Get("meta").Get("pod_set_id").Str()
		if _, err := c.yp.get("pod_set", podSetID); err != nil {
			return nil, err
		}
		obj.Get("status").Set("scheduling", ytree.Map(map[string]*ytree.Node{
			"state": ytree.String(ypSchedulingPending),
		}))
		obj.Get("status").Set("eviction", ytree.Map(map[string]*ytree.Node{
			"state": ytree.String(ypEvictionNone),
		}))
	case "resource":
		if _, err := c.yp.get("node", obj.Get("meta").Get("node_id").Str()); err != nil {
			return nil, err
		}
	case "node":
		obj.Get("status").Set("hfsm", ytree.Map(map[string]*ytree.Node{
			"state": ytree.String("initial"),
		}))
	case "group":
		if !obj.Get("spec").Has("members") {
			obj.Get("spec").Set("members", ytree.List())
		}
	}
	objects[id] = obj
	c.ypSchedule()
	return ytree.Map(map[string]*ytree.Node{"object_id": ytree.String(id)}), nil
}

func (c *Cluster) ypGetObject(p *params) (*ytree.Node, *yterrors.Error) {
	obj, err := c.yp.get(p.str("object_type"), p.str("object_id"))
	if err != nil {
		return nil, err
	}
	values := ytree.List()
	for _, selector := range p.strings("selectors") {
		values.Append(ypSelect(obj, selector))
	}
	return values, nil
}

type ypCondition struct {
	path  string
	op    string
	value *ytree.Node
}

// parseYPFilter understands conjunctions of "[/path] = literal" and
// "[/path] != literal".
func parseYPFilter(filter string) ([]ypCondition, *yterrors.Error) {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == "%true" || filter == "true" {
		return nil, nil
	}
	var conditions []ypCondition
	for _, part := range splitAnd(filter) {
		if !strings.HasPrefix(part, "[") {
			return nil, badParam("Unsupported filter %q", filter)
		}
		end := strings.Index(part, "]")
		if end < 0 {
			return nil, badParam("Unterminated attribute reference in filter %q", filter)
		}
		cond := ypCondition{path: part[1:end]}
		rest := strings.TrimSpace(part[end+1:])
		switch {
		case strings.HasPrefix(rest, "!="):
			cond.op, rest = "!=", rest[2:]
		case strings.HasPrefix(rest, "="):
			cond.op, rest = "=", rest[1:]
		default:
			return nil, badParam("Unsupported operator in filter %q", filter)
		}
		value, err := ytree.ParseString(strings.TrimSpace(rest))
		if err != nil {
			return nil, badParam("Invalid literal in filter %q: %v", filter, err)
		}
		cond.value = value
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func (cond ypCondition) match(obj *ytree.Node) bool {
	equal := ytree.Compare(ypSelect(obj, cond.path), cond.value) == 0
	return equal == (cond.op == "=")
}

func (c *Cluster) ypSelectObjects(p *params) (*ytree.Node, *yterrors.Error) {
	objectType := p.str("object_type")
	if _, ok := c.yp.objects[objectType]; !ok {
		return nil, badParam("Unknown object type %q", objectType)
	}
	conditions, err := parseYPFilter(p.str("filter"))
	if err != nil {
		return nil, err
	}
	selectors := p.strings("selectors")
	limit := int(p.node("limit").IntOr(0))
	result := ytree.List()
	for _, obj := range c.yp.sorted(objectType) {
		if limit > 0 && result.Len() >= limit {
			break
		}
		if slices.ContainsFunc(conditions, func(cond ypCondition) bool { return !cond.match(obj) }) {
			continue
		}
		row := ytree.List()
		for _, selector := range selectors {
			row.Append(ypSelect(obj, selector))
		}
		result.Append(row)
	}
	return result, nil
}

func (c *Cluster) ypUpdateObject(p *params) (*ytree.Node, *yterrors.Error) {
	objectType, id := p.str("object_type"), p.str("object_id")
	obj, err := c.yp.get(objectType, id)
	if err != nil {
		return nil, err
	}
	updated := obj.Clone()
	sets, _ := p.node("set_updates").AsList()
	for _, update := range sets {
		tokens := ypPath(update.Get("path").Str())
		if len(tokens) == 0 || (tokens[0] == "meta" && len(tokens) > 1 && (tokens[1] == "id" || tokens[1] == "type")) {
			return nil, badParam("Cannot update %q of %s %q", update.Get("path").Str(), objectType, id)
		}
		next, ok := setIn(updated, tokens, update.Get("value"))
		if !ok {
			return nil, resolveError(update.Get("path").Str())
		}
		updated = next
	}
	removes, _ := p.node("remove_updates").AsList()
	for _, update := range removes {
		next, ok := removeIn(updated, ypPath(update.Get("path").Str()))
		if !ok {
			return nil, resolveError(update.Get("path").Str())
		}
		updated = next
	}
	c.yp.objects[objectType][id] = updated
	if objectType == "pod" {
		c.ypUnassign(updated)
	}
	c.ypSchedule()
	return nil, nil
}

func (c *Cluster) ypRemoveObject(p *params) (*ytree.Node, *yterrors.Error) {
	objectType, id := p.str("object_type"), p.str("object_id")
	if _, err := c.yp.get(objectType, id); err != nil {
		return nil, err
	}
	if isYPBuiltin(objectType, id) {
		return nil, badParam("Builtin %s %q cannot be removed", objectType, id)
	}
	c.ypRemove(objectType, id)
	c.ypSchedule()
	return nil, nil
}

// ypRemove removes an object together with the objects owned by it.
func (c *Cluster) ypRemove(objectType, id string) {
	delete(c.yp.objects[objectType], id)
	switch objectType {
	case "pod_set":
		for podID, pod := range c.yp.objects["pod"] {
			if pod.Get("meta").Get("pod_set_id").Str() == id {
				delete(c.yp.objects["pod"], podID)
			}
		}
	case "node":
		for resourceID, resource := range c.yp.objects["resource"] {
			if resource.Get("meta").Get("node_id").Str() == id {
				delete(c.yp.objects["resource"], resourceID)
			}
		}
		for _, pod := range c.yp.objects["pod"] {
			if ypSelect(pod, "/status/scheduling/node_id").Str() == id {
				c.ypUnassign(pod)
			}
		}
	}
}

func (c *Cluster) ypUnassign(pod *ytree.Node) {
	pod.Get("status").Set("scheduling", ytree.Map(map[string]*ytree.Node{
		"state": ytree.String(ypSchedulingPending),
	}))
}

type ypCapacity struct {
	cpu, memory int64
}

func podRequests(pod *ytree.Node) ypCapacity {
	requests := pod.Get("spec").Get("resource_requests")
	return ypCapacity{
		cpu:    requests.Get("vcpu_guarantee").IntOr(0),
		memory: requests.Get("memory_limit").IntOr(0),
	}
}

func segmentOf(labels *ytree.Node) string {
	if segment := labels.Get("segment").Str(); segment != "" {
		return segment
	}
	return consts.DefaultName
}

// ypSchedule assigns pending pods to the first up node with enough free
// cpu and memory in the pod set's segment.
func (c *Cluster) ypSchedule() {
	free := map[string]ypCapacity{}
	for _, resource := range c.yp.sorted("resource") {
		nodeID := resource.Get("meta").Get("node_id").Str()
		capacity := free[nodeID]
		spec := resource.Get("spec")
		capacity.cpu += spec.Get("cpu").Get("total_capacity").IntOr(0)
		capacity.memory += spec.Get("memory").Get("total_capacity").IntOr(0)
		free[nodeID] = capacity
	}
	pods := c.yp.sorted("pod")
	for _, pod := range pods {
		if ypSelect(pod, "/status/scheduling/state").Str() != ypAssigned {
			continue
		}
		nodeID := ypSelect(pod, "/status/scheduling/node_id").Str()
		requests := podRequests(pod)
		capacity := free[nodeID]
		capacity.cpu -= requests.cpu
		capacity.memory -= requests.memory
		free[nodeID] = capacity
	}

	for _, pod := range pods {
		if ypSelect(pod, "/status/scheduling/state").Str() == ypAssigned {
			continue
		}
		podSet, err := c.yp.get("pod_set", pod.Get("meta").Get("pod_set_id").Str())
		if err != nil {
			continue
		}
		segment := podSet.Get("spec").Get("node_segment_id").Str()
		if segment == "" {
			segment = consts.DefaultName
		}
		requests := podRequests(pod)
		reason := "NoNodesInSegment"
		assigned := ""
		for _, node := range c.yp.sorted("node") {
			if ypSelect(node, "/status/hfsm/state").Str() != ypHfsmUp || segmentOf(node.Get("labels")) != segment {
				continue
			}
			nodeID := node.Get("meta").Get("id").Str()
			capacity := free[nodeID]
			switch {
			case capacity.cpu < requests.cpu:
				reason = "CpuUnsatisfied"
			case capacity.memory < requests.memory:
				reason = "MemoryUnsatisfied"
			default:
				assigned = nodeID
				capacity.cpu -= requests.cpu
				capacity.memory -= requests.memory
				free[nodeID] = capacity
			}
			if assigned != "" {
				break
			}
		}
		scheduling := ytree.Map(map[string]*ytree.Node{"state": ytree.String(ypSchedulingPending)})
		if assigned != "" {
			scheduling.Set("state", ytree.String(ypAssigned))
			scheduling.Set("node_id", ytree.String(assigned))
		} else {
			scheduling.Set("error", errorNode(newError(yterrs.CodeGeneric, "Cannot satisfy resource requests: %s", reason)))
		}
		pod.Get("status").Set("scheduling", scheduling)
	}
}

func (c *Cluster) ypUpdateHfsmState(p *params) (*ytree.Node, *yterrors.Error) {
	node, err := c.yp.get("node", p.str("node_id"))
	if err != nil {
		return nil, err
	}
	state := p.str("state")
	if state == "" {
		return nil, badParam("Parameter \"state\" is required")
	}
	node.Get("status").Set("hfsm", ytree.Map(map[string]*ytree.Node{
		"state":   ytree.String(state),
		"message": ytree.String(p.str("message")),
	}))
	if state != ypHfsmUp {
		for _, pod := range c.yp.objects["pod"] {
			if ypSelect(pod, "/status/scheduling/node_id").Str() == p.str("node_id") {
				c.ypUnassign(pod)
			}
		}
	}
	c.ypSchedule()
	return nil, nil
}

func (c *Cluster) ypEviction(p *params, from []string, to string) (*ytree.Node, *yterrors.Error) {
	pod, err := c.yp.get("pod", p.str("pod_id"))
	if err != nil {
		return nil, err
	}
	current := ypSelect(pod, "/status/eviction/state").Str()
	if !slices.Contains(from, current) {
		return nil, badParam("Pod %q eviction is in state %q", p.str("pod_id"), current)
	}
	pod.Get("status").Set("eviction", ytree.Map(map[string]*ytree.Node{
		"state":   ytree.String(to),
		"message": ytree.String(p.str("message")),
	}))
	return nil, nil
}

func (c *Cluster) ypRequestEviction(p *params) (*ytree.Node, *yterrors.Error) {
	pod, err := c.yp.get("pod", p.str("pod_id"))
	if err != nil {
		return nil, err
	}
	if ypSelect(pod, "/status/scheduling/state").Str() != ypAssigned {
		return nil, badParam("Pod %q is not assigned to a node", p.str("pod_id"))
	}
	return c.ypEviction(p, []string{ypEvictionNone}, ypEvictionRequested)
}

func (c *Cluster) ypAbortEviction(p *params) (*ytree.Node, *yterrors.Error) {
	return c.ypEviction(p, []string{ypEvictionRequested}, ypEvictionNone)
}

// ypAcknowledgeEviction moves the pod off its node and schedules it again.
func (c *Cluster) ypAcknowledgeEviction(p *params) (*ytree.Node, *yterrors.Error) {
	if _, err := c.ypEviction(p, []string{ypEvictionRequested}, ypEvictionNone); err != nil {
		return nil, err
	}
	pod, _ := c.yp.get("pod", p.str("pod_id"))
	c.ypUnassign(pod)
	c.ypSchedule()
	return nil, nil
}

// ypAllowed reports whether subject has permission on obj. Superusers are
// allowed everything, others need a matching allow entry in /meta/acl.
func (c *Cluster) ypAllowed(obj *ytree.Node, subject, permission string) bool {
	if c.ypIsSuperuser(subject) {
		return true
	}
	entries, _ := ypSelect(obj, "/meta/acl").AsList()
	for _, ace := range entries {
		if ace.Get("action").Str() != "allow" || !containsString(ace.Get("permissions"), permission) {
			continue
		}
		for _, s := range stringList(ace.Get("subjects")) {
			if s == subject || c.ypInGroup(subject, s) {
				return true
			}
		}
	}
	return false
}

func (c *Cluster) ypInGroup(subject, group string) bool {
	g, err := c.yp.get("group", group)
	if err != nil {
		return false
	}
	return containsString(ypSelect(g, "/spec/members"), subject)
}

func (c *Cluster) ypIsSuperuser(subject string) bool {
	return subject == consts.RootUserName || c.ypInGroup(subject, "superusers")
}

func (c *Cluster) ypCheckObjectPermissions(p *params) (*ytree.Node, *yterrors.Error) {
	obj, err := c.yp.get(p.str("object_type"), p.str("object_id"))
	if err != nil {
		return nil, err
	}
	subject := p.str("subject_id")
	if _, err := c.yp.get("user", subject); err != nil {
		if _, groupErr := c.yp.get("group", subject); groupErr != nil {
			return nil, badParam("No such subject %q", subject)
		}
	}
	action := "deny"
	if c.ypAllowed(obj, subject, p.str("permission")) {
		action = "allow"
	}
	return ytree.Map(map[string]*ytree.Node{
		"action":     ytree.String(action),
		"object_id":  ytree.String(p.str("object_id")),
		"subject_id": ytree.String(subject),
	}), nil
}

func (c *Cluster) ypGetObjectAccessAllowedFor(p *params) (*ytree.Node, *yterrors.Error) {
	obj, err := c.yp.get(p.str("object_type"), p.str("object_id"))
	if err != nil {
		return nil, err
	}
	users := ytree.List()
	for _, user := range c.yp.sorted("user") {
		id := user.Get("meta").Get("id").Str()
		if c.ypAllowed(obj, id, p.str("permission")) {
			users.Append(ytree.String(id))
		}
	}
	return ytree.Map(map[string]*ytree.Node{"user_ids": users}), nil
}

func (c *Cluster) ypGetUserAccessAllowedTo(p *params) (*ytree.Node, *yterrors.Error) {
	objectType, user := p.str("object_type"), p.str("user")
	if _, ok := c.yp.objects[objectType]; !ok {
		return nil, badParam("Unknown object type %q", objectType)
	}
	if _, err := c.yp.get("user", user); err != nil {
		return nil, err
	}
	ids := ytree.List()
	for _, obj := range c.yp.sorted(objectType) {
		if c.ypAllowed(obj, user, p.str("permission")) {
			ids.Append(ytree.String(obj.Get("meta").Get("id").Str()))
		}
	}
	return ytree.Map(map[string]*ytree.Node{"object_ids": ids}), nil
}
