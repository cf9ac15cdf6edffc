package ytfake

import (
	"maps"
	"slices"

	"go.ytsaurus.tech/yt/go/yterrors"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// Objects of these types are keyed by id rather than by name.
var anonymousObjectTypes = map[string]bool{
	"tablet_cell":   true,
	"tablet_action": true,
	"table_replica": true,
}

func objectMapPath(objectType string) (string, bool) {
	for _, kind := range consts.CleanupObjectKinds {
		if kind.Type == objectType {
			return kind.Path, true
		}
	}
	return "", false
}

func (c *Cluster) objectsOf(objectType string) []*node {
	path, ok := objectMapPath(objectType)
	if !ok {
		return nil
	}
	objects := c.mustResolve(path)
	result := make([]*node, 0, len(objects.children))
	for _, name := range slices.Sorted(maps.Keys(objects.children)) {
		result = append(result, objects.children[name])
	}
	return result
}

func (c *Cluster) object(objectType, name string) *node {
	path, ok := objectMapPath(objectType)
	if !ok {
		return nil
	}
	return c.mustResolve(path).children[name]
}

// createObject registers a master object under its system map node.
func (c *Cluster) createObject(objectType string, attrs map[string]*ytree.Node, ignoreExisting bool) (string, *yterrors.Error) {
	path, ok := objectMapPath(objectType)
	if !ok {
		return "", badParam("Unsupported object type %q", objectType)
	}
	objects := c.mustResolve(path)

	n := c.newNode(objectType)
	name := n.id
	if !anonymousObjectTypes[objectType] {
		name = attrs["name"].Str()
		if name == "" {
			delete(c.byID, n.id)
			return "", badParam("Attribute \"name\" must be set for %s", objectType)
		}
		if existing, ok := objects.children[name]; ok {
			delete(c.byID, n.id)
			if ignoreExisting {
				return existing.id, nil
			}
			return "", newError(yterrs.CodeAlreadyExists, "%s %q already exists", objectType, name)
		}
	}
	for key, value := range attrs {
		n.attrs[key] = value.Clone()
	}

	switch objectType {
	case "tablet_cell":
		if n.attrs["tablet_cell_bundle"].Str() == "" {
			n.attrs["tablet_cell_bundle"] = ytree.String(consts.DefaultName)
		}
		if c.object("tablet_cell_bundle", n.attrs["tablet_cell_bundle"].Str()) == nil {
			delete(c.byID, n.id)
			return "", badParam("No such tablet cell bundle %q", n.attrs["tablet_cell_bundle"].Str())
		}
	case "table_replica":
		tablePath := attrs["table_path"].Str()
		table, rest, err := c.resolve(tablePath)
		if err != nil || len(rest) > 0 || table.typ != typeTable {
			delete(c.byID, n.id)
			return "", resolveError(tablePath)
		}
		n.attrs["state"] = ytree.String("disabled")
		if n.attrs["mode"].Str() == "" {
			n.attrs["mode"] = ytree.String("async")
		}
		n.attrs["table_path"] = ytree.String(tablePath)
	case "user":
		n.attrs["member_of"] = ytree.List(ytree.String("users"))
	case "group":
		n.attrs["members"] = ytree.List()
	}
	objects.addChild(name, n)
	if objectType == "user" {
		if users := c.object("group", "users"); users != nil {
			users.attrs["members"].Append(ytree.String(name))
		}
	}
	return n.id, nil
}

func (c *Cluster) createObjectCmd(p *params) (*ytree.Node, *yterrors.Error) {
	objectType := p.str("type")
	attrs, _ := p.node("attributes").AsMap()
	id, err := c.createObject(objectType, attrs, p.flag("ignore_existing"))
	if err != nil {
		return nil, err
	}
	return ytree.String(id), nil
}

func (c *Cluster) subject(name string) *node {
	if n := c.object("user", name); n != nil {
		return n
	}
	return c.object("group", name)
}

func removeString(list *ytree.Node, value string) (*ytree.Node, bool) {
	result := ytree.List()
	found := false
	items, _ := list.AsList()
	for _, item := range items {
		if item.Str() == value {
			found = true
			continue
		}
		result.Append(item)
	}
	return result, found
}

func containsString(list *ytree.Node, value string) bool {
	items, _ := list.AsList()
	return slices.ContainsFunc(items, func(item *ytree.Node) bool { return item.Str() == value })
}

func (c *Cluster) addMember(p *params) (*ytree.Node, *yterrors.Error) {
	memberName, groupName := p.str("member"), p.str("group")
	group := c.object("group", groupName)
	if group == nil {
		return nil, resolveError("//sys/groups/" + groupName)
	}
	member := c.subject(memberName)
	if member == nil {
		return nil, badParam("No such subject %q", memberName)
	}
	if containsString(group.attrs["members"], memberName) {
		return nil, newError(yterrs.CodeAlreadyPresentInGroup, "Member %q is already present in group %q", memberName, groupName)
	}
	group.attrs["members"].Append(ytree.String(memberName))
	if member.attrs["member_of"] == nil {
		member.attrs["member_of"] = ytree.List()
	}
	member.attrs["member_of"].Append(ytree.String(groupName))
	return nil, nil
}

func (c *Cluster) removeMember(p *params) (*ytree.Node, *yterrors.Error) {
	memberName, groupName := p.str("member"), p.str("group")
	group := c.object("group", groupName)
	if group == nil {
		return nil, resolveError("//sys/groups/" + groupName)
	}
	members, found := removeString(group.attrs["members"], memberName)
	if !found {
		return nil, badParam("Member %q is not present in group %q", memberName, groupName)
	}
	group.attrs["members"] = members
	if member := c.subject(memberName); member != nil {
		member.attrs["member_of"], _ = removeString(member.attrs["member_of"], groupName)
	}
	return nil, nil
}

// dropMemberships removes a subject from every group it is listed in.
func (c *Cluster) dropMemberships(subject *node) {
	for _, group := range c.objectsOf("group") {
		group.attrs["members"], _ = removeString(group.attrs["members"], subject.name)
	}
	for _, user := range c.objectsOf("user") {
		if subject.typ == "group" {
			user.attrs["member_of"], _ = removeString(user.attrs["member_of"], subject.name)
		}
	}
}

func (c *Cluster) checkPermission(p *params) (*ytree.Node, *yterrors.Error) {
	path, err := p.path("path")
	if err != nil {
		return nil, err
	}
	n, _, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	user := c.object("user", p.str("user"))
	if user == nil {
		return nil, badParam("No such user %q", p.str("user"))
	}
	action := "allow"
	if user.attrs["banned"].BoolOr(false) {
		action = "deny"
	}
	return ytree.Map(map[string]*ytree.Node{
		"action":       ytree.String(action),
		"object_id":    ytree.String(n.id),
		"subject_id":   ytree.String(user.id),
		"subject_name": ytree.String(user.name),
	}), nil
}

func (c *Cluster) generateTimestamp(*params) (*ytree.Node, *yterrors.Error) {
	c.timestamp++
	return ytree.Uint(c.timestamp), nil
}

func (c *Cluster) alterTableReplica(p *params) (*ytree.Node, *yterrors.Error) {
	id := p.str("replica_id")
	replica := c.object("table_replica", id)
	if replica == nil {
		return nil, resolveError("//sys/table_replicas/" + id)
	}
	if enabled := p.node("enabled"); enabled != nil {
		state := "disabled"
		if enabled.BoolOr(false) {
			state = "enabled"
		}
		replica.attrs["state"] = ytree.String(state)
	}
	if mode := p.str("mode"); mode != "" {
		if mode != "sync" && mode != "async" {
			return nil, badParam("Invalid replica mode %q", mode)
		}
		replica.attrs["mode"] = ytree.String(mode)
	}
	return nil, nil
}
