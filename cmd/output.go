package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func (o *RootOptions) print(cmd *cobra.Command, value any) error {
	node, err := ytree.FromGo(value)
	if err != nil {
		return err
	}
	var data []byte
	switch o.Format {
	case FormatJSON:
		data, err = node.MarshalJSON()
	default:
		data, err = ytree.Marshal(node, ytree.FormatPretty)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// attributes returns --attributes, or stdin when the flag is empty. An empty
// stdin means no attributes.
func (o *RootOptions) attributes(cmd *cobra.Command) (map[string]any, error) {
	text := o.Attributes
	if text == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	node, err := ytree.ParseString(text)
	if err != nil {
		return nil, usageErrorf("malformed attributes: %v", err)
	}
	if node.Kind() != ytree.KindMap {
		return nil, usageErrorf("attributes must be a YSON map, got %s", node.Kind())
	}
	attrs := map[string]any{}
	for _, key := range node.Keys() {
		attrs[key] = node.Get(key)
	}
	return attrs, nil
}
