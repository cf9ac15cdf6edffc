package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func ypCommand(use, short string, args cobra.PositionalArgs, run func(cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Short:       short,
		Args:        usageArgs(args),
		Annotations: map[string]string{targetAnnotation: targetYP},
		RunE:        runE(run),
	}
}

func ypCommands(opts *RootOptions) []*cobra.Command {
	var filter string
	var limit int

	selectCmd := ypCommand("select <object-type> [selector...]", "Select objects matching --filter",
		cobra.MinimumNArgs(1),
		func(cmd *cobra.Command, args []string) error {
			d, err := opts.driver(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			selectors := args[1:]
			if len(selectors) == 0 {
				selectors = []string{"/meta/id"}
			}
			rows, err := d.YPSelectObjects(cmd.Context(), args[0], filter, selectors)
			if err != nil {
				return err
			}
			if limit > 0 && len(rows) > limit {
				rows = rows[:limit]
			}
			result := ytree.List()
			for _, row := range rows {
				result.Append(ytree.List(row...))
			}
			return opts.print(cmd, result)
		})
	selectCmd.Flags().StringVar(&filter, "filter", "", "object filter, e.g. [/meta/pod_set_id] = \"ps\"")
	selectCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of objects to print")

	return []*cobra.Command{
		ypCommand("create <object-type>", "Create an object with --attributes or stdin YSON",
			cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) error {
				attrs, err := opts.attributes(cmd)
				if err != nil {
					return err
				}
				d, err := opts.driver(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				id, err := d.YPCreateObject(cmd.Context(), args[0], attrs)
				if err != nil {
					return err
				}
				return opts.print(cmd, id)
			}),

		ypCommand("get <object-type> <object-id> [selector...]", "Print selected attributes of an object",
			cobra.MinimumNArgs(2),
			func(cmd *cobra.Command, args []string) error {
				d, err := opts.driver(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				selectors := args[2:]
				if len(selectors) == 0 {
					selectors = []string{""}
				}
				values, err := d.YPGetObject(cmd.Context(), args[0], args[1], selectors)
				if err != nil {
					return err
				}
				return opts.print(cmd, ytree.List(values...))
			}),

		selectCmd,

		ypCommand("check-object-permission <object-type> <object-id> <subject-id> <permission>",
			"Check a permission of a subject on an object",
			cobra.ExactArgs(4),
			func(cmd *cobra.Command, args []string) error {
				d, err := opts.driver(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				result, err := d.YPCheckObjectPermissions(cmd.Context(), args[0], args[1], args[2], args[3])
				if err != nil {
					return err
				}
				return opts.print(cmd, result)
			}),

		ypCommand("get-object-access-allowed-for <object-type> <object-id> <permission>",
			"List users allowed the permission on an object",
			cobra.ExactArgs(3),
			func(cmd *cobra.Command, args []string) error {
				d, err := opts.driver(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				result, err := d.YPGetObjectAccessAllowedFor(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return opts.print(cmd, result)
			}),

		ypCommand("get-user-access-allowed-to <user> <object-type> <permission>",
			"List objects of a type the user is allowed the permission on",
			cobra.ExactArgs(3),
			func(cmd *cobra.Command, args []string) error {
				d, err := opts.driver(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				result, err := d.YPGetUserAccessAllowedTo(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return opts.print(cmd, result)
			}),

		ypCommand("update-hfsm-state <node-id> <state> <message>", "Move a node to another HFSM state",
			cobra.ExactArgs(3),
			func(cmd *cobra.Command, args []string) error {
				d, err := opts.driver(cmd)
				if err != nil {
					return err
				}
				defer d.Close()
				return d.YPUpdateHfsmState(cmd.Context(), args[0], args[1], args[2])
			}),

		evictionCommand(opts, "request-eviction", "Request eviction of a pod", evictionRequest),
		evictionCommand(opts, "abort-eviction", "Abort a requested pod eviction", evictionAbort),
		evictionCommand(opts, "acknowledge-eviction", "Acknowledge a requested pod eviction", evictionAcknowledge),
	}
}

type evictionAction int

const (
	evictionRequest evictionAction = iota
	evictionAbort
	evictionAcknowledge
)

func evictionCommand(opts *RootOptions, name, short string, action evictionAction) *cobra.Command {
	return ypCommand(name+" <pod-id> [message]", short,
		cobra.RangeArgs(1, 2),
		func(cmd *cobra.Command, args []string) error {
			message := ""
			if len(args) > 1 {
				message = args[1]
			}
			d, err := opts.driver(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			switch action {
			case evictionAbort:
				return d.YPAbortEviction(cmd.Context(), args[0], message)
			case evictionAcknowledge:
				return d.YPAcknowledgeEviction(cmd.Context(), args[0], message)
			default:
				return d.YPRequestEviction(cmd.Context(), args[0], message)
			}
		})
}

func newCheckPermissionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "check-permission <user> <permission> <path>",
		Short:       "Check a permission of a user on a cypress node",
		Args:        usageArgs(cobra.ExactArgs(3)),
		Annotations: map[string]string{targetAnnotation: targetYT},
		RunE: runE(func(cmd *cobra.Command, args []string) error {
			d, err := opts.driver(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			result, err := d.CheckPermission(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return opts.print(cmd, result)
		}),
	}
}
