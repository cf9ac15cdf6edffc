package ypatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

func TestBuildPatchRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		before string
		after  string
	}{
		{name: "equal", before: `{a=1}`, after: `{a=1}`},
		{name: "replace", before: `{a=1;b=2}`, after: `{a=1;b=3}`},
		{name: "add", before: `{a=1}`, after: `{a=1;c={d=x}}`},
		{name: "remove", before: `{a=1;b=2}`, after: `{a=1}`},
		{name: "nested", before: `{a={b={c=1;d=2}}}`, after: `{a={b={c=5}}}`},
		{name: "append", before: `{l=[1;2]}`, after: `{l=[1;2;3]}`},
		{name: "type change", before: `{a=1}`, after: `{a=[x]}`},
		{name: "list shrink", before: `{l=[1;2;3;4]}`, after: `{l=[4]}`},
		{name: "list of maps", before: `{l=[{a=1};{a=2}]}`, after: `{l=[{a=1};{a=3;b=4}]}`},
		{name: "escaped key", before: `{"a/b"=1;"@c"=2}`, after: `{"a/b"=2}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := ytree.MustParse(tc.before)
			after := ytree.MustParse(tc.after)

			patch := BuildPatch(before, after, nil)
			if tc.before == tc.after {
				require.Nil(t, patch)
				return
			}
			require.NotEmpty(t, patch)

			result, err := Apply(before, patch)
			require.NoError(t, err)
			require.True(t, ytree.Equal(after, result), "patch %+v produced %v", patch, result)
		})
	}
}

func TestBuildPatchWithTest(t *testing.T) {
	before := ytree.MustParse(`{a=1}`)
	after := ytree.MustParse(`{a=2}`)

	patch := BuildPatch(before, after, &PatchOptions{WithTest: true})
	require.Equal(t, Patch{
		Test("/a", int64(1)),
		Replace("/a", int64(2)),
	}, patch)

	_, err := Apply(ytree.MustParse(`{a=1}`), patch)
	require.NoError(t, err)

	_, err = Apply(ytree.MustParse(`{a=3}`), patch)
	require.ErrorContains(t, err, "test failed")
}

func TestBuildPatchReplacesListsWhole(t *testing.T) {
	patch := BuildPatch(ytree.MustParse(`{l=[1;2;3]}`), ytree.MustParse(`{l=[3]}`), nil)
	require.Equal(t, Patch{Replace("/l", []any{int64(3)})}, patch)
}
