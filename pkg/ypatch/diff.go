package ypatch

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"go.ytsaurus.tech/yt/go/ypath"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

// diffReporter turns go-cmp differences between two plain documents into
// patch operations. Lists are never patched element by element: any change
// inside a list replaces the whole list.
type diffReporter struct {
	steps    cmp.Path
	patch    Patch
	withTest bool
	// replaced holds list paths already emitted as a whole.
	replaced map[ypath.Path]bool
}

func (r *diffReporter) PushStep(step cmp.PathStep) { r.steps = append(r.steps, step) }

func (r *diffReporter) PopStep() { r.steps = r.steps[:len(r.steps)-1] }

func (r *diffReporter) Report(rs cmp.Result) {
	if rs.Equal() {
		return
	}

	var path ypath.Path
	for i, step := range r.steps {
		switch s := step.(type) {
		case cmp.MapIndex:
			path = path.Child(escapeToken(fmt.Sprint(s.Key().Interface())))
		case cmp.SliceIndex:
			if r.replaced[path] {
				return
			}
			r.replaced[path] = true
			before, after := r.steps[i-1].Values()
			r.emit(path, before.Interface(), after.Interface(), true, true)
			return
		}
	}

	before, after := r.steps.Last().Values()
	var beforeValue, afterValue any
	if before.IsValid() {
		beforeValue = before.Interface()
	}
	if after.IsValid() {
		afterValue = after.Interface()
	}
	r.emit(path, beforeValue, afterValue, before.IsValid(), after.IsValid())
}

func (r *diffReporter) emit(path ypath.Path, before, after any, hadBefore, hasAfter bool) {
	if path == "" {
		path = "/"
	}
	if hadBefore && r.withTest {
		r.patch = append(r.patch, Test(path, before))
	}
	switch {
	case !hadBefore:
		r.patch = append(r.patch, Add(path, after))
	case !hasAfter:
		r.patch = append(r.patch, Remove(path))
	default:
		r.patch = append(r.patch, Replace(path, after))
	}
}

// escapeToken escapes characters that have a meaning inside a path token.
func escapeToken(s string) string {
	if !strings.ContainsAny(s, `\/@&*[{`) {
		return s
	}
	var b strings.Builder
	for _, c := range s {
		if strings.ContainsRune(`\/@&*[{`, c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

type PatchOptions struct {
	// WithTest guards every replaced or removed value with a "test" step.
	WithTest bool
}

// BuildPatch returns a patch that turns before into after, or nil when they
// are equal. Attributes are not compared.
func BuildPatch(before, after *ytree.Node, options *PatchOptions) Patch {
	if options == nil {
		options = &PatchOptions{}
	}
	r := &diffReporter{
		withTest: options.WithTest,
		replaced: map[ypath.Path]bool{},
	}
	if cmp.Equal(before.ToGo(), after.ToGo(), cmp.Reporter(r)) {
		return nil
	}
	return r.patch
}
