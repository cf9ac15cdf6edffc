package canonize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sigs.k8s.io/yaml"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/ytsaurus/ytsaurus-harness/pkg/ytree"
)

const (
	envDoCanonize          = "CANONIZE"
	canonDirName           = "canondata"
	canonFileName          = "test.canondata"
	defaultFilePermissions = 0o644
	defaultDirPermissions  = 0o755
)

func Assert(t *testing.T, data []byte) {
	canonFilePath := getCanonFilePath(t, canonFileName)

	if isCanonizeNeeded() {
		err := writeCanonData(canonFilePath, data)
		if err != nil {
			t.Errorf("can't write canon data with error: %q", err.Error())
			t.FailNow()
			return
		}
	}

	canonData, err := readCanonData(canonFilePath)
	if err != nil {
		t.Errorf("can't read canon data with error: %q", err.Error())
		t.FailNow()
		return
	}
	canonDataTrimmed := strings.TrimSpace(string(canonData))
	reportDiff(t, []byte(canonDataTrimmed), data)
}

func AssertStruct(t *testing.T, name string, s any) {
	canonFilePath := getCanonFilePath(t, name+".yaml")

	data, err := yaml.Marshal(s)
	if err != nil {
		t.Errorf("can't encode data with error: %q", err.Error())
		t.FailNow()
		return
	}

	if isCanonizeNeeded() {
		err := writeCanonData(canonFilePath, data)
		if err != nil {
			t.Errorf("can't write canon data with error: %q", err.Error())
			t.FailNow()
			return
		}
	}

	canonData, err := readCanonData(canonFilePath)
	if err != nil {
		t.Errorf("can't read canon data with error: %q", err.Error())
		t.FailNow()
		return
	}

	reportDiff(t, canonData, data)
}

// AssertYSON compares YSON documents by value: key order, spacing and
// text or binary encoding do not matter. The diff is shown as YAML.
func AssertYSON(t *testing.T, name string, data []byte) {
	canonFilePath := getCanonFilePath(t, name+".yson")

	actual, err := ytree.Parse(data)
	if err != nil {
		t.Errorf("can't parse data with error: %q", err.Error())
		t.FailNow()
		return
	}

	if isCanonizeNeeded() {
		text, err := ytree.MarshalText(actual)
		if err == nil {
			err = writeCanonData(canonFilePath, text)
		}
		if err != nil {
			t.Errorf("can't write canon data with error: %q", err.Error())
			t.FailNow()
			return
		}
	}

	canonData, err := readCanonData(canonFilePath)
	if err != nil {
		t.Errorf("can't read canon data with error: %q", err.Error())
		t.FailNow()
		return
	}
	expected, err := ytree.Parse(canonData)
	if err != nil {
		t.Errorf("can't parse canon data with error: %q", err.Error())
		t.FailNow()
		return
	}

	if ytree.Equal(expected, actual) {
		return
	}
	expectedYAML, err := yaml.Marshal(expected)
	if err != nil {
		t.Errorf("can't encode canon data with error: %q", err.Error())
	}
	actualYAML, err := yaml.Marshal(actual)
	if err != nil {
		t.Errorf("can't encode data with error: %q", err.Error())
	}
	reportDiff(t, expectedYAML, actualYAML)
	t.Errorf("YSON documents differ")
}

func reportDiff(t *testing.T, canonData, data []byte) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(canonData)),
		B:        difflib.SplitLines(string(data)),
		FromFile: "old",
		ToFile:   "new",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		t.Errorf("cannot diff: %v", err)
	}
	if text != "" {
		t.Errorf("%s", addColorsToDiff(text))
	}
}

func readCanonData(canonFilePath string) ([]byte, error) {
	if _, err := os.Stat(canonFilePath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf(
				"can't find canon data file %q, please run tests with %s=y environment variable",
				canonFilePath,
				envDoCanonize,
			)
		}
		return nil, err
	}

	return os.ReadFile(canonFilePath)
}

func writeCanonData(canonFilePath string, data []byte) error {
	if err := createCanonDirsIfNeeded(canonFilePath); err != nil {
		return err
	}
	return os.WriteFile(canonFilePath, data, defaultFilePermissions)
}

func isCanonizeNeeded() bool {
	_, ok := os.LookupEnv(envDoCanonize)
	return ok
}

func createCanonDirsIfNeeded(canonFilePath string) error {
	canonDir := filepath.Dir(canonFilePath)
	_, err := os.Stat(canonDir)

	if err != nil && os.IsNotExist(err) {
		return os.MkdirAll(canonDir, defaultDirPermissions)
	}

	return err
}

func getCanonFilePath(t *testing.T, fileName string) string {
	return filepath.Join(canonDirName, t.Name(), fileName)
}
