package flags

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"foo":        "ENABLE_FOO",
		"merge_two":  "ENABLE_MERGE_TWO",
		"merge-two":  "ENABLE_MERGE_TWO",
		"pdf2word":   "ENABLE_PDF2WORD",
		"docx.excel": "ENABLE_DOCX_EXCEL",
		"ñandú":      "ENABLE__AND_",
	}
	for name, want := range tests {
		if got := EnvKey(name); got != want {
			t.Errorf("EnvKey(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestResolve_EnvWinsOverFile(t *testing.T) {
	t.Setenv("ENABLE_FOO", "0")
	r := NewResolver(FromMap(map[string]bool{"foo": true}), false)

	d := r.Resolve("foo")
	if d.Enabled || d.Source != "env" {
		t.Errorf("decision = %+v, want disabled by env", d)
	}
}

func TestResolve_EnvTruthyValues(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "Yes"} {
		t.Setenv("ENABLE_FOO", v)
		if !NewResolver(Empty(), true).IsEnabled("foo") {
			t.Errorf("ENABLE_FOO=%q should enable", v)
		}
	}
	for _, v := range []string{"", "on", "2", "enabled", "false", " yes ", "true\n"} {
		t.Setenv("ENABLE_FOO", v)
		if NewResolver(Empty(), false).IsEnabled("foo") {
			t.Errorf("ENABLE_FOO=%q should disable", v)
		}
	}
}

func TestResolve_FileWinsOverProductionDefault(t *testing.T) {
	unsetEnv(t, "ENABLE_FOO")
	r := NewResolver(FromMap(map[string]bool{"foo": true}), true)

	d := r.Resolve("foo")
	if !d.Enabled || d.Source != "file" {
		t.Errorf("decision = %+v, want enabled by file", d)
	}
}

func TestResolve_FileKeyIsExact(t *testing.T) {
	unsetEnv(t, "ENABLE_FOO")
	r := NewResolver(FromMap(map[string]bool{"FOO": false}), false)

	if d := r.Resolve("foo"); d.Source != "default" || !d.Enabled {
		t.Errorf("decision = %+v, want development default", d)
	}
}

func TestResolve_DefaultDependsOnMode(t *testing.T) {
	unsetEnv(t, "ENABLE_BAR")
	if !NewResolver(Empty(), false).IsEnabled("bar") {
		t.Error("development default should enable")
	}
	if NewResolver(Empty(), true).IsEnabled("bar") {
		t.Error("production default should disable")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	content := `{"compress": true, "pdf2word": false, "img2pdf": 1, "docx2excel": "yes", "merge_two": null}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !set.Loaded() || set.Len() != 5 {
		t.Fatalf("set loaded=%v len=%d", set.Loaded(), set.Len())
	}
	want := map[string]bool{"compress": true, "pdf2word": false, "img2pdf": true, "docx2excel": true, "merge_two": false}
	for name, w := range want {
		got, ok := set.Lookup(name)
		if !ok || got != w {
			t.Errorf("Lookup(%q) = %v,%v want %v,true", name, got, ok, w)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if set.Loaded() {
		t.Error("missing file must not count as loaded")
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	set, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if set.Loaded() {
		t.Error("malformed file must not count as loaded")
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}
