package fsio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFile_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.md")
	if err := WriteFile(path, []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", data)
	}
}

func TestWriteFile_FullOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.md")
	if err := WriteFile(path, []byte("first version, quite long")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := WriteFile(path, []byte("second")); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("overwrite left %q, want second", data)
	}
}

func TestWriteFile_NoTempLeftover(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFile(filepath.Join(dir, "f.md"), []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tandem-tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.yaml")
	in := map[string]string{"chat_id": "c1", "task_id": "t1"}
	if err := WriteYAML(path, in); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}

	var out map[string]string
	if err := ReadYAML(path, &out); err != nil {
		t.Fatalf("ReadYAML: %v", err)
	}
	if out["chat_id"] != "c1" || out["task_id"] != "t1" {
		t.Errorf("round trip mismatch: %v", out)
	}
}

func TestReadYAML_Missing(t *testing.T) {
	var out map[string]string
	err := ReadYAML(filepath.Join(t.TempDir(), "absent.yaml"), &out)
	if !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist error, got %v", err)
	}
}
