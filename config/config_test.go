package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPyprojectToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyproject.toml")
	content := `
[tool.python-pods]

[[tool.python-pods.pods]]
name = "org.babashka/instaparse"
version = "0.0.6"

[[tool.python-pods.pods]]
name = "local-dev"
path = "/usr/local/bin/my-pod"
cache = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	pods, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(pods) != 2 {
		t.Fatalf("got %d pods, want 2", len(pods))
	}
	if pods[0].Name != "org.babashka/instaparse" || pods[0].Version != "0.0.6" {
		t.Errorf("pods[0] = %#v", pods[0])
	}
	if pods[1].Path != "/usr/local/bin/my-pod" {
		t.Errorf("pods[1] = %#v", pods[1])
	}
}

func TestLoadRejectsBothVersionAndPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pyproject.toml")
	content := `
[[tool.python-pods.pods]]
name = "bad"
version = "1.0.0"
path = "/bin/bad"
`
	os.WriteFile(path, []byte(content), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pods.yaml")
	content := `
pods:
  - name: org.babashka/instaparse
    version: 0.0.6
  - name: local-dev
    path: /usr/local/bin/my-pod
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	pods, err := LoadYAML(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(pods) != 2 || pods[0].Version != "0.0.6" {
		t.Fatalf("pods = %#v", pods)
	}
}

func TestLoadAnyPrefersPyproject(t *testing.T) {
	dir := t.TempDir()
	pyproject := filepath.Join(dir, "pyproject.toml")
	yamlPath := filepath.Join(dir, "pods.yaml")
	os.WriteFile(pyproject, []byte(`
[[tool.python-pods.pods]]
name = "from-toml"
version = "1.0.0"
`), 0o644)
	os.WriteFile(yamlPath, []byte(`
pods:
  - name: from-yaml
    version: 1.0.0
`), 0o644)

	pods, err := LoadAny(pyproject, yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(pods) != 1 || pods[0].Name != "from-toml" {
		t.Fatalf("pods = %#v, want from-toml", pods)
	}
}

func TestLoadAnyFallsBackToYAML(t *testing.T) {
	dir := t.TempDir()
	pyproject := filepath.Join(dir, "pyproject.toml")
	yamlPath := filepath.Join(dir, "pods.yaml")
	os.WriteFile(yamlPath, []byte(`
pods:
  - name: from-yaml
    version: 1.0.0
`), 0o644)

	pods, err := LoadAny(pyproject, yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(pods) != 1 || pods[0].Name != "from-yaml" {
		t.Fatalf("pods = %#v, want from-yaml", pods)
	}
}
