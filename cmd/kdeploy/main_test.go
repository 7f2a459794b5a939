package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kompox/kdeploy/usecase/deploy"
)

const testManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  replicas: 1
  selector:
    matchLabels: {app: web}
  template:
    metadata:
      labels: {app: web}
    spec:
      containers:
      - name: app
        image: nginx:1.27
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: web-config
data:
  A: "1"
`

func runRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--log-output", "none"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "kdeploy version latest") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestDeployDryRun(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "web.yaml")
	if err := os.WriteFile(file, []byte(testManifest), 0644); err != nil {
		t.Fatal(err)
	}
	for name, args := range map[string][]string{
		"file":  {"-f", file},
		"stdin": {"-f", "-"},
	} {
		t.Run(name, func(t *testing.T) {
			cmd := append([]string{"--kdeploy-root", dir, "deploy", "--app", "app1", "--env", "prod", "--service", "web", "--dry-run"}, args...)
			out, err := runRoot(t, testManifest, cmd...)
			if err != nil {
				t.Fatal(err)
			}
			// ConfigMaps sort before Deployments.
			cm, dep := strings.Index(out, "kind: ConfigMap"), strings.Index(out, "kind: Deployment")
			if cm < 0 || dep < 0 || cm > dep {
				t.Errorf("unexpected rendering:\n%s", out)
			}
			if !strings.Contains(out, "namespace: app1-prod") {
				t.Errorf("namespace not set:\n%s", out)
			}
		})
	}
}

func TestDeployRequiresFlags(t *testing.T) {
	dir := t.TempDir()
	if _, err := runRoot(t, "", "--kdeploy-root", dir, "deploy", "--app", "app1", "--env", "prod", "--dry-run", "-f", "-"); err == nil {
		t.Errorf("expected error without --service")
	}
	if _, err := runRoot(t, "", "--kdeploy-root", dir, "deploy", "--app", "app1", "--env", "prod", "--service", "web", "--dry-run", "-f", "-"); err == nil {
		t.Errorf("expected error for empty input")
	}
	if _, err := runRoot(t, "", "--kdeploy-root", dir, "status", "--app", "app1", "--env", "prod", "-o", "yaml"); err == nil {
		t.Errorf("expected error for unsupported output")
	}
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	db := "sqlite:" + filepath.Join(dir, "h.db")
	out, err := runRoot(t, "", "--kdeploy-root", dir, "--db-url", db, "history")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "STARTED") {
		t.Errorf("unexpected output %q", out)
	}
	out, err = runRoot(t, "", "--kdeploy-root", dir, "--db-url", db, "history", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "null" && strings.TrimSpace(out) != "[]" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), exitFailure},
		{fmt.Errorf("wrap: %w", deploy.ErrNotConfirmed), exitNotConfirmed},
		{fmt.Errorf("wrap: %w", deploy.ErrUnhealthy), exitUnhealthy},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
