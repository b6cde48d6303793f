package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "orders.db"))
	t.Setenv("LOG_MODE", "prod")
}

func TestMigrateAndSweep(t *testing.T) {
	useSQLite(t)

	out, err := runCmd(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "sqlite schema is up to date") {
		t.Fatalf("unexpected migrate output %q", out)
	}

	out, err = runCmd(t, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "deleted 0 expired") {
		t.Fatalf("unexpected sweep output %q", out)
	}
}

func TestCustomerCreate(t *testing.T) {
	useSQLite(t)

	out, err := runCmd(t, "customer", "create", "--tenant", "acme", "--name", "Ada")
	if err != nil {
		t.Fatalf("customer create: %v", err)
	}
	if !strings.Contains(out, "created customer 1 (Ada) in tenant acme") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := runCmd(t, "customer", "create", "--name", "Ada"); err == nil {
		t.Fatalf("expected missing --tenant to fail")
	}
}

func TestBadDriverFails(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")

	if _, err := runCmd(t, "migrate"); err == nil || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Fatalf("expected config error, got %v", err)
	}
}
