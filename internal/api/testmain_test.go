package api

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration/sqlitestore"
)

var (
	apiTestTemplatePath string
)

func TestMain(m *testing.M) {
	code := runAPITestMain(m)
	os.Exit(code)
}

// runAPITestMain migrates one template database up front so each test only
// pays for a file copy.
func runAPITestMain(m *testing.M) int {
	tmpDir, err := os.MkdirTemp("", "measure-api-template-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create API test template directory: %v\n", err)
		return 1
	}

	apiTestTemplatePath = filepath.Join(tmpDir, "template.db")

	store, err := sqlitestore.Open(apiTestTemplatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize API test template DB: %v\n", err)
		_ = os.RemoveAll(tmpDir)
		return 1
	}

	if _, err := store.DB().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to checkpoint API test template DB: %v\n", err)
		_ = store.Close()
		_ = os.RemoveAll(tmpDir)
		return 1
	}

	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close API test template DB: %v\n", err)
		_ = os.RemoveAll(tmpDir)
		return 1
	}

	code := m.Run()
	_ = os.RemoveAll(tmpDir)
	return code
}

// openTestStore clones the template and opens it.
func openTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()

	if apiTestTemplatePath == "" {
		t.Fatal("API test template DB not initialized")
	}

	dbPath := filepath.Join(t.TempDir(), "test.db")
	if err := copyFile(apiTestTemplatePath, dbPath); err != nil {
		t.Fatalf("failed to clone API test DB template: %v", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open cloned DB: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
