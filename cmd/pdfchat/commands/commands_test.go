package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/pdf-chat-backend/internal/auth"
	"github.com/tbourn/pdf-chat-backend/internal/extract/extracttest"
	"github.com/tbourn/pdf-chat-backend/internal/services"
)

// setEnv points every on-disk location at a temp dir and disables the
// hosted model so commands run offline.
func setEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", filepath.Join(dir, "db", "app.db"))
	t.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("INDEX_DIR", filepath.Join(dir, "index"))
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("QDRANT_HOST", "")
	t.Setenv("S3_ENDPOINT", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("AMQP_URL", "")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "pdfchat ") {
		t.Fatalf("out=%q", out)
	}
}

func TestToken_RoundTripsThroughVerifier(t *testing.T) {
	setEnv(t)
	out, err := run(t, "token", "--user", "u1", "--email", "u1@example.com")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	id, err := auth.NewVerifier("test-secret", "", false).Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "u1" || id.Email != "u1@example.com" || id.Role != "user" {
		t.Fatalf("identity=%+v", id)
	}

	if _, err := run(t, "token"); err == nil {
		t.Fatal("expected error without --user")
	}
}

func TestConfigErrorStopsCommand(t *testing.T) {
	setEnv(t)
	t.Setenv("CHUNK_SIZE", "0")
	if _, err := run(t, "migrate"); err == nil || !strings.Contains(err.Error(), "CHUNK_SIZE") {
		t.Fatalf("err=%v", err)
	}
}

func TestMigrate_CreatesDatabase(t *testing.T) {
	dir := setEnv(t)
	if _, err := run(t, "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "db", "app.db")); err != nil {
		t.Fatalf("db file: %v", err)
	}
}

func writePDF(t *testing.T, pages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, extracttest.PDF(pages...), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIngest_DryRun(t *testing.T) {
	setEnv(t)
	path := writePDF(t, "first page", "second page")

	out, err := run(t, "ingest", "--dry-run", path)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var got ingestSummary
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Filename != "report.pdf" || got.PageCount != 2 || got.TextLength == 0 {
		t.Fatalf("summary=%+v", got)
	}
}

func TestIngest_UploadsThroughPipeline(t *testing.T) {
	setEnv(t)
	path := writePDF(t, "Revenue grew in the third quarter.")

	if _, err := run(t, "ingest", path); err == nil {
		t.Fatal("expected error without --user")
	}

	out, err := run(t, "ingest", "--user", "u1", path)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var got services.UploadResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.DocumentID == "" || got.Filename != "report.pdf" || got.PageCount != 1 || got.ChunkCount < 1 {
		t.Fatalf("result=%+v", got)
	}
}
