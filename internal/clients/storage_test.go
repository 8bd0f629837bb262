package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetURL_AbsoluteAndRelative(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := NewLocalStorage(tmpDir, "/files", "http://example.com:8020")
	if err != nil {
		t.Fatalf("failed create storage: %v", err)
	}

	got := c.GetURL("qr_5001.png")
	want := "http://example.com:8020/files/qr_5001.png"
	if got != want {
		t.Fatalf("expected %s; got %s", want, got)
	}

	// without base url
	c2, _ := NewLocalStorage(tmpDir, "/files", "")
	if got2 := c2.GetURL("qr_5001.png"); got2 != "/files/qr_5001.png" {
		t.Fatalf("expected /files/qr_5001.png; got %s", got2)
	}
}

func TestSaveAndServeFileHandler(t *testing.T) {
	tmpDir := t.TempDir()
	c, err := NewLocalStorage(tmpDir, "/files", "")
	if err != nil {
		t.Fatalf("storage init: %v", err)
	}

	content := []byte("png bytes")
	saved, err := c.Save(context.Background(), "qr 5001.png", content)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	// serve file from BaseDir as main does
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file := strings.TrimPrefix(r.URL.Path, "/files/")
		http.ServeFile(w, r, filepath.Join(c.BaseDir, filepath.Base(file)))
	})
	server := httptest.NewServer(h)
	defer server.Close()

	resp, err := http.Get(server.URL + "/files/" + saved)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(content) {
		t.Fatalf("served content differs: %q", body)
	}
}

func TestSaveIsCollisionFree(t *testing.T) {
	tmpDir := t.TempDir()
	c, _ := NewLocalStorage(tmpDir, "/files", "")

	a, err := c.Save(context.Background(), "qr_5001.png", []byte("a"))
	if err != nil {
		t.Fatalf("save a: %v", err)
	}
	b, err := c.Save(context.Background(), "qr_5001.png", []byte("b"))
	if err != nil {
		t.Fatalf("save b: %v", err)
	}
	if a == b {
		t.Fatalf("same name for two saves: %s", a)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	tmpDir := t.TempDir()
	c, _ := NewLocalStorage(tmpDir, "/files", "")

	old, err := c.Save(context.Background(), "old.png", []byte("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	oldPath := filepath.Join(tmpDir, old)
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fresh, err := c.Save(context.Background(), "fresh.png", []byte("y"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := c.CleanupOlderThan(time.Hour); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatal("old file should be removed")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, fresh)); err != nil {
		t.Fatalf("fresh file should survive: %v", err)
	}
}
