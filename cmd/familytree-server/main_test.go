package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRunServesAndShutsDown(t *testing.T) {
	t.Setenv("FAMILYTREE_STORAGE_DRIVER", "memory")
	t.Setenv("FAMILYTREE_BLOB_DRIVER", "memory")
	t.Setenv("FAMILYTREE_LOG_FORMAT", "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan string, 1)
	done := make(chan error, 1)
	var logs bytes.Buffer
	go func() { done <- run(ctx, []string{"-addr", "127.0.0.1:0"}, &logs, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}

	resp, err := http.Post("http://"+addr+"/tree/init-tree", "application/json", strings.NewReader(
		`{"grandFather": {"fullName": "A"}, "grandMother": {"fullName": "B"}, "relationship": {}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	var env struct {
		Success bool `json:"success"`
	}
	if resp.StatusCode != http.StatusCreated || json.Unmarshal(body, &env) != nil || !env.Success {
		t.Fatalf("unexpected init response %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatalf("server did not shut down")
	}
	if !strings.Contains(logs.String(), `"msg":"server listening"`) {
		t.Fatalf("expected startup log, got %s", logs.String())
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	t.Setenv("FAMILYTREE_STORAGE_DRIVER", "mongo")
	if err := run(context.Background(), nil, io.Discard, nil); err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config error, got %v", err)
	}
}
