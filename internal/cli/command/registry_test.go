package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gavel/internal/cli/command"
)

func TestBuildSubmitWithCodeFile(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "main.cpp")
	if err := os.WriteFile(sourcePath, []byte("int main() {}"), 0o600); err != nil {
		t.Fatalf("write temp source failed: %v", err)
	}

	cmd := command.Registry()["judge submit"]
	params := command.Params{}
	params.Set("team_id", "team-1")
	params.Set("problem_id", "p1")
	params.Set("language", "cpp")
	params.Set("code_file", sourcePath)
	params.Set("code", "_file_")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/submissions" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("unmarshal body failed: %v", err)
	}
	if payload["code"] != "int main() {}" {
		t.Fatalf("expected file-backed code, got %v", payload["code"])
	}
	if _, ok := payload["contest_id"]; ok {
		t.Fatalf("empty contest_id should be omitted")
	}
}

func TestBuildSubmitRequiresCode(t *testing.T) {
	cmd := command.Registry()["judge submit"]
	params := command.Params{}
	params.Set("team_id", "team-1")
	params.Set("problem_id", "p1")
	params.Set("language", "cpp")

	if _, err := command.BuildRequest(cmd, params); err == nil {
		t.Fatal("expected error for missing code")
	}
}

func TestBuildPathParams(t *testing.T) {
	cmd := command.Registry()["judge status"]
	params := command.Params{}
	params.Set("id", "6f1c2a9e")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Path != "/api/v1/submissions/6f1c2a9e" {
		t.Fatalf("unexpected path: %s", req.Path)
	}
	if len(req.Body) != 0 {
		t.Fatalf("GET request should carry no body")
	}
}

func TestBuildPathMissingParam(t *testing.T) {
	cmd := command.Registry()["judge status"]
	if _, err := command.BuildRequest(cmd, command.Params{}); err == nil {
		t.Fatal("expected error for missing path parameter")
	}
}

func TestBuildQueryParams(t *testing.T) {
	cmd := command.Registry()["contest board"]
	params := command.Params{}
	params.Set("id", "demo-2026")
	params.Set("full", "true")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Path != "/api/v1/contests/demo-2026/leaderboard" {
		t.Fatalf("unexpected path: %s", req.Path)
	}
	if req.Query["full"] != "true" {
		t.Fatalf("expected full query param, got %v", req.Query)
	}

	sig := command.Registry()["problem signature"]
	sigParams := command.Params{}
	sigParams.Set("id", "p1")
	sigParams.Set("language", "go")
	sigReq, err := command.BuildRequest(sig, sigParams)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if sigReq.Query["language"] != "go" {
		t.Fatalf("expected language query param, got %v", sigReq.Query)
	}
}
