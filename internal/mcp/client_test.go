package mcp

import (
	"context"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestCreateStdioTransportInheritsEnv(t *testing.T) {
	client := &Client{
		name: "test",
		config: ServerConfig{
			Command: "echo",
			Args:    []string{"hello"},
			Env: map[string]string{
				"CUSTOM_VAR": "custom_value",
			},
		},
	}

	transport := client.createStdioTransport(context.Background())
	ct, ok := transport.(*sdkmcp.CommandTransport)
	if !ok {
		t.Fatal("expected sdkmcp.CommandTransport")
	}

	env := ct.Command.Env
	if env == nil {
		t.Fatal("expected non-nil env when config has env vars")
	}

	hasPath := false
	hasCustom := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
		}
		if e == "CUSTOM_VAR=custom_value" {
			hasCustom = true
		}
	}
	if !hasPath {
		t.Error("parent PATH not inherited in subprocess env")
	}
	if !hasCustom {
		t.Error("custom env var not set")
	}
}

func TestCreateStdioTransportNoEnvNil(t *testing.T) {
	client := &Client{
		name:   "test",
		config: ServerConfig{Command: "echo"},
	}

	transport := client.createStdioTransport(context.Background())
	ct, ok := transport.(*sdkmcp.CommandTransport)
	if !ok {
		t.Fatal("expected sdkmcp.CommandTransport")
	}
	if ct.Command.Env != nil {
		t.Error("cmd.Env should stay nil with no custom env (inherit all)")
	}
}

func TestCallToolNotRunning(t *testing.T) {
	client := NewClient("down", ServerConfig{Command: "echo"})
	_, err := client.CallTool(context.Background(), "anything", nil)
	if err == nil {
		t.Fatal("CallTool on a stopped client should fail")
	}
	if !strings.Contains(err.Error(), "not running") {
		t.Errorf("error = %q, want a not-running message", err)
	}
}
