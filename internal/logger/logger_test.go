package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// TestSetup_JSONOutput はログがJSON形式で出力されることを検証する。
func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(&buf)

	logger.Info("test message", slog.String("request_id", "req-1"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("ログ出力はJSONであるべき: %v", err)
	}
	if record["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", record["msg"], "test message")
	}
	if record["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want %q", record["request_id"], "req-1")
	}
}

// TestSetup_LevelFromEnv はLOG_LEVELによるレベル制御を検証する。
func TestSetup_LevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	logger := Setup(&buf)

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("errorレベル設定時にinfoログが出力された: %s", buf.String())
	}

	logger.Error("emitted")
	if buf.Len() == 0 {
		t.Error("errorログは出力されるべき")
	}
}
