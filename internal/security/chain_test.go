package security

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"agenthost/internal/domain"
)

func logN(t *testing.T, logger *FileAuditLogger, n int) {
	t.Helper()
	for i := range n {
		err := logger.Log(context.Background(), domain.AuditEvent{
			Type:     domain.AuditCreateGranted,
			Actor:    "platform",
			Resource: "defender",
			Detail:   map[string]string{"seq": string(rune('a' + i))},
		})
		if err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
}

func TestVerifyAuditLogIntact(t *testing.T) {
	logger, path := newTestAuditLogger(t)
	logN(t, logger, 5)
	logger.Close()

	n, err := VerifyAuditLog(path)
	if err != nil {
		t.Fatalf("VerifyAuditLog: %v", err)
	}
	if n != 5 {
		t.Errorf("verified = %d, want 5", n)
	}
}

func TestVerifyAuditLogEmpty(t *testing.T) {
	logger, path := newTestAuditLogger(t)
	logger.Close()

	n, err := VerifyAuditLog(path)
	if err != nil || n != 0 {
		t.Fatalf("VerifyAuditLog = %d, %v", n, err)
	}
}

func TestVerifyAuditLogDetectsEdit(t *testing.T) {
	logger, path := newTestAuditLogger(t)
	logN(t, logger, 3)
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"create_granted"`, `"create_denied"`, 1)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := VerifyAuditLog(path)
	if !errors.Is(err, domain.ErrAuditTampered) {
		t.Fatalf("err = %v, want ErrAuditTampered", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("err = %v, want line 2", err)
	}
	if n != 1 {
		t.Errorf("verified = %d, want 1", n)
	}
}

func TestVerifyAuditLogDetectsRemoval(t *testing.T) {
	logger, path := newTestAuditLogger(t)
	logN(t, logger, 3)
	logger.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	kept := []string{lines[0], lines[2]}
	os.WriteFile(path, []byte(strings.Join(kept, "\n")+"\n"), 0o600)

	if _, err := VerifyAuditLog(path); !errors.Is(err, domain.ErrAuditTampered) {
		t.Fatalf("err = %v, want ErrAuditTampered", err)
	}
}

func TestVerifyAuditLogDetectsMalformedLine(t *testing.T) {
	logger, path := newTestAuditLogger(t)
	logN(t, logger, 1)
	logger.Close()

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	f.WriteString("not json\n")
	f.Close()

	_, err := VerifyAuditLog(path)
	if !errors.Is(err, domain.ErrAuditTampered) || !strings.Contains(err.Error(), "malformed") {
		t.Fatalf("err = %v", err)
	}
}

func TestAuditChainContinuesAcrossReopen(t *testing.T) {
	logger, path := newTestAuditLogger(t)
	logN(t, logger, 2)
	logger.Close()

	reopened, err := NewFileAuditLogger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	logN(t, reopened, 2)
	reopened.Close()

	n, err := VerifyAuditLog(path)
	if err != nil || n != 4 {
		t.Fatalf("VerifyAuditLog = %d, %v", n, err)
	}
}

func TestAuditChainSurvivesPrune(t *testing.T) {
	logger, path := newTestAuditLogger(t)
	ctx := context.Background()
	old := domain.AuditEvent{Type: domain.AuditCreateGranted, Timestamp: time.Now().Add(-48 * time.Hour)}
	for range 3 {
		if err := logger.Log(ctx, old); err != nil {
			t.Fatal(err)
		}
	}
	logN(t, logger, 2)

	if removed, err := logger.Prune(ctx, 24*time.Hour); err != nil || removed != 3 {
		t.Fatalf("Prune = %d, %v", removed, err)
	}
	logN(t, logger, 1)
	logger.Close()

	n, err := VerifyAuditLog(path)
	if err != nil || n != 3 {
		t.Fatalf("VerifyAuditLog = %d, %v", n, err)
	}
}

func TestVerifyAuditLogMissing(t *testing.T) {
	if _, err := VerifyAuditLog("/nonexistent/audit.jsonl"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
