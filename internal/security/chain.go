package security

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/crypto/blake2b"

	"agenthost/internal/domain"
)

// chainHash links event to prev: blake2b-256 over prev and the event's JSON
// encoding with its own Chain field cleared.
func chainHash(prev string, event domain.AuditEvent) (string, error) {
	event.Chain = ""
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, len(prev)+1+len(data))
	buf = append(buf, prev...)
	buf = append(buf, '\n')
	buf = append(buf, data...)
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// rechain recomputes every link starting from an empty head.
func rechain(events []domain.AuditEvent) (string, error) {
	prev := ""
	for i := range events {
		h, err := chainHash(prev, events[i])
		if err != nil {
			return "", err
		}
		events[i].Chain = h
		prev = h
	}
	return prev, nil
}

// lastChain returns the chain value of the final entry in path, or "" for a
// missing or empty log.
func lastChain(path string) (string, error) {
	events, err := ReadAuditLog(path, nil)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if len(events) == 0 {
		return "", nil
	}
	return events[len(events)-1].Chain, nil
}

// VerifyAuditLog walks the hash chain in path and returns the number of
// entries verified. Any edited, inserted, removed or malformed line breaks
// the chain and yields domain.ErrAuditTampered naming the line.
func VerifyAuditLog(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxAuditLine)
	prev := ""
	n := 0
	for scanner.Scan() {
		n++
		var e domain.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return n - 1, fmt.Errorf("%w: line %d: malformed entry", domain.ErrAuditTampered, n)
		}
		want, err := chainHash(prev, e)
		if err != nil {
			return n - 1, fmt.Errorf("%w: line %d: %v", domain.ErrAuditTampered, n, err)
		}
		if e.Chain != want {
			return n - 1, fmt.Errorf("%w: line %d", domain.ErrAuditTampered, n)
		}
		prev = e.Chain
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("scan audit log: %w", err)
	}
	return n, nil
}
