package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open audit file error: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan audit file error: %v", err)
	}
	return lines
}

func TestWriter_AppendEvent(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "state")
	writer := NewWriter(stateDir)

	firstTime := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)
	secondTime := firstTime.Add(5 * time.Second)

	if err := writer.Append(Event{
		Time:      firstTime,
		Type:      TypePermissionDecision,
		RequestID: "toolu_1",
		Tool:      "Write",
		Path:      "/ws/note.txt",
		Decision:  "allow",
		Source:    SourceUser,
		Remember:  true,
	}); err != nil {
		t.Fatalf("Append first event error: %v", err)
	}
	if err := writer.Append(Event{
		Time:      secondTime,
		Type:      TypePermissionDecision,
		RequestID: "toolu_2",
		Tool:      "Write",
		Path:      "/ws/note.txt",
		Decision:  "allow",
		Source:    SourceAutoAllow,
	}); err != nil {
		t.Fatalf("Append second event error: %v", err)
	}

	lines := readLines(t, filepath.Join(stateDir, "audit.jsonl"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 jsonl lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line error: %v", err)
	}
	if !first.Time.Equal(firstTime) {
		t.Fatalf("expected first time %s, got %s", firstTime, first.Time)
	}
	if first.Source != SourceUser || !first.Remember || first.Path != "/ws/note.txt" {
		t.Fatalf("unexpected first event: %+v", first)
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line error: %v", err)
	}
	if second.RequestID != "toolu_2" || second.Source != SourceAutoAllow {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

func TestWriter_AppendEvent_MkdirAllFailure(t *testing.T) {
	root := t.TempDir()
	statePath := filepath.Join(root, "state")
	if err := os.WriteFile(statePath, []byte("not-a-dir"), 0644); err != nil {
		t.Fatalf("WriteFile state blocker error: %v", err)
	}

	writer := NewWriter(statePath)
	err := writer.Append(Event{Time: time.Now().UTC(), Type: TypePermissionDecision})
	if err == nil {
		t.Fatal("expected append error when state path is a file")
	}
}

func TestWriter_AppendEvent_Concurrent(t *testing.T) {
	stateDir := t.TempDir()
	writer := NewWriter(stateDir)

	const total = 20
	var wg sync.WaitGroup
	errCh := make(chan error, total)
	wg.Add(total)
	for i := 0; i < total; i++ {
		i := i
		go func() {
			defer wg.Done()
			if err := writer.Append(Event{
				Time:      time.Date(2026, 2, 15, 9, 0, i, 0, time.UTC),
				Type:      TypePermissionDecision,
				RequestID: fmt.Sprintf("toolu_%d", i),
				Tool:      "Edit",
				Decision:  "deny",
				Source:    SourceUser,
			}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("append failed in concurrent path: %v", err)
	}

	if count := len(readLines(t, writer.Path())); count != total {
		t.Fatalf("expected %d lines, got %d", total, count)
	}
}
