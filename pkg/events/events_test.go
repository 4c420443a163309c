package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "text", MinSeverity: Info})

	logger.ReadResponse(3, 1, 7, 2, 4, 99)

	output := buf.String()
	if !strings.Contains(output, "READ operation result on Transaction T7") {
		t.Errorf("expected read response text, got: %s", output)
	}
	if !strings.Contains(output, "x4") || !strings.Contains(output, "99") {
		t.Errorf("expected item/value in output, got: %s", output)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "json", MinSeverity: Info})

	logger.WriteResponse(5, 2, 3, 1, 6, 42)

	var e Event
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if e.KindName != "write_response" {
		t.Errorf("KindName = %q, want write_response", e.KindName)
	}
	if e.SevName != "info" {
		t.Errorf("SevName = %q, want info", e.SevName)
	}
	if e.Trans == nil || *e.Trans != 3 {
		t.Errorf("Trans = %v, want 3", e.Trans)
	}
	if e.Value == nil || *e.Value != 42 {
		t.Errorf("Value = %v, want 42", e.Value)
	}
}

func TestSeverityFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "text", MinSeverity: Abort})

	logger.SiteRecovered(1, 2) // Info, below MinSeverity
	if buf.Len() > 0 {
		t.Error("expected info event to be filtered out")
	}

	logger.DeadlockAbort(1, 9) // Abort, meets MinSeverity
	if buf.Len() == 0 {
		t.Error("expected abort event to be written")
	}
}

func TestCommittedMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "text", MinSeverity: Info})

	logger.Committed(4, 2)

	output := strings.TrimSpace(buf.String())
	want := "Transaction T2 finished successfully!"
	if output != want {
		t.Errorf("Committed message = %q, want %q", output, want)
	}
}

func TestSinkReceivesEveryEventRegardlessOfSeverity(t *testing.T) {
	logger := New(Config{Output: nil, Format: "text", MinSeverity: Internal})

	var received []Event
	logger.AddSink(SinkFunc(func(e Event) {
		received = append(received, e)
	}))

	logger.SiteFailed(1, 3)
	logger.DeadlockAbort(1, 5)

	if len(received) != 2 {
		t.Fatalf("sink received %d events, want 2", len(received))
	}
	if received[0].Kind != KindSiteFail {
		t.Errorf("first event kind = %v, want KindSiteFail", received[0].Kind)
	}
	if received[1].Kind != KindDeadlockAbort {
		t.Errorf("second event kind = %v, want KindDeadlockAbort", received[1].Kind)
	}
}

func TestMultipleSinksAllNotified(t *testing.T) {
	logger := New(Config{Output: nil, Format: "text", MinSeverity: Info})

	var a, b int
	logger.AddSink(SinkFunc(func(Event) { a++ }))
	logger.AddSink(SinkFunc(func(Event) { b++ }))

	logger.SiteRecovered(1, 1)

	if a != 1 || b != 1 {
		t.Errorf("a=%d b=%d, want both 1", a, b)
	}
}

func TestCommandErrorSeverity(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "json", MinSeverity: Info})

	logger.CommandError(0, "unrecognized command")

	var e Event
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if e.SevName != "input" {
		t.Errorf("SevName = %q, want input", e.SevName)
	}
	if !strings.Contains(e.Message, "unrecognized command") {
		t.Errorf("Message = %q, missing detail", e.Message)
	}
}

func TestDumpLinePreservesFormattedText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "text", MinSeverity: Info})

	logger.DumpLine(2, 4, "site 4 - x2: 10, x4: 20")

	output := strings.TrimSpace(buf.String())
	if output != "site 4 - x2: 10, x4: 20" {
		t.Errorf("DumpLine output = %q", output)
	}
}

func TestDefaultConfig(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultConfig(&buf)
	if config.Format != "text" {
		t.Errorf("Format = %q, want text", config.Format)
	}
	if config.MinSeverity != Info {
		t.Errorf("MinSeverity = %v, want Info", config.MinSeverity)
	}
}
