package chat

import (
	"encoding/base64"
	"reflect"
	"strings"
	"testing"
)

func TestRepairCleanTranscriptUnchanged(t *testing.T) {
	conv := []Message{
		UserText("read the config"),
		{Role: RoleAssistant, Parts: []Part{
			{Type: PartText, Text: "Reading it now."},
			callPart("call_1", "read_file"),
		}},
		ToolResultMessage("call_1", "port: 8080"),
		AssistantText("The port is 8080."),
	}

	repaired := Repair(conv)
	if !reflect.DeepEqual(repaired, conv) {
		t.Errorf("clean transcript changed:\ngot  %+v\nwant %+v", repaired, conv)
	}
	if err := ValidatePairing(repaired); err != nil {
		t.Errorf("ValidatePairing() = %v, want nil", err)
	}
}

func TestRepairInsertsSyntheticResultForDanglingCall(t *testing.T) {
	conv := []Message{
		UserText("check the weather"),
		{Role: RoleAssistant, Parts: []Part{callPart("call_1", "get_weather")}},
		UserText("never mind, what time is it?"),
	}

	repaired := Repair(conv)
	if len(repaired) != 4 {
		t.Fatalf("got %d turns, want 4", len(repaired))
	}
	synthetic := repaired[2]
	if synthetic.Role != RoleTool {
		t.Errorf("synthetic turn role = %q, want %q", synthetic.Role, RoleTool)
	}
	result := synthetic.Parts[0].ToolResult
	if result == nil || result.ID != "call_1" {
		t.Fatalf("synthetic result = %+v, want id call_1", synthetic.Parts[0])
	}
	if !result.IsError {
		t.Error("synthetic result should carry the error flag")
	}
	if result.Content != missingResultContent {
		t.Errorf("synthetic content = %q, want %q", result.Content, missingResultContent)
	}
	if err := ValidatePairing(repaired); err != nil {
		t.Errorf("ValidatePairing() = %v, want nil", err)
	}
}

func TestRepairInsertsSyntheticCallForOrphanResult(t *testing.T) {
	conv := []Message{
		UserText("hello"),
		ToolResultMessage("call_lost", "output from an evicted call"),
		AssistantText("Done."),
	}

	repaired := Repair(conv)
	if len(repaired) != 4 {
		t.Fatalf("got %d turns, want 4", len(repaired))
	}
	synthetic := repaired[1]
	if synthetic.Role != RoleAssistant {
		t.Errorf("synthetic turn role = %q, want %q", synthetic.Role, RoleAssistant)
	}
	call := synthetic.Parts[0].ToolCall
	if call == nil || call.ID != "call_lost" {
		t.Fatalf("synthetic call = %+v, want id call_lost", synthetic.Parts[0])
	}
	if call.Name != UnknownToolName {
		t.Errorf("synthetic call name = %q, want %q", call.Name, UnknownToolName)
	}
	if string(call.Arguments) != "{}" {
		t.Errorf("synthetic call arguments = %s, want {}", call.Arguments)
	}
	if err := ValidatePairing(repaired); err != nil {
		t.Errorf("ValidatePairing() = %v, want nil", err)
	}
}

func TestRepairPairsMultipleOrphanResultsInOneTurn(t *testing.T) {
	conv := []Message{
		UserText("hello"),
		{Role: RoleTool, Parts: []Part{
			resultPart("a", "first output"),
			resultPart("b", "second output"),
		}},
		AssistantText("Done."),
	}

	repaired := Repair(conv)
	if len(repaired) != len(conv)+1 {
		t.Fatalf("got %d turns, want %d", len(repaired), len(conv)+1)
	}
	synthetic := repaired[1]
	if synthetic.Role != RoleAssistant {
		t.Errorf("synthetic turn role = %q, want %q", synthetic.Role, RoleAssistant)
	}
	if len(synthetic.Parts) != 2 {
		t.Fatalf("synthetic turn has %d parts, want 2", len(synthetic.Parts))
	}
	for i, wantID := range []string{"a", "b"} {
		call := synthetic.Parts[i].ToolCall
		if call == nil || call.ID != wantID {
			t.Fatalf("synthetic call %d = %+v, want id %q", i, synthetic.Parts[i], wantID)
		}
		if call.Name != UnknownToolName {
			t.Errorf("synthetic call %d name = %q, want %q", i, call.Name, UnknownToolName)
		}
	}
	if err := ValidatePairing(repaired); err != nil {
		t.Errorf("ValidatePairing() = %v, want nil", err)
	}
}

func TestRepairOrphanResultAtHead(t *testing.T) {
	// Eviction can leave a result turn first in the transcript.
	conv := []Message{
		ToolResultMessage("call_old", "stale output"),
		UserText("continue"),
	}

	repaired := Repair(conv)
	if repaired[0].Role != RoleAssistant || repaired[0].Parts[0].ToolCall == nil {
		t.Fatalf("first turn = %+v, want synthetic assistant call", repaired[0])
	}
	if err := ValidatePairing(repaired); err != nil {
		t.Errorf("ValidatePairing() = %v, want nil", err)
	}
}

func TestRepairLastTurnCallStaysUnresolved(t *testing.T) {
	conv := []Message{
		UserText("fetch the page"),
		{Role: RoleAssistant, Parts: []Part{callPart("call_live", "fetch")}},
	}

	repaired := Repair(conv)
	if len(repaired) != 2 {
		t.Fatalf("got %d turns, want 2 (in-flight call must not get a synthetic result)", len(repaired))
	}
	if err := ValidatePairing(repaired); err != nil {
		t.Errorf("ValidatePairing() = %v, want nil", err)
	}
}

func TestRepairRedactsBase64Text(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("some binary payload"))
	conv := []Message{
		UserText("here is the file"),
		{Role: RoleAssistant, Parts: []Part{callPart("call_1", "decode")}},
		ToolResultMessage("call_1", payload),
	}

	repaired := Repair(conv)
	got := repaired[2].Parts[0].ToolResult.Content
	if got != RedactedPlaceholder {
		t.Errorf("tool result content = %q, want %q", got, RedactedPlaceholder)
	}
}

func TestRepairRedactionSkipsProse(t *testing.T) {
	cases := []string{
		"Hello, world!",
		"short",
		"abcd",
		"this line has spaces so it is prose even if long enough",
		"SGVsbG8=",
	}
	for _, text := range cases {
		conv := []Message{UserText(text)}
		repaired := Repair(conv)
		if got := repaired[0].Parts[0].Text; got != text {
			t.Errorf("Repair redacted %q to %q, want unchanged", text, got)
		}
	}
}

func TestRepairRedactsExactThreshold(t *testing.T) {
	// 16 valid base64 characters decode cleanly and must be redacted.
	payload := base64.StdEncoding.EncodeToString([]byte("0123456789ab"))
	if len(payload) != 16 {
		t.Fatalf("fixture payload length = %d, want 16", len(payload))
	}
	repaired := Repair([]Message{UserText(payload)})
	if got := repaired[0].Parts[0].Text; got != RedactedPlaceholder {
		t.Errorf("16-char payload = %q, want %q", got, RedactedPlaceholder)
	}
}

func TestRepairIdempotent(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, 64))
	conv := []Message{
		UserText(payload),
		{Role: RoleAssistant, Parts: []Part{callPart("call_1", "fetch")}},
		UserText("and then?"),
		ToolResultMessage("call_orphan", "leftover"),
		AssistantText("done"),
	}

	once := Repair(conv)
	twice := Repair(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Repair is not idempotent:\nonce  %+v\ntwice %+v", once, twice)
	}
}

func TestRepairDoesNotMutateInput(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, 32))
	conv := []Message{UserText(payload)}

	Repair(conv)
	if conv[0].Parts[0].Text != payload {
		t.Error("Repair mutated its input")
	}
}

func TestRepairMultipleDanglingCallsOneTurn(t *testing.T) {
	conv := []Message{
		UserText("do both"),
		{Role: RoleAssistant, Parts: []Part{
			callPart("call_a", "first"),
			callPart("call_b", "second"),
		}},
		AssistantText("moving on"),
	}

	repaired := Repair(conv)
	if len(repaired) != 4 {
		t.Fatalf("got %d turns, want 4", len(repaired))
	}
	synthetic := repaired[2]
	if len(synthetic.Parts) != 2 {
		t.Fatalf("synthetic turn has %d parts, want 2", len(synthetic.Parts))
	}
	ids := []string{synthetic.Parts[0].ToolResult.ID, synthetic.Parts[1].ToolResult.ID}
	if ids[0] != "call_a" || ids[1] != "call_b" {
		t.Errorf("synthetic result ids = %v, want [call_a call_b]", ids)
	}
}

func TestValidatePairingReportsViolation(t *testing.T) {
	conv := []Message{
		{Role: RoleAssistant, Parts: []Part{callPart("call_1", "fetch")}},
		AssistantText("ignoring the call"),
	}
	err := ValidatePairing(conv)
	if err == nil {
		t.Fatal("ValidatePairing() = nil, want error for unresolved non-final call")
	}
	if !strings.Contains(err.Error(), "call_1") {
		t.Errorf("error %q should name the offending id", err)
	}
}
