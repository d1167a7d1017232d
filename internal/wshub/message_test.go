package wshub

import "testing"

func TestLogMessagePrefixesByStream(t *testing.T) {
	m := logMessage(KindProcess, "p1", "stdout", "hello")
	if m.Type != "log" || m.DataType != KindProcess || m.TargetID != "p1" {
		t.Fatalf("logMessage() header = %+v", m)
	}
	if m.Log == nil || m.Log.Content != "[stdout] hello" {
		t.Fatalf("logMessage() content = %+v, want [stdout] hello", m.Log)
	}

	m = logMessage(KindSession, "s1", "stderr", "oops")
	if m.Log.Content != "[stderr] oops" {
		t.Fatalf("logMessage() content = %q, want [stderr] oops", m.Log.Content)
	}
}

func TestSubscribedMessageCarriesKindAsType(t *testing.T) {
	m := subscribedMessage(KindProcess, "p1")
	if m.Action != "subscribed" || m.Type != string(KindProcess) || m.TargetID != "p1" {
		t.Fatalf("subscribedMessage() = %+v", m)
	}
}

func TestUnsubscribedMessageCarriesKindAsType(t *testing.T) {
	m := unsubscribedMessage(KindSession, "s1")
	if m.Action != "unsubscribed" || m.Type != string(KindSession) || m.TargetID != "s1" {
		t.Fatalf("unsubscribedMessage() = %+v", m)
	}
}

func TestDroppedMessageCarriesCount(t *testing.T) {
	m := droppedMessage(42)
	if m.Action != "dropped" || m.Dropped != 42 {
		t.Fatalf("droppedMessage() = %+v", m)
	}
}

func TestListMessageCarriesSummaries(t *testing.T) {
	procs := []ProcessSummary{{ID: "p1", Command: "echo", Status: "running"}}
	sessions := []SessionSummary{{ID: "s1", Cwd: "/tmp", Status: "active"}}
	m := listMessage(procs, sessions)
	if m.Type != "list" {
		t.Fatalf("listMessage() Type = %q, want list", m.Type)
	}
	if len(m.Processes) != 1 || m.Processes[0].ID != "p1" {
		t.Fatalf("listMessage() Processes = %+v", m.Processes)
	}
	if len(m.Sessions) != 1 || m.Sessions[0].ID != "s1" {
		t.Fatalf("listMessage() Sessions = %+v", m.Sessions)
	}
}

func TestErrorMessageCarriesText(t *testing.T) {
	m := errorMessage("bad request")
	if m.Error != "bad request" {
		t.Fatalf("errorMessage() = %+v", m)
	}
}
