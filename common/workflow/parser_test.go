package workflow

import (
	"strings"
	"testing"

	"github.com/flowpilot/flowpilot/common/models"
)

const sampleDoc = `
name: nightly-report
description: Collect and summarize logs
triggers:
  - type: cron
    schedule: "0 2 * * *"
inputs:
  source:
    type: string
    default: /var/log/app.log
nodes:
  - id: collect
    type: shell
    command: "wc -l {{ inputs.source }}"
  - id: summarize
    type: chat-api
    depends_on: collect
    prompt: "Summarize: {{ nodes.collect.output }}"
settings:
  on_error: continue
`

func TestParse_ValidDocument(t *testing.T) {
	wf, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if wf.Name != "nightly-report" {
		t.Errorf("name = %q, want nightly-report", wf.Name)
	}
	if wf.Version != 1 {
		t.Errorf("default version = %d, want 1", wf.Version)
	}
	if len(wf.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(wf.Nodes))
	}
	if got := wf.Nodes[1].DependsOn; len(got) != 1 || got[0] != "collect" {
		t.Errorf("depends_on scalar form = %v, want [collect]", got)
	}
	if wf.Nodes[0].ConfigString("command") == "" {
		t.Error("inline config key command not captured")
	}
}

func TestParse_DefaultManualTrigger(t *testing.T) {
	wf, err := Parse([]byte("name: plain\nnodes:\n  - id: a\n    type: shell\n    command: \"true\"\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(wf.Triggers) != 1 || wf.Triggers[0].Type != models.TriggerManual {
		t.Errorf("triggers = %+v, want one manual trigger", wf.Triggers)
	}
}

func TestParse_FileWatchDefaultEvents(t *testing.T) {
	doc := `
name: watcher
triggers:
  - type: file-watch
    path: /tmp
nodes:
  - id: a
    type: shell
    command: "true"
`
	wf, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	events := wf.Triggers[0].Events
	if len(events) != 2 || events[0] != "created" || events[1] != "modified" {
		t.Errorf("default events = %v", events)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	wf, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	data, err := Serialize(wf)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("re-Parse failed: %v", err)
	}
	if again.Name != wf.Name || len(again.Nodes) != len(wf.Nodes) {
		t.Errorf("round trip changed document: %+v vs %+v", again, wf)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "duplicate id",
			doc:  "name: x\nnodes:\n  - id: a\n    type: shell\n    command: t\n  - id: a\n    type: shell\n    command: t\n",
			want: "duplicate id",
		},
		{
			name: "unknown dependency",
			doc:  "name: x\nnodes:\n  - id: a\n    type: shell\n    command: t\n    depends_on: ghost\n",
			want: "unknown node",
		},
		{
			name: "bad on_error",
			doc:  "name: x\nsettings:\n  on_error: explode\nnodes:\n  - id: a\n    type: shell\n    command: t\n",
			want: "on_error",
		},
		{
			name: "uppercase node id",
			doc:  "name: x\nnodes:\n  - id: BadName\n    type: shell\n    command: t\n",
			want: "id must match",
		},
		{
			name: "condition without if",
			doc:  "name: x\nnodes:\n  - id: a\n    type: condition\n",
			want: "requires an if",
		},
		{
			name: "delay with both duration and until",
			doc:  "name: x\nnodes:\n  - id: a\n    type: delay\n    duration: 5\n    until: \"12:00\"\n",
			want: "exactly one of duration or until",
		},
		{
			name: "cron with four fields",
			doc:  "name: x\ntriggers:\n  - type: cron\n    schedule: \"1 2 3 4\"\nnodes:\n  - id: a\n    type: shell\n    command: t\n",
			want: "5 or 6 fields",
		},
		{
			name: "dependency cycle",
			doc:  "name: x\nnodes:\n  - id: a\n    type: shell\n    command: t\n    depends_on: b\n  - id: b\n    type: shell\n    command: t\n    depends_on: a\n",
			want: "cycle",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_UnknownNodeTypePassesParse(t *testing.T) {
	doc := "name: x\nnodes:\n  - id: a\n    type: quantum-compute\n    qubits: 8\n"
	if _, err := Parse([]byte(doc)); err != nil {
		t.Fatalf("unknown node type should pass parse, got %v", err)
	}
}
