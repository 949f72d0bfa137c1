package netagent

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestParseToolInputTargeted(t *testing.T) {
	targets, command, err := ParseToolInput(" 10.0.0.1 , 10.0.0.2 :  show version ")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !reflect.DeepEqual(targets, []string{"10.0.0.1", "10.0.0.2"}) {
		t.Fatalf("unexpected targets %v", targets)
	}
	if command != "show version" {
		t.Fatalf("unexpected command %q", command)
	}
}

func TestParseToolInputBareCommand(t *testing.T) {
	targets, command, err := ParseToolInput("show ip route")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if targets != nil {
		t.Fatalf("bare command targets all devices, got %v", targets)
	}
	if command != "show ip route" {
		t.Fatalf("unexpected command %q", command)
	}
}

func TestParseToolInputColonInsideCommand(t *testing.T) {
	// A colon whose prefix contains spaces is part of the command, not a
	// target separator.
	targets, command, err := ParseToolInput("show log | include ERROR: timeout")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if targets != nil {
		t.Fatalf("expected bare command, got targets %v", targets)
	}
	if command != "show log | include ERROR: timeout" {
		t.Fatalf("unexpected command %q", command)
	}
}

func TestParseToolInputRejectsEmptyPieces(t *testing.T) {
	if _, _, err := ParseToolInput("   "); err == nil {
		t.Fatalf("empty input must be rejected")
	}
	if _, _, err := ParseToolInput("10.0.0.1:   "); err == nil {
		t.Fatalf("missing command must be rejected")
	}
	if _, _, err := ParseToolInput(",,: show version"); err == nil {
		t.Fatalf("empty target list must be rejected")
	}
}

func TestBatchToolExecute(t *testing.T) {
	transport := newStubTransport(nil)
	tool := NewBatchTool(newTestOrchestrator(transport), nil)

	result, err := tool.Execute(context.Background(), "10.0.0.1: show clock")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	checkResultInvariant(t, result, []string{"10.0.0.1"})
}

func TestBatchToolDispatchWrapsTask(t *testing.T) {
	transport := newStubTransport(nil)
	registry := NewTaskRegistry(time.Minute, time.Minute)
	tool := NewBatchTool(newTestOrchestrator(transport), registry)

	id, err := tool.Dispatch("10.0.0.1,10.0.0.2: show clock")
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	registry.Wait()

	task, ok := registry.Get(id)
	if !ok {
		t.Fatalf("dispatched task not tracked")
	}
	if task.Kind != TaskKindBatch {
		t.Fatalf("unexpected task kind %s", task.Kind)
	}
	if task.Status != TaskStatusCompleted {
		t.Fatalf("expected completed task, got %s (err %q)", task.Status, task.Error)
	}
	result, ok := task.Result.(*BatchResult)
	if !ok {
		t.Fatalf("task result must be a BatchResult, got %T", task.Result)
	}
	checkResultInvariant(t, result, []string{"10.0.0.1", "10.0.0.2"})
	if task.Progress.Percent != 100 {
		t.Fatalf("dispatcher progress must reach 100, got %d", task.Progress.Percent)
	}
}
