package ai

import (
	"encoding/json"
	"testing"
)

func TestFileListPreservesObjectKeyOrder(t *testing.T) {
	payload := `{"z_last.go":"package z","a_first.go":"package a","middle.go":"package m"}`

	var files FileList
	if err := json.Unmarshal([]byte(payload), &files); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	want := []string{"z_last.go", "a_first.go", "middle.go"}
	got := files.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected generation order %v, got %v", want, got)
		}
	}

	encoded, err := json.Marshal(files)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if string(encoded) != payload {
		t.Fatalf("expected order-preserving encode, got %s", encoded)
	}
}

func TestFileListRejectsNonObjectPayload(t *testing.T) {
	var files FileList
	if err := json.Unmarshal([]byte(`["main.go"]`), &files); err == nil {
		t.Fatalf("expected array payload to be rejected")
	}
	if err := json.Unmarshal([]byte(`{"main.go":42}`), &files); err == nil {
		t.Fatalf("expected non-string content to be rejected")
	}
}

func TestFileListGet(t *testing.T) {
	files := FileList{
		{Name: "main.go", Content: "package main"},
		{Name: "go.mod", Content: "module demo"},
	}

	content, ok := files.Get("go.mod")
	if !ok || content != "module demo" {
		t.Fatalf("unexpected lookup result %q %v", content, ok)
	}
	if _, ok := files.Get("missing.go"); ok {
		t.Fatalf("expected lookup miss")
	}
}

func TestResultWithDefaults(t *testing.T) {
	filled := Result{}.WithDefaults()
	if filled.Explanation != "No explanation provided" {
		t.Fatalf("unexpected explanation %q", filled.Explanation)
	}
	if filled.Files == nil || filled.BuildSteps == nil || filled.RunCommands == nil {
		t.Fatalf("expected empty slices, got %#v", filled)
	}

	kept := Result{Explanation: "done", Files: FileList{{Name: "a", Content: "b"}}}.WithDefaults()
	if kept.Explanation != "done" {
		t.Fatalf("expected explanation to survive, got %q", kept.Explanation)
	}
	if len(kept.Files) != 1 {
		t.Fatalf("expected files to survive, got %#v", kept.Files)
	}
	if !kept.HasFiles() {
		t.Fatalf("expected HasFiles to report true")
	}
}
