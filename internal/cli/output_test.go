package cli

import (
	"bytes"
	"testing"
)

type sampleOutput struct {
	Model  string `json:"model"`
	Tokens int    `json:"tokens"`
}

func TestFormatterJSON(t *testing.T) {
	t.Cleanup(func() {
		jsonOutput = false
		jsonlOutput = false
	})

	jsonOutput = true
	jsonlOutput = false

	var buf bytes.Buffer
	formatter := NewFormatter(&buf)
	if err := formatter.Write(sampleOutput{Model: "qwen2.5-coder:7b", Tokens: 42}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	expected := "{\n  \"model\": \"qwen2.5-coder:7b\",\n  \"tokens\": 42\n}\n"
	if buf.String() != expected {
		t.Fatalf("unexpected JSON output:\n%s", buf.String())
	}
}

func TestFormatterJSONL(t *testing.T) {
	t.Cleanup(func() {
		jsonOutput = false
		jsonlOutput = false
	})

	jsonOutput = false
	jsonlOutput = true

	var buf bytes.Buffer
	formatter := NewFormatter(&buf)
	payload := []sampleOutput{
		{Model: "qwen2.5-coder:7b", Tokens: 1},
		{Model: "llama3.3:70b", Tokens: 2},
	}
	if err := formatter.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	expected := "{\"model\":\"qwen2.5-coder:7b\",\"tokens\":1}\n{\"model\":\"llama3.3:70b\",\"tokens\":2}\n"
	if buf.String() != expected {
		t.Fatalf("unexpected JSONL output:\n%s", buf.String())
	}
}

func TestFormatterJSONLSingleValue(t *testing.T) {
	t.Cleanup(func() {
		jsonOutput = false
		jsonlOutput = false
	})

	jsonOutput = false
	jsonlOutput = true

	var buf bytes.Buffer
	formatter := NewFormatter(&buf)
	if err := formatter.Write(sampleOutput{Model: "llama3.3:70b", Tokens: 7}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	expected := "{\"model\":\"llama3.3:70b\",\"tokens\":7}\n"
	if buf.String() != expected {
		t.Fatalf("unexpected JSONL output:\n%s", buf.String())
	}
}

func TestFormatterHuman(t *testing.T) {
	t.Cleanup(func() {
		jsonOutput = false
		jsonlOutput = false
	})

	jsonOutput = false
	jsonlOutput = false

	var buf bytes.Buffer
	formatter := NewFormatter(&buf)
	if err := formatter.Write("hello"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if buf.String() != "hello\n" {
		t.Fatalf("unexpected human output: %q", buf.String())
	}
}
