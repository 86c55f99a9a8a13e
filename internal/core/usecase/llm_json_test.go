package usecase

import "testing"

func TestExtractJSONFromFencedOutput(t *testing.T) {
	raw := "Here you go:\n```json\n{\"a\": \"brace } inside\", \"b\": [1,2]}\n```\nthanks"
	got, err := extractJSON(raw)
	if err != nil {
		t.Fatalf("extractJSON() error = %v", err)
	}
	if got != `{"a": "brace } inside", "b": [1,2]}` {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestExtractJSONRejectsProse(t *testing.T) {
	if _, err := extractJSON("I could not find the answer {maybe"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeStringListAcceptsArrayOrObject(t *testing.T) {
	list, err := decodeStringList(`["a","b"]`, "sub_questions")
	if err != nil || len(list) != 2 {
		t.Fatalf("array form: %v %v", list, err)
	}
	list, err = decodeStringList(`{"sub_questions":["x"]}`, "sub_questions")
	if err != nil || len(list) != 1 || list[0] != "x" {
		t.Fatalf("object form: %v %v", list, err)
	}
	if _, err := decodeStringList(`{"other":["x"]}`, "sub_questions"); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestDecodeIntList(t *testing.T) {
	list, err := decodeIntList(`{"ranking":[3,1,2]}`, "ranking")
	if err != nil || len(list) != 3 || list[0] != 3 {
		t.Fatalf("unexpected %v %v", list, err)
	}
}
