package encoding

import (
	"reflect"
	"testing"
)

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"Nil", nil, nil},
		{"String", "hello", "hello"},
		{"StringStaysVerbatim", `{"looks":"like json"}`, `{"looks":"like json"}`},
		{"Int", 42, "42"},
		{"Float", 2.5, "2.5"},
		{"Bool", true, "true"},
		{"Slice", []any{"a", 1}, `["a",1]`},
		{"Map", map[string]any{"k": 1}, `{"k":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.value)
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			if got != tt.want {
				t.Errorf("Got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("Unencodable", func(t *testing.T) {
		if _, err := EncodeValue(make(chan int)); err == nil {
			t.Error("Expected error for unencodable value")
		}
	})
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name string
		text string
		want any
	}{
		{"Number", "42", float64(42)},
		{"Float", "2.5", 2.5},
		{"Bool", "true", true},
		{"Null", "null", nil},
		{"QuotedString", `"hello"`, "hello"},
		{"Array", `["a",1]`, []any{"a", float64(1)}},
		{"Object", `{"k":1}`, map[string]any{"k": float64(1)}},
		{"PlainText", "hello", "hello"},
		{"MalformedJSON", `{"k":`, `{"k":`},
		{"Empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeValue(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	values := []any{
		float64(42),
		2.5,
		true,
		map[string]any{"nested": []any{"x", float64(1)}},
	}
	for _, value := range values {
		encoded, err := EncodeValue(value)
		if err != nil {
			t.Fatalf("Failed to encode %v: %v", value, err)
		}
		text, ok := encoded.(string)
		if !ok {
			t.Fatalf("Expected text encoding for %v, got %T", value, encoded)
		}
		if got := DecodeValue(text); !reflect.DeepEqual(got, value) {
			t.Errorf("Round trip of %v gave %v", value, got)
		}
	}
}
