package amqp

import (
	"reflect"
	"testing"
	"time"
)

func TestTableRoundTrip(t *testing.T) {
	original := map[string]any{
		"bool":   true,
		"int32":  int32(-42),
		"int64":  int64(1 << 40),
		"uint64": uint64(7),
		"double": 3.5,
		"string": "hello",
		"nested": map[string]any{
			"deep": "value",
		},
		"decimal": Decimal{Scale: 2, Value: 314},
	}

	decoded, err := DecodeTable(EncodeTable(original))
	if err != nil {
		t.Fatalf("DecodeTable failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, original)
	}
}

func TestTableTimestampRoundTrip(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	decoded, err := DecodeTable(EncodeTable(map[string]any{"at": ts}))
	if err != nil {
		t.Fatalf("DecodeTable failed: %v", err)
	}
	got, ok := decoded["at"].(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", decoded["at"])
	}
	if !got.Equal(ts) {
		t.Errorf("timestamp mismatch: got %v want %v", got, ts)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	original := []any{"a", int32(1), true}
	decoded, err := DecodeArray(EncodeArray(original))
	if err != nil {
		t.Fatalf("DecodeArray failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("round trip mismatch: got %#v want %#v", decoded, original)
	}
}

func TestTableInArrayRoundTrip(t *testing.T) {
	original := map[string]any{
		"entries": []any{
			map[string]any{"k": "v"},
			map[string]any{"n": int32(2)},
		},
	}
	decoded, err := DecodeTable(EncodeTable(original))
	if err != nil {
		t.Fatalf("DecodeTable failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, original)
	}
}

// nestTables builds a chain of total tables, each holding the next under
// the key "t".
func nestTables(total int) map[string]any {
	table := map[string]any{"leaf": true}
	for i := 1; i < total; i++ {
		table = map[string]any{"t": table}
	}
	return table
}

func TestTableNestingCeiling(t *testing.T) {
	// The innermost of n chained tables sits at recursion depth n-1;
	// the decoder allows 64 levels below the top.
	if _, err := DecodeTable(EncodeTable(nestTables(maxNestingDepth + 1))); err != nil {
		t.Errorf("nesting at the ceiling should decode, got %v", err)
	}
	if _, err := DecodeTable(EncodeTable(nestTables(maxNestingDepth + 2))); err == nil {
		t.Error("nesting beyond the ceiling should fail")
	}
}

func TestTableTruncation(t *testing.T) {
	encoded := EncodeTable(map[string]any{"key": "a longer string value"})
	for cut := 1; cut < len(encoded); cut++ {
		if _, err := DecodeTable(encoded[:cut]); err == nil {
			t.Errorf("truncation at %d bytes should fail", cut)
		}
	}
}

func TestTableUnknownTag(t *testing.T) {
	var data []byte
	data = append(data, 3)
	data = append(data, []byte("key")...)
	data = append(data, 'Z')
	if _, err := DecodeTable(data); err == nil {
		t.Error("unknown type tag should fail")
	}
}

func TestDecodeFlags(t *testing.T) {
	names := []string{"durable", "exclusive", "auto-delete"}
	flags := DecodeFlags(0b00000101, names, true)
	if !flags["durable"] || flags["exclusive"] || !flags["auto-delete"] {
		t.Errorf("unexpected flags: %v", flags)
	}
}
