package encoding

import (
	"sync"
	"testing"
)

type testEntry struct {
	Revision int64  `msgpack:"rev"`
	Path     string `json:"path"`
	Type     uint8  `msgpack:"type"`
	Skipped  string `msgpack:"-"`
}

func TestMarshal_Basic(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"string", "/content/a"},
		{"int64", int64(9876543210)},
		{"slice", []int64{1, 2, 3}},
		{"map", map[string]interface{}{"path": "/a", "rev": 30}},
		{"struct", testEntry{Revision: 7, Path: "/a/b", Type: 4}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(tc.input)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if len(data) == 0 {
				t.Error("Expected non-empty result")
			}
		})
	}
}

func TestStructTags(t *testing.T) {
	original := testEntry{Revision: 42, Path: "/content/x", Type: 16, Skipped: "gone"}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var asMap map[string]interface{}
	if err := Unmarshal(data, &asMap); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := asMap["rev"]; !ok {
		t.Errorf("msgpack tag not used: %v", asMap)
	}
	if _, ok := asMap["path"]; !ok {
		t.Errorf("json tag fallback not used: %v", asMap)
	}
	if _, ok := asMap["Skipped"]; ok {
		t.Errorf("skipped field was encoded: %v", asMap)
	}

	var decoded testEntry
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	original.Skipped = ""
	if decoded != original {
		t.Errorf("got %+v, want %+v", decoded, original)
	}
}

func TestUnmarshal_StringNotBytes(t *testing.T) {
	original := "/content/site/page"
	data, err := Marshal([]byte(original))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var result interface{}
	if err := Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	str, ok := result.(string)
	if !ok {
		t.Fatalf("Expected string type, got %T", result)
	}
	if str != original {
		t.Errorf("String mismatch: got %q, want %q", str, original)
	}
}

func TestUnmarshal_Corrupt(t *testing.T) {
	var decoded testEntry
	if err := Unmarshal([]byte{0xc1}, &decoded); err == nil {
		t.Error("Expected error decoding reserved msgpack code")
	}
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				data, err := Marshal(testEntry{Revision: int64(j), Path: "/p", Type: uint8(id)})
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var decoded testEntry
				if err := Unmarshal(data, &decoded); err != nil || decoded.Revision != int64(j) {
					t.Errorf("round trip failed: %v %+v", err, decoded)
					return
				}
			}
		}(i)
	}

	wg.Wait()
}

func BenchmarkMarshal(b *testing.B) {
	entry := testEntry{Revision: 12345, Path: "/content/benchmark/node", Type: 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Marshal(entry)
	}
}
