package network

import (
	"bytes"
	"testing"
)

// FuzzDecode tests wire message decoding with random inputs.
// Run with: go test -fuzz=FuzzDecode -fuzztime=30s ./sudokumesh-engine/network/
func FuzzDecode(f *testing.F) {
	// Seed corpus with valid messages
	for _, msg := range sampleMessages() {
		data, err := Encode(msg)
		if err != nil {
			f.Fatalf("Encode(%s) failed: %v", msg.Command(), err)
		}
		f.Add(data)
	}

	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))
	f.Add([]byte(`"string"`))
	f.Add([]byte(`{"command":"update","NodesNum":"x"}`))
	f.Add([]byte(`{"command":"node_down","address":["h"]}`))
	f.Add([]byte(`{"command":"solve_req","sudoku":[[1,2],[3]]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Should not panic regardless of input
		msg, err := Decode(data)
		if err != nil {
			return
		}
		out, err := Encode(msg)
		if err != nil {
			return
		}
		again, err := Decode(out)
		if err != nil {
			t.Fatalf("re-decoding %q failed: %v", out, err)
		}
		if again.Command() != msg.Command() {
			t.Errorf("Expected command %s, got %s", msg.Command(), again.Command())
		}
	})
}

// FuzzAddress tests address parsing with random inputs.
func FuzzAddress(f *testing.F) {
	f.Add([]byte(`["127.0.0.1",5000]`))
	f.Add([]byte(`["",0]`))
	f.Add([]byte(`[1,2,3]`))
	f.Add([]byte(`{}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var addr Address
		if err := addr.UnmarshalJSON(data); err != nil {
			return
		}
		out, err := addr.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON failed: %v", err)
		}
		var back Address
		if err := back.UnmarshalJSON(out); err != nil {
			t.Fatalf("round trip of %q failed: %v", out, err)
		}
		if back != addr {
			t.Errorf("Expected %v, got %v", addr, back)
		}
	})
}

// FuzzMessageSizeCheck tests that oversized payloads are rejected.
func FuzzMessageSizeCheck(f *testing.F) {
	f.Add(100)
	f.Add(10 * 1024)
	f.Add(MaxNetworkMessageSize + 1)

	f.Fuzz(func(t *testing.T, size int) {
		if size < 0 || size > 4*MaxNetworkMessageSize {
			return
		}
		data := bytes.Repeat([]byte(" "), size)
		_, err := Decode(data)
		if size > MaxNetworkMessageSize && err == nil {
			t.Errorf("Expected oversized payload of %d bytes to be rejected", size)
		}
	})
}
