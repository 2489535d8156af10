package network

import (
	"testing"
)

// FuzzUnmarshalMessage feeds arbitrary frames to the link decoder.
// Run with: go test -fuzz=FuzzUnmarshalMessage -fuzztime=30s ./byzantine-engine/network/
func FuzzUnmarshalMessage(f *testing.F) {
	hello, _ := NewMessage(1, nil, Hello, HelloData{LinkID: 0})
	b, _ := hello.Marshal()
	f.Add(b)

	f.Add([]byte(`{"src":0,"dst":2,"type":"DATA","data":{"m":1,"value":true,"path":[0,2]}}`))
	f.Add([]byte(`{"src":-1,"type":"SET_NEIGHBORS","data":{"1":[0,1]}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"src":"x"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := UnmarshalMessage(data)
		if err != nil {
			return
		}
		// Anything that decodes must encode again.
		if _, err := msg.Marshal(); err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		var path []int
		_ = msg.Decode(&path)
	})
}
