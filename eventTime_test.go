package gelfpipe

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestEventTimeRoundTripValidBefore2106(t *testing.T) {

	tests := []time.Time{
		time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 1, 12, 30, 0, 999999999, time.UTC),
		time.Date(2100, time.January, 1, 0, 0, 0, 1, time.UTC),
	}
	for _, in := range tests {
		tt := EventTime(in)
		buf := &bytes.Buffer{}
		enc := msgpack.NewEncoder(buf)
		if err := enc.Encode(&tt); err != nil {
			t.Fatalf("failed to encode Time as msgpack value: %v", err)
		}
		if buf.Len() != 10 {
			t.Fatalf("expect 10 bytes for serialized Time, got: %d", buf.Len())
		}
		if b := buf.Bytes(); b[0] != 0xD7 || b[1] != 0x00 {
			t.Fatalf("expect a fixext8 header of type 0, got: % X", b[:2])
		}

		dec := msgpack.NewDecoder(buf)
		tt2 := EventTime{}
		if err := dec.Decode(&tt2); err != nil {
			t.Fatalf("failed to decode Time msgpack value: %v", err)
		}

		if !reflect.DeepEqual(tt, tt2) {
			t.Fatalf("orig: %+v, deserialized: %+v", tt, tt2)
		}
	}
}

func TestEventTimeRejectsOtherExtensions(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xD7, 0x01, 0, 0, 0, 1, 0, 0, 0, 0})
	tt := EventTime{}
	if err := msgpack.NewDecoder(buf).Decode(&tt); err == nil {
		t.Fatal("expected an error for extension type 1")
	}
}
