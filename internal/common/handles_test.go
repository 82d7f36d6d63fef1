package common

import "testing"

func TestHandleRoundTrip(t *testing.T) {
	cases := []struct{ collection, key, field string }{
		{"items", "doc-1", "price"},
		{"shops/s1/items", "a|b c", "address.city"},
		{"people", "ünïcode", "name"},
	}
	for _, c := range cases {
		h := EncodeHandle(c.collection, c.key, c.field)
		col, key, field, err := DecodeHandle(h)
		if err != nil {
			t.Fatalf("DecodeHandle(%q): %v", h, err)
		}
		if col != c.collection || key != c.key || field != c.field {
			t.Fatalf("got (%q, %q, %q), want %+v", col, key, field, c)
		}
	}
}

func TestDecodeHandleRejectsGarbage(t *testing.T) {
	for _, h := range []string{"!!!", EncodeHandle("", "k", "f"), "aXRlbXN8a2V5"} {
		if _, _, _, err := DecodeHandle(h); err == nil {
			t.Errorf("DecodeHandle(%q) should fail", h)
		}
	}
}
