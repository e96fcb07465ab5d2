package chat

import "testing"

func TestIDOrdering(t *testing.T) {
	first, err := ID("0xbb", "0xaa")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ID("0xaa", "0xbb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Fatalf("chat id must not depend on argument order: %q != %q", first, second)
	}
	if first != "0xaa_0xbb" {
		t.Fatalf("unexpected chat id: %q", first)
	}
}

func TestIDInvalid(t *testing.T) {
	if _, err := ID("", "0xaa"); err == nil {
		t.Fatalf("expected error for empty participant")
	}
	if _, err := ID("0xaa", "0xaa"); err == nil {
		t.Fatalf("expected error for self chat")
	}
}

func TestFormatUnread(t *testing.T) {
	cases := []struct {
		count int
		want  string
	}{
		{0, ""},
		{-3, ""},
		{1, "1"},
		{9, "9"},
		{10, "9+"},
		{250, "9+"},
	}

	for _, tc := range cases {
		if got := FormatUnread(tc.count); got != tc.want {
			t.Fatalf("FormatUnread(%d) = %q, want %q", tc.count, got, tc.want)
		}
	}
}
