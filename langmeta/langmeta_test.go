package langmeta

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "pt_br", want: "pt-BR"},
		{in: " EN-us ", want: "en-US"},
		{in: "ru", want: "ru"},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		got := canonicalize(tc.in)
		if got != tc.want {
			t.Fatalf("canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Run("native and english names", func(t *testing.T) {
		got := Resolve("de")
		if got.Name != "Deutsch" || got.English != "German" || got.Code != "de" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("normalized code", func(t *testing.T) {
		got := Resolve("pt_br")
		if got.Code != "pt-BR" || got.Name == "" || got.English == "" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("unknown passthrough", func(t *testing.T) {
		got := Resolve("not a language")
		if got.Name != "not a language" || got.English != "not a language" {
			t.Fatalf("unexpected unknown result: %#v", got)
		}
	})
}

func TestValidAndBase(t *testing.T) {
	if !Valid("en") || !Valid("pt_BR") {
		t.Error("en and pt_BR should be valid")
	}
	if Valid("") || Valid("!!") {
		t.Error("empty and punctuation codes should be invalid")
	}
	if got := Base("pt-BR"); got != "pt" {
		t.Errorf("Base(pt-BR) = %q", got)
	}
}

func TestLabel(t *testing.T) {
	if got := Label("en"); got != "English" {
		t.Errorf("Label(en) = %q", got)
	}
	if got := Label("fr"); got != "French (français)" {
		t.Errorf("Label(fr) = %q", got)
	}
}
