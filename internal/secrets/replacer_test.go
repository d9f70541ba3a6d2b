package secrets

import "testing"

func TestReplaceSubstitutesAllOccurrences(t *testing.T) {
	r := NewReplacer("hunter2")
	got := r.Replace("password=hunter2 again: hunter2")
	want := "password=" + Redacted + " again: " + Redacted
	if got != want {
		t.Fatalf("Replace = %q, want %q", got, want)
	}
}

func TestReplaceLongestFirst(t *testing.T) {
	r := NewReplacer("abcd", "abcdefgh")
	got := r.Replace("token abcdefgh and abcd")
	want := "token " + Redacted + " and " + Redacted
	if got != want {
		t.Fatalf("Replace = %q, want %q", got, want)
	}
}

func TestReplaceIgnoresShortValues(t *testing.T) {
	r := NewReplacer("ab", "")
	if got := r.Replace("lab work"); got != "lab work" {
		t.Fatalf("Replace = %q, want unchanged", got)
	}
}

func TestNilReplacerPassesThrough(t *testing.T) {
	var r *Replacer
	if got := r.Replace("plain"); got != "plain" {
		t.Fatalf("Replace = %q, want %q", got, "plain")
	}
}
