package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSentences_EmptyInput(t *testing.T) {
	result := Sentences("")
	if result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestSentences_Basic(t *testing.T) {
	text := "Knee pain since Monday. Took ibuprofen! Any better? No."
	got := Split(text)
	want := []string{"Knee pain since Monday.", "Took ibuprofen!", "Any better?", "No."}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSentences_AbbreviationsAndDecimals(t *testing.T) {
	text := "Seen by Dr. Patel today. Salbutamol 2.5 mg nebulised."
	got := Split(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %q", len(got), got)
	}
	if got[0] != "Seen by Dr. Patel today." {
		t.Errorf("unexpected first sentence %q", got[0])
	}
}

func TestSentences_Offsets(t *testing.T) {
	text := "  First one.  Second one."
	for _, s := range Sentences(text) {
		if text[s.Start:s.End] != s.Text {
			t.Errorf("offsets [%d:%d] do not match %q", s.Start, s.End, s.Text)
		}
	}
}

func TestSentences_Newlines(t *testing.T) {
	got := Split("Plan_Medications: Salbutamol\nPlan_Follow_Up: in 2 weeks")
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(got), got)
	}
}

func TestTruncate_FitsUnchanged(t *testing.T) {
	got, cut := Truncate("Short note.", 100)
	if cut || got != "Short note." {
		t.Errorf("expected unchanged, got %q (cut=%v)", got, cut)
	}
}

func TestTruncate_SentenceBoundary(t *testing.T) {
	text := "Asthma is stable. Continue salbutamol as needed. Review in three months."
	got, cut := Truncate(text, 50)
	if !cut {
		t.Fatal("expected truncation")
	}
	if got != "Asthma is stable. Continue salbutamol as needed." {
		t.Errorf("unexpected truncation %q", got)
	}
}

func TestTruncate_WordBoundary(t *testing.T) {
	text := "Persistent intermittent wheeze without nocturnal symptoms"
	got, cut := Truncate(text, 28)
	if !cut {
		t.Fatal("expected truncation")
	}
	if got != "Persistent intermittent" {
		t.Errorf("unexpected truncation %q", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	text := strings.Repeat("é", 40)
	got, cut := Truncate(text, 10)
	if !cut {
		t.Fatal("expected truncation")
	}
	if n := utf8.RuneCountInString(got); n != 10 {
		t.Errorf("expected 10 runes, got %d", n)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated text is not valid UTF-8")
	}
}

func TestTruncate_Zero(t *testing.T) {
	got, cut := Truncate("anything", 0)
	if got != "" || !cut {
		t.Errorf("expected empty cut result, got %q (cut=%v)", got, cut)
	}
}

func TestTruncate_NeverExceedsBudget(t *testing.T) {
	text := "One. Two words here. " + strings.Repeat("long ", 50)
	for max := 0; max < 80; max++ {
		got, _ := Truncate(text, max)
		if n := utf8.RuneCountInString(got); n > max {
			t.Errorf("max=%d: got %d runes", max, n)
		}
	}
}
