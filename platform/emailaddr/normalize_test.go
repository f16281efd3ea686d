package emailaddr

import "testing"

func TestNormalizeCaseAndWhitespace(t *testing.T) {
	if Normalize(" A@B.COM ") != Normalize("a@b.com") {
		t.Fatalf("expected case and whitespace insensitive result, got %q vs %q", Normalize(" A@B.COM "), Normalize("a@b.com"))
	}
	if got := Normalize("jo ao @ gmail .com"); got != "joao@gmail.com" {
		t.Fatalf("expected internal whitespace stripped, got %q", got)
	}
}

func TestNormalizeFixesDomainTypos(t *testing.T) {
	cases := map[string]string{
		"Maria@Hotmil.com":  "maria@hotmail.com",
		"pedro@gmai.com":    "pedro@gmail.com",
		"ana@outlok.com":    "ana@outlook.com",
		"carla@gmail.con":   "carla@gmail.com",
		"bia@hotmail.com":   "bia@hotmail.com",
		"lu@gmai.com.br":    "lu@gmai.com.br",
		"rafa@münchen.de":   "rafa@xn--mnchen-3ya.de",
		"no-at-sign":        "no-at-sign",
		"":                  "",
		"  TRAILING@X.IO\n": "trailing@x.io",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		" A@B.COM ", "x@hotmil.com", "weird@@gmai.com", "rafa@MÜNCHEN.de",
		"\tspaced out@ outlok.com", "@", "a@", "@b.com", "plain",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestValid(t *testing.T) {
	valid := []string{"a@b.com", "joao.silva@empresa.com.br"}
	invalid := []string{"", "a@b", "@b.com", "a@.com", "a@b.com.", "a@b@c.com", "plain"}
	for _, v := range valid {
		if !Valid(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	for _, v := range invalid {
		if Valid(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestMatchesPartial(t *testing.T) {
	if !MatchesPartial("maria@gmail.co", "maria@gmail.com") {
		t.Fatalf("expected truncated address to match")
	}
	if MatchesPartial("a@b.c", "a@b.com") {
		t.Fatalf("expected short address to be rejected")
	}
	if MatchesPartial("joana@gmail.com", "maria@gmail.com") {
		t.Fatalf("expected unrelated addresses not to match")
	}
}

func TestLooksSimilar(t *testing.T) {
	if !LooksSimilar("joaosilva@gmail.com", "joaosilba@gmail.com") {
		t.Fatalf("expected one substitution to look similar")
	}
	if LooksSimilar("joaosilva@gmail.com", "joaosilva@hotmail.com") {
		t.Fatalf("expected different domains not to look similar")
	}
	if LooksSimilar("abcdef@gmail.com", "uvwxyz@gmail.com") {
		t.Fatalf("expected many differences not to look similar")
	}
}
