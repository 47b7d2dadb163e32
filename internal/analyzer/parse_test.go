package analyzer

import (
	"strings"
	"testing"
)

func TestParseReply_StrictJSON(t *testing.T) {
	hud, digest, ok := ParseReply(`{"hud":"Writing Go code","digest":"The user is editing a file."}`)
	if !ok {
		t.Fatal("expected strict parse to succeed")
	}
	if hud != "Writing Go code" {
		t.Errorf("unexpected hud %q", hud)
	}
	if digest != "The user is editing a file." {
		t.Errorf("unexpected digest %q", digest)
	}
}

func TestParseReply_FencedJSON(t *testing.T) {
	raw := "```json\n{\"hud\":\"Debugging\",\"digest\":\"Stack trace on screen.\"}\n```"
	hud, _, ok := ParseReply(raw)
	if !ok || hud != "Debugging" {
		t.Errorf("fenced parse failed: hud=%q ok=%t", hud, ok)
	}
}

func TestParseReply_EmbeddedObject(t *testing.T) {
	raw := `Sure, here is the summary: {"hud":"Reading docs","digest":"Browsing."} Hope that helps!`
	hud, digest, ok := ParseReply(raw)
	if !ok {
		t.Fatal("expected lenient parse to succeed")
	}
	if hud != "Reading docs" || digest != "Browsing." {
		t.Errorf("unexpected result: %q / %q", hud, digest)
	}
}

func TestParseReply_NestedBraces(t *testing.T) {
	raw := `noise {"hud":"Editing config","digest":"Changed {\"key\": 1} in settings."} trailing`
	hud, _, ok := ParseReply(raw)
	if !ok || hud != "Editing config" {
		t.Errorf("nested-brace parse failed: hud=%q ok=%t", hud, ok)
	}
}

func TestParseReply_RawFallback(t *testing.T) {
	raw := strings.Repeat("the user is doing something ", 10)
	hud, digest, ok := ParseReply(raw)
	if ok {
		t.Error("unparseable reply must report parsedOk=false")
	}
	if len(hud) != maxRawHUD {
		t.Errorf("expected hud capped at %d chars, got %d", maxRawHUD, len(hud))
	}
	if digest != strings.TrimSpace(raw) {
		t.Error("digest must carry the full raw reply")
	}
}

func TestParseReply_ShortRawKeepsEverything(t *testing.T) {
	hud, digest, ok := ParseReply("just text")
	if ok || hud != "just text" || digest != "just text" {
		t.Errorf("short raw fallback wrong: hud=%q digest=%q ok=%t", hud, digest, ok)
	}
}
