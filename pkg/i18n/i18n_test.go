package i18n

import (
	"reflect"
	"strings"
	"testing"
)

func TestSetLanguage(t *testing.T) {
	defer SetLanguage(LangEN)

	SetLanguage(LangTR)
	if GetLanguage() != LangTR || M().No != "hayır" {
		t.Fatalf("lang=%s no=%q, expected tr", GetLanguage(), M().No)
	}
	SetLanguage("de")
	if GetLanguage() != LangEN || M().No != "no" {
		t.Fatalf("lang=%s, expected fallback to en", GetLanguage())
	}
}

func TestGet(t *testing.T) {
	if got := Get("NoPositions"); got != "No open positions" {
		t.Fatalf("Get=%q", got)
	}
	if got := Get("Missing"); got != "Missing" {
		t.Fatalf("Get(Missing)=%q, expected key back", got)
	}
}

func TestCatalogsMatch(t *testing.T) {
	en := reflect.ValueOf(messagesEN)
	tr := reflect.ValueOf(messagesTR)
	for i := 0; i < en.NumField(); i++ {
		name := en.Type().Field(i).Name
		e, r := en.Field(i).String(), tr.Field(i).String()
		if e == "" || r == "" {
			t.Fatalf("%s has an empty translation", name)
		}
		if strings.Count(e, "%") != strings.Count(r, "%") {
			t.Fatalf("%s: verb count differs between en and tr", name)
		}
	}
}
