package sensor

import "strings"

// Rule replaces every occurrence of Token with Fragment
type Rule struct {
	Token    string
	Fragment string
}

// Translator maps device property names to display names by applying its
// rules in order.
type Translator struct {
	rules []Rule
}

// GermanRules are the display fragments used for Zendure property names.
// Order matters: each rule sees the output of the previous one.
var GermanRules = []Rule{
	{"Power", " Leistung"},
	{"Volt", " Spannung"},
	{"Tmp", " Temperatur"},
	{"State", " Status"},
	{"Level", " Füllstand"},
	{"Time", " Zeit"},
	{"Num", " Anzahl"},
	{"Mode", " Modus"},
	{"Limit", " Limit"},
	{"Standard", " Standard"},
	{"Reverse", " Rückwärts"},
	{"Max", " Maximal"},
	{"Switch", " Schalter"},
	{"Ready", " Bereit"},
	{"Wakeup", " Aufwecken"},
	{"Zone", " Zone"},
	{"Rsp", " Antwort"},
}

// NewTranslator creates a translator with the given rules
func NewTranslator(rules []Rule) *Translator {
	return &Translator{rules: append([]Rule(nil), rules...)}
}

// DefaultTranslator returns a translator using GermanRules
func DefaultTranslator() *Translator {
	return NewTranslator(GermanRules)
}

// Translate returns the display name of a property.
// Names no rule applies to are returned unchanged.
func (t *Translator) Translate(property string) string {
	name := property
	for _, r := range t.rules {
		name = strings.ReplaceAll(name, r.Token, r.Fragment)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return property
	}
	return name
}
