package sensor

import "testing"

func TestTranslate(t *testing.T) {
	tests := []struct {
		property string
		want     string
	}{
		{"outputHomePower", "outputHome Leistung"},
		{"electricLevel", "electric Füllstand"},
		{"hyperTmp", "hyper Temperatur"},
		{"remainOutTime", "remainOut Zeit"},
		{"acMode", "ac Modus"},
		{"packNum", "pack Anzahl"},
		{"heatState", "heat Status"},
		{"gridReverse", "grid Rückwärts"},
		{"lampSwitch", "lamp Schalter"},
		{"dataReady", "data Bereit"},
		{"minSocWakeup", "minSoc Aufwecken"},
		{"writeRsp", "write Antwort"},
		{"timeZone", "time Zone"},
		{"gridStandard", "grid Standard"},
		{"inputLimit", "input Limit"},
		// Limit is replaced before Max
		{"chargeMaxLimit", "charge Maximal Limit"},
		// Leading fragments are trimmed
		{"PowerLevel", "Leistung Füllstand"},
		{"socSet", "socSet"},
	}

	tr := DefaultTranslator()
	for _, tt := range tests {
		t.Run(tt.property, func(t *testing.T) {
			if got := tr.Translate(tt.property); got != tt.want {
				t.Errorf("Translate(%q) = %q, want %q", tt.property, got, tt.want)
			}
		})
	}
}

func TestTranslate_CustomRules(t *testing.T) {
	tr := NewTranslator([]Rule{{"Power", " power"}, {"output", "Output"}})

	if got := tr.Translate("outputHomePower"); got != "OutputHome power" {
		t.Errorf("Translate() = %q, want %q", got, "OutputHome power")
	}

	// A rule list that erases the whole name falls back to the property
	tr = NewTranslator([]Rule{{"x", " "}})
	if got := tr.Translate("x"); got != "x" {
		t.Errorf("Translate() = %q, want the property name back", got)
	}
}
