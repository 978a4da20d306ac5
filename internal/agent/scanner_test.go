package agent

import "testing"

func TestSpeechScanner_WaitsForDelimiter(t *testing.T) {
	if s, ok := ExtractSpeech(`{"speech":"Hello \"friend\""`); ok {
		t.Fatalf("expected no speech before delimiter, got %q", s)
	}
	s, ok := ExtractSpeech(`{"speech":"Hello \"friend\"","actions":[]}`)
	if !ok || s != `Hello "friend"` {
		t.Fatalf("got %q ok=%v", s, ok)
	}
}

func TestSpeechScanner_Chunked(t *testing.T) {
	full := `{ "speech" : "I spy something beginning with é \\ done." , "actions": [{"type":"no_action"}]}`
	for size := 1; size <= len(full); size++ {
		var sc SpeechScanner
		for i := 0; i < len(full); i += size {
			end := i + size
			if end > len(full) {
				end = len(full)
			}
			sc.WriteString(full[i:end])
		}
		got, ok := sc.Speech()
		if !ok || got != `I spy something beginning with é \ done.` {
			t.Fatalf("size %d: got %q ok=%v", size, got, ok)
		}
	}
}

func TestSpeechScanner_IgnoresNestedSpeechKeys(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"nested_first", `{"actions":[{"speech":"no"}],"speech":"yes"}`, "yes", true},
		{"value_named_speech", `{"note":"speech","speech":"real"}`, "real", true},
		{"nested_only", `{"meta":{"speech":"no"}}`, "", false},
		{"not_a_string", `{"speech":42}`, "", false},
		{"closing_brace", `{"speech":"last"}`, "last", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractSpeech(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("got %q ok=%v; want %q ok=%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
