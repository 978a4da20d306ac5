package agent

import (
	"encoding/json"
	"strings"
)

// SpeechScanner finds the top-level "speech" string in a JSON object that
// arrives in pieces. The value is reported only once the closing quote
// and the delimiter after it have both been seen, so an escaped quote
// near the end of a chunk can never cut the text short.
type SpeechScanner struct {
	depth     int
	inString  bool
	escape    bool
	expectKey bool
	readKey   bool
	key       strings.Builder
	lastKey   string
	wantValue bool
	capturing bool
	closed    bool
	raw       strings.Builder

	speech string
	done   bool
	failed bool
}

// Write feeds the next piece of text. It never fails.
func (s *SpeechScanner) Write(p []byte) (int, error) {
	s.WriteString(string(p))
	return len(p), nil
}

func (s *SpeechScanner) WriteString(chunk string) {
	for i := 0; i < len(chunk) && !s.done && !s.failed; i++ {
		s.step(chunk[i])
	}
}

// Speech returns the extracted text once it is confirmed.
func (s *SpeechScanner) Speech() (string, bool) {
	return s.speech, s.done
}

func (s *SpeechScanner) step(c byte) {
	if s.inString {
		if s.escape {
			s.escape = false
			s.keep(c)
			return
		}
		switch c {
		case '\\':
			s.escape = true
			s.keep(c)
		case '"':
			s.inString = false
			if s.readKey {
				s.readKey = false
				s.lastKey = s.key.String()
				s.key.Reset()
			} else if s.capturing {
				s.capturing = false
				s.closed = true
			}
		default:
			s.keep(c)
		}
		return
	}

	if isSpace(c) {
		return
	}
	if s.closed {
		// the byte after the closing quote decides
		if s.depth == 1 && (c == ',' || c == '}') {
			s.confirm()
			return
		}
		s.closed = false
		s.raw.Reset()
	}

	switch c {
	case '{':
		s.depth++
		if s.depth == 1 {
			s.expectKey = true
		}
		s.wantValue = false
	case '[':
		if s.depth > 0 {
			s.depth++
		}
		s.wantValue = false
	case '}', ']':
		if s.depth > 0 {
			s.depth--
		}
	case ',':
		if s.depth == 1 {
			s.expectKey = true
		}
	case ':':
		if s.depth == 1 {
			s.wantValue = s.lastKey == "speech"
		}
	case '"':
		if s.depth == 0 {
			return
		}
		s.inString = true
		switch {
		case s.depth == 1 && s.expectKey:
			s.expectKey = false
			s.readKey = true
		case s.depth == 1 && s.wantValue:
			s.wantValue = false
			s.capturing = true
			s.raw.Reset()
		}
	default:
		if s.depth == 1 {
			s.wantValue = false
		}
	}
}

func (s *SpeechScanner) keep(c byte) {
	switch {
	case s.readKey:
		s.key.WriteByte(c)
	case s.capturing:
		s.raw.WriteByte(c)
	}
}

func (s *SpeechScanner) confirm() {
	var out string
	if err := json.Unmarshal([]byte(`"`+s.raw.String()+`"`), &out); err != nil {
		s.failed = true
		return
	}
	s.speech = out
	s.done = true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

// ExtractSpeech runs a SpeechScanner over a complete fragment.
func ExtractSpeech(fragment string) (string, bool) {
	var s SpeechScanner
	s.WriteString(fragment)
	return s.Speech()
}
