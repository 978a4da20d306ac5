package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NDJSON line types emitted by the game master endpoint.
const (
	LineSpeech   = "speech"
	LineComplete = "complete"
	LineError    = "error"
)

// StreamLine is one line of a streamed game master response.
type StreamLine struct {
	Type             string          `json:"type"`
	Speech           string          `json:"speech,omitempty"`
	Actions          json.RawMessage `json:"actions,omitempty"`
	RemainingCredits json.RawMessage `json:"remainingCredits,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// HTTPAgent talks to a remote game master endpoint. It accepts both the
// streamed (application/x-ndjson) and the single JSON reply forms.
type HTTPAgent struct {
	HTTPClient *http.Client
	Endpoint   string
}

func NewHTTPAgent(endpoint string) *HTTPAgent {
	return &HTTPAgent{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Endpoint:   endpoint,
	}
}

func (a *HTTPAgent) Converse(ctx context.Context, req Request, onSpeech func(string)) (Reply, error) {
	if a.Endpoint == "" {
		return Reply{}, errors.New("gamemaster endpoint missing")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/x-ndjson, application/json")

	resp, err := a.HTTPClient.Do(hreq)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		var pe struct {
			Credits  int `json:"credits"`
			Required int `json:"required"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&pe)
		return Reply{}, &CreditError{Credits: pe.Credits, Required: pe.Required}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Reply{}, fmt.Errorf("gamemaster error: status=%d body=%s", resp.StatusCode, string(b))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		return readStream(resp.Body, onSpeech)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, err
	}
	reply := ParseReply(string(b))
	if onSpeech != nil && reply.Speech != "" {
		onSpeech(reply.Speech)
	}
	return reply, nil
}

func readStream(r io.Reader, onSpeech func(string)) (Reply, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	spoke := false
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var l StreamLine
		if err := json.Unmarshal(line, &l); err != nil {
			return Reply{}, fmt.Errorf("gamemaster: bad stream line: %w", err)
		}
		switch l.Type {
		case LineSpeech:
			if onSpeech != nil && !spoke && l.Speech != "" {
				spoke = true
				onSpeech(l.Speech)
			}
		case LineComplete:
			reply := (wireReply{Speech: &l.Speech, Actions: l.Actions}).reply()
			if len(l.RemainingCredits) > 0 {
				_ = reply.Credits.UnmarshalJSON(l.RemainingCredits)
			}
			return reply, nil
		case LineError:
			return Reply{}, fmt.Errorf("gamemaster: %s", l.Error)
		}
	}
	if err := sc.Err(); err != nil {
		return Reply{}, err
	}
	return Reply{}, errors.New("gamemaster: stream ended without a reply")
}
