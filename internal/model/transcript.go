package model

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/clinical-summary/internal/errors"
)

// Speaker is the role of a transcript turn.
type Speaker string

const (
	SpeakerDoctor  Speaker = "doctor"
	SpeakerPatient Speaker = "patient"
)

// ParseSpeaker validates a speaker label.
func ParseSpeaker(s string) (Speaker, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "doctor", "dr", "physician":
		return SpeakerDoctor, nil
	case "patient", "pt":
		return SpeakerPatient, nil
	}
	return "", errors.NewValidation("speaker", fmt.Sprintf("unknown speaker %q", s))
}

// UnmarshalJSON accepts any label ParseSpeaker knows. Unknown labels are
// kept as-is for Transcript.Validate to reject.
func (s *Speaker) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if sp, err := ParseSpeaker(raw); err == nil {
		*s = sp
		return nil
	}
	*s = Speaker(raw)
	return nil
}

// Turn is one utterance in an encounter.
type Turn struct {
	Speaker   Speaker `json:"speaker"`
	Utterance string  `json:"utterance"`
}

// Transcript is the ordered dialogue of one encounter.
type Transcript []Turn

// Validate checks every turn has a known speaker.
func (t Transcript) Validate() error {
	for i, turn := range t {
		if _, err := ParseSpeaker(string(turn.Speaker)); err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
	}
	return nil
}

// ParseTranscriptText reads "Doctor: ..." / "Patient: ..." lines.
// Lines without a speaker label continue the previous turn.
func ParseTranscriptText(text string) (Transcript, error) {
	var out Transcript
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		label, rest, found := strings.Cut(raw, ":")
		if found {
			if sp, err := ParseSpeaker(label); err == nil {
				out = append(out, Turn{Speaker: sp, Utterance: strings.TrimSpace(rest)})
				continue
			}
		}
		if len(out) == 0 {
			return nil, errors.NewValidation("transcript", fmt.Sprintf("line %d has no speaker label", line))
		}
		out[len(out)-1].Utterance += " " + raw
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeTranscript accepts either a JSON array of turns or labelled text lines.
func DecodeTranscript(data []byte) (Transcript, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var t Transcript
		if err := json.Unmarshal(trimmed, &t); err != nil {
			return nil, errors.NewValidation("transcript", "invalid JSON: "+err.Error())
		}
		for i := range t {
			sp, err := ParseSpeaker(string(t[i].Speaker))
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", i, err)
			}
			t[i].Speaker = sp
		}
		return t, nil
	}
	return ParseTranscriptText(string(trimmed))
}
