package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// Lexicon is the vocabulary the classifier matches against.
type Lexicon struct {
	Symptoms         []string `koanf:"symptoms"`
	BodyParts        []string `koanf:"body_parts"`
	Drugs            []string `koanf:"drugs"`
	Tests            []string `koanf:"tests"`
	Therapies        []string `koanf:"therapies"`
	AssistiveDevices []string `koanf:"assistive_devices"`
	Diagnoses        []string `koanf:"diagnoses"`
	Stages           []string `koanf:"stages"`
	Cues             Cues     `koanf:"cues"`
}

// Cues are the phrases that signal a topic, an intent or a status change.
type Cues struct {
	TopicClose     []string `koanf:"topic_close"`
	ExamIntro      []string `koanf:"exam_intro"`
	ExamFinding    []string `koanf:"exam_finding"`
	Order          []string `koanf:"order"`
	Result         []string `koanf:"result"`
	FollowUp       []string `koanf:"follow_up"`
	Diagnosis      []string `koanf:"diagnosis"`
	DiagnosisWeak  []string `koanf:"diagnosis_weak"`
	Resolution     []string `koanf:"resolution"`
	Discontinue    []string `koanf:"discontinue"`
	Reactivation   []string `koanf:"reactivation"`
	RecurrenceHint []string `koanf:"recurrence_hint"`
	Continuation   []string `koanf:"continuation"`
	Negation       []string `koanf:"negation"`
}

// DefaultLexicon returns the built-in lexicon.
func DefaultLexicon() Lexicon {
	lex, err := parseLexicon(defaultLexicon)
	if err != nil {
		panic(fmt.Sprintf("embedded lexicon: %v", err))
	}
	return lex
}

// LoadLexicon reads a YAML lexicon file over the built-in one. Lists present
// in the file replace the built-in lists; absent lists are kept.
func LoadLexicon(path string) (Lexicon, error) {
	if path == "" {
		return DefaultLexicon(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("read lexicon: %w", err)
	}
	return parseLexicon(defaultLexicon, content)
}

func parseLexicon(layers ...[]byte) (Lexicon, error) {
	k := koanf.New(".")
	for _, b := range layers {
		if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
			return Lexicon{}, fmt.Errorf("parse lexicon: %w", err)
		}
	}
	var lex Lexicon
	if err := k.Unmarshal("", &lex); err != nil {
		return Lexicon{}, fmt.Errorf("unmarshal lexicon: %w", err)
	}
	return lex, nil
}

// matcher finds lexicon terms in text, longest term first, without overlaps.
type matcher struct {
	re *regexp.Regexp
}

type match struct {
	term  string // canonical lowercase lexicon term
	start int
	end   int
}

func newMatcher(terms []string) (*matcher, error) {
	clean := make([]string, 0, len(terms))
	seen := make(map[string]bool)
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return &matcher{}, nil
	}
	// longest first so that alternation prefers "knee pain" over "pain"
	sort.SliceStable(clean, func(i, j int) bool { return len(clean[i]) > len(clean[j]) })
	quoted := make([]string, len(clean))
	for i, t := range clean {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(t), " ", `\s+`)
	}
	re, err := regexp.Compile(`(?i)(?:^|[^\p{L}\p{N}])(` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}])`)
	if err != nil {
		return nil, err
	}
	return &matcher{re: re}, nil
}

// find returns every non-overlapping match in order of position.
func (m *matcher) find(text string) []match {
	if m.re == nil {
		return nil
	}
	var out []match
	pos := 0
	for pos <= len(text) {
		loc := m.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[2], pos+loc[3]
		out = append(out, match{
			term:  strings.Join(strings.Fields(strings.ToLower(text[start:end])), " "),
			start: start,
			end:   end,
		})
		// resume at the end of the term so a shared delimiter can start the next match
		pos = end
	}
	return out
}

func (m *matcher) contains(text string) bool {
	return m.re != nil && m.re.MatchString(text)
}

// first returns the earliest match, if any.
func (m *matcher) first(text string) (match, bool) {
	ms := m.find(text)
	if len(ms) == 0 {
		return match{}, false
	}
	return ms[0], true
}
