// Package classifier segments an encounter transcript into topical spans and
// extracts candidate summary fields with lexicon and pattern rules.
package classifier

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rcliao/clinical-summary/internal/chunker"
	"github.com/rcliao/clinical-summary/internal/model"
)

var (
	dosageRe    = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:mg|mcg|µg|micrograms?|milligrams?|g|ml|units?|puffs?|tablets?|capsules?)\b`)
	frequencyRe = regexp.MustCompile(`(?i)\b(?:(?:once|twice|three times|four times|\d+ times)\s+(?:a|per)\s+day|daily|nightly|as needed|when needed|every \d+ hours|at night|in the morning)\b`)
	relDateRe   = regexp.MustCompile(`(?i)\b(?:(?:in|within|after)\s+(?:\d+|one|two|three|four|five|six|eight|ten|twelve|a|a few|a couple of)\s+(?:days?|weeks?|months?|years?)|next\s+(?:week|month|year)|(?:on|this|next)\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
	isoDateRe   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	icdRe       = regexp.MustCompile(`\b[A-TV-Z][0-9][0-9AB](?:\.[0-9A-TV-Z]{1,4})?\b`)
	icdHintRe   = regexp.MustCompile(`(?i)\b(?:icd|code)\b`)
	stopPhrase  = regexp.MustCompile(`(?i)[,;:.!?]|\s(?:and|so|but|which|because|that|with|for)\s`)

	clauseBreak = regexp.MustCompile(`(?i)(?:\s*[,;])?\s+(?:and|but|while|whereas|although|though|however)\s+|\s*[,;]\s*`)
	contrastRe  = regexp.MustCompile(`(?i);|\b(?:but|while|whereas|although|though|however)\b`)
)

// Classifier applies a compiled lexicon to transcripts and history entries.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	symptoms    *matcher
	drugs       *matcher
	tests       *matcher
	therapies   *matcher
	devices     *matcher
	diagnoses   *matcher
	stages      *matcher
	bodyParts   *matcher
	bodyPain    *regexp.Regexp
	painInPart  *regexp.Regexp
	topicClose  *matcher
	examIntro   *matcher
	examFinding *matcher
	order       *matcher
	result      *matcher
	followUp    *matcher
	dxStrong    *matcher
	dxWeak      *matcher
	resolution  *matcher
	discontinue *matcher
	reactivate  *matcher
	recurrence  *matcher
	continued   *matcher
	negation    *matcher
}

// New compiles a lexicon.
func New(lex Lexicon) (*Classifier, error) {
	c := &Classifier{}
	lists := []struct {
		dst   **matcher
		name  string
		terms []string
	}{
		{&c.symptoms, "symptoms", lex.Symptoms},
		{&c.drugs, "drugs", lex.Drugs},
		{&c.tests, "tests", lex.Tests},
		{&c.therapies, "therapies", lex.Therapies},
		{&c.devices, "assistive_devices", lex.AssistiveDevices},
		{&c.diagnoses, "diagnoses", lex.Diagnoses},
		{&c.stages, "stages", lex.Stages},
		{&c.bodyParts, "body_parts", lex.BodyParts},
		{&c.topicClose, "cues.topic_close", lex.Cues.TopicClose},
		{&c.examIntro, "cues.exam_intro", lex.Cues.ExamIntro},
		{&c.examFinding, "cues.exam_finding", lex.Cues.ExamFinding},
		{&c.order, "cues.order", lex.Cues.Order},
		{&c.result, "cues.result", lex.Cues.Result},
		{&c.followUp, "cues.follow_up", lex.Cues.FollowUp},
		{&c.dxStrong, "cues.diagnosis", lex.Cues.Diagnosis},
		{&c.dxWeak, "cues.diagnosis_weak", lex.Cues.DiagnosisWeak},
		{&c.resolution, "cues.resolution", lex.Cues.Resolution},
		{&c.discontinue, "cues.discontinue", lex.Cues.Discontinue},
		{&c.reactivate, "cues.reactivation", lex.Cues.Reactivation},
		{&c.recurrence, "cues.recurrence_hint", lex.Cues.RecurrenceHint},
		{&c.continued, "cues.continuation", lex.Cues.Continuation},
		{&c.negation, "cues.negation", lex.Cues.Negation},
	}
	for _, l := range lists {
		m, err := newMatcher(l.terms)
		if err != nil {
			return nil, fmt.Errorf("lexicon %s: %w", l.name, err)
		}
		*l.dst = m
	}

	if len(lex.BodyParts) > 0 {
		parts := make([]string, 0, len(lex.BodyParts))
		for _, p := range lex.BodyParts {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, regexp.QuoteMeta(strings.ToLower(p)))
			}
		}
		alt := strings.Join(parts, "|")
		c.bodyPain = regexp.MustCompile(`(?i)\b(` + alt + `)s?\b[^.!?]{0,25}?\b(?:hurts?|hurting|aches?|aching|sore|painful)\b`)
		c.painInPart = regexp.MustCompile(`(?i)\b(?:pain|ache|aching)\s+(?:in|on|around)\s+(?:my|the|your|his|her)\s+(?:\w+\s+)?(` + alt + `)s?\b`)
	}
	return c, nil
}

// MustDefault returns a classifier for the built-in lexicon.
func MustDefault() *Classifier {
	c, err := New(DefaultLexicon())
	if err != nil {
		panic(err)
	}
	return c
}

// Span is a run of consecutive turns about one topic. End is exclusive.
type Span struct {
	Start    int            `json:"start"`
	End      int            `json:"end"`
	Category model.Category `json:"category"`
}

// Segment splits turns into topical spans. Every turn belongs to exactly one
// span; turns without a cue continue the current span.
func (c *Classifier) Segment(t model.Transcript) []Span {
	if len(t) == 0 {
		return nil
	}
	spans := []Span{{Start: 0, Category: model.CategoryOther}}
	seen := make(map[string]bool)
	open := true // the encounter opening invites a complaint

	for i, turn := range t {
		cat, ok := c.turnCategory(turn, open, seen)
		if turn.Speaker == model.SpeakerDoctor && c.topicClose.contains(turn.Utterance) {
			open = true
		}
		if cat == model.CategoryNewComplaint {
			open = false
		}

		cur := &spans[len(spans)-1]
		if ok && (cat != cur.Category || cat == model.CategoryNewComplaint) {
			if i > cur.Start {
				cur.End = i
				spans = append(spans, Span{Start: i, Category: cat})
			} else {
				cur.Category = cat
			}
		}
	}
	spans[len(spans)-1].End = len(t)
	return spans
}

// turnCategory returns the topic a turn opens, if any. seen accumulates the
// symptoms mentioned so far.
func (c *Classifier) turnCategory(turn model.Turn, open bool, seen map[string]bool) (model.Category, bool) {
	if turn.Speaker == model.SpeakerPatient {
		introduced := false
		for _, s := range chunker.Split(turn.Utterance) {
			for _, sym := range c.symptomsIn(s) {
				if !seen[sym] {
					seen[sym] = true
					introduced = true
				}
			}
		}
		if introduced && open {
			return model.CategoryNewComplaint, true
		}
		return "", false
	}

	var best model.Category
	rank := 0
	for _, s := range chunker.Split(turn.Utterance) {
		cat, r := c.doctorSentenceCategory(s)
		if r > rank {
			best, rank = cat, r
		}
	}
	return best, rank > 0
}

// doctorSentenceCategory ranks the cue of a doctor sentence; higher wins.
func (c *Classifier) doctorSentenceCategory(s string) (model.Category, int) {
	switch {
	case c.followUp.contains(s) && (relDateRe.MatchString(s) || isoDateRe.MatchString(s)):
		return model.CategoryAppointments, 5
	case c.drugs.contains(s) && !isQuestion(s):
		return model.CategoryPrescriptions, 4
	case c.hasDiagnosis(s):
		return model.CategorySummaryNotes, 3
	case c.examIntro.contains(s) || c.examFinding.contains(s):
		return model.CategoryExam, 2
	case c.tests.contains(s) && (c.order.contains(s) || c.result.contains(s)):
		return model.CategoryOther, 1
	}
	return "", 0
}

func (c *Classifier) hasDiagnosis(s string) bool {
	_, ok := c.diagnosisIn(s)
	return ok
}

// Complaint is a patient utterance that introduces symptoms.
type Complaint struct {
	Turn     int      `json:"turn"`
	Text     string   `json:"text"`
	Symptoms []string `json:"symptoms"`
}

// Diagnosis is one diagnosed condition. Key identifies the condition across
// visits; Label is how it was stated.
type Diagnosis struct {
	Label string `json:"label"`
	Key   string `json:"key"`
	Stage string `json:"stage,omitempty"`
	ICD10 string `json:"icd10,omitempty"`
}

// Medication is one prescribed drug. Key is the lexicon drug name.
type Medication struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Candidates are the field values extracted from one transcript.
type Candidates struct {
	Spans        []Span                   `json:"spans"`
	Complaints   []Complaint              `json:"complaints"`
	Diagnoses    []Diagnosis              `json:"diagnoses"`
	Medications  []Medication             `json:"medications"`
	Discontinued []string                 `json:"discontinued,omitempty"`
	Resolved     []string                 `json:"resolved,omitempty"`
	Reactivated  []string                 `json:"reactivated,omitempty"`
	Recurring    []string                 `json:"recurring,omitempty"` // hinted back, not reactivated
	Fields       map[model.Field][]string `json:"fields"`
	// Drafted marks fields filled from a draft rather than by rules.
	Drafted  map[model.Field]bool `json:"drafted,omitempty"`
	Warnings []model.Warning      `json:"warnings,omitempty"`
}

func newCandidates() *Candidates {
	return &Candidates{
		Fields:  make(map[model.Field][]string),
		Drafted: make(map[model.Field]bool),
	}
}

func (cs *Candidates) add(f model.Field, item string) {
	item = strings.TrimSpace(item)
	if item == "" {
		return
	}
	for _, existing := range cs.Fields[f] {
		if strings.EqualFold(existing, item) {
			return
		}
	}
	cs.Fields[f] = append(cs.Fields[f], item)
}

// Classify extracts candidate field values from a transcript. The result
// depends only on the transcript and the lexicon.
func (c *Classifier) Classify(t model.Transcript) *Candidates {
	cs := newCandidates()
	cs.Spans = c.Segment(t)

	spanOf := make([]model.Category, len(t))
	for _, sp := range cs.Spans {
		for i := sp.Start; i < sp.End; i++ {
			spanOf[i] = sp.Category
		}
	}

	seen := make(map[string]bool)
	for i, turn := range t {
		for _, s := range chunker.Split(turn.Utterance) {
			if cs.Fields[model.FieldVisitDate] == nil && !c.followUp.contains(s) {
				for _, d := range isoDateRe.FindAllString(s, -1) {
					if _, err := model.ParseDate(d); err == nil {
						cs.add(model.FieldVisitDate, d)
						break
					}
				}
			}
		}

		if turn.Speaker == model.SpeakerPatient {
			var introduced []string
			for _, s := range chunker.Split(turn.Utterance) {
				for _, sym := range c.symptomsIn(s) {
					if !seen[sym] {
						seen[sym] = true
						introduced = append(introduced, sym)
						cs.add(model.FieldSymptoms, sym)
					}
				}
			}
			if len(introduced) > 0 {
				cs.Complaints = append(cs.Complaints, Complaint{Turn: i, Text: strings.TrimSpace(turn.Utterance), Symptoms: introduced})
			}
			continue
		}

		for _, s := range chunker.Split(turn.Utterance) {
			c.classifyDoctorSentence(cs, s, spanOf[i] == model.CategoryExam)
		}
	}
	return cs
}

func (c *Classifier) classifyDoctorSentence(cs *Candidates, s string, inExam bool) {
	question := isQuestion(s)

	// medications
	drugs := c.drugs.find(s)
	if !question {
		for i, m := range drugs {
			switch {
			case c.governs(s, c.discontinue, m.start):
				cs.Discontinued = appendUnique(cs.Discontinued, m.term)
			case c.negated(s, m.start):
			default:
				cs.Medications = upsertMedication(cs.Medications, Medication{Key: m.term, Text: medicationText(s, drugs, i)})
			}
		}
	}

	// follow-up
	hasFollowUp := c.followUp.contains(s)
	if hasFollowUp {
		for _, expr := range relDateRe.FindAllString(s, -1) {
			cs.add(model.FieldPlanFollowUp, strings.ToLower(expr))
		}
		for _, d := range isoDateRe.FindAllString(s, -1) {
			cs.add(model.FieldPlanFollowUp, d)
		}
	}

	// tests
	if tests := c.tests.find(s); len(tests) > 0 {
		switch {
		case c.result.contains(s) && !question:
			cs.add(model.FieldInvestigations, trimSentence(s))
		case c.order.contains(s):
			for _, m := range tests {
				if !c.negated(s, m.start) {
					cs.add(model.FieldTestsOrdered, c.testName(s, m.term))
				}
			}
		}
	}

	if !question {
		for _, m := range c.therapies.find(s) {
			if !c.negated(s, m.start) {
				cs.add(model.FieldPlanTherapy, m.term)
			}
		}
		for _, m := range c.devices.find(s) {
			if !c.negated(s, m.start) {
				cs.add(model.FieldPlanAssistive, m.term)
			}
		}
	}

	// diagnoses and status changes
	dx, hasDx := c.diagnosisIn(s)
	codes := c.icdCodes(s)
	if hasDx {
		if len(codes) > 0 {
			dx.ICD10 = codes[0]
			codes = codes[1:]
		}
		cs.Diagnoses = upsertDiagnosis(cs.Diagnoses, dx)
	}
	for _, code := range codes {
		cs.add(model.FieldDiagnosisICD10, code)
	}
	for _, m := range c.diagnoses.find(s) {
		switch c.statusOf(s, m.start) {
		case statusResolved:
			cs.Resolved = appendUnique(cs.Resolved, m.term)
		case statusReactivated:
			if !question {
				cs.Reactivated = appendUnique(cs.Reactivated, m.term)
			}
		case statusHinted:
			cs.Recurring = appendUnique(cs.Recurring, m.term)
		}
	}

	// exam findings
	if inExam && !question && !hasDx && len(drugs) == 0 && !hasFollowUp && !c.examIntro.contains(s) {
		cs.add(model.FieldExamFindings, trimSentence(s))
	}
}

type status int

const (
	statusNone status = iota
	statusResolved
	statusReactivated
	statusHinted // "again", "worse": not enough to reactivate
)

// statusOf reads the status change stated for the diagnosis at pos.
func (c *Classifier) statusOf(s string, pos int) status {
	switch {
	case c.governs(s, c.resolution, pos):
		return statusResolved
	case c.governs(s, c.reactivate, pos):
		return statusReactivated
	case c.governs(s, c.recurrence, pos):
		return statusHinted
	}
	return statusNone
}

// clause is a byte range of a sentence. listed marks a clause joined to the
// one before it by a comma or "and" rather than a contrast.
type clause struct {
	start, end int
	listed     bool
}

func clauses(s string) []clause {
	var out []clause
	start, listed := 0, false
	for _, loc := range clauseBreak.FindAllStringIndex(s, -1) {
		out = append(out, clause{start: start, end: loc[0], listed: listed})
		listed = !contrastRe.MatchString(s[loc[0]:loc[1]])
		start = loc[1]
	}
	return append(out, clause{start: start, end: len(s), listed: listed})
}

// governs reports whether a cue applies to the term at pos. The cue must sit
// in the term's own clause, or the term's clause must be a short list item
// ("and the naproxen") continuing a clause that holds the cue.
func (c *Classifier) governs(s string, cues *matcher, pos int) bool {
	cl := clauses(s)
	i := 0
	for i+1 < len(cl) && pos >= cl[i+1].start {
		i++
	}
	for {
		text := s[cl[i].start:cl[i].end]
		if cues.contains(text) {
			return true
		}
		if i == 0 || !cl[i].listed || len(strings.Fields(text)) > 3 || c.continued.contains(text) {
			return false
		}
		i--
	}
}

// symptomsIn returns the non-negated symptoms stated in one sentence.
func (c *Classifier) symptomsIn(s string) []string {
	var out []string
	var masked [][2]int

	if c.bodyPain != nil {
		for _, re := range []*regexp.Regexp{c.bodyPain, c.painInPart} {
			for _, loc := range re.FindAllStringSubmatchIndex(s, -1) {
				if c.negated(s, loc[0]) {
					masked = append(masked, [2]int{loc[0], loc[1]})
					continue
				}
				part := strings.ToLower(s[loc[2]:loc[3]])
				out = appendUnique(out, part+" pain")
				masked = append(masked, [2]int{loc[0], loc[1]})
			}
		}
	}

	for _, m := range c.symptoms.find(s) {
		if overlaps(masked, m.start, m.end) || c.negated(s, m.start) {
			continue
		}
		out = appendUnique(out, m.term)
	}
	return out
}

// diagnosisIn extracts a diagnosis stated with a diagnosis cue.
func (c *Classifier) diagnosisIn(s string) (Diagnosis, bool) {
	if isQuestion(s) {
		return Diagnosis{}, false
	}
	if m, ok := c.dxStrong.first(s); ok && !c.negated(s, m.start) {
		if label := phraseAfter(s, m.end); label != "" {
			return c.newDiagnosis(label), true
		}
	}
	if m, ok := c.dxWeak.first(s); ok && !c.negated(s, m.start) {
		if label := phraseAfter(s, m.end); label != "" && c.diagnoses.contains(label) {
			return c.newDiagnosis(label), true
		}
	}
	return Diagnosis{}, false
}

func (c *Classifier) newDiagnosis(label string) Diagnosis {
	d := Diagnosis{Label: label, Key: normalize(label)}
	if m, ok := c.diagnoses.first(label); ok {
		d.Key = m.term
	}
	if m, ok := c.stages.first(label); ok {
		d.Stage = m.term
	}
	return d
}

// diagnosisKey identifies the condition named in free text.
func (c *Classifier) diagnosisKey(label string) string {
	if m, ok := c.diagnoses.first(label); ok {
		return m.term
	}
	return normalize(label)
}

func (c *Classifier) icdCodes(s string) []string {
	var out []string
	for _, code := range icdRe.FindAllString(s, -1) {
		if strings.Contains(code, ".") || icdHintRe.MatchString(s) {
			out = appendUnique(out, code)
		}
	}
	return out
}

// testName renders a test, prefixed with the body part named in the sentence.
func (c *Classifier) testName(s, term string) string {
	name := term
	switch {
	case term == "x-ray" || term == "xray":
		name = "X-ray"
	case term == "ct scan":
		name = "CT scan"
	case len(term) <= 3:
		name = strings.ToUpper(term)
	}
	if part, ok := c.bodyParts.first(s); ok {
		return part.term + " " + name
	}
	return name
}

// negated reports whether a negation word occurs among the three words
// preceding pos.
func (c *Classifier) negated(s string, pos int) bool {
	words := strings.Fields(s[:pos])
	if len(words) > 3 {
		words = words[len(words)-3:]
	}
	return c.negation.contains(strings.Join(words, " "))
}

// medicationText renders drugs[i] with the dosage and frequency stated
// between it and the next drug.
func medicationText(s string, drugs []match, i int) string {
	m := drugs[i]
	end := len(s)
	if i+1 < len(drugs) {
		end = drugs[i+1].start
	}
	name := capitalize(m.term)
	region := s[m.end:end]
	parts := []string{name}
	if d := dosageRe.FindString(region); d != "" {
		parts = append(parts, d)
	}
	if f := frequencyRe.FindString(region); f != "" {
		parts = append(parts, strings.ToLower(f))
	}
	return strings.Join(parts, " ")
}

func upsertMedication(meds []Medication, m Medication) []Medication {
	for i := range meds {
		if meds[i].Key == m.Key {
			if len(m.Text) > len(meds[i].Text) {
				meds[i].Text = m.Text
			}
			return meds
		}
	}
	return append(meds, m)
}

func upsertDiagnosis(dxs []Diagnosis, d Diagnosis) []Diagnosis {
	for i := range dxs {
		if dxs[i].Key == d.Key {
			if d.Stage == "" {
				d.Stage = dxs[i].Stage
			}
			if d.ICD10 == "" {
				d.ICD10 = dxs[i].ICD10
			}
			dxs[i] = d
			return dxs
		}
	}
	return append(dxs, d)
}

var leadingArticles = []string{"a ", "an ", "the ", "some ", "be ", "is ", "it's ", "that "}

// phraseAfter returns the noun phrase following a cue, cut at the first
// clause boundary and capped at eight words.
func phraseAfter(s string, pos int) string {
	rest := " " + strings.TrimSpace(s[pos:]) + " "
	if loc := stopPhrase.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	rest = strings.TrimSpace(rest)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(rest)
		for _, a := range leadingArticles {
			if strings.HasPrefix(lower, a) {
				rest = strings.TrimSpace(rest[len(a):])
				changed = true
				break
			}
		}
	}
	words := strings.Fields(rest)
	if len(words) == 0 {
		return ""
	}
	switch strings.ToLower(words[0]) {
	case "it", "you", "there", "this", "he", "she", "they", "we", "i":
		return ""
	}
	if len(words) > 8 {
		words = words[:8]
	}
	return balanceParens(strings.Join(words, " "))
}

// balanceParens keeps a qualifier such as "(stable)" and drops an unclosed
// or unopened parenthesis with what follows it.
func balanceParens(s string) string {
	if i := strings.IndexByte(s, ')'); i >= 0 && !strings.Contains(s[:i], "(") {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '('); i >= 0 && !strings.Contains(s[i:], ")") {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func trimSentence(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".!;, ")
}

func isQuestion(s string) bool {
	return strings.HasSuffix(strings.TrimSpace(s), "?")
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.Trim(s, " .,;:()"))), " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, sp := range spans {
		if start < sp[1] && end > sp[0] {
			return true
		}
	}
	return false
}
