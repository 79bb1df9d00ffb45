// Package rag answers questions from retrieved content: it decides whether a
// text is worth answering, retrieves chunks, and drives the
// generate/evaluate loop.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"nestbot/internal/llm"
	"nestbot/internal/prompts"
)

const (
	detectorTemperature = 0.1
	detectorMaxTokens   = 50
)

// Heuristics, tried in order; text must match at least one to be considered.
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?`),
	regexp.MustCompile(`(?i)^\s*(what|how|why|when|where|which|who|can|could|would|should|is|are|does|do|did)\b`),
	regexp.MustCompile(`(?i)\b(help|explain|tell me|show me|describe|clarify|guide me|walk me through)\b`),
	regexp.MustCompile(`(?i)\b(recommend|recommendation|suggest|suggestion|advice|advise)\b`),
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// DefaultKeywords is the OWASP vocabulary used for classification.
var DefaultKeywords = []string{
	"owasp", "nest", "appsec", "security", "secure", "vulnerability", "vulnerabilities",
	"project", "projects", "chapter", "chapters", "committee", "committees",
	"event", "events", "conference", "contribute", "contributing", "contribution",
	"gsoc", "google summer of code", "leader", "leaders", "mentor", "mentors",
	"sponsor", "sponsors", "membership", "member", "donate", "policy", "policies",
	"threat", "threat modeling", "zap", "juice shop", "top 10", "top ten", "asvs",
	"samm", "masvs", "cheat sheet", "cheatsheet", "dependency-check", "defectdojo",
	"xss", "csrf", "ssrf", "injection", "sql injection", "authentication",
	"authorization", "cryptography", "penetration testing", "pentest", "devsecops",
	"sbom", "cve", "cwe", "secure coding", "api security", "issue", "issues",
}

// Detector decides whether a text is a question the bot should answer.
type Detector struct {
	completer llm.Completer
	prompts   prompts.Provider
	keywords  []string
	words     map[string]struct{}
	phrases   []string
}

func NewDetector(completer llm.Completer, provider prompts.Provider, keywords []string) *Detector {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}

	d := &Detector{
		completer: completer,
		prompts:   provider,
		words:     make(map[string]struct{}),
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		d.keywords = append(d.keywords, kw)
		if wordPattern.FindString(kw) == kw {
			d.words[kw] = struct{}{}
		} else {
			d.phrases = append(d.phrases, kw)
		}
	}
	sort.Strings(d.keywords)
	return d
}

// IsDomainQuestion reports whether text is an OWASP-related question.
func (d *Detector) IsDomainQuestion(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	if !LooksLikeQuestion(text) {
		return false
	}

	systemPrompt := d.prompts.Get(ctx, prompts.KeyQuestionDetector)
	if systemPrompt == "" {
		slog.Warn("Question detector prompt missing, using keywords only")
		return d.MatchesKeywords(text)
	}

	reply, err := d.completer.Complete(ctx, llm.ChatRequest{
		Operation:   "detect",
		System:      strings.ReplaceAll(systemPrompt, "{keywords}", strings.Join(d.keywords, ", ")),
		User:        fmt.Sprintf("Question: %s", text),
		Temperature: detectorTemperature,
		MaxTokens:   detectorMaxTokens,
	})
	if err != nil {
		slog.Warn("Question classification failed, using keywords", "error", err)
		return d.MatchesKeywords(text)
	}

	if strings.Contains(strings.ToUpper(reply), "YES") {
		return true
	}

	// The model is conservative; an explicit keyword hit overrides a NO.
	return d.MatchesKeywords(text)
}

// LooksLikeQuestion applies the regex heuristics.
func LooksLikeQuestion(text string) bool {
	for _, p := range questionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// MatchesKeywords reports whether text shares a whole word with the keyword
// set or contains one of its multi-word keywords.
func (d *Detector) MatchesKeywords(text string) bool {
	lower := strings.ToLower(text)

	for _, w := range wordPattern.FindAllString(lower, -1) {
		if _, ok := d.words[w]; ok {
			return true
		}
	}

	for _, phrase := range d.phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	return false
}
