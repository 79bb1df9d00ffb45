package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestbot/internal/llm"
	"nestbot/internal/prompts"
)

type fakeCompleter struct {
	replies  []string
	err      error
	requests []llm.ChatRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.ChatRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

var detectorPrompts = prompts.Map{
	prompts.KeyQuestionDetector: "Answer YES or NO. Topics: {keywords}",
}

func TestLooksLikeQuestion(t *testing.T) {
	testCases := []struct {
		text     string
		expected bool
	}{
		{text: "is this thing on?", expected: true},
		{text: "What projects do you have", expected: true},
		{text: "please explain the top ten", expected: true},
		{text: "can anyone recommend a scanner", expected: true},
		{text: "I suggest we meet tomorrow", expected: true},
		{text: "good morning everyone", expected: false},
		{text: "shipping the release now", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.expected, LooksLikeQuestion(tc.text))
		})
	}
}

func TestDetector_MatchesKeywords(t *testing.T) {
	d := NewDetector(&fakeCompleter{}, prompts.Map{}, nil)

	testCases := []struct {
		text     string
		expected bool
	}{
		{text: "How do I run ZAP?", expected: true},
		{text: "Where is the Juice Shop repo?", expected: true},
		{text: "what changed in the Top 10 this year", expected: true},
		{text: "how do I use dependency-check", expected: true},
		{text: "how do I bake bread?", expected: false},
		// whole words only
		{text: "what about zapping things?", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.expected, d.MatchesKeywords(tc.text))
		})
	}
}

func TestDetector_IsDomainQuestion(t *testing.T) {
	testCases := []struct {
		name        string
		text        string
		reply       string
		err         error
		prompts     prompts.Map
		expected    bool
		expectCalls int
	}{
		{name: "empty", text: "   ", expected: false},
		{name: "not a question", text: "thanks all", expected: false},
		{name: "model says yes", text: "How do I bake bread?", reply: "YES", prompts: detectorPrompts, expected: true, expectCalls: 1},
		{name: "model says no", text: "How do I bake bread?", reply: "NO", prompts: detectorPrompts, expected: false, expectCalls: 1},
		{name: "keyword overrides no", text: "How do I start an OWASP chapter?", reply: "NO", prompts: detectorPrompts, expected: true, expectCalls: 1},
		{name: "model error falls back to keywords", text: "what is owasp?", err: errors.New("boom"), prompts: detectorPrompts, expected: true, expectCalls: 1},
		{name: "model error without keywords", text: "what is lunch?", err: errors.New("boom"), prompts: detectorPrompts, expected: false, expectCalls: 1},
		{name: "missing prompt uses keywords", text: "what is owasp?", prompts: prompts.Map{}, expected: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			completer := &fakeCompleter{replies: []string{tc.reply}, err: tc.err}
			provider := tc.prompts
			if provider == nil {
				provider = detectorPrompts
			}
			d := NewDetector(completer, provider, nil)

			assert.Equal(t, tc.expected, d.IsDomainQuestion(context.Background(), tc.text))
			assert.Len(t, completer.requests, tc.expectCalls)
		})
	}
}

func TestDetector_RequestShape(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"YES"}}
	d := NewDetector(completer, detectorPrompts, []string{"zap", "owasp"})

	require.True(t, d.IsDomainQuestion(context.Background(), "what is zap?"))
	require.Len(t, completer.requests, 1)

	req := completer.requests[0]
	assert.Equal(t, "Answer YES or NO. Topics: owasp, zap", req.System)
	assert.Equal(t, "Question: what is zap?", req.User)
	assert.InDelta(t, 0.1, req.Temperature, 1e-6)
	assert.Equal(t, 50, req.MaxTokens)
}

func TestDetector_Idempotent(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"NO"}}
	d := NewDetector(completer, detectorPrompts, nil)

	for _, text := range []string{"how do I join a chapter?", "how do I bake bread?", "hello"} {
		first := d.IsDomainQuestion(context.Background(), text)
		second := d.IsDomainQuestion(context.Background(), text)
		assert.Equal(t, first, second, text)
	}
}
