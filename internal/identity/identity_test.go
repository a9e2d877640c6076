package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/test-prof/autopilot/internal/forge"
	"github.com/test-prof/autopilot/internal/forge/forgetest"
	"github.com/test-prof/autopilot/internal/llm"
)

type scriptedLLM struct {
	answer string
	err    error
	calls  int
	system string
	msgs   []llm.Message
}

func (s *scriptedLLM) Complete(_ context.Context, system string, msgs []llm.Message) (string, error) {
	s.calls++
	s.system, s.msgs = system, msgs
	return s.answer, s.err
}

func TestResolve_RequiresIssueOrPath(t *testing.T) {
	_, err := (&Resolver{}).Resolve(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestResolve_IssueBodyPathSkipsModel(t *testing.T) {
	f := forgetest.New()
	f.Issues[7] = forge.Issue{Number: 7, Body: "The suite is slow, see spec/models/user_spec.rb for details."}
	model := &scriptedLLM{}

	id, err := (&Resolver{Issues: f, LLM: model}).Resolve(context.Background(), Input{Issue: 7})
	require.NoError(t, err)
	assert.Equal(t, "spec/models/user_spec.rb", id.Path)
	assert.Equal(t, SourceIssueBody, id.Source)
	assert.Equal(t, 7, id.IssueNumber())
	assert.Zero(t, model.calls)
}

func TestResolve_EmbeddedIssueBodyPathsSkipModel(t *testing.T) {
	bodies := map[string]string{
		"blob link": "Slow: https://github.com/acme/app/blob/main/spec/models/user_spec.rb",
		"relative":  "Try ./spec/models/user_spec.rb",
		"key=value": "path=spec/models/user_spec.rb",
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			f := forgetest.New()
			f.Issues[7] = forge.Issue{Number: 7, Body: body}
			model := &scriptedLLM{answer: "no idea"}

			id, err := (&Resolver{Issues: f, LLM: model}).Resolve(context.Background(), Input{Issue: 7})
			require.NoError(t, err)
			assert.Equal(t, "spec/models/user_spec.rb", id.Path)
			assert.Equal(t, SourceIssueBody, id.Source)
			assert.Zero(t, model.calls)
		})
	}
}

func TestResolve_ExplicitPathWinsButIssueIsKept(t *testing.T) {
	f := forgetest.New()
	f.Issues[7] = forge.Issue{Number: 7, Body: "spec/models/user_spec.rb"}

	id, err := (&Resolver{Issues: f}).Resolve(context.Background(), Input{Issue: 7, Path: "spec/a_spec.rb"})
	require.NoError(t, err)
	assert.Equal(t, "spec/a_spec.rb", id.Path)
	assert.Equal(t, SourceExplicit, id.Source)
	assert.Equal(t, 7, id.IssueNumber())
}

func TestResolve_PathOnlyNeedsNoForge(t *testing.T) {
	id, err := (&Resolver{}).Resolve(context.Background(), Input{Path: " spec/a_spec.rb "})
	require.NoError(t, err)
	assert.Equal(t, "spec/a_spec.rb", id.Path)
	assert.Nil(t, id.Issue)
	assert.Zero(t, id.IssueNumber())
}

func TestResolve_FallsBackToModel(t *testing.T) {
	f := forgetest.New()
	f.Issues[9] = forge.Issue{Number: 9, Body: "the user model tests take forever"}
	model := &scriptedLLM{answer: "PATH: spec/models/user_spec.rb\n"}

	id, err := (&Resolver{Issues: f, LLM: model}).Resolve(context.Background(), Input{Issue: 9})
	require.NoError(t, err)
	assert.Equal(t, "spec/models/user_spec.rb", id.Path)
	assert.Equal(t, SourceModel, id.Source)
	assert.Equal(t, extractPrompt, model.system)
	assert.Equal(t, []llm.Message{llm.User("the user model tests take forever")}, model.msgs)
}

func TestResolve_ModelAnswerWithoutPath(t *testing.T) {
	f := forgetest.New()
	f.Issues[9] = forge.Issue{Number: 9, Body: "??"}

	_, err := (&Resolver{Issues: f, LLM: &scriptedLLM{answer: "I am not sure."}}).Resolve(context.Background(), Input{Issue: 9})
	var pnf *PathNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, 9, pnf.Issue)
}

func TestResolve_PropagatesBackendErrors(t *testing.T) {
	f := forgetest.New()
	_, err := (&Resolver{Issues: f}).Resolve(context.Background(), Input{Issue: 404})
	require.True(t, forge.IsNotFound(err))

	f.Issues[1] = forge.Issue{Number: 1, Body: "nothing"}
	boom := errors.New("boom")
	_, err = (&Resolver{Issues: f, LLM: &scriptedLLM{err: boom}}).Resolve(context.Background(), Input{Issue: 1})
	require.ErrorIs(t, err, boom)
}

func TestFindPath(t *testing.T) {
	cases := []struct{ text, want string }{
		{"see spec/models/user_spec.rb", "spec/models/user_spec.rb"},
		{"run `spec/requests/api/v1_spec.rb` pls", "spec/requests/api/v1_spec.rb"},
		{"(spec/a_spec.rb).", "spec/a_spec.rb"},
		{"path: spec/b_spec.rb, and spec/c_spec.rb", "spec/b_spec.rb"},
		{"app/models/user.rb", ""},
		{"spec/models/user_spec.rbx", ""},
		{"see https://github.com/acme/app/blob/main/spec/models/user_spec.rb", "spec/models/user_spec.rb"},
		{"run ./spec/models/user_spec.rb locally", "spec/models/user_spec.rb"},
		{"path=spec/models/user_spec.rb", "spec/models/user_spec.rb"},
		{"myspec/models/user_spec.rb", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FindPath(DefaultPattern, tc.text), "text=%q", tc.text)
	}
	assert.Equal(t, "test/models/user_test.rb", FindPath("test/**/*_test.rb", "look at test/models/user_test.rb"))
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "test-prof/issue-7", BranchName("test-prof", 7, "spec/a_spec.rb"))
	assert.Equal(t, "test-prof/spec/models/user_spec-rb", BranchName("test-prof/", 0, "spec/models/user_spec.rb"))
	assert.Equal(t, "bot/spec/a-b-c_spec-rb", BranchName("bot", 0, "spec/a b.c_spec.rb"))
}
