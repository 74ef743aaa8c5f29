package hint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLooksLikeQuestion(t *testing.T) {
	t.Run("questions", func(t *testing.T) {
		for _, text := range []string{
			"Is this ready?",
			"这个功能做好了吗",
			"你觉得呢",
			"为什么会这样",
			"What time does the meeting start",
			"could you walk us through the design",
			"预计需要多少时间",
			"全角问号也行？",
		} {
			require.True(t, LooksLikeQuestion(text), text)
		}
	})

	t.Run("statements", func(t *testing.T) {
		for _, text := range []string{
			"",
			"   ",
			"The deployment finished.",
			"我们明天继续.",
			"Everything looks good to me.",
		} {
			require.False(t, LooksLikeQuestion(text), text)
		}
	})
}

func TestProfileContext(t *testing.T) {
	p := Profile{
		Name:        "Sam",
		MeetingType: "interview",
		Domain:      "backend",
		Language:    "en",
		SelfIntro:   "SRE with 5 years of Go",
		Notes:       "prefers concrete examples",
	}

	out := p.Context()
	require.Contains(t, out, "Name: Sam")
	require.Contains(t, out, "Type: interview")
	require.Contains(t, out, "Notes: prefers concrete examples")
}

func TestNewGenerator(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		_, err := NewGenerator(GeneratorConfig{Model: "gpt-4o-mini"})
		require.Error(t, err)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := NewGenerator(GeneratorConfig{APIKey: "key"})
		require.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		g, err := NewGenerator(GeneratorConfig{APIKey: "key", Model: "gpt-4o-mini"})
		require.NoError(t, err)
		require.NotNil(t, g)
	})
}
