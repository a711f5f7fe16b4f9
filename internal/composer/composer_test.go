package composer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/rules"
)

func newComposer(t *testing.T) *Composer {
	t.Helper()
	rs, err := rules.LoadDefault()
	require.NoError(t, err)
	return New(rs, 1)
}

func TestCompose_FillsAttributes(t *testing.T) {
	c := newComposer(t)
	combo := domain.Combination{Lever: "scarcity", Offer: "discount"}

	msg := c.Compose(combo, map[string]string{"name": "Ana", "region": "Lisbon"})

	assert.Contains(t, msg, "Ana")
	assert.Contains(t, msg, "Lisbon")
	assert.Contains(t, msg, "COMEBACK20")
	assert.NotContains(t, msg, "{", "unfilled placeholder in %q", msg)
}

func TestCompose_DefaultsMissingAttributes(t *testing.T) {
	c := newComposer(t)
	combo := domain.Combination{Lever: "scarcity", Offer: "none"}

	for i := 0; i < 20; i++ {
		msg := c.Compose(combo, nil)
		assert.Contains(t, msg, DefaultName)
		assert.Contains(t, msg, DefaultRegion)
		assert.NotContains(t, msg, "{")
	}
}

func TestCompose_ToneRenderings(t *testing.T) {
	c := newComposer(t)

	tests := []struct {
		tone   string
		prefix string
		suffix string
	}{
		{"friendly", "Hey! ", "We'd love to see you back."},
		{"urgent", "Heads up: ", "Don't wait too long."},
		{"playful", "", "Okay, maybe a little."},
		{"professional", "", "Thank you for choosing us."},
		{"reassuring", "No rush. ", "Whenever you're ready."},
	}
	for _, tt := range tests {
		t.Run(tt.tone, func(t *testing.T) {
			combo := domain.Combination{Lever: "urgency", Offer: "none", Tone: tt.tone}
			msg := c.Compose(combo, nil)
			if tt.prefix != "" {
				assert.True(t, strings.HasPrefix(msg, tt.prefix), "message %q", msg)
			}
			assert.True(t, strings.HasSuffix(msg, tt.suffix), "message %q", msg)
		})
	}
}

func TestCompose_UnknownToneStaysPlain(t *testing.T) {
	c := newComposer(t)
	combo := domain.Combination{Lever: "urgency", Offer: "none", Tone: "deadpan"}

	msg := c.Compose(combo, nil)

	// Plain form ends with the offer's call to action, unwrapped.
	assert.True(t, strings.HasSuffix(msg, "Pick up right where you left off."), "message %q", msg)
	assert.False(t, strings.HasPrefix(msg, "Hey! "))
	assert.False(t, strings.HasPrefix(msg, "No rush. "))
}

func TestCompose_UnknownLeverAndOfferFallBack(t *testing.T) {
	c := newComposer(t)
	combo := domain.Combination{Lever: "hypnosis", Offer: "yacht"}

	msg := c.Compose(combo, map[string]string{"name": "Ana"})

	assert.Contains(t, msg, "Ana, you left something unfinished.")
	assert.Contains(t, msg, rules.GenericCTA)
}
