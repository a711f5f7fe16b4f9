// Package composer renders re-engagement message text from a treatment
// combination and a user's attributes. It touches no storage; all inputs
// arrive as arguments and the only side effect is consuming randomness.
package composer

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/rules"
)

// Attribute defaults used when the ingested event carried no value.
const (
	DefaultName   = "there"
	DefaultRegion = "your city"
)

// Bounds for the cosmetic numeric placeholders.
const (
	viewersMin  = 20
	viewersSpan = 180
	hoursMin    = 2
	hoursSpan   = 22
)

// Composer renders messages. Safe for concurrent use.
type Composer struct {
	rules *rules.Ruleset

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Composer seeded from the given source.
func New(ruleset *rules.Ruleset, seed int64) *Composer {
	return &Composer{rules: ruleset, rng: rand.New(rand.NewSource(seed))}
}

// Compose picks one of the lever's templates at random, fills its
// placeholders, appends the offer's call to action and wraps the result in
// the combination's tone. Unknown levers and offers fall back to generic
// text; an unknown tone leaves the plain form untouched.
func (c *Composer) Compose(combo domain.Combination, attrs map[string]string) string {
	templates := c.rules.TemplatesFor(combo.Lever)
	template := templates[c.intn(len(templates))]

	name := attrValue(attrs, "name", DefaultName)
	region := attrValue(attrs, "region", DefaultRegion)
	viewers := viewersMin + c.intn(viewersSpan)
	hours := hoursMin + c.intn(hoursSpan)

	body := strings.NewReplacer(
		"{name}", name,
		"{region}", region,
		"{viewers}", strconv.Itoa(viewers),
		"{hours}", strconv.Itoa(hours),
	).Replace(template)

	plain := body + " " + c.rules.CTAFor(combo.Offer)
	return applyTone(combo.Tone, plain)
}

func applyTone(tone, plain string) string {
	switch tone {
	case "friendly":
		return "Hey! " + plain + " We'd love to see you back."
	case "urgent":
		return "Heads up: " + plain + " Don't wait too long."
	case "playful":
		return plain + " No pressure. Okay, maybe a little."
	case "professional":
		return plain + " Thank you for choosing us."
	case "reassuring":
		return "No rush. " + plain + " Whenever you're ready."
	default:
		return plain
	}
}

func attrValue(attrs map[string]string, key, fallback string) string {
	if v, ok := attrs[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (c *Composer) intn(n int) int {
	if n <= 1 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Intn(n)
}
