package domain

// Delivery channels supported by the dispatcher.
const (
	ChannelPush     = "push"
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
)

// Combination is one treatment variant: when to send, over which channel,
// with which persuasion lever, offer and tone.
type Combination struct {
	Timing  string
	Channel string
	Lever   string
	Offer   string
	Tone    string
}

// Key returns the statistics key for the combination. Tone is a stylistic
// modifier tied to message composition and is excluded from the key.
func (c Combination) Key() string {
	return c.Timing + "|" + c.Channel + "|" + c.Lever + "|" + c.Offer
}
