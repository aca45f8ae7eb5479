// SPDX-License-Identifier: MIT
/*
Package control carries control requests from the network and the terminal
into the audio thread, and carries voice status back out.

Inbound requests become Intents on a Queue that the audio callback drains
without blocking. Outbound level and indicator messages are queued on a
broadcast transport and dropped when it is saturated.
*/
package control

import (
	"fmt"
	"regexp"
	"strconv"
)

// Kind identifies what an Intent asks the engine to do.
type Kind uint8

const (
	// Activate seeks a voice just behind the write head and starts it.
	Activate Kind = iota + 1
	// FadeOut arms the voice's one-shot fade.
	FadeOut
	// SetStretch changes the voice's stretch amount to Value.
	SetStretch
	// Toggle activates an inactive voice and fades out an active one.
	Toggle
)

func (k Kind) String() string {
	switch k {
	case Activate:
		return "activate"
	case FadeOut:
		return "fade-out"
	case SetStretch:
		return "set-stretch"
	case Toggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// Intent is a control request queued for the audio thread.
type Intent struct {
	Kind  Kind
	Voice int
	Value float64
}

func (i Intent) String() string {
	if i.Kind == SetStretch {
		return fmt.Sprintf("%s voice=%d value=%.3f", i.Kind, i.Voice, i.Value)
	}
	return fmt.Sprintf("%s voice=%d", i.Kind, i.Voice)
}

// Message is the JSON form of a control-surface event, addressed the way
// TouchOSC layouts name their widgets.
type Message struct {
	Address string    `json:"address"`
	Args    []float64 `json:"args"`
}

var addressPattern = regexp.MustCompile(`^/\d+/([a-zA-Z]+)(\d+)$`)

// StretchRange maps a 0..1 fader position onto stretch amounts.
type StretchRange struct {
	Min float64
	Max float64
}

// Amount returns the stretch amount for fader position v, clamped to 0..1.
func (r StretchRange) Amount(v float64) float64 {
	v = min(max(v, 0), 1)
	return r.Min + v*(r.Max-r.Min)
}

// Position is the inverse of Amount.
func (r StretchRange) Position(amount float64) float64 {
	if r.Max == r.Min {
		return 0
	}
	return min(max((amount-r.Min)/(r.Max-r.Min), 0), 1)
}

// Decode translates an inbound message into an Intent. Widgets are numbered
// from one; voices from zero. Toggle 1 activates, toggle 0 fades out and a
// fader sets the stretch amount.
func Decode(m Message, stretch StretchRange) (Intent, error) {
	match := addressPattern.FindStringSubmatch(m.Address)
	if match == nil {
		return Intent{}, fmt.Errorf("control: unrecognized address %q", m.Address)
	}
	n, err := strconv.Atoi(match[2])
	if err != nil || n < 1 {
		return Intent{}, fmt.Errorf("control: bad widget number in %q", m.Address)
	}
	if len(m.Args) == 0 {
		return Intent{}, fmt.Errorf("control: %s without a value", m.Address)
	}
	voice, value := n-1, m.Args[0]

	switch match[1] {
	case "toggle", "push":
		if value != 0 {
			return Intent{Kind: Activate, Voice: voice}, nil
		}
		return Intent{Kind: FadeOut, Voice: voice}, nil
	case "fader", "rotary":
		return Intent{Kind: SetStretch, Voice: voice, Value: stretch.Amount(value)}, nil
	default:
		return Intent{}, fmt.Errorf("control: unsupported widget %q", match[1])
	}
}

// LevelMessage builds the outbound fader message for a voice level.
func LevelMessage(voice int, level float64) Message {
	return Message{
		Address: "/1/fader" + strconv.Itoa(voice+1),
		Args:    []float64{min(max(level, 0), 1)},
	}
}

// IndicatorMessage builds the outbound LED message for a voice.
func IndicatorMessage(voice int, on bool) Message {
	v := 0.0
	if on {
		v = 1
	}
	return Message{
		Address: "/1/led" + strconv.Itoa(voice+1),
		Args:    []float64{v},
	}
}
