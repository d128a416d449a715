// Chronicle generation: the epilogue printed when a game ends.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

// ChronicleData holds what the epilogue is written from.
type ChronicleData struct {
	RoomID    string
	Turns     int
	MaxTurns  int
	Collapsed bool
	Params    city.Params
	Passed    []catalog.Policy
	// Standings in rank order, e.g. "Alice (Growth Party), 42.5".
	Standings []string
}

// Chronicle is a generated epilogue.
type Chronicle struct {
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	GeneratedAt time.Time `json:"generatedAt"`
	// Written is false when the fallback text was used.
	Written bool `json:"written"`
}

const chronicleSystem = `You are the editor of the city's evening paper. A council term has just ended. Write its epilogue: a headline on the first line, prefixed with "HEADLINE: ", then a blank line, then two or three short paragraphs of lively newspaper prose about what the council did and what kind of city it left behind. Stay under 250 words. Do not mention games, players, scores or numbers.`

// GenerateChronicle writes the epilogue. It falls back to a plain summary
// when the client is disabled or the call fails, so it always returns one.
func GenerateChronicle(ctx context.Context, client *Client, data ChronicleData) Chronicle {
	if !client.Enabled() {
		return fallbackChronicle(data)
	}

	reply, err := client.Complete(ctx, chronicleSystem, buildChroniclePrompt(data), 600)
	if err != nil {
		slog.Warn("chronicle generation failed, using fallback", "room", data.RoomID, "error", err)
		return fallbackChronicle(data)
	}

	headline, body := splitHeadline(reply)
	if headline == "" || body == "" {
		return fallbackChronicle(data)
	}
	return Chronicle{Headline: headline, Body: body, GeneratedAt: time.Now().UTC(), Written: true}
}

func buildChroniclePrompt(data ChronicleData) string {
	var b strings.Builder

	if data.Collapsed {
		fmt.Fprintf(&b, "The city COLLAPSED after %d of %d terms.\n\n", data.Turns, data.MaxTurns)
	} else {
		fmt.Fprintf(&b, "The council served all %d terms.\n\n", data.Turns)
	}

	b.WriteString("FINAL STATE OF THE CITY:\n")
	for _, d := range city.Dimensions {
		fmt.Fprintf(&b, "- %s: %s\n", d, describeLevel(data.Params.Get(d)))
	}
	b.WriteString("\n")

	if len(data.Passed) > 0 {
		b.WriteString("POLICIES PASSED, IN ORDER:\n")
		for _, p := range data.Passed {
			fmt.Fprintf(&b, "- %s: %s\n", p.Title, p.NewsFlash)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("The council passed no policies at all.\n\n")
	}

	if len(data.Standings) > 0 {
		fmt.Fprintf(&b, "The most satisfied faction: %s\n", data.Standings[0])
	}
	return b.String()
}

func splitHeadline(reply string) (string, string) {
	reply = strings.TrimSpace(reply)
	first, rest, _ := strings.Cut(reply, "\n")
	first = strings.TrimSpace(first)
	if h, ok := strings.CutPrefix(first, "HEADLINE:"); ok {
		return strings.TrimSpace(h), strings.TrimSpace(rest)
	}
	return "", ""
}

// fallbackChronicle writes the epilogue without a model.
func fallbackChronicle(data ChronicleData) Chronicle {
	var headline string
	switch {
	case data.Collapsed:
		headline = fmt.Sprintf("City falls after %d terms", data.Turns)
	case len(data.Passed) == 0:
		headline = "A council that never agreed"
	default:
		headline = fmt.Sprintf("Council closes its books after %d terms", data.Turns)
	}

	var b strings.Builder
	if len(data.Passed) > 0 {
		titles := make([]string, 0, len(data.Passed))
		for _, p := range data.Passed {
			titles = append(titles, p.Title)
		}
		fmt.Fprintf(&b, "The council passed %d policies: %s.\n\n", len(titles), strings.Join(titles, "; "))
	}

	var strong, weak []string
	for _, d := range city.Dimensions {
		v := data.Params.Get(d)
		switch {
		case v >= 65:
			strong = append(strong, string(d))
		case v <= 35:
			weak = append(weak, string(d))
		}
	}
	if len(strong) > 0 {
		fmt.Fprintf(&b, "It leaves the city strong in %s. ", strings.Join(strong, ", "))
	}
	if len(weak) > 0 {
		fmt.Fprintf(&b, "It leaves the city weak in %s. ", strings.Join(weak, ", "))
	}
	if len(strong) == 0 && len(weak) == 0 {
		b.WriteString("It leaves the city much as it found it. ")
	}
	if len(data.Standings) > 0 {
		fmt.Fprintf(&b, "\n\nTop of the standings: %s.", data.Standings[0])
	}

	return Chronicle{
		Headline:    headline,
		Body:        strings.TrimSpace(b.String()),
		GeneratedAt: time.Now().UTC(),
	}
}
