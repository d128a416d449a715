// Petition review: a citizen's proposal is judged against the city's record
// and either matched to a ballot card, drafted as a new policy or declined.
package llm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
	"github.com/talgya/city-council/internal/petition"
)

//go:embed verdict.schema.json
var verdictSchemaJSON string

var (
	verdictOnce   sync.Once
	verdictSchema *jsonschema.Schema
	verdictErr    error
)

func compiledVerdictSchema() (*jsonschema.Schema, error) {
	verdictOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("verdict.schema.json", strings.NewReader(verdictSchemaJSON)); err != nil {
			verdictErr = fmt.Errorf("add verdict schema: %w", err)
			return
		}
		verdictSchema, verdictErr = c.Compile("verdict.schema.json")
	})
	return verdictSchema, verdictErr
}

// ClosedMessage is the answer to every petition when no model is configured.
const ClosedMessage = "The petitions office is closed in this city. Your petition was not reviewed."

// PetitionJudge reviews petitions with a chat model.
type PetitionJudge struct {
	client *Client
}

// NewPetitionJudge returns a judge backed by client. A nil client gives a
// judge that declines everything with ClosedMessage.
func NewPetitionJudge(client *Client) *PetitionJudge {
	return &PetitionJudge{client: client}
}

// Review implements petition.Oracle.
func (j *PetitionJudge) Review(ctx context.Context, req petition.Request) (petition.Verdict, error) {
	if !j.client.Enabled() {
		return petition.Verdict{Message: ClosedMessage}, nil
	}

	reply, err := j.client.Complete(ctx, petitionSystemPrompt, buildPetitionPrompt(req), 800)
	if err != nil {
		return petition.Verdict{}, fmt.Errorf("petition review: %w", err)
	}
	return parseVerdict(reply)
}

const petitionSystemPrompt = `You are the petitions officer of a small self-governing city. Citizens send you proposals; you decide whether the council should consider them.

First infer what kind of city this is from its current state and the policies it has passed (a welfare state, a free-market city, a green city, a security-first city, a balanced one). Then judge whether its citizens would back this proposal and whether it fits the city's record and values.

If you approve and the proposal matches a policy already on the ballot, answer with that policy's id. Otherwise draft a new policy. Effects range from -20 to +20 per area: the main effect around 15 to 20, side effects around 5 to 10, with honest trade-offs. Zero is a fine value.

Reply with a single JSON object and nothing else.
Approve an existing ballot card:
{"approved": true, "policyId": "<id>", "reason": "<one sentence>"}
Approve a new policy:
{"approved": true, "title": "<at most 40 characters>", "description": "<what the policy does, without revealing its effects>", "newsFlash": "<a one-line headline for when it passes>", "category": "<Economy|Welfare|Education|Environment|Security|HumanRights>", "effects": {"economy": 0, "welfare": 0, "education": 0, "environment": 0, "security": 0, "humanRights": 0}}
Decline:
{"approved": false, "reason": "<the reason, in the voice of a civil servant>"}

Never mention games, parameters, scores or effects in your reason.`

func buildPetitionPrompt(req petition.Request) string {
	var b strings.Builder

	b.WriteString("CITY STATE (50 is the starting level, 0 in any area means collapse):\n")
	for _, d := range city.Dimensions {
		v := req.Params.Get(d)
		fmt.Fprintf(&b, "- %s: %d (%s)\n", d, v, describeLevel(v))
	}
	b.WriteString("\n")

	if len(req.Passed) == 0 {
		b.WriteString("PASSED POLICIES: none yet.\n\n")
	} else {
		b.WriteString("PASSED POLICIES:\n")
		for i, p := range req.Passed {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, p.Title, p.Description)
			fmt.Fprintf(&b, "   effects: %s\n", formatEffects(p.Effects))
		}
		b.WriteString("\n")
	}

	if len(req.Ballot) > 0 {
		b.WriteString("CURRENT BALLOT:\n")
		for _, o := range req.Ballot {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", o.ID, o.Title, o.Description)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "PETITION:\n%s\n\nRespond with a single JSON object.", strings.TrimSpace(req.Text))
	return b.String()
}

func describeLevel(v int) string {
	switch {
	case v <= 20:
		return "critical"
	case v <= 35:
		return "struggling"
	case v <= 45:
		return "weak"
	case v <= 55:
		return "steady"
	case v <= 65:
		return "good"
	case v <= 80:
		return "strong"
	default:
		return "overheated"
	}
}

func formatEffects(fx city.Effects) string {
	parts := make([]string, 0, len(city.Dimensions))
	for _, d := range city.Dimensions {
		parts = append(parts, fmt.Sprintf("%s %+d", d, fx[d]))
	}
	return strings.Join(parts, ", ")
}

var fenced = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)```")

// extractJSON finds the JSON object in a model reply: inside a code fence if
// there is one, else between the outermost braces.
func extractJSON(reply string) (string, error) {
	if m := fenced.FindStringSubmatch(reply); len(m) > 1 {
		reply = m[1]
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return reply[start : end+1], nil
}

func parseVerdict(reply string) (petition.Verdict, error) {
	raw, err := extractJSON(reply)
	if err != nil {
		return petition.Verdict{}, err
	}
	if !gjson.Valid(raw) {
		return petition.Verdict{}, fmt.Errorf("invalid JSON in response")
	}

	schema, err := compiledVerdictSchema()
	if err != nil {
		return petition.Verdict{}, err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return petition.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return petition.Verdict{}, fmt.Errorf("verdict does not match schema: %w", err)
	}

	r := gjson.Parse(raw)
	reason := strings.TrimSpace(r.Get("reason").String())
	if !r.Get("approved").Bool() {
		if reason == "" {
			reason = "The council will not take up this proposal."
		}
		return petition.Verdict{Message: "Your petition was declined: " + reason}, nil
	}

	if id := r.Get("policyId"); id.Exists() {
		return petition.Verdict{
			Approved: true,
			PolicyID: id.String(),
			Message:  "Your petition was approved. The proposal is on the ballot.",
		}, nil
	}

	fx := city.Effects{}
	r.Get("effects").ForEach(func(k, v gjson.Result) bool {
		fx[city.Dimension(k.String())] = int(v.Int())
		return true
	})
	return petition.Verdict{
		Approved: true,
		Draft: &petition.Draft{
			Title:       r.Get("title").String(),
			Description: r.Get("description").String(),
			NewsFlash:   r.Get("newsFlash").String(),
			Category:    catalog.Category(r.Get("category").String()),
			Effects:     fx,
		},
		Message: "Your petition was approved. A new policy has been added to the ballot.",
	}, nil
}
