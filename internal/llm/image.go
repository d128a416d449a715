package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

// CityPainter draws the city as it stands after a resolution.
type CityPainter struct {
	client *Client
	model  string
}

// NewCityPainter returns nil when the client is disabled or no image model
// is configured, which turns city images off.
func NewCityPainter(client *Client, model string) *CityPainter {
	if !client.Enabled() || model == "" {
		return nil
	}
	return &CityPainter{client: client, model: model}
}

// Paint returns a PNG of the city. It shares the chat client's per-minute
// budget.
func (p *CityPainter) Paint(ctx context.Context, params city.Params, passed []catalog.Policy) ([]byte, error) {
	if err := p.client.take(); err != nil {
		return nil, err
	}

	req := openai.ImageGenerateParams{
		Prompt: buildCityPrompt(params, passed),
		Model:  openai.ImageModel(p.model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	}
	// gpt-image models always answer in base64 and reject the field.
	if strings.HasPrefix(p.model, "dall-e") {
		req.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}
	resp, err := p.client.api.Images.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image generation: empty response")
	}
	png, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	slog.Debug("city image drawn", "model", p.model, "bytes", len(png))
	return png, nil
}

func buildCityPrompt(params city.Params, passed []catalog.Policy) string {
	var b strings.Builder
	b.WriteString("Photorealistic aerial view of a modern city at golden hour, ultra detailed. ")

	scenery := map[city.Dimension][2]string{
		city.Economy:     {"empty storefronts and idle cranes", "busy markets and glass towers"},
		city.Welfare:     {"crowded shelters and long queues", "clinics and community centres full of life"},
		city.Education:   {"shuttered schools", "campuses and libraries"},
		city.Environment: {"smog over grey streets", "parks, trees and clean rivers"},
		city.Security:    {"broken windows and dark alleys", "well-lit streets and calm crowds"},
		city.HumanRights: {"walls, checkpoints and surveillance cameras", "open squares with peaceful gatherings"},
	}
	for _, d := range city.Dimensions {
		v := params.Get(d)
		pick := scenery[d][1]
		if v <= 35 {
			pick = scenery[d][0]
		}
		fmt.Fprintf(&b, "%s is %s: %s. ", d, describeLevel(v), pick)
	}

	if n := len(passed); n > 0 {
		recent := passed[max(0, n-3):]
		titles := make([]string, 0, len(recent))
		for _, p := range recent {
			titles = append(titles, p.Title)
		}
		fmt.Fprintf(&b, "Recent measures: %s. ", strings.Join(titles, "; "))
	}
	b.WriteString("No text, no captions.")
	return b.String()
}
