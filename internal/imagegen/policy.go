package imagegen

import (
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"fmt"
	"strings"
)

const MaxImages = 5

// Policy is the effective image configuration for one job.
type Policy struct {
	Enabled         bool
	Provider        provider.Name
	Count           int
	IncludeFeatured bool
	Size            string
	Quality         string
	Style           string
	AspectRatio     string
	SafetyLevel     string
	Placement       string
	CustomPrompt    string
}

func DefaultPolicy() Policy {
	return Policy{
		Enabled:         true,
		Provider:        provider.Auto,
		Count:           2,
		IncludeFeatured: true,
		Size:            "1024x1024",
		Quality:         "standard",
		Style:           "natural",
		AspectRatio:     "16:9",
		SafetyLevel:     "block_medium_and_above",
		Placement:       "after_heading",
	}
}

// Resolve layers the user's global image config, the job options and the
// keyword override on top of the defaults, in that order.
func Resolve(global, keyword *models.ImageConfig, opts models.JobOptions) Policy {
	p := DefaultPolicy()
	if global != nil {
		p = p.withConfig(global)
	}
	p = p.withOptions(opts)
	if keyword != nil {
		p = p.withConfig(keyword)
	}
	return p
}

func (p Policy) withConfig(cfg *models.ImageConfig) Policy {
	p.Enabled = cfg.AutoGenerate
	p.Count = clampCount(cfg.NumImages)
	p.IncludeFeatured = cfg.IncludeFeatured
	if cfg.Provider != "" {
		p.Provider = provider.Name(cfg.Provider)
	}
	p.Size = orKeep(cfg.Size, p.Size)
	p.Quality = orKeep(cfg.Quality, p.Quality)
	p.Style = orKeep(cfg.Style, p.Style)
	p.AspectRatio = orKeep(cfg.AspectRatio, p.AspectRatio)
	p.SafetyLevel = orKeep(cfg.SafetyLevel, p.SafetyLevel)
	p.Placement = orKeep(cfg.Placement, p.Placement)
	p.CustomPrompt = orKeep(cfg.CustomPrompt, p.CustomPrompt)
	return p
}

func (p Policy) withOptions(o models.JobOptions) Policy {
	if o.GenerateImages != nil {
		p.Enabled = *o.GenerateImages
	}
	if o.ImageCount != nil {
		p.Count = clampCount(*o.ImageCount)
	}
	if o.IncludeFeatured != nil {
		p.IncludeFeatured = *o.IncludeFeatured
	}
	p.Style = orKeep(o.ImageStyle, p.Style)
	return p
}

// Total is the number of images the policy asks for, featured included.
func (p Policy) Total() int {
	if !p.Enabled {
		return 0
	}
	n := p.Count
	if p.IncludeFeatured {
		n++
	}
	return n
}

func (p Policy) Params() provider.ImageParams {
	return provider.ImageParams{
		Size:        p.Size,
		Quality:     p.Quality,
		Style:       p.Style,
		AspectRatio: p.AspectRatio,
		SafetyLevel: p.SafetyLevel,
	}
}

func clampCount(n int) int {
	return min(max(n, 0), MaxImages)
}

func orKeep(v, cur string) string {
	if strings.TrimSpace(v) == "" {
		return cur
	}
	return v
}

type Prompt struct {
	Position int
	Featured bool
	Text     string
}

var angles = []string{
	"a detailed editorial illustration of %s",
	"a practical real-life scene showing %s",
	"a close-up conceptual image about %s",
	"an infographic-style composition summarising %s",
	"a calm minimal lifestyle photograph related to %s",
}

// Prompts builds one distinct prompt per position. The featured image takes
// position 0; the others follow at 1..Count.
func Prompts(phrase, title string, p Policy) []Prompt {
	if !p.Enabled {
		return nil
	}

	var out []Prompt
	if p.IncludeFeatured {
		out = append(out, Prompt{
			Position: 0,
			Featured: true,
			Text:     decorate(fmt.Sprintf("header composition, wide banner for an article titled %q about %s", title, phrase), p),
		})
	}
	for i := 0; i < p.Count; i++ {
		out = append(out, Prompt{
			Position: i + 1,
			Text:     decorate(fmt.Sprintf(angles[i%len(angles)], phrase), p),
		})
	}
	return out
}

func decorate(base string, p Policy) string {
	var b strings.Builder
	if c := strings.TrimSpace(p.CustomPrompt); c != "" {
		b.WriteString(c)
		b.WriteString(". ")
	}
	b.WriteString(base)
	if p.Style != "" {
		fmt.Fprintf(&b, ", %s style", p.Style)
	}
	b.WriteString(", high quality, detailed, no text")
	return b.String()
}
