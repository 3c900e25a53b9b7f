// internal/models/catalog.go
package models

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/javajoker/payper-backend/internal/config"
)

// Supported model ids
const (
	ModelGPTImage = "gpt-image-1"
	ModelIdeogram = "ideogram"
	ModelQwen     = "qwen"
	ModelSora2    = "sora-2"
	ModelVeo      = "veo-3.1"
)

type ModelInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Provider    string          `json:"provider"`
	Description string          `json:"description"`
	PriceUSD    decimal.Decimal `json:"priceUSD"`
	Type        GenerationType  `json:"type"`
}

// Catalog is the priced list of models this deployment sells.
type Catalog struct {
	models map[string]ModelInfo
}

func NewCatalog(prices config.ModelPriceConfig) *Catalog {
	list := []ModelInfo{
		{
			ID:          ModelGPTImage,
			Name:        "GPT Image",
			Provider:    "gpt4o-image",
			Description: "Prompt-faithful image generation",
			PriceUSD:    decimal.NewFromFloat(prices.ImageGPT),
			Type:        GenerationTypeImage,
		},
		{
			ID:          ModelIdeogram,
			Name:        "Ideogram V3",
			Provider:    "jobs",
			Description: "Typography and design oriented images",
			PriceUSD:    decimal.NewFromFloat(prices.ImageIdeogram),
			Type:        GenerationTypeImage,
		},
		{
			ID:          ModelQwen,
			Name:        "Qwen Image",
			Provider:    "jobs",
			Description: "Fast general purpose images",
			PriceUSD:    decimal.NewFromFloat(prices.ImageQwen),
			Type:        GenerationTypeImage,
		},
		{
			ID:          ModelSora2,
			Name:        "Sora 2",
			Provider:    "jobs",
			Description: "Short text-to-video clips",
			PriceUSD:    decimal.NewFromFloat(prices.VideoSora2),
			Type:        GenerationTypeVideo,
		},
		{
			ID:          ModelVeo,
			Name:        "Veo 3.1",
			Provider:    "veo",
			Description: "Cinematic video with audio",
			PriceUSD:    decimal.NewFromFloat(prices.VideoVeo),
			Type:        GenerationTypeVideo,
		},
	}

	c := &Catalog{models: make(map[string]ModelInfo, len(list))}
	for _, m := range list {
		c.models[m.ID] = m
	}
	return c
}

func (c *Catalog) Get(id string) (ModelInfo, bool) {
	m, ok := c.models[id]
	return m, ok
}

// List returns models ordered by type then price.
func (c *Catalog) List() []ModelInfo {
	out := make([]ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if !out[i].PriceUSD.Equal(out[j].PriceUSD) {
			return out[i].PriceUSD.LessThan(out[j].PriceUSD)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
