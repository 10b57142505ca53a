package coins

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Cosmetic holds the visual fields an admin may override. Empty fields keep the base value.
type Cosmetic struct {
	Name      string `json:"name,omitempty" yaml:"name"`
	Color     string `json:"color,omitempty" yaml:"color"`
	GlowColor string `json:"glowColor,omitempty" yaml:"glow_color"`
	Icon      string `json:"icon,omitempty" yaml:"icon"`
}

// Overlay maps a coin level to its cosmetic override.
type Overlay map[int]Cosmetic

func (c Cosmetic) apply(coin Coin) Coin {
	if c.Name != "" {
		coin.Name = c.Name
	}
	if c.Color != "" {
		coin.Color = c.Color
	}
	if c.GlowColor != "" {
		coin.GlowColor = c.GlowColor
	}
	if c.Icon != "" {
		coin.Icon = c.Icon
	}
	return coin
}

func (o Overlay) clone() Overlay {
	out := make(Overlay, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Validate rejects overlay entries for levels that do not exist.
func (o Overlay) Validate() error {
	for lvl := range o {
		if lvl < 1 || lvl > MaxLevel {
			return fmt.Errorf("coins: overlay level %d out of range 1..%d", lvl, MaxLevel)
		}
	}
	return nil
}

type overlayFile struct {
	Overlay Overlay `yaml:"overlay"`
}

// ParseOverlay decodes a YAML document of the form
//
//	overlay:
//	  11: {name: "Sponsor", color: "#ff00aa"}
func ParseOverlay(data []byte) (Overlay, error) {
	var f overlayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("coins: parse overlay: %w", err)
	}
	if f.Overlay == nil {
		f.Overlay = Overlay{}
	}
	if err := f.Overlay.Validate(); err != nil {
		return nil, err
	}
	return f.Overlay, nil
}

// LoadOverlayFile reads and parses an overlay YAML file.
func LoadOverlayFile(path string) (Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coins: read overlay: %w", err)
	}
	return ParseOverlay(data)
}
