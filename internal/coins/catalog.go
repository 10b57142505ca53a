// Package coins holds the static coin table shared by every game session.
//
// The base table is fixed at process start. Admin-driven cosmetic changes are
// layered on top as an Overlay and merged when a coin is read; the base table
// itself is never written after init.
package coins

import (
	"sort"
	"sync/atomic"
)

// Platform identifies the host client. One platform swaps the skin of the top coin.
type Platform string

const (
	PlatformDefault Platform = ""
	PlatformBase    Platform = "base"
)

// MaxLevel is the highest coin level that can exist on the board.
const MaxLevel = 11

// Coin describes one level of the merge ladder.
type Coin struct {
	Level      int     `json:"level"`
	Name       string  `json:"name"`
	Radius     float64 `json:"radius"`
	Color      string  `json:"color"`
	GlowColor  string  `json:"glowColor"`
	ScoreValue int     `json:"scoreValue"`
	Icon       string  `json:"icon"`
	IsSponsor  bool    `json:"isSponsor"`
}

// base is indexed by level-1. Score values double per level.
var base = [MaxLevel]Coin{
	{Level: 1, Name: "Dust", Radius: 15, Color: "#8d8d8d", GlowColor: "#b5b5b5", ScoreValue: 1, Icon: "/coins/dust.png"},
	{Level: 2, Name: "Copper", Radius: 20, Color: "#b87333", GlowColor: "#d9955a", ScoreValue: 2, Icon: "/coins/copper.png"},
	{Level: 3, Name: "Bronze", Radius: 26, Color: "#cd7f32", GlowColor: "#e8a25c", ScoreValue: 4, Icon: "/coins/bronze.png"},
	{Level: 4, Name: "Silver", Radius: 32, Color: "#c0c0c0", GlowColor: "#e6e6e6", ScoreValue: 8, Icon: "/coins/silver.png"},
	{Level: 5, Name: "Gold", Radius: 38, Color: "#ffd700", GlowColor: "#fff08a", ScoreValue: 16, Icon: "/coins/gold.png"},
	{Level: 6, Name: "Platinum", Radius: 45, Color: "#e5e4e2", GlowColor: "#ffffff", ScoreValue: 32, Icon: "/coins/platinum.png"},
	{Level: 7, Name: "Emerald", Radius: 52, Color: "#2ecc71", GlowColor: "#7dffb0", ScoreValue: 64, Icon: "/coins/emerald.png"},
	{Level: 8, Name: "Sapphire", Radius: 60, Color: "#1f5fd1", GlowColor: "#6f9bff", ScoreValue: 128, Icon: "/coins/sapphire.png"},
	{Level: 9, Name: "Ruby", Radius: 68, Color: "#d1133a", GlowColor: "#ff6f8c", ScoreValue: 256, Icon: "/coins/ruby.png"},
	{Level: 10, Name: "Diamond", Radius: 76, Color: "#b9f2ff", GlowColor: "#e8fbff", ScoreValue: 512, Icon: "/coins/diamond.png"},
	{Level: 11, Name: "Crown", Radius: 85, Color: "#9b59b6", GlowColor: "#d6a8ff", ScoreValue: 1024, Icon: "/coins/crown.png", IsSponsor: true},
}

// platformSkins replace the visual identity of the top level on specific platforms.
var platformSkins = map[Platform]Cosmetic{
	PlatformBase: {Name: "Base", Color: "#0052ff", GlowColor: "#5c8dff", Icon: "/coins/base.png"},
}

// Catalog merges the immutable base table with a replaceable cosmetic overlay.
type Catalog struct {
	overlay atomic.Pointer[Overlay]
}

// NewCatalog returns a catalog with the given overlay applied.
func NewCatalog(o Overlay) *Catalog {
	c := &Catalog{}
	c.SetOverlay(o)
	return c
}

// SetOverlay swaps the cosmetic overlay. The caller's map is copied.
func (c *Catalog) SetOverlay(o Overlay) {
	cp := o.clone()
	c.overlay.Store(&cp)
}

// Overlay returns a copy of the current cosmetic overlay.
func (c *Catalog) Overlay() Overlay {
	if p := c.overlay.Load(); p != nil {
		return p.clone()
	}
	return Overlay{}
}

// Lookup returns the coin for level as seen on platform.
// The bool is false for levels outside 1..MaxLevel.
func (c *Catalog) Lookup(level int, platform Platform) (Coin, bool) {
	if level < 1 || level > MaxLevel {
		return Coin{}, false
	}
	coin := base[level-1]
	if level == MaxLevel {
		if skin, ok := platformSkins[platform]; ok {
			coin = skin.apply(coin)
		}
	}
	if p := c.overlay.Load(); p != nil {
		if cos, ok := (*p)[level]; ok {
			coin = cos.apply(coin)
		}
	}
	return coin, true
}

// LookupOrDefault never fails; unknown levels resolve to the level 1 coin.
func (c *Catalog) LookupOrDefault(level int, platform Platform) Coin {
	if coin, ok := c.Lookup(level, platform); ok {
		return coin
	}
	coin, _ := c.Lookup(1, platform)
	return coin
}

// All returns every coin in level order.
func (c *Catalog) All(platform Platform) []Coin {
	out := make([]Coin, 0, MaxLevel)
	for lvl := 1; lvl <= MaxLevel; lvl++ {
		coin, _ := c.Lookup(lvl, platform)
		out = append(out, coin)
	}
	return out
}

// Default is the process-wide catalog.
var Default = NewCatalog(nil)

// Lookup reads from the Default catalog.
func Lookup(level int, platform Platform) (Coin, bool) {
	return Default.Lookup(level, platform)
}

// ScoreValue is the points awarded when a body of this level is created by a merge.
// Unknown levels score zero. Overlays cannot change it.
func ScoreValue(level int) int {
	if level < 1 || level > MaxLevel {
		return 0
	}
	return base[level-1].ScoreValue
}

// Radius is the body radius for level, falling back to the smallest coin.
func Radius(level int) float64 {
	if level < 1 || level > MaxLevel {
		return base[0].Radius
	}
	return base[level-1].Radius
}

// Levels lists the overlay keys in ascending order.
func (o Overlay) Levels() []int {
	levels := make([]int, 0, len(o))
	for lvl := range o {
		levels = append(levels, lvl)
	}
	sort.Ints(levels)
	return levels
}
