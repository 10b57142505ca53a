package coins

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseTableInvariants(t *testing.T) {
	prevScore := 0
	prevRadius := 0.0
	for lvl := 1; lvl <= MaxLevel; lvl++ {
		coin, ok := Lookup(lvl, PlatformDefault)
		if !ok {
			t.Fatalf("level %d missing", lvl)
		}
		if coin.Level != lvl {
			t.Errorf("level %d: got Level=%d", lvl, coin.Level)
		}
		if coin.ScoreValue < prevScore {
			t.Errorf("level %d: score %d decreases from %d", lvl, coin.ScoreValue, prevScore)
		}
		if coin.Radius <= prevRadius {
			t.Errorf("level %d: radius %.1f not larger than %.1f", lvl, coin.Radius, prevRadius)
		}
		prevScore = coin.ScoreValue
		prevRadius = coin.Radius
	}
}

func TestLookupUnknownLevel(t *testing.T) {
	for _, lvl := range []int{0, -1, MaxLevel + 1} {
		if _, ok := Lookup(lvl, PlatformDefault); ok {
			t.Errorf("level %d: expected not found", lvl)
		}
	}

	coin := Default.LookupOrDefault(99, PlatformDefault)
	if coin.Level != 1 {
		t.Errorf("expected fallback to level 1, got %d", coin.Level)
	}
	if ScoreValue(99) != 0 {
		t.Errorf("unknown level should score 0")
	}
	if Radius(0) != Radius(1) {
		t.Errorf("unknown level radius should fall back to level 1")
	}
}

func TestPlatformSkinOnlyTopLevel(t *testing.T) {
	top, _ := Lookup(MaxLevel, PlatformBase)
	if top.Name != "Base" {
		t.Errorf("expected base skin on top level, got %q", top.Name)
	}
	def, _ := Lookup(MaxLevel, PlatformDefault)
	if top.ScoreValue != def.ScoreValue || top.Radius != def.Radius {
		t.Errorf("skin must not change score or radius")
	}

	low, _ := Lookup(3, PlatformBase)
	lowDef, _ := Lookup(3, PlatformDefault)
	if low != lowDef {
		t.Errorf("skin leaked to level 3: %+v vs %+v", low, lowDef)
	}
}

func TestOverlayMergedAtReadTime(t *testing.T) {
	c := NewCatalog(Overlay{11: {Name: "Sponsor", Color: "#ff00aa"}})

	coin, _ := c.Lookup(11, PlatformDefault)
	if coin.Name != "Sponsor" || coin.Color != "#ff00aa" {
		t.Errorf("overlay not applied: %+v", coin)
	}
	if coin.GlowColor != "#d6a8ff" {
		t.Errorf("empty overlay field should keep base glow, got %q", coin.GlowColor)
	}

	// The overlay wins over the platform skin.
	skinned, _ := c.Lookup(11, PlatformBase)
	if skinned.Name != "Sponsor" {
		t.Errorf("expected overlay over skin, got %q", skinned.Name)
	}

	// Other catalogs are untouched.
	plain, _ := Lookup(11, PlatformDefault)
	if plain.Name != "Crown" {
		t.Errorf("default catalog mutated: %q", plain.Name)
	}

	c.SetOverlay(nil)
	coin, _ = c.Lookup(11, PlatformDefault)
	if coin.Name != "Crown" {
		t.Errorf("overlay not cleared: %q", coin.Name)
	}
}

func TestOverlayCopyIsolation(t *testing.T) {
	o := Overlay{5: {Name: "Five"}}
	c := NewCatalog(o)
	o[5] = Cosmetic{Name: "Changed"}

	coin, _ := c.Lookup(5, PlatformDefault)
	if coin.Name != "Five" {
		t.Errorf("catalog shares caller map: %q", coin.Name)
	}
}

func TestParseOverlay(t *testing.T) {
	data := []byte("overlay:\n  11:\n    name: Sponsor\n    glow_color: \"#123456\"\n")
	o, err := ParseOverlay(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o[11].Name != "Sponsor" || o[11].GlowColor != "#123456" {
		t.Errorf("unexpected overlay: %+v", o)
	}

	if _, err := ParseOverlay([]byte("overlay:\n  12:\n    name: Nope\n")); err == nil {
		t.Error("expected out-of-range level to fail")
	}
}

func TestLoadOverlayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	if err := os.WriteFile(path, []byte("overlay:\n  2:\n    icon: /x.png\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	o, err := LoadOverlayFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := o.Levels(); len(got) != 1 || got[0] != 2 {
		t.Errorf("unexpected levels %v", got)
	}
}
