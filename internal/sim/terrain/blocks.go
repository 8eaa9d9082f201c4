package terrain

// Block ids. The table is static; ids outside it are rejected by Valid.
const (
	Air uint16 = iota
	Stone
	Dirt
	Grass
	Sand
	Gravel
	Log
	Leaves
	Planks
	Glass
	Glowstone
	Torch
)

type BlockDef struct {
	Name     string
	Opaque   bool  // stops light
	Solid    bool  // players cannot stand inside
	Emission uint8 // block light emitted, 0..15
}

var table = [...]BlockDef{
	Air:       {Name: "air"},
	Stone:     {Name: "stone", Opaque: true, Solid: true},
	Dirt:      {Name: "dirt", Opaque: true, Solid: true},
	Grass:     {Name: "grass", Opaque: true, Solid: true},
	Sand:      {Name: "sand", Opaque: true, Solid: true},
	Gravel:    {Name: "gravel", Opaque: true, Solid: true},
	Log:       {Name: "log", Opaque: true, Solid: true},
	Leaves:    {Name: "leaves", Solid: true},
	Planks:    {Name: "planks", Opaque: true, Solid: true},
	Glass:     {Name: "glass", Solid: true},
	Glowstone: {Name: "glowstone", Opaque: true, Solid: true, Emission: 15},
	Torch:     {Name: "torch", Emission: 14},
}

// Blocks is the block property table. The zero value is ready to use.
type Blocks struct{}

func (Blocks) Valid(id uint16) bool { return int(id) < len(table) }

func (b Blocks) Def(id uint16) BlockDef {
	if !b.Valid(id) {
		return BlockDef{Name: "unknown", Opaque: true, Solid: true}
	}
	return table[id]
}

func (b Blocks) Opaque(id uint16) bool    { return b.Def(id).Opaque }
func (b Blocks) Solid(id uint16) bool     { return b.Def(id).Solid }
func (b Blocks) Emission(id uint16) uint8 { return b.Def(id).Emission }

// Count is the number of defined block ids.
func (Blocks) Count() int { return len(table) }
