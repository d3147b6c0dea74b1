package pricer

import "strings"

// Console is one supported platform: the key used in requests and the
// scan prompt, the display name, and the PriceCharting console slug.
type Console struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	PC   string `json:"pc"`
}

// Consoles lists the supported platforms in menu order.
var Consoles = []Console{
	{"nes", "NES", "nes"},
	{"snes", "SNES", "super-nintendo"},
	{"n64", "N64", "nintendo-64"},
	{"gameboy", "Game Boy", "gameboy"},
	{"gbc", "Game Boy Color", "gameboy-color"},
	{"gba", "GBA", "gameboy-advance"},
	{"gamecube", "GameCube", "gamecube"},
	{"wii", "Wii", "wii"},
	{"nds", "Nintendo DS", "nintendo-ds"},
	{"3ds", "3DS", "nintendo-3ds"},
	{"switch", "Switch", "nintendo-switch"},
	{"genesis", "Sega Genesis", "sega-genesis"},
	{"dreamcast", "Dreamcast", "sega-dreamcast"},
	{"saturn", "Sega Saturn", "sega-saturn"},
	{"gamegear", "Game Gear", "sega-game-gear"},
	{"ps1", "PS1", "playstation"},
	{"ps2", "PS2", "playstation-2"},
	{"ps3", "PS3", "playstation-3"},
	{"psp", "PSP", "psp"},
	{"xbox", "Xbox", "xbox"},
	{"xbox360", "Xbox 360", "xbox-360"},
	{"atari2600", "Atari 2600", "atari-2600"},
}

// consoleByKey returns the console for a request key.
func consoleByKey(key string) (Console, bool) {
	for _, c := range Consoles {
		if c.Key == key {
			return c, true
		}
	}
	return Console{}, false
}

// consoleOptions renders the quoted key list inserted into scan
// prompts.
func consoleOptions() string {
	keys := make([]string, len(Consoles))
	for i, c := range Consoles {
		keys[i] = `"` + c.Key + `"`
	}
	return strings.Join(keys, ", ")
}
