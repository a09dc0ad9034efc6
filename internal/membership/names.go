package membership

import "math/rand/v2"

var (
	adjectives = []string{
		"Amber", "Brave", "Calm", "Dusty", "Eager", "Fuzzy", "Gentle", "Hazy",
		"Indigo", "Jolly", "Keen", "Lucky", "Mellow", "Nimble", "Olive", "Plucky",
		"Quiet", "Rusty", "Sunny", "Tidy", "Upbeat", "Velvet", "Witty", "Zesty",
	}
	animals = []string{
		"Otter", "Badger", "Heron", "Lynx", "Marten", "Newt", "Owl", "Puffin",
		"Quokka", "Raven", "Seal", "Tapir", "Urchin", "Vole", "Walrus", "Yak",
		"Fox", "Gecko", "Ibis", "Koala",
	}
)

// RandomName returns a display name such as "Amber Otter".
func RandomName() string {
	return adjectives[rand.IntN(len(adjectives))] + " " + animals[rand.IntN(len(animals))]
}
