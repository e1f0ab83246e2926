// Package namegen produces human-readable build names in
// adjective-noun-number form. Names are not unique by design; the build id
// is the identifier.
package namegen

import (
	"fmt"
	"math/rand"
)

var adjectives = []string{
	"amber", "bold", "brisk", "calm", "clever", "crisp", "daring", "deft",
	"eager", "fuzzy", "gentle", "hazy", "keen", "lively", "lucid", "mellow",
	"nimble", "polished", "quiet", "rapid", "rustic", "sharp", "silent",
	"sleek", "solid", "swift", "tidy", "vivid", "wandering", "witty",
}

var nouns = []string{
	"aurora", "badger", "beacon", "canyon", "comet", "current", "delta",
	"ember", "falcon", "fjord", "glacier", "harbor", "heron", "lagoon",
	"meadow", "meteor", "nebula", "orchid", "osprey", "prairie", "quasar",
	"reef", "ridge", "river", "sparrow", "summit", "thicket", "tundra",
	"willow", "zephyr",
}

// Generate returns a fresh build name such as "brisk-falcon-4821".
func Generate() string {
	return fmt.Sprintf("%s-%s-%04d",
		adjectives[rand.Intn(len(adjectives))],
		nouns[rand.Intn(len(nouns))],
		rand.Intn(10000))
}
