// Archetype behavior templates. Each archetype maps to exactly one rule.
// The rule table is indexed by the enum, so a new archetype without a rule is
// caught by TestEveryArchetypeHasRule.
package economy

import (
	"database/sql/driver"
	"fmt"
)

// Archetype is the fixed behavioral persona of an agent.
type Archetype uint8

const (
	ArchSaver Archetype = iota
	ArchGambler
	ArchTrader
	ArchHacker
	ArchInvestor
	ArchInfluencer
	ArchScammer
	ArchPhilanthropist
	ArchMiner
	ArchLandlord
	ArchArbitrageur
	ArchHoarder
	ArchSpeculator
	ArchBuilder
	ArchLender
	ArchInsurer
	ArchMercenary
	ArchArtist
	ArchOracle
	ArchMarketMaker
	archetypeCount
)

var archetypeNames = [archetypeCount]string{
	ArchSaver:          "saver",
	ArchGambler:        "gambler",
	ArchTrader:         "trader",
	ArchHacker:         "hacker",
	ArchInvestor:       "investor",
	ArchInfluencer:     "influencer",
	ArchScammer:        "scammer",
	ArchPhilanthropist: "philanthropist",
	ArchMiner:          "miner",
	ArchLandlord:       "landlord",
	ArchArbitrageur:    "arbitrageur",
	ArchHoarder:        "hoarder",
	ArchSpeculator:     "speculator",
	ArchBuilder:        "builder",
	ArchLender:         "lender",
	ArchInsurer:        "insurer",
	ArchMercenary:      "mercenary",
	ArchArtist:         "artist",
	ArchOracle:         "oracle",
	ArchMarketMaker:    "market_maker",
}

// rules maps every archetype to its behavior. See behavior.go.
var rules = [archetypeCount]Rule{
	ArchSaver:          saverRule,
	ArchGambler:        gamblerRule,
	ArchTrader:         traderRule,
	ArchHacker:         hackerRule,
	ArchInvestor:       investorRule,
	ArchInfluencer:     influencerRule,
	ArchScammer:        scammerRule,
	ArchPhilanthropist: philanthropistRule,
	ArchMiner:          minerRule,
	ArchLandlord:       landlordRule,
	ArchArbitrageur:    arbitrageurRule,
	ArchHoarder:        hoarderRule,
	ArchSpeculator:     speculatorRule,
	ArchBuilder:        builderRule,
	ArchLender:         lenderRule,
	ArchInsurer:        insurerRule,
	ArchMercenary:      mercenaryRule,
	ArchArtist:         artistRule,
	ArchOracle:         oracleRule,
	ArchMarketMaker:    marketMakerRule,
}

// RuleFor returns the behavior rule for the archetype.
func RuleFor(a Archetype) (Rule, bool) {
	if a >= archetypeCount || rules[a] == nil {
		return nil, false
	}
	return rules[a], true
}

// Archetypes lists every archetype in declaration order.
func Archetypes() []Archetype {
	out := make([]Archetype, 0, archetypeCount)
	for a := Archetype(0); a < archetypeCount; a++ {
		out = append(out, a)
	}
	return out
}

func (a Archetype) String() string {
	if a >= archetypeCount {
		return fmt.Sprintf("archetype(%d)", uint8(a))
	}
	return archetypeNames[a]
}

// ParseArchetype converts raw input into an Archetype.
func ParseArchetype(value string) (Archetype, error) {
	for a := Archetype(0); a < archetypeCount; a++ {
		if archetypeNames[a] == value {
			return a, nil
		}
	}
	return 0, fmt.Errorf("invalid archetype %q", value)
}

func (a Archetype) MarshalText() ([]byte, error) {
	if a >= archetypeCount {
		return nil, fmt.Errorf("invalid archetype %d", uint8(a))
	}
	return []byte(archetypeNames[a]), nil
}

func (a *Archetype) UnmarshalText(text []byte) error {
	parsed, err := ParseArchetype(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value stores the archetype by name so the column stays readable.
func (a Archetype) Value() (driver.Value, error) {
	if a >= archetypeCount {
		return nil, fmt.Errorf("invalid archetype %d", uint8(a))
	}
	return archetypeNames[a], nil
}

func (a *Archetype) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	}
	return fmt.Errorf("scan archetype: unsupported type %T", src)
}
