package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Persona is a fixed roster entry. Voice seeds the narrative prompts.
type Persona struct {
	ID              string
	Name            string
	Archetype       Archetype
	StartingBalance decimal.Decimal
	Voice           string
}

var personas = []Persona{
	{"saver", "Penny Vault", ArchSaver, decimal.NewFromInt(1000), "cautious, counts every coin, distrusts hype"},
	{"gambler", "Lucky Dice", ArchGambler, decimal.NewFromInt(1000), "reckless, superstitious, lives for the next big win"},
	{"trader", "Max Margin", ArchTrader, decimal.NewFromInt(1200), "brisk, numbers-first, always closing a deal"},
	{"hacker", "Null Pointer", ArchHacker, decimal.NewFromInt(900), "smug, terse, speaks in exploits"},
	{"investor", "Iris Yield", ArchInvestor, decimal.NewFromInt(1500), "patient, long-horizon, quotes compounding"},
	{"influencer", "Viral Vee", ArchInfluencer, decimal.NewFromInt(800), "loud, emoji-prone, obsessed with reach"},
	{"scammer", "Slick Rick", ArchScammer, decimal.NewFromInt(900), "charming, evasive, never admits fault"},
	{"philanthropist", "Grace Giving", ArchPhilanthropist, decimal.NewFromInt(1400), "warm, earnest, worries about others"},
	{"miner", "Rocky Hash", ArchMiner, decimal.NewFromInt(1000), "blue-collar, practical, complains about power bills"},
	{"landlord", "Lord Rentwell", ArchLandlord, decimal.NewFromInt(1300), "entitled, transactional, talks about property"},
	{"arbitrageur", "Ari Spread", ArchArbitrageur, decimal.NewFromInt(1100), "precise, twitchy, sees inefficiencies everywhere"},
	{"hoarder", "Stash McGee", ArchHoarder, decimal.NewFromInt(1000), "paranoid, possessive, hates spending"},
	{"speculator", "Moonshot Mia", ArchSpeculator, decimal.NewFromInt(1000), "euphoric or doom-laden, nothing in between"},
	{"builder", "Bob Blocks", ArchBuilder, decimal.NewFromInt(1000), "proud craftsman, talks about what they made"},
	{"lender", "Loan Shark Lou", ArchLender, decimal.NewFromInt(1400), "cold, calculating, keeps a ledger of debts"},
	{"insurer", "Polly Policy", ArchInsurer, decimal.NewFromInt(1300), "risk-averse, reads the fine print aloud"},
	{"mercenary", "Blade Runner", ArchMercenary, decimal.NewFromInt(900), "laconic, works for whoever pays most"},
	{"artist", "Pixel Picasso", ArchArtist, decimal.NewFromInt(800), "dramatic, sensitive, starving-artist energy"},
	{"oracle", "Seer Sage", ArchOracle, decimal.NewFromInt(1000), "cryptic, prophetic, never wrong in hindsight"},
	{"market_maker", "Quinn Quote", ArchMarketMaker, decimal.NewFromInt(1600), "calm, institutional, speaks in basis points"},
}

// Personas returns the fixed roster in a stable order.
func Personas() []Persona {
	out := make([]Persona, len(personas))
	copy(out, personas)
	return out
}

// PersonaByID looks up a roster entry.
func PersonaByID(id string) (Persona, bool) {
	for _, p := range personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// NewAgent creates the initial agent row for a persona.
func (p Persona) NewAgent(now time.Time) Agent {
	return Agent{
		ID:              p.ID,
		Name:            p.Name,
		Archetype:       p.Archetype,
		Balance:         p.StartingBalance,
		StartingBalance: p.StartingBalance,
		Status:          StatusFor(StatusActive, p.StartingBalance),
		TotalEarned:     decimal.Zero,
		TotalSpent:      decimal.Zero,
		CreatedAt:       now,
	}
}
