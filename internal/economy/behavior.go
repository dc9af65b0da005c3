// Archetype behavior rules. Each rule reads the pre-epoch view and returns
// intents; the simulation applies them with clamping. Rules must draw all
// randomness from in.Rand.
package economy

import (
	"math/rand"
)

// RuleInput is everything a rule may look at.
type RuleInput struct {
	Self  Agent
	Peers []Agent // Participating agents other than Self, ordered by ID
	Event EventProfile
	Rand  *rand.Rand
}

// Intent is a proposed transfer. A nil From or To is the market.
type Intent struct {
	From   *string
	To     *string
	Amount float64
	Type   TxType
	Note   string
}

// Rule produces an agent's intents for one epoch.
type Rule func(in RuleInput) []Intent

func (in RuleInput) balance() float64 {
	return in.Self.Balance.InexactFloat64()
}

func (in RuleInput) chance(p float64) bool {
	return in.Rand.Float64() < p
}

func (in RuleInput) between(lo, hi float64) float64 {
	return lo + in.Rand.Float64()*(hi-lo)
}

func (in RuleInput) randomPeer() (Agent, bool) {
	if len(in.Peers) == 0 {
		return Agent{}, false
	}
	return in.Peers[in.Rand.Intn(len(in.Peers))], true
}

func (in RuleInput) richestPeer() (Agent, bool) {
	if len(in.Peers) == 0 {
		return Agent{}, false
	}
	best := in.Peers[0]
	for _, p := range in.Peers[1:] {
		if p.Balance.GreaterThan(best.Balance) {
			best = p
		}
	}
	return best, true
}

func (in RuleInput) poorestPeer() (Agent, bool) {
	if len(in.Peers) == 0 {
		return Agent{}, false
	}
	worst := in.Peers[0]
	for _, p := range in.Peers[1:] {
		if p.Balance.LessThan(worst.Balance) {
			worst = p
		}
	}
	return worst, true
}

func earn(in RuleInput, amount float64, t TxType, note string) Intent {
	return Intent{To: strPtr(in.Self.ID), Amount: amount * in.Event.Gain, Type: t, Note: note}
}

func spend(in RuleInput, amount float64, t TxType, note string) Intent {
	return Intent{From: strPtr(in.Self.ID), Amount: amount * in.Event.Loss, Type: t, Note: note}
}

func transfer(from, to string, amount float64, t TxType, note string) Intent {
	return Intent{From: strPtr(from), To: strPtr(to), Amount: amount, Type: t, Note: note}
}

func saverRule(in RuleInput) []Intent {
	out := []Intent{earn(in, in.balance()*in.between(0.01, 0.02), TxInterest, "savings interest")}
	if in.chance(0.1) {
		out = append(out, spend(in, in.between(2, 5), TxFee, "account maintenance fee"))
	}
	return out
}

func gamblerRule(in RuleInput) []Intent {
	stake := in.balance() * in.between(0.1, 0.3)
	note := "placed a wager"
	if in.chance(0.05) {
		stake = in.balance() * 0.9
		note = "went all in"
	}
	if in.chance(0.45 + in.Event.Luck) {
		return []Intent{earn(in, stake, TxWager, note+" and won")}
	}
	return []Intent{spend(in, stake, TxWager, note+" and lost")}
}

func traderRule(in RuleInput) []Intent {
	var out []Intent
	trades := 1 + in.Rand.Intn(2)
	for i := 0; i < trades; i++ {
		peer, ok := in.randomPeer()
		if !ok {
			break
		}
		amount := in.between(20, 60)
		if in.chance(0.5 + in.Event.Luck/2) {
			out = append(out, transfer(peer.ID, in.Self.ID, amount, TxTrade, "profitable trade"))
		} else {
			out = append(out, transfer(in.Self.ID, peer.ID, amount, TxTrade, "losing trade"))
		}
	}
	return out
}

func hackerRule(in RuleInput) []Intent {
	if !in.chance(0.35) {
		return nil
	}
	target, ok := in.randomPeer()
	if !ok {
		return nil
	}
	out := []Intent{transfer(target.ID, in.Self.ID,
		target.Balance.InexactFloat64()*in.between(0.05, 0.15), TxTheft, "drained a wallet")}
	if in.chance(0.15) {
		out = append(out, spend(in, in.between(30, 80), TxFee, "caught and fined"))
	}
	return out
}

func investorRule(in RuleInput) []Intent {
	invested := in.balance() * 0.2
	r := in.between(-0.06, 0.08) + in.Event.Luck*0.5
	if r >= 0 {
		return []Intent{earn(in, invested*r, TxInvestment, "portfolio gained")}
	}
	return []Intent{spend(in, invested*-r, TxInvestment, "portfolio lost value")}
}

func influencerRule(in RuleInput) []Intent {
	var out []Intent
	sponsors := 1 + in.Rand.Intn(3)
	for i := 0; i < sponsors; i++ {
		peer, ok := in.randomPeer()
		if !ok {
			break
		}
		out = append(out, transfer(peer.ID, in.Self.ID, in.between(5, 20)*in.Event.Gain, TxFee, "paid for a shoutout"))
	}
	return out
}

func scammerRule(in RuleInput) []Intent {
	var out []Intent
	if in.chance(0.4) {
		if victim, ok := in.randomPeer(); ok {
			out = append(out, transfer(victim.ID, in.Self.ID, in.between(10, 40), TxScam, "sold a fake token"))
		}
	}
	if in.chance(0.2) {
		out = append(out, spend(in, in.between(20, 60), TxLoss, "exposed and paid restitution"))
	}
	return out
}

func philanthropistRule(in RuleInput) []Intent {
	out := []Intent{earn(in, in.between(5, 15), TxTrade, "consulting income")}
	if peer, ok := in.poorestPeer(); ok {
		out = append(out, transfer(in.Self.ID, peer.ID, in.balance()*in.between(0.02, 0.05), TxDonation, "donated to a struggling agent"))
	}
	return out
}

func minerRule(in RuleInput) []Intent {
	return []Intent{
		earn(in, in.between(15, 35), TxTrade, "sold mined output"),
		spend(in, 10, TxFee, "energy bill"),
	}
}

func landlordRule(in RuleInput) []Intent {
	var out []Intent
	for i := 0; i < 2; i++ {
		tenant, ok := in.randomPeer()
		if !ok {
			break
		}
		out = append(out, transfer(tenant.ID, in.Self.ID, in.between(10, 25), TxRent, "collected rent"))
	}
	out = append(out, spend(in, in.between(5, 15), TxFee, "property maintenance"))
	return out
}

func arbitrageurRule(in RuleInput) []Intent {
	var out []Intent
	for i := 0; i < 3; i++ {
		peer, ok := in.randomPeer()
		if !ok {
			break
		}
		amount := in.between(5, 15)
		if in.chance(0.6) {
			out = append(out, transfer(peer.ID, in.Self.ID, amount, TxTrade, "captured a spread"))
		} else {
			out = append(out, transfer(in.Self.ID, peer.ID, amount, TxTrade, "spread closed against"))
		}
	}
	return out
}

func hoarderRule(in RuleInput) []Intent {
	out := []Intent{spend(in, in.balance()*0.005, TxFee, "storage fees")}
	if in.chance(0.15) {
		out = append(out, earn(in, in.between(10, 40), TxEventPayout, "found a forgotten stash"))
	}
	return out
}

func speculatorRule(in RuleInput) []Intent {
	stake := in.balance() * 0.15
	switch in.Event.Event {
	case EventBoom, EventOpportunity:
		return []Intent{earn(in, stake*in.between(0.1, 0.4), TxInvestment, "rode the hype")}
	case EventRecession:
		return []Intent{spend(in, stake*in.between(0.2, 0.5), TxInvestment, "caught in the crash")}
	}
	r := in.between(-0.2, 0.2)
	if r >= 0 {
		return []Intent{earn(in, stake*r, TxInvestment, "small speculative win")}
	}
	return []Intent{spend(in, stake*-r, TxInvestment, "small speculative loss")}
}

func builderRule(in RuleInput) []Intent {
	out := []Intent{spend(in, in.between(30, 60), TxFee, "bought materials")}
	if in.chance(0.6 + in.Event.Luck) {
		if buyer, ok := in.randomPeer(); ok {
			out = append(out, transfer(buyer.ID, in.Self.ID, in.between(60, 140), TxTrade, "sold a build"))
		}
	}
	return out
}

func lenderRule(in RuleInput) []Intent {
	var out []Intent
	if borrower, ok := in.randomPeer(); ok {
		out = append(out, transfer(borrower.ID, in.Self.ID, in.between(5, 20), TxInterest, "collected loan interest"))
	}
	if in.chance(0.1 - in.Event.Luck) {
		out = append(out, spend(in, in.between(30, 90), TxLoss, "loan defaulted"))
	}
	return out
}

func insurerRule(in RuleInput) []Intent {
	var out []Intent
	for i := 0; i < 3; i++ {
		peer, ok := in.randomPeer()
		if !ok {
			break
		}
		out = append(out, transfer(peer.ID, in.Self.ID, in.between(5, 10), TxFee, "collected a premium"))
	}
	claims := 0
	switch {
	case in.Event.Event == EventRecession:
		claims = 1 + in.Rand.Intn(2)
	case in.chance(0.2):
		claims = 1
	}
	for i := 0; i < claims; i++ {
		if claimant, ok := in.randomPeer(); ok {
			out = append(out, transfer(in.Self.ID, claimant.ID, in.between(30, 80), TxEventPayout, "paid an insurance claim"))
		}
	}
	return out
}

func mercenaryRule(in RuleInput) []Intent {
	if in.chance(0.7) {
		if client, ok := in.richestPeer(); ok {
			return []Intent{transfer(client.ID, in.Self.ID, in.between(30, 70), TxTrade, "hired for a job")}
		}
	}
	return []Intent{spend(in, in.between(10, 25), TxFee, "equipment upkeep")}
}

func artistRule(in RuleInput) []Intent {
	out := []Intent{spend(in, 10, TxFee, "art supplies")}
	if in.chance(0.5 + in.Event.Luck) {
		if buyer, ok := in.randomPeer(); ok {
			out = append(out, transfer(buyer.ID, in.Self.ID, in.between(20, 80), TxTrade, "sold a piece"))
		}
	}
	return out
}

func oracleRule(in RuleInput) []Intent {
	var out []Intent
	clients := 1 + in.Rand.Intn(3)
	for i := 0; i < clients; i++ {
		peer, ok := in.randomPeer()
		if !ok {
			break
		}
		out = append(out, transfer(peer.ID, in.Self.ID, in.between(5, 15), TxFee, "sold a forecast"))
	}
	if in.Event.Event == EventRecession && in.chance(0.3) {
		out = append(out, spend(in, 20, TxLoss, "missed the downturn call"))
	}
	return out
}

func marketMakerRule(in RuleInput) []Intent {
	out := []Intent{earn(in, in.between(10, 30), TxTrade, "earned the bid-ask spread")}
	if in.Event.Event == EventRecession && in.chance(0.4) {
		out = append(out, spend(in, in.between(40, 100), TxLoss, "inventory marked down"))
	}
	return out
}
