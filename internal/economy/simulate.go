package economy

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"
)

// Upkeep is the flat cost every participating agent pays per epoch before
// the event's loss multiplier.
const Upkeep = 5.0

// Outcome is the result of simulating one epoch. Nothing is persisted yet.
type Outcome struct {
	Epoch         int64
	Event         Event
	Seed          int64
	Transactions  []Transaction
	Agents        []Agent  // Post-epoch state for every agent, ordered by ID
	NewlyBankrupt []string // Agents whose status became bankrupt this epoch
	Minted        decimal.Decimal
	Destroyed     decimal.Decimal
}

// Simulate advances agents through one epoch. It is a pure function of its
// arguments: bankrupt agents are carried through untouched, every other agent
// runs its archetype rule with a random source derived from seed and its ID.
func Simulate(agents []Agent, epoch int64, event Event, seed int64) Outcome {
	sorted := make([]Agent, len(agents))
	copy(sorted, agents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	l := &ledger{
		epoch:     epoch,
		state:     make(map[string]*Agent, len(sorted)),
		minted:    decimal.Zero,
		destroyed: decimal.Zero,
	}
	for i := range sorted {
		l.state[sorted[i].ID] = &sorted[i]
	}

	var participants []Agent
	for _, a := range sorted {
		if a.Participating() {
			participants = append(participants, a)
		}
	}

	profile := event.Profile()
	var intents []Intent
	for i, a := range participants {
		rule, ok := RuleFor(a.Archetype)
		if !ok {
			continue
		}
		peers := make([]Agent, 0, len(participants)-1)
		peers = append(peers, participants[:i]...)
		peers = append(peers, participants[i+1:]...)
		intents = append(intents, rule(RuleInput{
			Self:  a,
			Peers: peers,
			Event: profile,
			Rand:  rand.New(rand.NewSource(agentSeed(seed, a.ID))),
		})...)
	}

	epochRand := rand.New(rand.NewSource(seed))
	if event == EventOpportunity && len(participants) > 0 {
		lucky := participants[epochRand.Intn(len(participants))]
		intents = append(intents, Intent{
			To:     strPtr(lucky.ID),
			Amount: 50 + epochRand.Float64()*100,
			Type:   TxEventPayout,
			Note:   "caught a market opportunity",
		})
	}
	for _, a := range participants {
		intents = append(intents, Intent{
			From:   strPtr(a.ID),
			Amount: Upkeep * profile.Loss,
			Type:   TxUpkeep,
			Note:   "epoch upkeep",
		})
	}

	for _, in := range intents {
		l.apply(in)
	}

	var bankrupt []string
	for _, a := range participants {
		cur := l.state[a.ID]
		next := StatusFor(cur.Status, cur.Balance)
		if next == StatusBankrupt {
			if cur.Balance.IsPositive() {
				l.book(strPtr(cur.ID), nil, cur.Balance, TxWriteoff, "bankruptcy write-off")
			}
			bankrupt = append(bankrupt, cur.ID)
		}
		cur.Status = next
	}

	return Outcome{
		Epoch:         epoch,
		Event:         event,
		Seed:          seed,
		Transactions:  l.txs,
		Agents:        sorted,
		NewlyBankrupt: bankrupt,
		Minted:        l.minted,
		Destroyed:     l.destroyed,
	}
}

type ledger struct {
	epoch     int64
	state     map[string]*Agent
	txs       []Transaction
	minted    decimal.Decimal
	destroyed decimal.Decimal
}

// apply books an intent rounded to cents.
func (l *ledger) apply(in Intent) {
	l.book(in.From, in.To, decimal.NewFromFloat(in.Amount).Round(2), in.Type, in.Note)
}

// book moves amount between two sides. Debits are clamped to the payer's
// balance so no agent goes below zero; non-positive amounts are dropped.
func (l *ledger) book(from, to *string, amount decimal.Decimal, t TxType, note string) {
	if !amount.IsPositive() {
		return
	}

	var payer, payee *Agent
	if from != nil {
		payer = l.state[*from]
		if payer == nil {
			return
		}
		if amount.GreaterThan(payer.Balance) {
			amount = payer.Balance
		}
		if !amount.IsPositive() {
			return
		}
	}
	if to != nil {
		payee = l.state[*to]
		if payee == nil {
			return
		}
	}

	if payer != nil {
		payer.Balance = payer.Balance.Sub(amount)
		payer.TotalSpent = payer.TotalSpent.Add(amount)
	} else {
		l.minted = l.minted.Add(amount)
	}
	if payee != nil {
		payee.Balance = payee.Balance.Add(amount)
		payee.TotalEarned = payee.TotalEarned.Add(amount)
	} else {
		l.destroyed = l.destroyed.Add(amount)
	}

	l.txs = append(l.txs, Transaction{
		Epoch:  l.epoch,
		Seq:    len(l.txs) + 1,
		From:   from,
		To:     to,
		Amount: amount,
		Type:   t,
		Note:   note,
	})
}

func agentSeed(seed int64, id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return seed ^ int64(h.Sum64())
}

// CheckConservation verifies that every agent's balance change equals the
// net of the transactions touching it, and that the total money supply moved
// only by market-side rows.
func CheckConservation(before, after []Agent, txs []Transaction) error {
	prev := make(map[string]decimal.Decimal, len(before))
	total := decimal.Zero
	for _, a := range before {
		prev[a.ID] = a.Balance
		total = total.Sub(a.Balance)
	}

	net := decimal.Zero
	for _, tx := range txs {
		if tx.From == nil {
			net = net.Add(tx.Amount)
		}
		if tx.To == nil {
			net = net.Sub(tx.Amount)
		}
	}

	for _, a := range after {
		total = total.Add(a.Balance)
		delta := decimal.Zero
		for _, tx := range txs {
			delta = delta.Add(tx.DeltaFor(a.ID))
		}
		if got := a.Balance.Sub(prev[a.ID]); !got.Equal(delta) {
			return fmt.Errorf("agent %s: balance moved %s but transactions net %s", a.ID, got, delta)
		}
	}
	if !total.Equal(net) {
		return fmt.Errorf("money supply moved %s but market rows net %s", total, net)
	}
	return nil
}
