package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/ledger"
)

func TestOfferAcceptMovesCurrency(t *testing.T) {
	desk, bl, fl, hl := fixture(t)
	dep := ledger.With(ledger.RoleDeposit, bank)

	desk.Bid(buyer, firm, "produce", 4, d(5), ledger.DepositAt(bank))

	offers, err := desk.Offers(firm)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	o := offers[0]
	assert.Equal(t, buyer, o.Buyer)

	// Partial fill: only 3 units in stock.
	value := o.Value(3)
	require.True(t, value.Equal(d(15)))
	require.NoError(t, desk.Accept(o, 3, fl,
		ledger.Simple(dep, ledger.K(ledger.RoleSalesRevenue), value),
		Mirror{To: buyer, Entry: ledger.Simple(ledger.K(ledger.RoleGoods), dep, value)},
		Mirror{To: bank, Entry: ledger.Simple(ledger.With(ledger.RoleDeposit, buyer), ledger.With(ledger.RoleDeposit, firm), value)},
	))

	replies, err := desk.Replies(buyer)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.True(t, replies[0].Accepted)
	assert.InDelta(t, 3.0, replies[0].Quantity, 1e-12)

	_, err = desk.Apply(hl)
	require.NoError(t, err)
	_, err = desk.Apply(bl)
	require.NoError(t, err)

	assert.True(t, fl.Amount(dep).Equal(d(115)))
	assert.True(t, hl.Amount(dep).Equal(d(185)))
	assert.True(t, hl.Amount(ledger.K(ledger.RoleGoods)).Equal(d(15)))

	rep := desk.Audit()
	assert.Empty(t, rep.Orphans)
	assert.Empty(t, rep.StaleOffers)
}

func TestOfferRejectLeavesLedgersUntouched(t *testing.T) {
	desk, bl, fl, hl := fixture(t)
	snaps := []ledger.Snapshot{bl.Snapshot(), fl.Snapshot(), hl.Snapshot()}

	desk.Bid(buyer, firm, "produce", 2, d(1), ledger.DepositAt(bank))
	offers, err := desk.Offers(firm)
	require.NoError(t, err)
	require.NoError(t, desk.Reject(offers[0]))

	replies, err := desk.Replies(buyer)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.False(t, replies[0].Accepted)

	assert.Equal(t, snaps, []ledger.Snapshot{bl.Snapshot(), fl.Snapshot(), hl.Snapshot()})
	assert.Zero(t, desk.Outstanding())
}

func TestOfferCannotBeAnsweredTwiceOrOverfilled(t *testing.T) {
	desk, _, fl, _ := fixture(t)
	desk.Bid(buyer, firm, "produce", 1, d(2), ledger.DepositAt(bank))
	offers, err := desk.Offers(firm)
	require.NoError(t, err)
	o := offers[0]

	err = desk.Accept(o, 2, fl, ledger.Entry{})
	assert.Error(t, err)

	require.NoError(t, desk.Reject(o))
	assert.ErrorIs(t, desk.Reject(o), ErrUnknownOffer)
}

func TestFailedAcceptLeavesOfferOpen(t *testing.T) {
	desk, bl, fl, hl := fixture(t)
	snaps := []ledger.Snapshot{bl.Snapshot(), fl.Snapshot(), hl.Snapshot()}
	dep := ledger.With(ledger.RoleDeposit, bank)

	desk.Bid(buyer, firm, "produce", 2, d(5), ledger.DepositAt(bank))
	offers, err := desk.Offers(firm)
	require.NoError(t, err)
	o := offers[0]

	// The firm ledger has no goods account, so the local leg is refused.
	err = desk.Accept(o, 2, fl,
		ledger.Simple(dep, ledger.K(ledger.RoleGoods), o.Value(2)),
		Mirror{To: buyer, Entry: ledger.Simple(ledger.K(ledger.RoleGoods), dep, o.Value(2))},
	)
	require.ErrorIs(t, err, ledger.ErrUnknownAccount)

	replies, err := desk.Replies(buyer)
	require.NoError(t, err)
	assert.Empty(t, replies)
	assert.Zero(t, desk.Outstanding())
	assert.Equal(t, snaps, []ledger.Snapshot{bl.Snapshot(), fl.Snapshot(), hl.Snapshot()})

	rep := desk.Audit()
	require.Len(t, rep.StaleOffers, 1)
	assert.Equal(t, o.ID, rep.StaleOffers[0].ID)
}

func TestOfferStillAnswerableAfterFailedAccept(t *testing.T) {
	desk, _, fl, _ := fixture(t)
	dep := ledger.With(ledger.RoleDeposit, bank)
	desk.Bid(buyer, firm, "produce", 1, d(2), ledger.DepositAt(bank))
	offers, err := desk.Offers(firm)
	require.NoError(t, err)
	o := offers[0]

	require.Error(t, desk.Accept(o, 1, fl, ledger.Simple(dep, ledger.K(ledger.RoleGoods), d(2))))
	require.NoError(t, desk.Reject(o))
	assert.Empty(t, desk.Audit().StaleOffers)
}

func TestUnansweredOfferIsStaleAtAudit(t *testing.T) {
	desk, _, _, _ := fixture(t)
	desk.Bid(buyer, firm, "produce", 1, d(2), ledger.NotesOf(bank))

	rep := desk.Audit()
	require.Len(t, rep.StaleOffers, 1)
	assert.Equal(t, ledger.NotesOf(bank), rep.StaleOffers[0].Currency)
}
