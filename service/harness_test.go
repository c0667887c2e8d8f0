package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
	"governance-ledger/models"
	"governance-ledger/registry"
)

// harness wires the full service stack over one ledger, the way a node
// composes it in production.
type harness struct {
	crypto     *encryption.CryptoService
	ledger     *ledger.Ledger
	identities *registry.IdentityRegistry
	proposals  *ProposalService
	petitions  *PetitionService
	voting     *VotingManager
	metrics    *MetricsCollector
	audit      *AuditService
}

type participant struct {
	fp   string
	pub  string
	priv string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cs := encryption.NewCryptoService()
	l := ledger.New(cs, 1)
	ids := registry.NewIdentityRegistry(cs, l, nil)
	ps := NewProposalService(cs, l, ids)
	pets := NewPetitionService(cs, l, ids, ps)
	vm := NewVotingManager(cs, l, ids, ps)
	mc := NewMetricsCollector()
	return &harness{
		crypto:     cs,
		ledger:     l,
		identities: ids,
		proposals:  ps,
		petitions:  pets,
		voting:     vm,
		metrics:    mc,
		audit:      NewAuditService(cs, l, ids, ps, vm, mc),
	}
}

func (h *harness) register(t *testing.T, alias, jurisdiction string) participant {
	t.Helper()
	pub, priv, err := h.crypto.GenerateKeyPair()
	require.NoError(t, err)
	identity, err := h.identities.Register(registry.RegisterRequest{
		PublicKey:    pub,
		Alias:        alias,
		Jurisdiction: jurisdiction,
		PrivateKey:   priv,
	})
	require.NoError(t, err)
	return participant{fp: identity.Fingerprint, pub: pub, priv: priv}
}

func (h *harness) createProposal(t *testing.T, author participant, implications []string) *models.Proposal {
	t.Helper()
	proposal, err := h.proposals.Create(CreateProposalRequest{
		Type:         models.ProposalLaw,
		Title:        "Public Data Act",
		FullText:     "All public datasets shall be published within 30 days.",
		Summary:      "Mandatory publication of public datasets.",
		Implications: implications,
		AuthorFp:     author.fp,
		AuthorKey:    author.priv,
	})
	require.NoError(t, err)
	return proposal
}

// commit seals whatever is pending so audit paths see committed entries.
func (h *harness) commit(t *testing.T) {
	t.Helper()
	_, err := h.ledger.CommitBlock()
	require.NoError(t, err)
}
