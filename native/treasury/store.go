package treasury

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"daotreasury/storage"
)

var (
	paramsKey      = []byte("treasury/params")
	metaKey        = []byte("treasury/meta")
	balancePrefix  = []byte("treasury/balance/")
	proposalPrefix = []byte("treasury/proposal/")
	receiptPrefix  = []byte("treasury/receipt/")
)

// ErrParamsMismatch is returned when a persisted treasury was created with a
// different configuration than the one supplied on open.
var ErrParamsMismatch = errors.New("treasury: stored parameters do not match configuration")

// Store persists ledger changesets. Commit must be atomic.
type Store interface {
	Load(params Params, admin [20]byte) (*Ledger, error)
	Commit(cs *Changeset) error
}

// KVStore keeps the ledger in a storage.Database using RLP-encoded records.
type KVStore struct {
	db storage.Database
}

// NewKVStore wraps db.
func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

func balanceKey(addr [20]byte) []byte {
	buf := make([]byte, len(balancePrefix)+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], addr[:])
	return buf
}

func proposalKey(id uint64) []byte {
	buf := make([]byte, len(proposalPrefix)+8)
	copy(buf, proposalPrefix)
	binary.BigEndian.PutUint64(buf[len(proposalPrefix):], id)
	return buf
}

func receiptKey(r VoteReceipt) []byte {
	buf := make([]byte, len(receiptPrefix)+8+len(r.Voter))
	copy(buf, receiptPrefix)
	binary.BigEndian.PutUint64(buf[len(receiptPrefix):], r.ProposalID)
	copy(buf[len(receiptPrefix)+8:], r.Voter[:])
	return buf
}

// storedTime keeps the zero value distinguishable from the epoch. Seconds
// holds the two's complement of the Unix seconds since RLP has no signed
// integers; the nanosecond remainder is stored separately so the full range of
// time.Time survives, not just the span UnixNano can represent.
type storedTime struct {
	Set     bool
	Seconds uint64
	Nanos   uint64
}

func newStoredTime(t time.Time) storedTime {
	if t.IsZero() {
		return storedTime{}
	}
	return storedTime{Set: true, Seconds: uint64(t.Unix()), Nanos: uint64(t.Nanosecond())}
}

func (s storedTime) time() time.Time {
	if !s.Set {
		return time.Time{}
	}
	return time.Unix(int64(s.Seconds), int64(s.Nanos)).UTC()
}

type storedParams struct {
	ContributionEnd storedTime
	VoteWindow      uint64
	QuorumPercent   uint64
	Admin           [20]byte
}

type storedMeta struct {
	Sequence       uint64
	TotalShares    *big.Int
	AvailableFunds *big.Int
	Invested       *big.Int
	Redeemed       *big.Int
	Disbursed      *big.Int
	ProposalCount  uint64
}

type storedProposal struct {
	ID         uint64
	Name       string
	Proposer   [20]byte
	Amount     *big.Int
	Recipient  [20]byte
	Votes      *big.Int
	CreatedAt  storedTime
	Deadline   storedTime
	Executed   bool
	ExecutedAt storedTime
}

func newStoredProposal(p *Proposal) *storedProposal {
	return &storedProposal{
		ID:         p.ID,
		Name:       p.Name,
		Proposer:   p.Proposer,
		Amount:     cloneBigInt(p.Amount),
		Recipient:  p.Recipient,
		Votes:      cloneBigInt(p.Votes),
		CreatedAt:  newStoredTime(p.CreatedAt),
		Deadline:   newStoredTime(p.Deadline),
		Executed:   p.Executed,
		ExecutedAt: newStoredTime(p.ExecutedAt),
	}
}

func (s *storedProposal) toProposal() *Proposal {
	return &Proposal{
		ID:         s.ID,
		Name:       s.Name,
		Proposer:   s.Proposer,
		Amount:     cloneBigInt(s.Amount),
		Recipient:  s.Recipient,
		Votes:      cloneBigInt(s.Votes),
		CreatedAt:  s.CreatedAt.time(),
		Deadline:   s.Deadline.time(),
		Executed:   s.Executed,
		ExecutedAt: s.ExecutedAt.time(),
	}
}

func (s *KVStore) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("treasury: decode %q: %w", key, err)
	}
	return true, nil
}

func put(batch *storage.Batch, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}

// Load restores the ledger persisted in the database. An empty database is
// initialised with params and admin; a populated one must have been created
// with exactly the same values.
func (s *KVStore) Load(params Params, admin [20]byte) (*Ledger, error) {
	ledger, err := NewLedger(params, admin)
	if err != nil {
		return nil, err
	}
	stored, storedAdmin, found, err := s.Stored()
	if err != nil {
		return nil, err
	}
	if !found {
		if err := s.init(params, admin); err != nil {
			return nil, err
		}
		return ledger, nil
	}
	if !stored.Equal(params) || storedAdmin != admin {
		return nil, ErrParamsMismatch
	}
	if err := s.restore(ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

func (s *KVStore) init(params Params, admin [20]byte) error {
	batch := storage.NewBatch()
	if err := put(batch, paramsKey, &storedParams{
		ContributionEnd: newStoredTime(params.ContributionEnd),
		VoteWindow:      uint64(params.VoteWindow),
		QuorumPercent:   params.QuorumPercent,
		Admin:           admin,
	}); err != nil {
		return err
	}
	if err := put(batch, metaKey, &storedMeta{
		TotalShares:    big.NewInt(0),
		AvailableFunds: big.NewInt(0),
		Invested:       big.NewInt(0),
		Redeemed:       big.NewInt(0),
		Disbursed:      big.NewInt(0),
	}); err != nil {
		return err
	}
	return s.db.Write(batch)
}

func (s *KVStore) restore(l *Ledger) error {
	var meta storedMeta
	found, err := s.get(metaKey, &meta)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("treasury: metadata record missing")
	}
	l.sequence = meta.Sequence
	l.totalShares = cloneBigInt(meta.TotalShares)
	l.availableFunds = cloneBigInt(meta.AvailableFunds)
	l.stats = Stats{
		Invested:  cloneBigInt(meta.Invested),
		Redeemed:  cloneBigInt(meta.Redeemed),
		Disbursed: cloneBigInt(meta.Disbursed),
	}

	sum := big.NewInt(0)
	err = s.db.Iterate(balancePrefix, func(key, value []byte) error {
		var addr [20]byte
		if len(key) != len(balancePrefix)+len(addr) {
			return fmt.Errorf("treasury: malformed balance key %x", key)
		}
		copy(addr[:], key[len(balancePrefix):])
		bal := new(big.Int)
		if err := rlp.DecodeBytes(value, bal); err != nil {
			return err
		}
		if bal.Sign() == 0 {
			return nil
		}
		l.balances[addr] = bal
		sum.Add(sum, bal)
		return nil
	})
	if err != nil {
		return err
	}
	if sum.Cmp(l.totalShares) != 0 {
		return fmt.Errorf("treasury: stored balances sum to %s, total shares %s", sum, l.totalShares)
	}

	err = s.db.Iterate(proposalPrefix, func(key, value []byte) error {
		var sp storedProposal
		if err := rlp.DecodeBytes(value, &sp); err != nil {
			return err
		}
		if sp.ID != uint64(len(l.proposals)) {
			return fmt.Errorf("treasury: proposal %d stored out of order", sp.ID)
		}
		l.proposals = append(l.proposals, sp.toProposal())
		return nil
	})
	if err != nil {
		return err
	}
	if uint64(len(l.proposals)) != meta.ProposalCount {
		return fmt.Errorf("treasury: found %d proposals, expected %d", len(l.proposals), meta.ProposalCount)
	}

	return s.db.Iterate(receiptPrefix, func(key, value []byte) error {
		var r VoteReceipt
		if err := rlp.DecodeBytes(value, &r); err != nil {
			return err
		}
		if !bytes.Equal(key, receiptKey(r)) {
			return fmt.Errorf("treasury: receipt key %x does not match record", key)
		}
		l.receipts[r] = struct{}{}
		return nil
	})
}

// Commit writes every effect of cs in one batch.
func (s *KVStore) Commit(cs *Changeset) error {
	batch := storage.NewBatch()
	if err := put(batch, metaKey, &storedMeta{
		Sequence:       cs.Sequence,
		TotalShares:    cs.TotalShares,
		AvailableFunds: cs.AvailableFunds,
		Invested:       cs.Stats.Invested,
		Redeemed:       cs.Stats.Redeemed,
		Disbursed:      cs.Stats.Disbursed,
		ProposalCount:  cs.ProposalCount,
	}); err != nil {
		return err
	}
	for addr, bal := range cs.Balances {
		if err := put(batch, balanceKey(addr), bal); err != nil {
			return err
		}
	}
	if cs.Proposal != nil {
		if err := put(batch, proposalKey(cs.Proposal.ID), newStoredProposal(cs.Proposal)); err != nil {
			return err
		}
	}
	if cs.Receipt != nil {
		if err := put(batch, receiptKey(*cs.Receipt), cs.Receipt); err != nil {
			return err
		}
	}
	return s.db.Write(batch)
}

// memoryStore discards changesets. It backs engines created without a
// database.
type memoryStore struct{}

func (memoryStore) Load(params Params, admin [20]byte) (*Ledger, error) {
	return NewLedger(params, admin)
}

func (memoryStore) Commit(*Changeset) error { return nil }

// Stored returns the parameters and administrator the database was initialised
// with. The boolean is false for an empty database.
func (s *KVStore) Stored() (Params, [20]byte, bool, error) {
	var sp storedParams
	found, err := s.get(paramsKey, &sp)
	if err != nil || !found {
		return Params{}, [20]byte{}, false, err
	}
	return Params{
		ContributionEnd: sp.ContributionEnd.time(),
		VoteWindow:      time.Duration(sp.VoteWindow),
		QuorumPercent:   sp.QuorumPercent,
	}, sp.Admin, true, nil
}
