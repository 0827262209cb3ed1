// Package memory provides map-backed implementations of the store
// interfaces for development mode and tests. All stores are safe for
// concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bitpredict/engine/internal/domain"
)

// Stores bundles one instance of every in-memory store.
type Stores struct {
	Markets     *MarketStore
	Bets        *BetStore
	EngineCfg   *EngineConfigStore
	Quests      *QuestStore
	Votes       *VoteStore
	Checkpoints *CheckpointStore
	NFTs        *NFTStore
}

// New creates a fresh set of empty stores.
func New() *Stores {
	return &Stores{
		Markets:     NewMarketStore(),
		Bets:        NewBetStore(),
		EngineCfg:   &EngineConfigStore{},
		Quests:      NewQuestStore(),
		Votes:       NewVoteStore(),
		Checkpoints: NewCheckpointStore(),
		NFTs:        NewNFTStore(),
	}
}

var (
	_ domain.MarketStore       = (*MarketStore)(nil)
	_ domain.BetStore          = (*BetStore)(nil)
	_ domain.EngineConfigStore = (*EngineConfigStore)(nil)
	_ domain.QuestStore        = (*QuestStore)(nil)
	_ domain.VoteStore         = (*VoteStore)(nil)
	_ domain.CheckpointStore   = (*CheckpointStore)(nil)
	_ domain.NFTStore          = (*NFTStore)(nil)
)

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func cloneAnswers(as domain.AnswerSet) domain.AnswerSet {
	out := as
	out.Answers = append([]domain.Answer(nil), as.Answers...)
	return out
}

// MarketStore keeps markets and answer sets keyed by market key.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[uint64]domain.Market
	answers map[uint64]domain.AnswerSet
}

func NewMarketStore() *MarketStore {
	return &MarketStore{
		markets: make(map[uint64]domain.Market),
		answers: make(map[uint64]domain.AnswerSet),
	}
}

func (s *MarketStore) Create(_ context.Context, m domain.Market, answers domain.AnswerSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.MarketKey]; ok {
		return fmt.Errorf("memory: market %d: %w", m.MarketKey, domain.ErrAlreadyExists)
	}
	s.markets[m.MarketKey] = m
	s.answers[m.MarketKey] = cloneAnswers(answers)
	return nil
}

func (s *MarketStore) Get(_ context.Context, marketKey uint64) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketKey]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %d: %w", marketKey, domain.ErrNotFound)
	}
	return m, nil
}

func (s *MarketStore) Update(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.MarketKey]; !ok {
		return fmt.Errorf("memory: market %d: %w", m.MarketKey, domain.ErrNotFound)
	}
	s.markets[m.MarketKey] = m
	return nil
}

func (s *MarketStore) GetAnswers(_ context.Context, marketKey uint64) (domain.AnswerSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	as, ok := s.answers[marketKey]
	if !ok {
		return domain.AnswerSet{}, fmt.Errorf("memory: answers for market %d: %w", marketKey, domain.ErrNotFound)
	}
	return cloneAnswers(as), nil
}

func (s *MarketStore) UpdateAnswers(_ context.Context, answers domain.AnswerSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.answers[answers.MarketKey]; !ok {
		return fmt.Errorf("memory: answers for market %d: %w", answers.MarketKey, domain.ErrNotFound)
	}
	s.answers[answers.MarketKey] = cloneAnswers(answers)
	return nil
}

func (s *MarketStore) ListByStatus(_ context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Market, 0)
	for _, m := range s.markets {
		if m.Status != status {
			continue
		}
		if opts.Since != nil && m.ApproveTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.ApproveTime.After(*opts.Until) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketKey < out[j].MarketKey })
	return paginate(out, opts), nil
}

func (s *MarketStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

type betKey struct {
	voter     string
	marketKey uint64
	answerKey uint64
}

// BetStore keeps bets keyed by (voter, market, answer).
type BetStore struct {
	mu   sync.RWMutex
	bets map[betKey]domain.Bet
}

func NewBetStore() *BetStore {
	return &BetStore{bets: make(map[betKey]domain.Bet)}
}

func (s *BetStore) Get(_ context.Context, voter string, marketKey, answerKey uint64) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[betKey{voter, marketKey, answerKey}]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: bet %s/%d/%d: %w", voter, marketKey, answerKey, domain.ErrNotFound)
	}
	return b, nil
}

func (s *BetStore) Upsert(_ context.Context, b domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets[betKey{b.Voter, b.MarketKey, b.AnswerKey}] = b
	return nil
}

func (s *BetStore) Close(_ context.Context, voter string, marketKey, answerKey uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := betKey{voter, marketKey, answerKey}
	if _, ok := s.bets[k]; !ok {
		return fmt.Errorf("memory: bet %s/%d/%d: %w", voter, marketKey, answerKey, domain.ErrNotFound)
	}
	delete(s.bets, k)
	return nil
}

func (s *BetStore) ListByMarket(_ context.Context, marketKey uint64, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bet, 0)
	for _, b := range s.bets {
		if b.MarketKey != marketKey {
			continue
		}
		if opts.Since != nil && b.CreateTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && b.CreateTime.After(*opts.Until) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Voter != out[j].Voter {
			return out[i].Voter < out[j].Voter
		}
		return out[i].AnswerKey < out[j].AnswerKey
	})
	return paginate(out, opts), nil
}

// EngineConfigStore keeps the singleton market-engine config.
type EngineConfigStore struct {
	mu  sync.RWMutex
	cfg *domain.EngineConfig
}

func cloneEngineConfig(cfg domain.EngineConfig) domain.EngineConfig {
	out := cfg
	out.LockedUsers = make(map[string]bool, len(cfg.LockedUsers))
	for k, v := range cfg.LockedUsers {
		out.LockedUsers[k] = v
	}
	return out
}

func (s *EngineConfigStore) Get(_ context.Context) (domain.EngineConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return domain.EngineConfig{}, fmt.Errorf("memory: engine config: %w", domain.ErrNotFound)
	}
	return cloneEngineConfig(*s.cfg), nil
}

func (s *EngineConfigStore) Put(_ context.Context, cfg domain.EngineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneEngineConfig(cfg)
	s.cfg = &c
	return nil
}

// QuestStore keeps quests plus the governance config and stats singletons.
type QuestStore struct {
	mu       sync.RWMutex
	quests   map[uint64]domain.Quest
	cfg      *domain.GovernanceConfig
	stats    domain.GovernanceStats
	hasStats bool
}

func NewQuestStore() *QuestStore {
	return &QuestStore{quests: make(map[uint64]domain.Quest)}
}

func cloneQuest(q domain.Quest) domain.Quest {
	out := q
	out.AnswerKeys = append([]uint64(nil), q.AnswerKeys...)
	return out
}

func (s *QuestStore) Create(_ context.Context, q domain.Quest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quests[q.QuestKey]; ok {
		return fmt.Errorf("memory: quest %d: %w", q.QuestKey, domain.ErrAlreadyExists)
	}
	s.quests[q.QuestKey] = cloneQuest(q)
	return nil
}

func (s *QuestStore) Get(_ context.Context, questKey uint64) (domain.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quests[questKey]
	if !ok {
		return domain.Quest{}, fmt.Errorf("memory: quest %d: %w", questKey, domain.ErrNotFound)
	}
	return cloneQuest(q), nil
}

func (s *QuestStore) Update(_ context.Context, q domain.Quest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quests[q.QuestKey]; !ok {
		return fmt.Errorf("memory: quest %d: %w", q.QuestKey, domain.ErrNotFound)
	}
	s.quests[q.QuestKey] = cloneQuest(q)
	return nil
}

func (s *QuestStore) GetConfig(_ context.Context) (domain.GovernanceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return domain.GovernanceConfig{}, fmt.Errorf("memory: governance config: %w", domain.ErrNotFound)
	}
	return *s.cfg, nil
}

func (s *QuestStore) PutConfig(_ context.Context, cfg domain.GovernanceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cfg
	s.cfg = &c
	return nil
}

func (s *QuestStore) GetStats(_ context.Context) (domain.GovernanceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasStats {
		return domain.GovernanceStats{}, fmt.Errorf("memory: governance stats: %w", domain.ErrNotFound)
	}
	return s.stats, nil
}

func (s *QuestStore) PutStats(_ context.Context, st domain.GovernanceStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = st
	s.hasStats = true
	return nil
}

type voterKey struct {
	questKey uint64
	voter    string
}

type optionKey struct {
	questKey  uint64
	answerKey uint64
}

// VoteStore keeps the three per-quest tallies and their voter records.
type VoteStore struct {
	mu sync.RWMutex

	questVotes     map[uint64]domain.QuestVote
	questVoters    map[voterKey]domain.QuestVoterRecord
	decisionVotes  map[uint64]domain.DecisionVote
	decisionVoters map[voterKey]domain.DecisionVoterRecord
	answerVotes    map[uint64]domain.AnswerVote
	answerOptions  map[optionKey]domain.AnswerOption
	answerVoters   map[voterKey]domain.AnswerVoterRecord
}

func NewVoteStore() *VoteStore {
	return &VoteStore{
		questVotes:     make(map[uint64]domain.QuestVote),
		questVoters:    make(map[voterKey]domain.QuestVoterRecord),
		decisionVotes:  make(map[uint64]domain.DecisionVote),
		decisionVoters: make(map[voterKey]domain.DecisionVoterRecord),
		answerVotes:    make(map[uint64]domain.AnswerVote),
		answerOptions:  make(map[optionKey]domain.AnswerOption),
		answerVoters:   make(map[voterKey]domain.AnswerVoterRecord),
	}
}

func (s *VoteStore) GetQuestVote(_ context.Context, questKey uint64) (domain.QuestVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.questVotes[questKey]
	if !ok {
		return domain.QuestVote{}, fmt.Errorf("memory: quest vote %d: %w", questKey, domain.ErrNotFound)
	}
	return v, nil
}

func (s *VoteStore) PutQuestVote(_ context.Context, v domain.QuestVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questVotes[v.QuestKey] = v
	return nil
}

func (s *VoteStore) GetQuestVoter(_ context.Context, questKey uint64, voter string) (domain.QuestVoterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.questVoters[voterKey{questKey, voter}]
	if !ok {
		return domain.QuestVoterRecord{}, fmt.Errorf("memory: quest voter %d/%s: %w", questKey, voter, domain.ErrNotFound)
	}
	return r, nil
}

func (s *VoteStore) PutQuestVoter(_ context.Context, r domain.QuestVoterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questVoters[voterKey{r.QuestKey, r.Voter}] = r
	return nil
}

func (s *VoteStore) GetDecisionVote(_ context.Context, questKey uint64) (domain.DecisionVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.decisionVotes[questKey]
	if !ok {
		return domain.DecisionVote{}, fmt.Errorf("memory: decision vote %d: %w", questKey, domain.ErrNotFound)
	}
	return v, nil
}

func (s *VoteStore) PutDecisionVote(_ context.Context, v domain.DecisionVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisionVotes[v.QuestKey] = v
	return nil
}

func (s *VoteStore) GetDecisionVoter(_ context.Context, questKey uint64, voter string) (domain.DecisionVoterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.decisionVoters[voterKey{questKey, voter}]
	if !ok {
		return domain.DecisionVoterRecord{}, fmt.Errorf("memory: decision voter %d/%s: %w", questKey, voter, domain.ErrNotFound)
	}
	return r, nil
}

func (s *VoteStore) PutDecisionVoter(_ context.Context, r domain.DecisionVoterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisionVoters[voterKey{r.QuestKey, r.Voter}] = r
	return nil
}

func (s *VoteStore) GetAnswerVote(_ context.Context, questKey uint64) (domain.AnswerVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.answerVotes[questKey]
	if !ok {
		return domain.AnswerVote{}, fmt.Errorf("memory: answer vote %d: %w", questKey, domain.ErrNotFound)
	}
	return v, nil
}

func (s *VoteStore) PutAnswerVote(_ context.Context, v domain.AnswerVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answerVotes[v.QuestKey] = v
	return nil
}

func (s *VoteStore) GetAnswerOption(_ context.Context, questKey, answerKey uint64) (domain.AnswerOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.answerOptions[optionKey{questKey, answerKey}]
	if !ok {
		return domain.AnswerOption{}, fmt.Errorf("memory: answer option %d/%d: %w", questKey, answerKey, domain.ErrNotFound)
	}
	return o, nil
}

func (s *VoteStore) PutAnswerOption(_ context.Context, o domain.AnswerOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answerOptions[optionKey{o.QuestKey, o.AnswerKey}] = o
	return nil
}

func (s *VoteStore) ListAnswerOptions(_ context.Context, questKey uint64) ([]domain.AnswerOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AnswerOption, 0)
	for k, o := range s.answerOptions {
		if k.questKey == questKey {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnswerKey < out[j].AnswerKey })
	return out, nil
}

func (s *VoteStore) GetAnswerVoter(_ context.Context, questKey uint64, voter string) (domain.AnswerVoterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.answerVoters[voterKey{questKey, voter}]
	if !ok {
		return domain.AnswerVoterRecord{}, fmt.Errorf("memory: answer voter %d/%s: %w", questKey, voter, domain.ErrNotFound)
	}
	return r, nil
}

func (s *VoteStore) PutAnswerVoter(_ context.Context, r domain.AnswerVoterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answerVoters[voterKey{r.QuestKey, r.Voter}] = r
	return nil
}

// CheckpointStore keeps per-voter checkpoint histories.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]domain.VoterCheckpoints
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]domain.VoterCheckpoints)}
}

func cloneCheckpoints(vc domain.VoterCheckpoints) domain.VoterCheckpoints {
	out := vc
	out.Checkpoints = append([]domain.Checkpoint(nil), vc.Checkpoints...)
	return out
}

func (s *CheckpointStore) Get(_ context.Context, voter string) (domain.VoterCheckpoints, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vc, ok := s.checkpoints[voter]
	if !ok {
		return domain.VoterCheckpoints{}, fmt.Errorf("memory: checkpoints for %s: %w", voter, domain.ErrNotFound)
	}
	return cloneCheckpoints(vc), nil
}

func (s *CheckpointStore) Put(_ context.Context, vc domain.VoterCheckpoints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[vc.Voter] = cloneCheckpoints(vc)
	return nil
}

// NFTStore keeps attested NFT records keyed by mint.
type NFTStore struct {
	mu   sync.RWMutex
	nfts map[string]domain.NFTRecord
}

func NewNFTStore() *NFTStore {
	return &NFTStore{nfts: make(map[string]domain.NFTRecord)}
}

func (s *NFTStore) Put(_ context.Context, r domain.NFTRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nfts[r.NFTMint] = r
	return nil
}

func (s *NFTStore) Remove(_ context.Context, nftMint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nfts[nftMint]; !ok {
		return fmt.Errorf("memory: nft %s: %w", nftMint, domain.ErrNotFound)
	}
	delete(s.nfts, nftMint)
	return nil
}

func (s *NFTStore) CountVerified(_ context.Context, voter, collection string, max int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.nfts {
		if r.Voter == voter && r.Collection == collection && r.Verified {
			n++
			if max > 0 && n >= max {
				break
			}
		}
	}
	return n, nil
}

// Ledger is an in-memory token ledger for development mode and tests.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]uint64
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]uint64)}
}

var _ domain.TokenLedger = (*Ledger)(nil)

// Mint credits an account out of thin air. Test and dev seeding only.
func (l *Ledger) Mint(account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *Ledger) Transfer(_ context.Context, from, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return fmt.Errorf("memory: account %s holds %d, transfer %d: %w", from, l.balances[from], amount, domain.ErrInsufficientFunds)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *Ledger) Balance(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}
