package testkit

import (
	"sync"
	"time"

	"engageflow/contract"
	"engageflow/milestone"
	"engageflow/payment"
	"engageflow/project"
	"engageflow/proposal"
)

type conversation struct {
	ID           string
	ProjectID    string
	ClientID     string
	FreelancerID string
}

// Store is the in-memory database shared by the testkit repositories.
type Store struct {
	mu sync.Mutex

	Projects      map[string]project.Project
	Proposals     map[string]proposal.Proposal
	Contracts     map[string]contract.Contract
	Milestones    map[string]milestone.Milestone
	Requests      map[string]payment.Request
	Transactions  []payment.Transaction
	Conversations []conversation
	Emails        map[string]string

	order map[string]int
	seq   int

	// CommitErr makes every Commit fail and roll back.
	CommitErr error
	Now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		Projects:   map[string]project.Project{},
		Proposals:  map[string]proposal.Proposal{},
		Contracts:  map[string]contract.Contract{},
		Milestones: map[string]milestone.Milestone{},
		Requests:   map[string]payment.Request{},
		Emails:     map[string]string{},
		order:      map[string]int{},
		Now:        time.Now,
	}
}

func (s *Store) stamp(id string) {
	if _, ok := s.order[id]; !ok {
		s.seq++
		s.order[id] = s.seq
	}
}

func (s *Store) snapshot() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := &Store{
		Projects:      make(map[string]project.Project, len(s.Projects)),
		Proposals:     make(map[string]proposal.Proposal, len(s.Proposals)),
		Contracts:     make(map[string]contract.Contract, len(s.Contracts)),
		Milestones:    make(map[string]milestone.Milestone, len(s.Milestones)),
		Requests:      make(map[string]payment.Request, len(s.Requests)),
		Transactions:  append([]payment.Transaction(nil), s.Transactions...),
		Conversations: append([]conversation(nil), s.Conversations...),
		order:         make(map[string]int, len(s.order)),
		seq:           s.seq,
	}
	for k, v := range s.Projects {
		cp.Projects[k] = v
	}
	for k, v := range s.Proposals {
		cp.Proposals[k] = v
	}
	for k, v := range s.Contracts {
		cp.Contracts[k] = v
	}
	for k, v := range s.Milestones {
		cp.Milestones[k] = v
	}
	for k, v := range s.Requests {
		cp.Requests[k] = v
	}
	for k, v := range s.order {
		cp.order[k] = v
	}
	return cp
}

func (s *Store) restore(cp *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Projects = cp.Projects
	s.Proposals = cp.Proposals
	s.Contracts = cp.Contracts
	s.Milestones = cp.Milestones
	s.Requests = cp.Requests
	s.Transactions = cp.Transactions
	s.Conversations = cp.Conversations
	s.order = cp.order
	s.seq = cp.seq
}

func (s *Store) PutProject(p project.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(p.ID)
	s.Projects[p.ID] = p
}

func (s *Store) PutProposal(p proposal.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(p.ID)
	s.Proposals[p.ID] = p
}

func (s *Store) PutContract(c contract.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(c.ID)
	s.Contracts[c.ID] = c
}

func (s *Store) PutMilestone(m milestone.Milestone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(m.ID)
	s.Milestones[m.ID] = m
}

func (s *Store) Project(id string) project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Projects[id]
}

func (s *Store) Proposal(id string) proposal.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Proposals[id]
}

func (s *Store) Contract(id string) contract.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Contracts[id]
}

func (s *Store) Milestone(id string) milestone.Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Milestones[id]
}

func (s *Store) Request(id string) payment.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Requests[id]
}

// ContractsForProposal returns every contract created from proposalID.
func (s *Store) ContractsForProposal(proposalID string) []contract.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contract.Contract
	for _, c := range s.Contracts {
		if c.ProposalID == proposalID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) MilestonesOf(contractID string) []milestone.Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.milestonesOf(contractID)
}

func (s *Store) TransactionsFor(requestID string) []payment.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Transaction
	for _, t := range s.Transactions {
		if t.PaymentRequestID == requestID {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Conversations)
}
