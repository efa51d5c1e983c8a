package testkit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
	"engageflow/contract"
	"engageflow/milestone"
	"engageflow/payment"
	"engageflow/project"
	"engageflow/proposal"
)

// Repos are the in-memory repository implementations over one Store.
type Repos struct {
	Projects   *ProjectRepo
	Proposals  *ProposalRepo
	Contracts  *ContractRepo
	Milestones *MilestoneRepo
	Payments   *PaymentRepo
	Channels   *ChannelRepo
}

func NewRepos(s *Store) Repos {
	return Repos{
		Projects:   &ProjectRepo{s: s},
		Proposals:  &ProposalRepo{s: s},
		Contracts:  &ContractRepo{s: s},
		Milestones: &MilestoneRepo{s: s},
		Payments:   &PaymentRepo{s: s},
		Channels:   &ChannelRepo{s: s},
	}
}

type ProjectRepo struct{ s *Store }

func (r *ProjectRepo) Get(ctx context.Context, tx pgx.Tx, id string) (project.Project, error) {
	return r.GetForUpdate(ctx, tx, id)
}

func (r *ProjectRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (project.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Projects[id]
	if !ok {
		return project.Project{}, apperr.NotFound(project.Entity, id)
	}
	return p, nil
}

func (r *ProjectRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status project.Status) (project.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Projects[id]
	if !ok {
		return project.Project{}, apperr.NotFound(project.Entity, id)
	}
	p.Status = status
	p.UpdatedAt = r.s.Now()
	r.s.Projects[id] = p
	return p, nil
}

type ProposalRepo struct{ s *Store }

func (r *ProposalRepo) Create(_ context.Context, _ pgx.Tx, p proposal.Proposal) (proposal.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.Proposals {
		if existing.ProjectID == p.ProjectID && existing.FreelancerID == p.FreelancerID {
			return proposal.Proposal{}, proposal.ErrDuplicate
		}
	}
	p.CreatedAt = r.s.Now()
	p.UpdatedAt = p.CreatedAt
	r.s.stamp(p.ID)
	r.s.Proposals[p.ID] = p
	return p, nil
}

func (r *ProposalRepo) Get(ctx context.Context, tx pgx.Tx, id string) (proposal.Proposal, error) {
	return r.GetForUpdate(ctx, tx, id)
}

func (r *ProposalRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (proposal.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Proposals[id]
	if !ok {
		return proposal.Proposal{}, apperr.NotFound(proposal.Entity, id)
	}
	return p, nil
}

func (r *ProposalRepo) ListPendingByProject(_ context.Context, _ pgx.Tx, projectID string) ([]proposal.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []proposal.Proposal
	for _, p := range r.s.Proposals {
		if p.ProjectID == projectID && p.Status == proposal.StatusPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.s.order[out[i].ID] < r.s.order[out[j].ID] })
	return out, nil
}

func (r *ProposalRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status proposal.Status) (proposal.Proposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Proposals[id]
	if !ok {
		return proposal.Proposal{}, apperr.NotFound(proposal.Entity, id)
	}
	p.Status = status
	p.UpdatedAt = r.s.Now()
	r.s.Proposals[id] = p
	return p, nil
}

type ContractRepo struct{ s *Store }

func (r *ContractRepo) Create(_ context.Context, _ pgx.Tx, c contract.Contract) (contract.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.Contracts {
		if existing.ProposalID == c.ProposalID {
			return contract.Contract{}, contract.ErrDuplicate
		}
	}
	c.CreatedAt = r.s.Now()
	c.UpdatedAt = c.CreatedAt
	r.s.stamp(c.ID)
	r.s.Contracts[c.ID] = c
	return c, nil
}

func (r *ContractRepo) ExistsForProposal(_ context.Context, _ pgx.Tx, proposalID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.Contracts {
		if c.ProposalID == proposalID {
			return true, nil
		}
	}
	return false, nil
}

func (r *ContractRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (contract.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Contracts[id]
	if !ok {
		return contract.Contract{}, apperr.NotFound(contract.Entity, id)
	}
	return c, nil
}

func (r *ContractRepo) ListByProject(_ context.Context, _ pgx.Tx, projectID string) ([]contract.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []contract.Contract
	for _, c := range r.s.Contracts {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.s.order[out[i].ID] < r.s.order[out[j].ID] })
	return out, nil
}

func (r *ContractRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status contract.Status, at time.Time) (contract.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Contracts[id]
	if !ok {
		return contract.Contract{}, apperr.NotFound(contract.Entity, id)
	}
	c.Status = status
	if status == contract.StatusCompleted {
		c.CompletedAt = &at
	}
	c.UpdatedAt = at
	r.s.Contracts[id] = c
	return c, nil
}

type MilestoneRepo struct{ s *Store }

func (r *MilestoneRepo) Create(_ context.Context, _ pgx.Tx, m milestone.Milestone) (milestone.Milestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.Contracts[m.ContractID]; !ok {
		return milestone.Milestone{}, fmt.Errorf("testkit: milestone references unknown contract %s", m.ContractID)
	}
	// mirrors CHECK (amount >= 0) on milestones
	if m.Amount.IsNegative() {
		return milestone.Milestone{}, fmt.Errorf("testkit: milestone %s has negative amount %s", m.ID, m.Amount)
	}
	m.CreatedAt = r.s.Now()
	m.UpdatedAt = m.CreatedAt
	r.s.stamp(m.ID)
	r.s.Milestones[m.ID] = m
	return m, nil
}

func (r *MilestoneRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (milestone.Milestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.Milestones[id]
	if !ok {
		return milestone.Milestone{}, apperr.NotFound(milestone.Entity, id)
	}
	return m, nil
}

func (r *MilestoneRepo) ListByContract(_ context.Context, _ pgx.Tx, contractID string) ([]milestone.Milestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.milestonesOf(contractID), nil
}

func (s *Store) milestonesOf(contractID string) []milestone.Milestone {
	var out []milestone.Milestone
	for _, m := range s.Milestones {
		if m.ContractID == contractID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

func (r *MilestoneRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status milestone.Status, at time.Time) (milestone.Milestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.Milestones[id]
	if !ok {
		return milestone.Milestone{}, apperr.NotFound(milestone.Entity, id)
	}
	m.Status = status
	switch status {
	case milestone.StatusCompleted:
		m.CompletedAt = &at
	case milestone.StatusPaid:
		m.PaidAt = &at
	}
	m.UpdatedAt = at
	r.s.Milestones[id] = m
	return m, nil
}

func (r *MilestoneRepo) ResetAll(_ context.Context, _ pgx.Tx, contractID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for id, m := range r.s.Milestones {
		if m.ContractID != contractID {
			continue
		}
		m.Status = milestone.StatusPending
		m.CompletedAt = nil
		m.PaidAt = nil
		r.s.Milestones[id] = m
		n++
	}
	return n, nil
}

func (r *MilestoneRepo) Renumber(_ context.Context, _ pgx.Tx, contractID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ms []milestone.Milestone
	for _, m := range r.s.Milestones {
		if m.ContractID == contractID {
			ms = append(ms, m)
		}
	}
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].DueDate.Equal(ms[j].DueDate) {
			return ms[i].DueDate.Before(ms[j].DueDate)
		}
		return r.s.order[ms[i].ID] < r.s.order[ms[j].ID]
	})
	for i, m := range ms {
		m.OrderIndex = i + 1
		r.s.Milestones[m.ID] = m
	}
	return nil
}

func (r *MilestoneRepo) ContractParties(_ context.Context, _ pgx.Tx, contractID string) (milestone.Parties, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Contracts[contractID]
	if !ok {
		return milestone.Parties{}, apperr.NotFound(contract.Entity, contractID)
	}
	return milestone.Parties{
		ContractID:     c.ID,
		ClientID:       c.ClientID,
		FreelancerID:   c.FreelancerID,
		ContractStatus: string(c.Status),
		StartDate:      c.StartDate,
	}, nil
}

type PaymentRepo struct{ s *Store }

func (r *PaymentRepo) CreateRequest(_ context.Context, _ pgx.Tx, req payment.Request) (payment.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.Requests {
		if existing.MilestoneID == req.MilestoneID {
			return payment.Request{}, payment.ErrDuplicate
		}
	}
	req.UpdatedAt = req.RequestedAt
	r.s.stamp(req.ID)
	r.s.Requests[req.ID] = req
	return req, nil
}

func (r *PaymentRepo) ExistsForMilestone(_ context.Context, _ pgx.Tx, milestoneID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.Requests {
		if existing.MilestoneID == milestoneID {
			return true, nil
		}
	}
	return false, nil
}

func (r *PaymentRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (payment.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.Requests[id]
	if !ok {
		return payment.Request{}, apperr.NotFound(payment.Entity, id)
	}
	return req, nil
}

func (r *PaymentRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id string, status payment.Status, at time.Time, reason *string) (payment.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.Requests[id]
	if !ok {
		return payment.Request{}, apperr.NotFound(payment.Entity, id)
	}
	req.Status = status
	switch status {
	case payment.StatusApproved:
		req.ApprovedAt = &at
	case payment.StatusPaid:
		req.PaidAt = &at
	}
	if reason != nil {
		req.RejectionReason = reason
	}
	req.UpdatedAt = at
	r.s.Requests[id] = req
	return req, nil
}

func (r *PaymentRepo) InsertTransaction(_ context.Context, _ pgx.Tx, t payment.Transaction) (payment.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.Transactions {
		if existing.PaymentRequestID == t.PaymentRequestID {
			return payment.Transaction{}, fmt.Errorf("testkit: transaction already recorded for %s", t.PaymentRequestID)
		}
	}
	r.s.Transactions = append(r.s.Transactions, t)
	return t, nil
}

// ChannelRepo is an idempotent in-memory channel provisioner.
type ChannelRepo struct {
	s     *Store
	Calls int
	Err   error
}

func (r *ChannelRepo) GetOrCreate(_ context.Context, _ pgx.Tx, projectID, clientID, freelancerID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return "", r.Err
	}
	for _, c := range r.s.Conversations {
		if c.ProjectID == projectID && c.ClientID == clientID && c.FreelancerID == freelancerID {
			return c.ID, nil
		}
	}
	id := fmt.Sprintf("conv-%d", len(r.s.Conversations)+1)
	r.s.Conversations = append(r.s.Conversations, conversation{ID: id, ProjectID: projectID, ClientID: clientID, FreelancerID: freelancerID})
	return id, nil
}
