package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"homebank/internal/banking/models"
	id "homebank/pkg/domain"
	"homebank/pkg/platform/sentinel"
)

// InMemory is a thread-safe in-memory store. Reads return copies so callers
// cannot mutate stored state outside a write.
type InMemory struct {
	mu             sync.RWMutex
	clients        map[id.ClientID]*models.Client
	clientsByEmail map[string]id.ClientID
	accounts       map[id.ClientID][]*models.Account
	accountNumbers map[string]*models.Account
	cards          map[id.ClientID][]*models.Card
	clientLoans    map[id.ClientID][]*models.ClientLoan
	loans          []*models.Loan
}

func NewInMemory() *InMemory {
	return &InMemory{
		clients:        make(map[id.ClientID]*models.Client),
		clientsByEmail: make(map[string]id.ClientID),
		accounts:       make(map[id.ClientID][]*models.Account),
		accountNumbers: make(map[string]*models.Account),
		cards:          make(map[id.ClientID][]*models.Card),
		clientLoans:    make(map[id.ClientID][]*models.ClientLoan),
	}
}

func (s *InMemory) CreateClient(_ context.Context, client *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(client.Email)
	if _, taken := s.clientsByEmail[email]; taken {
		return sentinel.ErrConflict
	}
	if _, exists := s.clients[client.ID]; exists {
		return sentinel.ErrConflict
	}
	stored := *client
	stored.Accounts, stored.Cards, stored.Loans = nil, nil, nil
	s.clients[client.ID] = &stored
	s.clientsByEmail[email] = client.ID
	return nil
}

func (s *InMemory) FindClientByID(_ context.Context, clientID id.ClientID) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked(clientID)
}

func (s *InMemory) FindClientByEmail(_ context.Context, email string) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clientID, ok := s.clientsByEmail[strings.ToLower(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.loadLocked(clientID)
}

// ListClients returns all clients ordered by registration time.
func (s *InMemory) ListClients(_ context.Context) ([]*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Client, 0, len(s.clients))
	for clientID := range s.clients {
		client, err := s.loadLocked(clientID)
		if err != nil {
			return nil, err
		}
		out = append(out, client)
	}
	slices.SortFunc(out, func(a, b *models.Client) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Email, b.Email)
	})
	return out, nil
}

func (s *InMemory) FindAccountByNumber(_ context.Context, number string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accountNumbers[number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

// SaveAccount rejects unknown owners with ErrNotFound and duplicate numbers
// with ErrConflict.
func (s *InMemory) SaveAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[account.ClientID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, taken := s.accountNumbers[account.Number]; taken {
		return sentinel.ErrConflict
	}
	stored := *account
	s.accounts[account.ClientID] = append(s.accounts[account.ClientID], &stored)
	s.accountNumbers[account.Number] = &stored
	return nil
}

// SaveCard rejects unknown owners with ErrNotFound and a number already used
// by the same client with ErrConflict.
func (s *InMemory) SaveCard(_ context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[card.ClientID]; !ok {
		return sentinel.ErrNotFound
	}
	for _, existing := range s.cards[card.ClientID] {
		if existing.Number == card.Number {
			return sentinel.ErrConflict
		}
	}
	stored := *card
	s.cards[card.ClientID] = append(s.cards[card.ClientID], &stored)
	return nil
}

func (s *InMemory) ListLoans(_ context.Context) ([]*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Loan, 0, len(s.loans))
	for _, loan := range s.loans {
		out = append(out, copyLoan(loan))
	}
	return out, nil
}

// SaveLoan adds a product to the loan catalog. Names are unique.
func (s *InMemory) SaveLoan(_ context.Context, loan *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.loans {
		if existing.Name == loan.Name {
			return sentinel.ErrConflict
		}
	}
	s.loans = append(s.loans, copyLoan(loan))
	return nil
}

// SaveClientLoan records a client's participation in a catalog loan.
func (s *InMemory) SaveClientLoan(_ context.Context, cl *models.ClientLoan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[cl.ClientID]; !ok {
		return sentinel.ErrNotFound
	}
	if !slices.ContainsFunc(s.loans, func(l *models.Loan) bool { return l.ID == cl.LoanID }) {
		return sentinel.ErrNotFound
	}
	stored := *cl
	s.clientLoans[cl.ClientID] = append(s.clientLoans[cl.ClientID], &stored)
	return nil
}

func (s *InMemory) loadLocked(clientID id.ClientID) (*models.Client, error) {
	stored, ok := s.clients[clientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	client := *stored
	client.Accounts = make([]*models.Account, 0, len(s.accounts[clientID]))
	for _, a := range s.accounts[clientID] {
		copied := *a
		client.Accounts = append(client.Accounts, &copied)
	}
	client.Cards = make([]*models.Card, 0, len(s.cards[clientID]))
	for _, c := range s.cards[clientID] {
		copied := *c
		client.Cards = append(client.Cards, &copied)
	}
	client.Loans = make([]*models.ClientLoan, 0, len(s.clientLoans[clientID]))
	for _, l := range s.clientLoans[clientID] {
		copied := *l
		client.Loans = append(client.Loans, &copied)
	}
	return &client, nil
}

func copyLoan(loan *models.Loan) *models.Loan {
	copied := *loan
	copied.Payments = slices.Clone(loan.Payments)
	return &copied
}
