package handler

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/chain"
	"github.com/iliyamo/chama-backend/internal/identity"
	"github.com/iliyamo/chama-backend/internal/middleware"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/queue"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/service"
)

// ----- identity provider -----

type fakeIdP struct {
	mu        sync.Mutex
	passwords map[string]string // email -> password
	ids       map[string]string // email -> user id
	session   identity.Session  // returned by ExchangeCode and UserFromToken
	exchanged []string          // verifiers seen by ExchangeCode
}

func newFakeIdP() *fakeIdP {
	return &fakeIdP{passwords: map[string]string{}, ids: map[string]string{}}
}

func (f *fakeIdP) SignUp(_ context.Context, email, pw string, _ map[string]any) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[email]; ok {
		return identity.User{}, identity.ErrUserExists
	}
	id := uuid.NewString()
	f.ids[email], f.passwords[email] = id, pw
	return identity.User{ID: id, Email: email}, nil
}

func (f *fakeIdP) SignIn(_ context.Context, email, pw string) (identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.passwords[email] != pw || pw == "" {
		return identity.Session{}, identity.ErrInvalidCredentials
	}
	return identity.Session{User: identity.User{ID: f.ids[email], Email: email}, AccessToken: "gotrue"}, nil
}

func (f *fakeIdP) AuthorizeURL(provider, redirectTo, challenge string) (string, error) {
	if !identity.SupportedProviders[provider] {
		return "", identity.ErrUnsupportedProvider
	}
	return "https://idp.example/authorize?provider=" + provider + "&code_challenge=" + challenge, nil
}

func (f *fakeIdP) ExchangeCode(_ context.Context, code, verifier string) (identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code != "good-code" {
		return identity.Session{}, identity.ErrInvalidToken
	}
	f.exchanged = append(f.exchanged, verifier)
	return f.session, nil
}

func (f *fakeIdP) UserFromToken(_ context.Context, tok string) (identity.User, error) {
	if tok != f.session.AccessToken {
		return identity.User{}, identity.ErrInvalidToken
	}
	return f.session.User, nil
}

func (f *fakeIdP) ResetPassword(context.Context, string, string) error { return nil }

func (f *fakeIdP) UpdatePassword(_ context.Context, tok, _ string) error {
	if tok != "reset-token" {
		return identity.ErrInvalidToken
	}
	return nil
}

func (f *fakeIdP) VerifyEmail(_ context.Context, tok string) (identity.User, error) {
	if tok != "verify-token" {
		return identity.User{}, identity.ErrInvalidToken
	}
	return identity.User{ID: "u-verified"}, nil
}

// ----- session token persistence -----

type memTokens struct {
	mu   sync.Mutex
	rows map[string]model.RefreshToken
}

func newMemTokens() *memTokens { return &memTokens{rows: map[string]model.RefreshToken{}} }

func (m *memTokens) ReplaceForUser(_ context.Context, rt model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.rows {
		if r.UserID == rt.UserID {
			r.Revoked = true
			m.rows[k] = r
		}
	}
	m.rows[rt.JTI] = rt
	return nil
}

func (m *memTokens) FindActiveByJTI(_ context.Context, jti string, now time.Time) (model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[jti]
	if !ok || r.Revoked || !now.Before(r.ExpiresAt) {
		return model.RefreshToken{}, repository.ErrTokenNotFound
	}
	return r, nil
}

func (m *memTokens) RevokeByJTI(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[jti]
	if !ok {
		return repository.ErrTokenNotFound
	}
	r.Revoked = true
	m.rows[jti] = r
	return nil
}

func (m *memTokens) active(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.UserID == userID && !r.Revoked {
			n++
		}
	}
	return n
}

// ----- profiles and provider tokens -----

type memProfiles struct {
	mu   sync.Mutex
	rows map[string]model.Profile
}

func newMemProfiles() *memProfiles { return &memProfiles{rows: map[string]model.Profile{}} }

func (m *memProfiles) GetByUserID(_ context.Context, userID string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok {
		return model.Profile{}, repository.ErrProfileNotFound
	}
	return p, nil
}

func (m *memProfiles) Create(_ context.Context, userID string, name, phone *string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[userID]; ok {
		return model.Profile{}, repository.ErrProfileExists
	}
	p := model.Profile{ID: uuid.NewString(), UserID: userID, DisplayName: name, PhoneNumber: phone}
	m.rows[userID] = p
	return p, nil
}

func (m *memProfiles) Upsert(_ context.Context, userID string, name, phone *string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok {
		p = model.Profile{ID: uuid.NewString(), UserID: userID}
	}
	if p.DisplayName == nil {
		p.DisplayName = name
	}
	if p.PhoneNumber == nil {
		p.PhoneNumber = phone
	}
	m.rows[userID] = p
	return p, nil
}

func (m *memProfiles) Update(_ context.Context, userID string, u model.ProfileUpdate) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok {
		return model.Profile{}, repository.ErrProfileNotFound
	}
	for dst, src := range map[**string]*string{
		&p.DisplayName: u.DisplayName, &p.Bio: u.Bio, &p.AvatarURL: u.AvatarURL,
		&p.PhoneNumber: u.PhoneNumber, &p.Location: u.Location,
	} {
		if src != nil {
			*dst = src
		}
	}
	m.rows[userID] = p
	return p, nil
}

type memOAuth struct {
	mu   sync.Mutex
	rows map[string]model.OAuthToken
}

func newMemOAuth() *memOAuth { return &memOAuth{rows: map[string]model.OAuthToken{}} }

func (m *memOAuth) Upsert(_ context.Context, t model.OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[t.UserID+"/"+t.Provider] = t
	return nil
}

func (m *memOAuth) Get(_ context.Context, userID, provider string) (model.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[userID+"/"+provider]
	if !ok {
		return t, repository.ErrOAuthTokenNotFound
	}
	return t, nil
}

func (m *memOAuth) Delete(_ context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[userID+"/"+provider]; !ok {
		return repository.ErrOAuthTokenNotFound
	}
	delete(m.rows, userID+"/"+provider)
	return nil
}

// ----- groups, members, admins -----

// memChama keeps groups, members and admins together so that group
// creation can write all three like the SQL store does.  contribs, when
// set, plays the contributions foreign key on member removal.
type memChama struct {
	mu       sync.Mutex
	groups   map[string]model.Group
	members  map[string]model.Member
	admins   map[string]model.Admin
	contribs *memContributions
}

// sameRef matches the unique keys on hashes and contract addresses, which
// compare case-insensitively in MySQL.
func sameRef(a, b *string) bool {
	return a != nil && b != nil && *a != "" && strings.EqualFold(*a, *b)
}

func newMemChama() *memChama {
	return &memChama{groups: map[string]model.Group{}, members: map[string]model.Member{}, admins: map[string]model.Admin{}}
}

type memGroups struct{ *memChama }
type memMembers struct{ *memChama }
type memAdmins struct{ *memChama }

func (s memGroups) Create(_ context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	g.ID = uuid.NewString()
	if g.Status == "" {
		g.Status = model.GroupActive
	}
	g.CreatedAt, g.UpdatedAt = now, now
	for _, other := range s.groups {
		if sameRef(other.CreationTxHash, g.CreationTxHash) || sameRef(other.ContractAddress, g.ContractAddress) {
			return repository.ErrTxHashUsed
		}
	}
	s.groups[g.ID] = *g
	a := model.Admin{ID: uuid.NewString(), GroupID: g.ID, UserID: g.CreatedBy, AssignedAt: now}
	s.admins[a.ID] = a
	m := model.Member{ID: uuid.NewString(), GroupID: g.ID, UserID: g.CreatedBy, Status: model.MemberActive,
		WalletAddress: g.CreatorWallet, JoinedAt: now}
	s.members[m.ID] = m
	return nil
}

func (s memGroups) GetByID(_ context.Context, id string) (model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return g, repository.ErrGroupNotFound
	}
	return g, nil
}

func (s memGroups) summaries(keep func(model.Group) bool) []model.GroupSummary {
	out := []model.GroupSummary{}
	for _, g := range s.groups {
		if !keep(g) {
			continue
		}
		n := 0
		for _, m := range s.members {
			if m.GroupID == g.ID && m.Status == model.MemberActive {
				n++
			}
		}
		out = append(out, model.GroupSummary{Group: g, MemberCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s memGroups) List(_ context.Context, f repository.GroupFilter) ([]model.GroupSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries(func(g model.Group) bool {
		return (f.Status == "" || g.Status == f.Status) && strings.Contains(g.Name, f.Search)
	}), nil
}

func (s memGroups) ListForUser(_ context.Context, userID string) ([]model.GroupSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries(func(g model.Group) bool {
		for _, m := range s.members {
			if m.GroupID == g.ID && m.UserID == userID && m.Status == model.MemberActive {
				return true
			}
		}
		return false
	}), nil
}

func (s memGroups) Update(_ context.Context, id string, u model.GroupUpdate) (model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return g, repository.ErrGroupNotFound
	}
	if u.Name != nil {
		g.Name = *u.Name
	}
	if u.MaxMembers != nil {
		g.MaxMembers = *u.MaxMembers
	}
	if u.Status != nil {
		g.Status = *u.Status
	}
	s.groups[id] = g
	return g, nil
}

func (s memGroups) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return repository.ErrGroupNotFound
	}
	delete(s.groups, id)
	for k, m := range s.members {
		if m.GroupID == id {
			delete(s.members, k)
		}
	}
	for k, a := range s.admins {
		if a.GroupID == id {
			delete(s.admins, k)
		}
	}
	return nil
}

func (s memMembers) Add(_ context.Context, m *model.Member, maxMembers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, x := range s.members {
		if x.GroupID != m.GroupID {
			continue
		}
		if x.UserID == m.UserID {
			return repository.ErrAlreadyMember
		}
		if x.Status == model.MemberActive {
			active++
		}
	}
	if active >= maxMembers {
		return repository.ErrGroupFull
	}
	m.ID = uuid.NewString()
	m.JoinedAt = time.Now().UTC()
	if m.Status == "" {
		m.Status = model.MemberActive
	}
	s.members[m.ID] = *m
	return nil
}

func (s memMembers) GetByID(_ context.Context, groupID, memberID string) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || m.GroupID != groupID {
		return model.Member{}, repository.ErrMemberNotFound
	}
	return m, nil
}

func (s memMembers) GetByMemberID(_ context.Context, memberID string) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return m, repository.ErrMemberNotFound
	}
	return m, nil
}

func (s memMembers) GetByGroupAndUser(_ context.Context, groupID, userID string) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.GroupID == groupID && m.UserID == userID {
			return m, nil
		}
	}
	return model.Member{}, repository.ErrMemberNotFound
}

func (s memMembers) ListByGroup(_ context.Context, groupID string) ([]model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Member{}
	for _, m := range s.members {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s memMembers) UpdateStatus(_ context.Context, groupID, memberID, status string) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || m.GroupID != groupID {
		return model.Member{}, repository.ErrMemberNotFound
	}
	m.Status = status
	s.members[memberID] = m
	return m, nil
}

func (s memMembers) Activate(_ context.Context, memberID, wallet, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return repository.ErrMemberNotFound
	}
	for id, other := range s.members {
		if id != memberID && sameRef(other.JoinTxHash, &txHash) {
			return repository.ErrTxHashUsed
		}
	}
	m.Status, m.WalletAddress, m.JoinTxHash = model.MemberActive, &wallet, &txHash
	s.members[memberID] = m
	return nil
}

func (s memMembers) Remove(_ context.Context, groupID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || m.GroupID != groupID {
		return repository.ErrMemberNotFound
	}
	if s.contribs != nil && s.contribs.hasMember(memberID) {
		return repository.ErrMemberHasPayments
	}
	delete(s.members, memberID)
	return nil
}

func (s memAdmins) IsAdmin(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.admins {
		if a.GroupID == groupID && a.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s memAdmins) Add(ctx context.Context, a *model.Admin) error {
	if ok, _ := s.IsAdmin(ctx, a.GroupID, a.UserID); ok {
		return repository.ErrAlreadyAdmin
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.NewString()
	a.AssignedAt = time.Now().UTC()
	s.admins[a.ID] = *a
	return nil
}

func (s memAdmins) ListByGroup(_ context.Context, groupID string) ([]model.Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Admin{}
	for _, a := range s.admins {
		if a.GroupID == groupID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s memAdmins) Remove(_ context.Context, groupID, adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.admins[adminID]
	if !ok || a.GroupID != groupID {
		return repository.ErrAdminNotFound
	}
	delete(s.admins, adminID)
	return nil
}

// ----- contributions -----

type memContributions struct {
	mu   sync.Mutex
	rows map[string]model.Contribution
}

func newMemContributions() *memContributions {
	return &memContributions{rows: map[string]model.Contribution{}}
}

func (m *memContributions) Create(_ context.Context, c *model.Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.rows[c.ID] = *c
	return nil
}

func (m *memContributions) GetByID(_ context.Context, id string) (model.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return c, repository.ErrContributionNotFound
	}
	return c, nil
}

func (m *memContributions) List(_ context.Context, f repository.ContributionFilter) ([]model.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Contribution{}
	for _, c := range m.rows {
		if (f.GroupID == "" || c.GroupID == f.GroupID) && (f.Status == "" || c.Status == f.Status) &&
			(f.MemberID == "" || c.MemberID == f.MemberID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (m *memContributions) ListByUser(context.Context, string, bool, time.Time) ([]model.Contribution, error) {
	return []model.Contribution{}, nil
}

func (m *memContributions) Save(_ context.Context, c *model.Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[c.ID]; !ok {
		return repository.ErrContributionNotFound
	}
	for id, other := range m.rows {
		if id != c.ID && sameRef(other.TransactionHash, c.TransactionHash) {
			return repository.ErrTxHashUsed
		}
	}
	m.rows[c.ID] = *c
	return nil
}

func (m *memContributions) hasMember(memberID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.MemberID == memberID {
			return true
		}
	}
	return false
}

func (m *memContributions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrContributionNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memContributions) Summary(_ context.Context, groupID string) (model.ContributionSummary, error) {
	return model.ContributionSummary{GroupID: groupID}, nil
}

// ----- chain and events -----

type fakeChain struct {
	joinErr   error
	prepared  []string // "method:group:user"
	verifyErr error
}

func (f *fakeChain) FactoryAddress() string { return "0xca0009af8e28ccfeaa5bb314fd32856b3d278bf7" }

func (f *fakeChain) tx(to, from string, value *big.Int) chain.PreparedTx {
	v := "0x0"
	if value != nil {
		v = "0x" + value.Text(16)
	}
	return chain.PreparedTx{
		Transaction:  chain.UnsignedTx{To: to, From: strings.ToLower(from), Data: "0xabcdef", Gas: "0x5208", Value: v, ChainID: 11155111},
		EstimatedGas: 21000,
		Message:      "Transaction prepared. Please sign with your wallet.",
	}
}

func (f *fakeChain) PrepareCreateGroup(_ context.Context, p chain.GroupParams, creator string) (chain.PreparedTx, error) {
	f.prepared = append(f.prepared, "createGroup:"+p.Name+":"+creator)
	return f.tx(f.FactoryAddress(), creator, nil), nil
}

func (f *fakeChain) PrepareJoin(_ context.Context, group, user string) (chain.PreparedTx, error) {
	if f.joinErr != nil {
		return chain.PreparedTx{}, f.joinErr
	}
	f.prepared = append(f.prepared, "joinGroup:"+group+":"+user)
	return f.tx(group, user, nil), nil
}

func (f *fakeChain) PrepareContribute(_ context.Context, group, user string, wei *big.Int) (chain.PreparedTx, error) {
	f.prepared = append(f.prepared, "contribute:"+group+":"+user)
	return f.tx(group, user, wei), nil
}

func (f *fakeChain) verification(txHash, from string) chain.Verification {
	return chain.Verification{TxHash: txHash, BlockNumber: 42, From: strings.ToLower(from), Value: "0"}
}

func (f *fakeChain) VerifyGroupCreation(_ context.Context, txHash, creator string) (chain.Verification, error) {
	if f.verifyErr != nil {
		return chain.Verification{}, f.verifyErr
	}
	v := f.verification(txHash, creator)
	v.GroupAddress = "0x00000000000000000000000000000000000000aa"
	return v, nil
}

func (f *fakeChain) VerifyJoin(_ context.Context, txHash, _, user string) (chain.Verification, error) {
	if f.verifyErr != nil {
		return chain.Verification{}, f.verifyErr
	}
	return f.verification(txHash, user), nil
}

func (f *fakeChain) VerifyContribution(_ context.Context, txHash, _, user string, wei *big.Int) (chain.Verification, error) {
	if f.verifyErr != nil {
		return chain.Verification{}, f.verifyErr
	}
	v := f.verification(txHash, user)
	v.Value = wei.String()
	return v, nil
}

func (f *fakeChain) TransactionStatus(_ context.Context, txHash string) (chain.TxStatus, error) {
	return chain.TxStatus{Hash: txHash, Status: "success", BlockNumber: 42}, nil
}

func (f *fakeChain) GroupState(_ context.Context, group string) (chain.GroupState, error) {
	return chain.GroupState{Address: group, MemberCount: 2, MaxMembers: 5, IsActive: true, AvailableSpots: 3}, nil
}

func (f *fakeChain) Network(context.Context) (chain.NetworkInfo, error) {
	return chain.NetworkInfo{ChainID: 11155111, LatestBlock: 100, FactoryAddress: f.FactoryAddress()}, nil
}

func (f *fakeChain) FactoryGroups(context.Context, string) ([]string, error) {
	return []string{"0x00000000000000000000000000000000000000aa"}, nil
}

func (f *fakeChain) GroupCount(context.Context) (uint64, error) { return 1, nil }

type recordEvents struct {
	mu     sync.Mutex
	events []queue.NotificationEvent
}

func (r *recordEvents) Publish(_ context.Context, evs ...queue.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

func (r *recordEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// ----- test server -----

type testEnv struct {
	e        *echo.Echo
	idp      *fakeIdP
	tokens   *memTokens
	sessions *service.TokenService
	profiles *memProfiles
	oauth    *memOAuth
	states   *identity.MemoryStateStore
	chama    *memChama
	contribs *memContributions
	chain    *fakeChain
	events   *recordEvents
}

// newTestEnv wires every handler onto an Echo instance the way the router
// does, with in-memory stores.  withChain enables the bridge.
func newTestEnv(t *testing.T, withChain bool) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	env := &testEnv{
		idp:      newFakeIdP(),
		tokens:   newMemTokens(),
		profiles: newMemProfiles(),
		oauth:    newMemOAuth(),
		states:   identity.NewMemoryStateStore(),
		chama:    newMemChama(),
		contribs: newMemContributions(),
		events:   &recordEvents{},
	}
	env.chama.contribs = env.contribs
	env.sessions = service.NewTokenService(service.TokenConfig{
		Secret: "test-secret", AccessTTL: 15 * time.Minute, BcryptCost: 4,
	}, env.tokens, env.profiles, log)

	var bridge Chain
	if withChain {
		env.chain = &fakeChain{}
		bridge = env.chain
	}
	groups, members, admins := memGroups{env.chama}, memMembers{env.chama}, memAdmins{env.chama}

	auth := NewAuthHandler(env.idp, env.sessions, env.profiles, env.oauth, env.states, AuthOptions{
		FrontendURL:   "http://frontend.test",
		PublicBaseURL: "http://api.test",
		Cookies:       CookiePolicyFor(false),
	}, log)
	gh := NewGroupHandler(groups, members, admins, env.profiles, bridge, env.events, log)
	ch := NewContributionHandler(env.contribs, groups, members, admins, bridge, env.events, log)

	e := echo.New()
	e.Validator = NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)
	api := e.Group("/api/v1", middleware.OptionalUser(env.sessions, log))
	requireUser := middleware.RequireUser(env.sessions)
	groupAdmin := middleware.RequireGroupAdmin(testAccess{groups, admins}, "id")

	a := api.Group("/auth")
	a.POST("/register", auth.Register)
	a.POST("/login", auth.Login)
	a.POST("/refresh", auth.Refresh)
	a.POST("/logout", auth.Logout)
	a.POST("/verify-token", auth.VerifyToken)
	a.GET("/me", auth.Me, requireUser)
	a.GET("/oauth/callback", auth.Callback)
	a.GET("/oauth/:provider", auth.OAuthURL)
	a.POST("/oauth/exchange", auth.Exchange)
	a.GET("/oauth-tokens/:provider", auth.GetOAuthToken, requireUser)
	a.DELETE("/oauth-tokens/:provider", auth.DeleteOAuthToken, requireUser)
	a.POST("/update-password", auth.UpdatePassword)

	g := api.Group("/groups", requireUser)
	g.POST("", gh.Create)
	g.GET("", gh.List)
	g.POST("/create-with-transaction", gh.CreateWithTransaction)
	g.GET("/:id", gh.Get)
	g.PUT("/:id", gh.Update, groupAdmin)
	g.DELETE("/:id", gh.Delete, groupAdmin)
	g.POST("/:id/members", gh.AddMember)
	g.POST("/:id/members/confirm", gh.ConfirmMember)
	g.DELETE("/:id/members/:member_id", gh.RemoveMember, groupAdmin)
	g.POST("/:id/admins", gh.AddAdmin, groupAdmin)
	g.GET("/:id/blockchain-status", gh.BlockchainStatus)

	c := api.Group("/contributions", requireUser)
	c.POST("", ch.Create)
	c.GET("/group/:group_id", ch.ListByGroup)
	c.PUT("/:id", ch.Update)
	c.POST("/:id/pay", ch.Pay)
	c.POST("/:id/prepare-payment", ch.PreparePayment)
	c.POST("/:id/confirm-payment", ch.ConfirmPayment)

	env.e = e
	return env
}

type testAccess struct {
	groups memGroups
	admins memAdmins
}

func (a testAccess) GroupExists(ctx context.Context, id string) (bool, error) {
	_, err := a.groups.GetByID(ctx, id)
	return err == nil, nil
}

func (a testAccess) IsAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	return a.admins.IsAdmin(ctx, groupID, userID)
}
