package service

import (
	"context"
	"sync"
	"time"

	"github.com/talentgrid/payverify/internal/chain"
	"github.com/talentgrid/payverify/internal/models"
	pkgerrors "github.com/talentgrid/payverify/pkg/errors"
)

type fakeRefRepo struct {
	mu       sync.Mutex
	refs     map[string]*models.PaymentReference
	claimErr error
	claims   []string
	failed   []string
}

func newFakeRefRepo(refs ...*models.PaymentReference) *fakeRefRepo {
	m := make(map[string]*models.PaymentReference)
	for _, r := range refs {
		m[r.Reference] = r
	}
	return &fakeRefRepo{refs: m}
}

func (f *fakeRefRepo) Create(_ context.Context, ref *models.PaymentReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.refs[ref.Reference]; ok {
		return pkgerrors.ErrAlreadyClaimed
	}
	ref.Status = models.PaymentPending
	f.refs[ref.Reference] = ref
	return nil
}

func (f *fakeRefRepo) GetByReference(_ context.Context, reference string) (*models.PaymentReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.refs[reference]
	if !ok {
		return nil, pkgerrors.ErrReferenceNotFound
	}
	cp := *ref
	return &cp, nil
}

func (f *fakeRefRepo) Claim(_ context.Context, reference, signature string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, reference)
	if f.claimErr != nil {
		return f.claimErr
	}
	ref, ok := f.refs[reference]
	if !ok {
		return pkgerrors.ErrReferenceNotFound
	}
	if ref.Status != models.PaymentPending {
		return pkgerrors.ErrAlreadyClaimed
	}
	ref.Status = models.PaymentCompleted
	ref.Signature = signature
	return nil
}

func (f *fakeRefRepo) MarkFailed(_ context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, reference)
	return nil
}

func (f *fakeRefRepo) MarkExpiredBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRefRepo) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.claims)
}

type fakeLocator struct {
	bySignature func(ctx context.Context, signature string) (*chain.ChainTransaction, error)
	byReference func(ctx context.Context, reference string) (*chain.ChainTransaction, error)
}

func (f *fakeLocator) FindBySignature(ctx context.Context, signature string) (*chain.ChainTransaction, error) {
	return f.bySignature(ctx, signature)
}

func (f *fakeLocator) FindByReference(ctx context.Context, reference string) (*chain.ChainTransaction, error) {
	return f.byReference(ctx, reference)
}

type fakeRates struct {
	rate float64
	err  error
}

func (f *fakeRates) Rate(context.Context, string, string) (float64, error) {
	return f.rate, f.err
}

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []SettlementRequest
	err      error
}

func (f *fakeDispatcher) Settle(_ context.Context, req SettlementRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.err
}

func (f *fakeDispatcher) HandleRetry(ctx context.Context, payload []byte) error {
	return nil
}

type fakePointsRepo struct {
	mu      sync.Mutex
	awarded []*models.PointsTransaction
	err     error
}

func (f *fakePointsRepo) Award(_ context.Context, entry *models.PointsTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.awarded = append(f.awarded, entry)
	return nil
}

func (f *fakePointsRepo) GetWalletPoints(context.Context, string) (int64, error) {
	return 0, nil
}

type fakeListingRepo struct {
	jobs  []*models.JobPosting
	tasks []*models.TaskPosting
	err   error
}

func (f *fakeListingRepo) CreateJob(_ context.Context, job *models.JobPosting) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.jobs = append(f.jobs, job)
	return int64(len(f.jobs)), nil
}

func (f *fakeListingRepo) CreateTask(_ context.Context, task *models.TaskPosting) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.tasks = append(f.tasks, task)
	return int64(len(f.tasks)), nil
}

type fakeTalentRepo struct {
	profile *models.TalentProfile
	views   []*models.TalentView
	err     error
}

func (f *fakeTalentRepo) GetProfile(context.Context, string) (*models.TalentProfile, error) {
	if f.profile == nil {
		return nil, pkgerrors.ErrInvalidInput
	}
	return f.profile, nil
}

func (f *fakeTalentRepo) CreateView(_ context.Context, view *models.TalentView) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.views = append(f.views, view)
	return int64(len(f.views)), nil
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", pkgerrors.ErrInternal
	}
	return v, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := value.(string); ok {
		f.data[key] = s
	}
	return nil
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	if s, ok := value.(string); ok {
		f.data[key] = s
	}
	return true, nil
}

func (f *fakeRedis) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeRedis) Close() error { return nil }

type fakeProducer struct {
	mu       sync.Mutex
	messages []producedMessage
	err      error
}

type producedMessage struct {
	topic string
	key   string
	value []byte
}

func (f *fakeProducer) Send(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, producedMessage{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) byTopic(topic string) []producedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []producedMessage
	for _, m := range f.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}
