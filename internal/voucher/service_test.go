package voucher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/captivenet/portal/internal/audit"
	"github.com/captivenet/portal/internal/metrics"
	"github.com/captivenet/portal/internal/model"
	"github.com/captivenet/portal/internal/repository"
)

// ----- fakes -----

type memVouchers struct {
	mu       sync.Mutex
	nextID   uint64
	byID     map[uint64]*model.Voucher
	plans    map[uint64]*model.Plan
	failNext int // force ErrCodeExists on the next N creates
}

func newMemVouchers() *memVouchers {
	return &memVouchers{byID: map[uint64]*model.Voucher{}, plans: map[uint64]*model.Plan{}}
}

func (m *memVouchers) putPlan(p model.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.plans[cp.ID] = &cp
}

func (m *memVouchers) Create(_ context.Context, v *model.Voucher) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return 0, repository.ErrCodeExists
	}
	for _, x := range m.byID {
		if x.Code == v.Code {
			return 0, repository.ErrCodeExists
		}
	}
	m.nextID++
	cp := *v
	cp.ID = m.nextID
	m.byID[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memVouchers) GetByCode(_ context.Context, code string) (model.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.byID {
		if v.Code == code {
			return *v, nil
		}
	}
	return model.Voucher{}, repository.ErrNotFound
}

// ConsumeUse mirrors the store's single-statement guarded increment: the
// use is granted only while the voucher is ACTIVE with headroom, and
// hitting max_uses flips the status in the same step.
func (m *memVouchers) ConsumeUse(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if v.Status != model.VoucherActive || v.UsedCount >= v.MaxUses {
		return false, nil
	}
	v.UsedCount++
	if v.UsedCount >= v.MaxUses {
		v.Status = model.VoucherUsed
	}
	return true, nil
}

func (m *memVouchers) UpdateStatus(_ context.Context, id uint64, status model.VoucherStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	v.Status = status
	return nil
}

func (m *memVouchers) GetPlan(_ context.Context, planID uint64) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return model.Plan{}, repository.ErrNotFound
	}
	return *p, nil
}

type touchCall struct {
	accountID uint64
	mac       string
}

type memAccess struct {
	mu      sync.Mutex
	nextID  uint64
	byID    map[uint64]*model.AccessSession
	touches []touchCall
}

func newMemAccess() *memAccess {
	return &memAccess{byID: map[uint64]*model.AccessSession{}}
}

func (m *memAccess) Create(_ context.Context, s *model.AccessSession) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *s
	cp.ID = m.nextID
	m.byID[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memAccess) GetByPortalToken(_ context.Context, token string) (model.AccessSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.PortalToken == token {
			return *s, nil
		}
	}
	return model.AccessSession{}, repository.ErrNotFound
}

func (m *memAccess) GetAuthorizedByMAC(_ context.Context, mac string) (model.AccessSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.MACAddress == mac && s.Status == model.AccessAuthorized {
			return *s, nil
		}
	}
	return model.AccessSession{}, repository.ErrNotFound
}

func (m *memAccess) AddUsage(_ context.Context, id uint64, up, down, durationSec uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.BytesUploaded += up
	s.BytesDownloaded += down
	s.DurationSeconds += durationSec
	return nil
}

// MarkQuotaExceeded mirrors the store's guarded update: only the caller
// that actually moves the row out of AUTHORIZED wins.
func (m *memAccess) MarkQuotaExceeded(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if s.Status != model.AccessAuthorized {
		return false, nil
	}
	s.Status = model.AccessQuotaExceeded
	now := time.Now().UTC()
	s.EndTime = &now
	return true, nil
}

func (m *memAccess) UpdateStatus(_ context.Context, id uint64, status model.AccessStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *memAccess) TouchDevice(_ context.Context, accountID uint64, mac, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches = append(m.touches, touchCall{accountID: accountID, mac: mac})
	return nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) Notify(_ context.Context, event string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *memNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (s *memAuditStore) Insert(_ context.Context, e *model.AuditEntry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ID = uint64(len(s.entries) + 1)
	s.entries = append(s.entries, cp)
	return cp.ID, nil
}

func (s *memAuditStore) GetByID(_ context.Context, id uint64) (model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return model.AuditEntry{}, repository.ErrNotFound
}

func (s *memAuditStore) ListRange(_ context.Context, afterID uint64, limit int) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range s.entries {
		if e.ID > afterID {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memAuditStore) countAction(action model.AuditAction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := 0
	for _, e := range s.entries {
		if e.Action == action {
			c++
		}
	}
	return c
}

// ----- harness -----

type harness struct {
	svc      *Service
	vouchers *memVouchers
	access   *memAccess
	notify   *memNotifier
	auditLog *memAuditStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	vouchers := newMemVouchers()
	access := newMemAccess()
	notify := &memNotifier{}
	auditLog := &memAuditStore{}
	log := zap.NewNop()
	met := metrics.New()
	ledger := audit.NewLedger(auditLog, log, met)
	svc := NewService(vouchers, access, ledger, notify, log, met)
	return &harness{svc: svc, vouchers: vouchers, access: access, notify: notify, auditLog: auditLog}
}

func testPlan() model.Plan {
	return model.Plan{
		ID:             1,
		Code:           "DAY-PASS",
		Name:           "Day Pass",
		Type:           model.PlanTemporary,
		MaxDevices:     1,
		DataQuotaGB:    1,
		TimeQuotaHours: 24,
		IsActive:       true,
	}
}

func mintActor() *model.Account {
	return &model.Account{ID: 7, Email: "ops@example.com", Role: model.RoleAdmin}
}

// seedVoucher installs one ACTIVE voucher directly in the store.
func (h *harness) seedVoucher(t *testing.T, code string, maxUses uint32, from, until time.Time) *model.Voucher {
	t.Helper()
	h.vouchers.mu.Lock()
	defer h.vouchers.mu.Unlock()
	h.vouchers.nextID++
	v := &model.Voucher{
		ID:         h.vouchers.nextID,
		Code:       code,
		PlanID:     1,
		MaxUses:    maxUses,
		ValidFrom:  from,
		ValidUntil: until,
		Status:     model.VoucherActive,
		CreatedBy:  7,
	}
	h.vouchers.byID[v.ID] = v
	return v
}

func window() (time.Time, time.Time) {
	now := time.Now().UTC()
	return now.Add(-time.Hour), now.Add(time.Hour)
}

// ----- minting -----

func TestMint_Batch(t *testing.T) {
	h := newHarness(t)
	h.vouchers.putPlan(testPlan())
	from, until := window()

	out, err := h.svc.Mint(context.Background(), mintActor(), MintInput{
		PlanID:     1,
		Count:      5,
		MaxUses:    3,
		ValidFrom:  from,
		ValidUntil: until,
	}, "198.51.100.1", "cli")
	require.NoError(t, err)
	require.Len(t, out, 5)

	seen := map[string]bool{}
	for _, v := range out {
		require.Len(t, v.Code, model.VoucherCodeLength)
		require.False(t, seen[v.Code], "codes must be unique")
		seen[v.Code] = true
		require.Equal(t, model.VoucherActive, v.Status)
		require.Equal(t, uint32(3), v.MaxUses)
	}
	require.Equal(t, 5, h.auditLog.countAction(model.ActionVoucherCreate))
}

func TestMint_RetriesOnCodeCollision(t *testing.T) {
	h := newHarness(t)
	h.vouchers.putPlan(testPlan())
	h.vouchers.failNext = 2
	from, until := window()

	out, err := h.svc.Mint(context.Background(), mintActor(), MintInput{
		PlanID: 1, Count: 1, MaxUses: 1, ValidFrom: from, ValidUntil: until,
	}, "", "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotEmpty(t, out[0].Code)
}

func TestMint_InactivePlan(t *testing.T) {
	h := newHarness(t)
	p := testPlan()
	p.IsActive = false
	h.vouchers.putPlan(p)
	from, until := window()

	_, err := h.svc.Mint(context.Background(), mintActor(), MintInput{
		PlanID: 1, Count: 1, ValidFrom: from, ValidUntil: until,
	}, "", "")
	require.ErrorIs(t, err, ErrPlanInactive)
}

func TestMint_UnknownPlan(t *testing.T) {
	h := newHarness(t)
	from, until := window()
	_, err := h.svc.Mint(context.Background(), mintActor(), MintInput{
		PlanID: 9, Count: 1, ValidFrom: from, ValidUntil: until,
	}, "", "")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

// ----- redemption -----

func TestRedeem_OpensAuthorizedSession(t *testing.T) {
	h := newHarness(t)
	h.vouchers.putPlan(testPlan())
	from, until := window()
	v := h.seedVoucher(t, "AAAA1111", 2, from, until)

	access, err := h.svc.Redeem(context.Background(), v.Code, "aa-bb-cc-dd-ee-ff", "192.0.2.10", 42, "android")
	require.NoError(t, err)
	require.Equal(t, model.AccessAuthorized, access.Status)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", access.MACAddress)
	require.NotEmpty(t, access.PortalToken)

	// Plan quotas are snapshotted onto the session.
	require.Equal(t, uint64(1)*1024*1024*1024, access.DataQuotaBytes)
	require.Equal(t, uint64(24)*3600, access.TimeQuotaSeconds)

	// The known account's device roster is touched.
	require.Len(t, h.access.touches, 1)
	require.Equal(t, uint64(42), h.access.touches[0].accountID)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", h.access.touches[0].mac)

	require.Equal(t, 1, h.auditLog.countAction(model.ActionVoucherUse))

	got, err := h.vouchers.GetByCode(context.Background(), v.Code)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.UsedCount)
	require.Equal(t, model.VoucherActive, got.Status)
}

func TestRedeem_AnonymousGuestSkipsDeviceTouch(t *testing.T) {
	h := newHarness(t)
	h.vouchers.putPlan(testPlan())
	from, until := window()
	v := h.seedVoucher(t, "BBBB2222", 1, from, until)

	access, err := h.svc.Redeem(context.Background(), v.Code, "AA:BB:CC:DD:EE:01", "192.0.2.11", 0, "")
	require.NoError(t, err)
	require.Zero(t, access.AccountID)
	require.Empty(t, h.access.touches)
}

func TestRedeem_LastUseFlipsVoucherToUsed(t *testing.T) {
	h := newHarness(t)
	h.vouchers.putPlan(testPlan())
	from, until := window()
	v := h.seedVoucher(t, "CCCC3333", 1, from, until)

	_, err := h.svc.Redeem(context.Background(), v.Code, "AA:BB:CC:DD:EE:02", "192.0.2.12", 0, "")
	require.NoError(t, err)

	got, err := h.vouchers.GetByCode(context.Background(), v.Code)
	require.NoError(t, err)
	require.Equal(t, model.VoucherUsed, got.Status)

	_, err = h.svc.Redeem(context.Background(), v.Code, "AA:BB:CC:DD:EE:03", "192.0.2.13", 0, "")
	require.ErrorIs(t, err, ErrVoucherExhausted)
}

func TestRedeem_RaceForLastUse(t *testing.T) {
	h := newHarness(t)
	h.vouchers.putPlan(testPlan())
	from, until := window()
	v := h.seedVoucher(t, "DDDD4444", 1, from, until)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Redeem(context.Background(), v.Code, "AA:BB:CC:DD:EE:10", "192.0.2.20", 0, "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrVoucherExhausted)
		}
	}
	require.Equal(t, 1, wins, "exactly one caller may consume the last use")
}

func TestRedeem_WindowAndLifecycle(t *testing.T) {
	now := time.Now().UTC()

	t.Run("not yet valid", func(t *testing.T) {
		h := newHarness(t)
		h.vouchers.putPlan(testPlan())
		v := h.seedVoucher(t, "EARLY001", 1, now.Add(time.Hour), now.Add(2*time.Hour))
		_, err := h.svc.Redeem(context.Background(), v.Code, "AA:BB:CC:DD:EE:20", "", 0, "")
		require.ErrorIs(t, err, ErrVoucherNotYetValid)
	})

	t.Run("expired window is lazily marked", func(t *testing.T) {
		h := newHarness(t)
		h.vouchers.putPlan(testPlan())
		v := h.seedVoucher(t, "LATE0001", 1, now.Add(-2*time.Hour), now.Add(-time.Hour))
		_, err := h.svc.Redeem(context.Background(), v.Code, "AA:BB:CC:DD:EE:21", "", 0, "")
		require.ErrorIs(t, err, ErrVoucherExpired)

		got, err := h.vouchers.GetByCode(context.Background(), v.Code)
		require.NoError(t, err)
		require.Equal(t, model.VoucherExpired, got.Status)
	})

	t.Run("revoked", func(t *testing.T) {
		h := newHarness(t)
		h.vouchers.putPlan(testPlan())
		v := h.seedVoucher(t, "GONE0001", 1, now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, h.vouchers.UpdateStatus(context.Background(), v.ID, model.VoucherRevoked))
		_, err := h.svc.Redeem(context.Background(), v.Code, "AA:BB:CC:DD:EE:22", "", 0, "")
		require.ErrorIs(t, err, ErrVoucherRevoked)
	})

	t.Run("unknown code", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Redeem(context.Background(), "NOPE0000", "AA:BB:CC:DD:EE:23", "", 0, "")
		require.ErrorIs(t, err, ErrVoucherNotFound)
	})

	t.Run("plan deactivated after minting", func(t *testing.T) {
		h := newHarness(t)
		p := testPlan()
		p.IsActive = false
		h.vouchers.putPlan(p)
		v := h.seedVoucher(t, "COLD0001", 1, now.Add(-time.Hour), now.Add(time.Hour))
		_, err := h.svc.Redeem(context.Background(), v.Code, "AA:BB:CC:DD:EE:24", "", 0, "")
		require.ErrorIs(t, err, ErrPlanInactive)
	})
}

func TestRevokeVoucher(t *testing.T) {
	h := newHarness(t)
	h.vouchers.putPlan(testPlan())
	from, until := window()
	v := h.seedVoucher(t, "PULL0001", 1, from, until)

	require.NoError(t, h.svc.RevokeVoucher(context.Background(), mintActor(), v.Code, "", ""))
	got, err := h.vouchers.GetByCode(context.Background(), v.Code)
	require.NoError(t, err)
	require.Equal(t, model.VoucherRevoked, got.Status)
	require.Equal(t, 1, h.auditLog.countAction(model.ActionVoucherRevoke))

	err = h.svc.RevokeVoucher(context.Background(), mintActor(), "MISSING0", "", "")
	require.ErrorIs(t, err, ErrVoucherNotFound)
}
