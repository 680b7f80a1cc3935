package ipam

import (
	"context"
	"sync"
	"testing"
	"time"

	"hostinv/internal/db/dbtest"
	"hostinv/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db    *gorm.DB
	repo  *Repo
	clock *fakeClock
	ctx   context.Context
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	d := dbtest.Open(t)
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{db: d, repo: NewRepo(d, opts...), clock: clock, ctx: context.Background()}
}

func (f *fixture) pool(t *testing.T, name, cidr string) *models.NetworkLabel {
	t.Helper()
	p, err := f.repo.CreatePool(f.ctx, name, cidr, models.Flags{Enabled: true})
	require.NoError(t, err)
	return p
}

func (f *fixture) host(t *testing.T, name string) *models.Host {
	t.Helper()
	h := &models.Host{Name: name, Enabled: true}
	require.NoError(t, f.db.Create(h).Error)
	return h
}

func (f *fixture) addr(t *testing.T, ip string) *models.NetworkAddress {
	t.Helper()
	var a models.NetworkAddress
	require.NoError(t, f.db.Where("ip_address = ?", ip).Take(&a).Error)
	return &a
}

func (f *fixture) reload(t *testing.T, h *models.Host) *models.Host {
	t.Helper()
	var out models.Host
	require.NoError(t, f.db.Take(&out, h.ID).Error)
	return &out
}

func ips(as []models.NetworkAddress) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.IPAddress
	}
	return out
}
