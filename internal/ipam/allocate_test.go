package ipam

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hostinv/internal/apperr"
	"hostinv/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAvailable_FirstPage(t *testing.T) {
	f := setup(t)
	p := f.pool(t, "vlan100", "10.0.0.0/24")

	got, err := f.repo.ListAvailable(f.ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}, ips(got))

	h := f.host(t, "web01")
	_, err = f.repo.Assign(f.ctx, h.ID, f.addr(t, "10.0.0.2").ID)
	require.NoError(t, err)
	_, err = f.repo.Reserve(f.ctx, f.addr(t, "10.0.0.4").ID, "u1")
	require.NoError(t, err)

	got, err = f.repo.ListAvailable(f.ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.3", "10.0.0.5", "10.0.0.6", "10.0.0.7"}, ips(got))
}

func TestListAvailable_Excluded(t *testing.T) {
	f := setup(t)
	p := f.pool(t, "vlan100", "10.0.0.0/24")
	h := f.host(t, "web01")
	sel := f.addr(t, "10.0.0.1")
	_, err := f.repo.Assign(f.ctx, h.ID, sel.ID)
	require.NoError(t, err)

	got, err := f.repo.ListAvailable(f.ctx, p.ID, &sel.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6", "10.0.0.1"}, ips(got))

	// уже в странице: не дублируется
	free := f.addr(t, "10.0.0.3")
	got, err = f.repo.ListAvailable(f.ctx, p.ID, &free.ID)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	missing := uint(99999)
	got, err = f.repo.ListAvailable(f.ctx, p.ID, &missing)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	_, err = f.repo.ListAvailable(f.ctx, 404, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListAvailable_PageSize(t *testing.T) {
	f := setup(t, WithPageSize(2))
	p := f.pool(t, "vlan100", "10.0.0.0/24")
	got, err := f.repo.ListAvailable(f.ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, ips(got))
}

func TestListAvailable_SweepsExpiredReservations(t *testing.T) {
	f := setup(t)
	p := f.pool(t, "vlan100", "10.0.0.0/24")
	a := f.addr(t, "10.0.0.1")
	_, err := f.repo.Reserve(f.ctx, a.ID, "u1")
	require.NoError(t, err)

	got, err := f.repo.ListAvailable(f.ctx, p.ID, nil)
	require.NoError(t, err)
	assert.NotContains(t, ips(got), "10.0.0.1")

	f.clock.Advance(11 * time.Minute)
	got, err = f.repo.ListAvailable(f.ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", got[0].IPAddress)

	a = f.addr(t, "10.0.0.1")
	assert.False(t, a.IsReserved)
	assert.Nil(t, a.ReservedBy)
}

func TestAssign(t *testing.T) {
	f := setup(t)
	p := f.pool(t, "vlan100", "10.0.0.0/24")
	h := f.host(t, "web01")
	a := f.addr(t, "10.0.0.5")
	_, err := f.repo.Reserve(f.ctx, a.ID, "u1")
	require.NoError(t, err)

	got, err := f.repo.Assign(f.ctx, h.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAssigned)
	assert.False(t, got.IsReserved)
	assert.Nil(t, got.ReservedBy)
	assert.Nil(t, got.ReservationTimestamp)

	h = f.reload(t, h)
	require.NotNil(t, h.AddressID)
	assert.Equal(t, a.ID, *h.AddressID)
	require.NotNil(t, h.VlanID)
	assert.Equal(t, p.ID, *h.VlanID)

	// повторно тому же хосту: без изменений
	got, err = f.repo.Assign(f.ctx, h.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAssigned)

	other := f.host(t, "web02")
	_, err = f.repo.Assign(f.ctx, other.ID, a.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyAssigned)
	assert.Nil(t, f.reload(t, other).AddressID)

	_, err = f.repo.Assign(f.ctx, 404, f.addr(t, "10.0.0.6").ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.repo.Assign(f.ctx, h.ID, 99999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAssign_SwitchFreesPrevious(t *testing.T) {
	f := setup(t)
	f.pool(t, "vlan100", "10.0.0.0/24")
	p2 := f.pool(t, "vlan200", "10.0.1.0/24")
	h := f.host(t, "web01")

	old := f.addr(t, "10.0.0.5")
	_, err := f.repo.Assign(f.ctx, h.ID, old.ID)
	require.NoError(t, err)

	next := f.addr(t, "10.0.1.9")
	_, err = f.repo.Assign(f.ctx, h.ID, next.ID)
	require.NoError(t, err)

	assert.False(t, f.addr(t, "10.0.0.5").IsAssigned)
	assert.True(t, f.addr(t, "10.0.1.9").IsAssigned)
	h = f.reload(t, h)
	assert.Equal(t, next.ID, *h.AddressID)
	assert.Equal(t, p2.ID, *h.VlanID)
}

// На SQLite пул ограничен одним соединением и транзакции идут по очереди;
// настоящая гонка за UPDATE ... WHERE is_assigned = false проверяется только
// с TEST_DB_DRIVER=postgres|mysql.
func TestAssign_ConcurrentSingleWinner(t *testing.T) {
	f := setup(t)
	f.pool(t, "vlan100", "10.0.0.0/24")
	a := f.addr(t, "10.0.0.7")

	const n = 8
	hosts := make([]*models.Host, n)
	for i := range hosts {
		hosts[i] = f.host(t, fmt.Sprintf("web%02d", i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		losses  int
		unknown []error
	)
	for _, h := range hosts {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := f.repo.Assign(f.ctx, id, a.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrAlreadyAssigned):
				losses++
			default:
				unknown = append(unknown, err)
			}
		}(h.ID)
	}
	wg.Wait()

	require.Empty(t, unknown)
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, losses)

	var bound int64
	require.NoError(t, f.db.Model(&models.Host{}).Where("address_id = ?", a.ID).Count(&bound).Error)
	assert.EqualValues(t, 1, bound)
}

func TestAssignManual(t *testing.T) {
	f := setup(t, WithMaxPopulate(10))
	p := f.pool(t, "vlan100", "10.0.0.0/24")
	h := f.host(t, "web01")

	_, err := f.repo.AssignManual(f.ctx, h.ID, "10.0.1.5", p.ID)
	assert.ErrorIs(t, err, apperr.ErrOutOfRange)
	_, err = f.repo.AssignManual(f.ctx, h.ID, "not-an-ip", p.ID)
	assert.ErrorIs(t, err, apperr.ErrOutOfRange)
	_, err = f.repo.AssignManual(f.ctx, h.ID, "10.0.0.5", 404)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// за пределами материализованных адресов: запись создаётся
	got, err := f.repo.AssignManual(f.ctx, h.ID, "10.0.0.200", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.200", got.IPAddress)
	assert.Equal(t, p.ID, got.NetworkLabelID)
	assert.True(t, got.IsAssigned)

	other := f.host(t, "web02")
	_, err = f.repo.AssignManual(f.ctx, other.ID, "10.0.0.200", p.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyAssigned)

	got, err = f.repo.AssignManual(f.ctx, other.ID, "10.0.0.5", p.ID)
	require.NoError(t, err)
	assert.Equal(t, f.addr(t, "10.0.0.5").ID, got.ID)

	// неизвестный хост: созданная запись откатывается
	_, err = f.repo.AssignManual(f.ctx, 404, "10.0.0.201", p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	var count int64
	require.NoError(t, f.db.Model(&models.NetworkAddress{}).Where("ip_address = ?", "10.0.0.201").Count(&count).Error)
	assert.Zero(t, count)
}

func TestRelease(t *testing.T) {
	f := setup(t)
	p := f.pool(t, "vlan100", "10.0.0.0/24")
	h := f.host(t, "web01")
	a := f.addr(t, "10.0.0.5")
	_, err := f.repo.Assign(f.ctx, h.ID, a.ID)
	require.NoError(t, err)

	require.NoError(t, f.repo.Release(f.ctx, h.ID))
	assert.False(t, f.addr(t, "10.0.0.5").IsAssigned)
	h = f.reload(t, h)
	assert.Nil(t, h.AddressID)
	assert.Equal(t, p.ID, *h.VlanID)

	// без адреса: ничего не делает
	require.NoError(t, f.repo.Release(f.ctx, h.ID))
	assert.ErrorIs(t, f.repo.Release(f.ctx, 404), apperr.ErrNotFound)

	got, err := f.repo.ListAvailable(f.ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Contains(t, ips(got), "10.0.0.5")
}

func TestAssign_HostTimestampsFollowClock(t *testing.T) {
	f := setup(t)
	f.pool(t, "vlan100", "10.0.0.0/24")
	h := f.host(t, "web01")

	f.clock.Advance(time.Hour)
	_, err := f.repo.Assign(f.ctx, h.ID, f.addr(t, "10.0.0.5").ID)
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Equal(f.reload(t, h).UpdatedAt.UTC()))

	f.clock.Advance(time.Hour)
	require.NoError(t, f.repo.Release(f.ctx, h.ID))
	assert.True(t, f.clock.Now().Equal(f.reload(t, h).UpdatedAt.UTC()))
}

func TestListAvailable_ExcludedFromOtherPool(t *testing.T) {
	f := setup(t, WithPageSize(2))
	p := f.pool(t, "vlan100", "10.0.0.0/29")
	f.pool(t, "vlan200", "10.0.1.0/29")
	sel := f.addr(t, "10.0.1.3")

	got, err := f.repo.ListAvailable(f.ctx, p.ID, &sel.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.1.3"}, ips(got))
}
