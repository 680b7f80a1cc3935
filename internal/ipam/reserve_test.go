package ipam

import (
	"testing"
	"time"

	"hostinv/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve(t *testing.T) {
	f := setup(t)
	f.pool(t, "vlan100", "10.0.0.0/24")
	a := f.addr(t, "10.0.0.7")

	got, err := f.repo.Reserve(f.ctx, a.ID, "u1")
	require.NoError(t, err)
	assert.True(t, got.IsReserved)
	require.NotNil(t, got.ReservedBy)
	assert.Equal(t, "u1", *got.ReservedBy)
	require.NotNil(t, got.ReservationTimestamp)
	assert.True(t, got.ReservationTimestamp.Equal(f.clock.Now()))

	_, err = f.repo.Reserve(f.ctx, a.ID, "u2")
	assert.ErrorIs(t, err, apperr.ErrReservedByOther)

	// тот же пользователь продлевает резервацию
	f.clock.Advance(5 * time.Minute)
	got, err = f.repo.Reserve(f.ctx, a.ID, "u1")
	require.NoError(t, err)
	assert.True(t, got.ReservationTimestamp.Equal(f.clock.Now()))

	f.clock.Advance(9 * time.Minute)
	_, err = f.repo.Reserve(f.ctx, a.ID, "u2")
	assert.ErrorIs(t, err, apperr.ErrReservedByOther, "renewed reservation is still live")

	f.clock.Advance(2 * time.Minute)
	got, err = f.repo.Reserve(f.ctx, a.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", *got.ReservedBy)
}

func TestReserve_Errors(t *testing.T) {
	f := setup(t)
	f.pool(t, "vlan100", "10.0.0.0/24")
	a := f.addr(t, "10.0.0.7")
	h := f.host(t, "web01")
	_, err := f.repo.Assign(f.ctx, h.ID, a.ID)
	require.NoError(t, err)

	_, err = f.repo.Reserve(f.ctx, a.ID, "u1")
	assert.ErrorIs(t, err, apperr.ErrAlreadyAssigned)
	_, err = f.repo.Reserve(f.ctx, 99999, "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.repo.Reserve(f.ctx, f.addr(t, "10.0.0.8").ID, " ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestReserve_CustomTTL(t *testing.T) {
	f := setup(t, WithReservationTTL(time.Minute))
	f.pool(t, "vlan100", "10.0.0.0/24")
	a := f.addr(t, "10.0.0.7")

	_, err := f.repo.Reserve(f.ctx, a.ID, "u1")
	require.NoError(t, err)
	f.clock.Advance(61 * time.Second)
	_, err = f.repo.Reserve(f.ctx, a.ID, "u2")
	require.NoError(t, err)
}

func TestReleaseReservation(t *testing.T) {
	f := setup(t)
	f.pool(t, "vlan100", "10.0.0.0/24")
	a := f.addr(t, "10.0.0.7")

	// не зарезервирован: успех без изменений
	got, err := f.repo.ReleaseReservation(f.ctx, a.ID, "u1")
	require.NoError(t, err)
	assert.False(t, got.IsReserved)

	_, err = f.repo.Reserve(f.ctx, a.ID, "u1")
	require.NoError(t, err)

	_, err = f.repo.ReleaseReservation(f.ctx, a.ID, "u2")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.True(t, f.addr(t, "10.0.0.7").IsReserved)

	got, err = f.repo.ReleaseReservation(f.ctx, a.ID, "u1")
	require.NoError(t, err)
	assert.False(t, got.IsReserved)
	assert.Nil(t, got.ReservedBy)
	assert.Nil(t, got.ReservationTimestamp)

	_, err = f.repo.ReleaseReservation(f.ctx, 99999, "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReleaseReservation_ExpiredByAnyone(t *testing.T) {
	f := setup(t)
	f.pool(t, "vlan100", "10.0.0.0/24")
	a := f.addr(t, "10.0.0.7")

	_, err := f.repo.Reserve(f.ctx, a.ID, "u1")
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)

	got, err := f.repo.ReleaseReservation(f.ctx, a.ID, "u2")
	require.NoError(t, err)
	assert.False(t, got.IsReserved)
}
