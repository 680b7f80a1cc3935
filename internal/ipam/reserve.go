package ipam

import (
	"context"
	"strings"
	"time"

	"hostinv/internal/apperr"
	"hostinv/internal/metrics"
	"hostinv/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reserve — временно удерживает адрес за identity, пока заполняется форма.
// Повторный вызов тем же identity продлевает резервацию; чужую резервацию
// можно перехватить только после истечения TTL.
func (r *Repo) Reserve(ctx context.Context, addressID uint, identity string) (addr *models.NetworkAddress, err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("reserve", start, err) }(time.Now())

	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.Wrap(apperr.ErrInvalidArgument, "identity required")
	}
	now := r.clock()
	cutoff := now.Add(-r.ttl)

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := getAddress(tx, addressID)
		if err != nil {
			return err
		}
		if err := reservable(a, identity, cutoff); err != nil {
			return err
		}
		res := tx.Model(&models.NetworkAddress{}).
			Where("id = ? AND is_assigned = ?", addressID, false).
			Where("(is_reserved = ? OR reserved_by = ? OR reservation_timestamp IS NULL OR reservation_timestamp < ?)", false, identity, cutoff).
			Updates(map[string]any{"is_reserved": true, "reserved_by": identity, "reservation_timestamp": now})
		if res.Error != nil {
			return errors.Wrap(res.Error, "reserve address")
		}
		if a, err = getAddress(tx, addressID); err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			// строку успели изменить, либо СУБД не считает запись без изменений
			if err := reservable(a, identity, cutoff); err != nil {
				return err
			}
			if !a.IsReserved || a.ReservedBy == nil || *a.ReservedBy != identity {
				return errors.Wrapf(apperr.ErrReservedByOther, "%s", a.IPAddress)
			}
		}
		addr = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"ip": addr.IPAddress, "identity": identity}).Debug("address reserved")
	return addr, nil
}

// ReleaseReservation — снимает резервацию. Свободный адрес освобождать
// нечего, это успех; чужую действующую резервацию снять нельзя.
func (r *Repo) ReleaseReservation(ctx context.Context, addressID uint, identity string) (addr *models.NetworkAddress, err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("release_reservation", start, err) }(time.Now())

	identity = strings.TrimSpace(identity)
	cutoff := r.cutoff()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := getAddress(tx, addressID)
		if err != nil {
			return err
		}
		if !a.IsReserved {
			addr = a
			return nil
		}
		if !heldBy(a, identity) && !expired(a, cutoff) {
			return errors.Wrapf(apperr.ErrForbidden, "%s is reserved by another user", a.IPAddress)
		}
		res := tx.Model(&models.NetworkAddress{}).
			Where("id = ? AND is_reserved = ?", addressID, true).
			Where("(reserved_by = ? OR reservation_timestamp IS NULL OR reservation_timestamp < ?)", identity, cutoff).
			Updates(clearReservation())
		if res.Error != nil {
			return errors.Wrap(res.Error, "release reservation")
		}
		if a, err = getAddress(tx, addressID); err != nil {
			return err
		}
		if res.RowsAffected == 0 && a.IsReserved {
			return errors.Wrapf(apperr.ErrForbidden, "%s is reserved by another user", a.IPAddress)
		}
		addr = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"ip": addr.IPAddress, "identity": identity}).Debug("reservation released")
	return addr, nil
}

func reservable(a *models.NetworkAddress, identity string, cutoff time.Time) error {
	if a.IsAssigned {
		return errors.Wrapf(apperr.ErrAlreadyAssigned, "%s", a.IPAddress)
	}
	if a.IsReserved && !heldBy(a, identity) && !expired(a, cutoff) {
		return errors.Wrapf(apperr.ErrReservedByOther, "%s", a.IPAddress)
	}
	return nil
}

func heldBy(a *models.NetworkAddress, identity string) bool {
	return identity != "" && a.ReservedBy != nil && *a.ReservedBy == identity
}

func expired(a *models.NetworkAddress, cutoff time.Time) bool {
	return a.ReservationTimestamp == nil || a.ReservationTimestamp.Before(cutoff)
}
