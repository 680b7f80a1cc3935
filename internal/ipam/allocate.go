package ipam

import (
	"context"
	"time"

	"hostinv/internal/apperr"
	"hostinv/internal/db"
	"hostinv/internal/metrics"
	"hostinv/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListAvailable — первые pageSize свободных адресов пула по возрастанию ID.
// excludeID (адрес, уже выбранный в форме) добавляется в конец, даже если он
// занят; отсутствующая запись молча пропускается.
func (r *Repo) ListAvailable(ctx context.Context, poolID uint, excludeID *uint) (out []models.NetworkAddress, err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("list_available", start, err) }(time.Now())

	if _, err := r.SweepExpired(ctx); err != nil {
		return nil, err
	}
	d := r.db.WithContext(ctx)
	if _, err := getPool(d, poolID); err != nil {
		return nil, err
	}
	err = d.Where("network_label_id = ? AND is_assigned = ? AND is_reserved = ?", poolID, false, false).
		Order("id").
		Limit(r.pageSize).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "list available")
	}
	if excludeID == nil {
		return out, nil
	}
	for _, a := range out {
		if a.ID == *excludeID {
			return out, nil
		}
	}
	sel, err := getAddress(d, *excludeID)
	if errors.Is(err, apperr.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return append(out, *sel), nil
}

// Assign — привязывает адрес addressID к хосту. Повторная привязка того же
// адреса к тому же хосту ничего не меняет. Прежний адрес хоста освобождается,
// VLAN хоста становится пулом адреса.
func (r *Repo) Assign(ctx context.Context, hostID, addressID uint) (addr *models.NetworkAddress, err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("assign", start, err) }(time.Now())

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := r.assignTx(tx, hostID, addressID)
		addr = a
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"host_id": hostID, "ip": addr.IPAddress}).Info("address assigned")
	return addr, nil
}

// AssignManual — назначение адреса, введённого вручную. Адрес должен лежать в
// сети пула; если записи ещё нет, она создаётся в этом пуле.
func (r *Repo) AssignManual(ctx context.Context, hostID uint, rawIP string, poolID uint) (addr *models.NetworkAddress, err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("assign_manual", start, err) }(time.Now())

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := getPool(tx, poolID)
		if err != nil {
			return err
		}
		prefix, err := ParseNetwork(pool.Network)
		if err != nil {
			return err
		}
		ip, err := ParseAddress(prefix, rawIP)
		if err != nil {
			return err
		}

		rec, err := getOrCreateAddress(tx, ip.String(), pool.ID)
		if err != nil {
			return err
		}
		addr, err = r.assignTx(tx, hostID, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"host_id": hostID, "ip": addr.IPAddress, "pool_id": poolID}).Info("address assigned manually")
	return addr, nil
}

func getOrCreateAddress(tx *gorm.DB, ip string, poolID uint) (*models.NetworkAddress, error) {
	var rec models.NetworkAddress
	err := tx.Where("ip_address = ?", ip).Take(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(err, "load address %s", ip)
	}
	rec = models.NetworkAddress{IPAddress: ip, NetworkLabelID: poolID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return nil, errors.Wrapf(err, "create address %s", ip)
	}
	if rec.ID != 0 {
		return &rec, nil
	}
	// конфликт: запись успел создать кто-то ещё
	if err := tx.Where("ip_address = ?", ip).Take(&rec).Error; err != nil {
		return nil, errors.Wrapf(err, "reload address %s", ip)
	}
	return &rec, nil
}

func (r *Repo) assignTx(tx *gorm.DB, hostID, addressID uint) (*models.NetworkAddress, error) {
	host, err := r.lockHost(tx, hostID)
	if err != nil {
		return nil, err
	}
	addr, err := getAddress(tx, addressID)
	if err != nil {
		return nil, err
	}

	taken := map[string]any{"is_assigned": true}
	for k, v := range clearReservation() {
		taken[k] = v
	}

	if host.AddressID != nil && *host.AddressID == addr.ID {
		// уже привязан к этому хосту
		if err := tx.Model(&models.NetworkAddress{}).Where("id = ?", addr.ID).Updates(taken).Error; err != nil {
			return nil, errors.Wrap(err, "refresh assignment")
		}
		return getAddress(tx, addr.ID)
	}

	// CAS: выигрывает только тот, кто застал адрес свободным
	res := tx.Model(&models.NetworkAddress{}).
		Where("id = ? AND is_assigned = ?", addr.ID, false).
		Updates(taken)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "take address")
	}
	if res.RowsAffected == 0 {
		return nil, errors.Wrapf(apperr.ErrAlreadyAssigned, "%s", addr.IPAddress)
	}

	if host.AddressID != nil {
		if err := tx.Model(&models.NetworkAddress{}).Where("id = ?", *host.AddressID).Update("is_assigned", false).Error; err != nil {
			return nil, errors.Wrap(err, "release previous address")
		}
	}
	err = tx.Model(&models.Host{}).Where("id = ?", host.ID).Updates(map[string]any{
		"address_id": addr.ID,
		"vlan_id":    addr.NetworkLabelID,
		"updated_at": r.clock(),
	}).Error
	if db.IsDuplicate(err) {
		return nil, errors.Wrapf(apperr.ErrAlreadyAssigned, "%s is bound to another host", addr.IPAddress)
	}
	if err != nil {
		return nil, errors.Wrap(err, "bind host")
	}
	return getAddress(tx, addr.ID)
}

// lockHost читает хост после UPDATE, который берёт блокировку строки до конца
// транзакции на всех диалектах.
func (r *Repo) lockHost(tx *gorm.DB, hostID uint) (*models.Host, error) {
	if err := tx.Model(&models.Host{}).Where("id = ?", hostID).Update("updated_at", r.clock()).Error; err != nil {
		return nil, errors.Wrapf(err, "lock host %d", hostID)
	}
	var h models.Host
	err := tx.Where("id = ?", hostID).Take(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "host %d", hostID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load host %d", hostID)
	}
	return &h, nil
}

// Release — освобождает адрес хоста, если он есть.
func (r *Repo) Release(ctx context.Context, hostID uint) (err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("release", start, err) }(time.Now())

	var released *uint
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		released, err = r.ReleaseHostTx(tx, hostID)
		return err
	})
	if err == nil && released != nil {
		r.log.WithFields(logrus.Fields{"host_id": hostID, "address_id": *released}).Info("address released")
	}
	return err
}

// ReleaseHostTx освобождает адрес хоста в транзакции вызывающего (удаление
// хоста делает это в своей транзакции). Возвращает ID освобождённого адреса.
func (r *Repo) ReleaseHostTx(tx *gorm.DB, hostID uint) (*uint, error) {
	host, err := r.lockHost(tx, hostID)
	if err != nil {
		return nil, err
	}
	if host.AddressID == nil {
		return nil, nil
	}
	if err := tx.Model(&models.NetworkAddress{}).Where("id = ?", *host.AddressID).Update("is_assigned", false).Error; err != nil {
		return nil, errors.Wrap(err, "release address")
	}
	if err := tx.Model(&models.Host{}).Where("id = ?", host.ID).Updates(map[string]any{
		"address_id": nil,
		"updated_at": r.clock(),
	}).Error; err != nil {
		return nil, errors.Wrap(err, "unbind host")
	}
	return host.AddressID, nil
}
