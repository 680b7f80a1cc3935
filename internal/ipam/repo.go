package ipam

import (
	"context"
	"strings"
	"time"

	"hostinv/internal/apperr"
	"hostinv/internal/db"
	"hostinv/internal/logs"
	"hostinv/internal/lookup"
	"hostinv/internal/metrics"
	"hostinv/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultReservationTTL = 10 * time.Minute
	DefaultPageSize       = 5
	DefaultMaxPopulate    = 1 << 16

	// строк в одном INSERT при заполнении пула
	populateBatch = 200
)

type Repo struct {
	db          *gorm.DB
	ttl         time.Duration
	pageSize    int
	maxPopulate int
	now         func() time.Time
	log         *logrus.Entry
}

type Option func(*Repo)

// WithReservationTTL — срок жизни резервации.
func WithReservationTTL(d time.Duration) Option {
	return func(r *Repo) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithPageSize — сколько свободных адресов отдаёт ListAvailable.
func WithPageSize(n int) Option {
	return func(r *Repo) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithMaxPopulate — предел числа адресов, материализуемых на один пул.
func WithMaxPopulate(n int) Option {
	return func(r *Repo) {
		if n > 0 {
			r.maxPopulate = n
		}
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(r *Repo) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRepo(d *gorm.DB, opts ...Option) *Repo {
	r := &Repo{
		db:          d,
		ttl:         DefaultReservationTTL,
		pageSize:    DefaultPageSize,
		maxPopulate: DefaultMaxPopulate,
		now:         time.Now,
		log:         logs.WithComponent("ipam"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repo) clock() time.Time { return r.now().UTC() }

// cutoff — резервации старше этого момента считаются истёкшими.
func (r *Repo) cutoff() time.Time { return r.clock().Add(-r.ttl) }

// CreatePool — создаёт пул (VLAN) и сразу материализует его адреса в той же
// транзакции.
func (r *Repo) CreatePool(ctx context.Context, name, cidr string, f models.Flags) (pool *models.NetworkLabel, err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("create_pool", start, err) }(time.Now())

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Wrap(apperr.ErrInvalidArgument, "pool name required")
	}
	prefix, err := ParseNetwork(cidr)
	if err != nil {
		return nil, err
	}
	pool = &models.NetworkLabel{Name: name, Network: prefix.String(), Flags: f}

	var inserted int
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.NetworkLabel{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(apperr.ErrDuplicateName, "pool %q", name)
		}
		if err := tx.Model(&models.NetworkLabel{}).Where("network = ?", pool.Network).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(apperr.ErrDuplicateName, "network %s already registered", pool.Network)
		}
		if err := lookup.Normalize(tx, lookup.NetworkLabelsTable, 0, &pool.Flags); err != nil {
			return err
		}
		if err := tx.Create(pool).Error; err != nil {
			if db.IsDuplicate(err) {
				return errors.Wrapf(apperr.ErrDuplicateName, "pool %q", name)
			}
			return errors.Wrap(err, "create pool")
		}
		added, err := r.populateTx(tx, pool)
		inserted = added
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"pool": pool.Name, "network": pool.Network, "addresses": inserted}).Info("pool created")
	return pool, nil
}

// PopulateAddresses — добавляет недостающие адреса пула. Повторный вызов
// ничего не вставляет.
func (r *Repo) PopulateAddresses(ctx context.Context, poolID uint) (inserted int, err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("populate", start, err) }(time.Now())

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := getPool(tx, poolID)
		if err != nil {
			return err
		}
		inserted, err = r.populateTx(tx, pool)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.log.WithFields(logrus.Fields{"pool_id": poolID, "inserted": inserted}).Debug("pool populated")
	return inserted, nil
}

// populateTx вставляет адрес, только если такой строки ещё нет нигде в
// системе (адрес может уже принадлежать другому пересекающемуся пулу).
func (r *Repo) populateTx(tx *gorm.DB, pool *models.NetworkLabel) (int, error) {
	prefix, err := ParseNetwork(pool.Network)
	if err != nil {
		return 0, err
	}
	hosts := UsableHosts(prefix, r.maxPopulate)

	inserted := 0
	for start := 0; start < len(hosts); start += populateBatch {
		chunk := hosts[start:min(start+populateBatch, len(hosts))]
		ips := make([]string, len(chunk))
		for i, a := range chunk {
			ips[i] = a.String()
		}

		var existing []string
		if err := tx.Model(&models.NetworkAddress{}).Where("ip_address IN ?", ips).Pluck("ip_address", &existing).Error; err != nil {
			return inserted, errors.Wrap(err, "load existing addresses")
		}
		have := make(map[string]struct{}, len(existing))
		for _, s := range existing {
			have[s] = struct{}{}
		}

		rows := make([]models.NetworkAddress, 0, len(ips))
		for _, ip := range ips {
			if _, ok := have[ip]; ok {
				continue
			}
			rows = append(rows, models.NetworkAddress{IPAddress: ip, NetworkLabelID: pool.ID})
		}
		if len(rows) == 0 {
			continue
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, populateBatch)
		if res.Error != nil {
			return inserted, errors.Wrap(res.Error, "insert addresses")
		}
		inserted += int(res.RowsAffected)
	}
	metrics.AddressesPopulated.Add(float64(inserted))
	return inserted, nil
}

func getPool(tx *gorm.DB, id uint) (*models.NetworkLabel, error) {
	var p models.NetworkLabel
	err := tx.Where("id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "pool %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load pool %d", id)
	}
	return &p, nil
}

func getAddress(tx *gorm.DB, id uint) (*models.NetworkAddress, error) {
	var a models.NetworkAddress
	err := tx.Where("id = ?", id).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "address %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load address %d", id)
	}
	return &a, nil
}

// GetPool — пул по ID.
func (r *Repo) GetPool(ctx context.Context, id uint) (*models.NetworkLabel, error) {
	return getPool(r.db.WithContext(ctx), id)
}

// ListPools — все пулы по имени.
func (r *Repo) ListPools(ctx context.Context) ([]models.NetworkLabel, error) {
	var out []models.NetworkLabel
	err := r.db.WithContext(ctx).Order("name, id").Find(&out).Error
	return out, errors.Wrap(err, "list pools")
}

// DeletePool — удаляет пул вместе с адресами; хосты остаются, но теряют
// ссылки на адрес и VLAN.
func (r *Repo) DeletePool(ctx context.Context, id uint) (err error) {
	defer func(start time.Time) { metrics.ObserveIPAM("delete_pool", start, err) }(time.Now())

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := getPool(tx, id)
		if err != nil {
			return err
		}
		addrIDs := tx.Model(&models.NetworkAddress{}).Select("id").Where("network_label_id = ?", id)
		if err := tx.Model(&models.Host{}).Where("address_id IN (?)", addrIDs).Update("address_id", nil).Error; err != nil {
			return errors.Wrap(err, "detach host addresses")
		}
		if err := tx.Model(&models.Host{}).Where("vlan_id = ?", id).Update("vlan_id", nil).Error; err != nil {
			return errors.Wrap(err, "detach host vlans")
		}
		if err := tx.Where("network_label_id = ?", id).Delete(&models.NetworkAddress{}).Error; err != nil {
			return errors.Wrap(err, "delete addresses")
		}
		if err := tx.Delete(&models.NetworkLabel{}, id).Error; err != nil {
			return errors.Wrap(err, "delete pool")
		}
		r.log.WithField("pool", pool.Name).Info("pool deleted")
		return nil
	})
	return err
}

// SetPoolFlags — флаги пула по общему правилу справочников.
func (r *Repo) SetPoolFlags(ctx context.Context, id uint, f models.Flags) (*models.NetworkLabel, error) {
	var out *models.NetworkLabel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lookup.ApplyFlags(tx, lookup.NetworkLabelsTable, id, f); err != nil {
			return err
		}
		p, err := getPool(tx, id)
		out = p
		return err
	})
	return out, err
}

// GetAddress — запись адреса по ID.
func (r *Repo) GetAddress(ctx context.Context, id uint) (*models.NetworkAddress, error) {
	return getAddress(r.db.WithContext(ctx), id)
}

// AddressFilter — фильтры ListAddresses; nil означает "любое значение".
type AddressFilter struct {
	Assigned *bool
	Reserved *bool
}

// ListAddresses — адреса пула по возрастанию ID.
func (r *Repo) ListAddresses(ctx context.Context, poolID uint, f AddressFilter) ([]models.NetworkAddress, error) {
	d := r.db.WithContext(ctx)
	if _, err := getPool(d, poolID); err != nil {
		return nil, err
	}
	q := d.Where("network_label_id = ?", poolID)
	if f.Assigned != nil {
		q = q.Where("is_assigned = ?", *f.Assigned)
	}
	if f.Reserved != nil {
		q = q.Where("is_reserved = ?", *f.Reserved)
	}
	var out []models.NetworkAddress
	err := q.Order("id").Find(&out).Error
	return out, errors.Wrap(err, "list addresses")
}

// SweepExpired — снимает истёкшие резервации (ленивая очистка перед выдачей
// свободных адресов). Возвращает число очищенных записей.
func (r *Repo) SweepExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.NetworkAddress{}).
		Where("is_reserved = ?", true).
		Where("(reservation_timestamp IS NULL OR reservation_timestamp < ?)", r.cutoff()).
		Updates(clearReservation())
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "sweep expired reservations")
	}
	if res.RowsAffected > 0 {
		metrics.ReservationsExpired.Add(float64(res.RowsAffected))
		r.log.WithField("cleared", res.RowsAffected).Debug("expired reservations swept")
	}
	return res.RowsAffected, nil
}

func clearReservation() map[string]any {
	return map[string]any{"is_reserved": false, "reserved_by": nil, "reservation_timestamp": nil}
}
