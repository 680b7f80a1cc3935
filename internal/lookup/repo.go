// Package lookup manages the small reference tables (host types, environments,
// ...) that share the default/enabled/deprecated flags, and the rule that keeps
// at most one default entry per table.
package lookup

import (
	"context"
	"sort"
	"strings"

	"hostinv/internal/apperr"
	"hostinv/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Category string

const (
	HostTypes     Category = "host-types"
	Environments  Category = "environments"
	Purposes      Category = "purposes"
	HostStatuses  Category = "host-statuses"
	HostClasses   Category = "host-classes"
	BusinessUnits Category = "business-units"
	SupportGroups Category = "support-groups"
	SupportLevels Category = "support-levels"
)

// NetworkLabelsTable is flag-managed here but its rows belong to ipam.
const NetworkLabelsTable = "network_labels"

type category struct {
	table      string
	hostColumn string // колонка hosts, ссылающаяся на запись
}

var categories = map[Category]category{
	HostTypes:     {table: "host_types", hostColumn: "host_type_id"},
	Environments:  {table: "environments", hostColumn: "environment_id"},
	Purposes:      {table: "purposes", hostColumn: "purpose_id"},
	HostStatuses:  {table: "host_statuses", hostColumn: "host_status_id"},
	HostClasses:   {table: "host_classes", hostColumn: "host_class_id"},
	BusinessUnits: {table: "business_units", hostColumn: "business_unit_id"},
	SupportGroups: {table: "support_groups", hostColumn: "support_group_id"},
	SupportLevels: {table: "support_levels", hostColumn: "support_level_id"},
}

// Categories lists the known categories in a stable order.
func Categories() []Category {
	out := make([]Category, 0, len(categories))
	for c := range categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Table returns the table behind a category.
func Table(c Category) (string, error) {
	cat, ok := categories[c]
	if !ok {
		return "", errors.Wrapf(apperr.ErrUnknownCategory, "%q", string(c))
	}
	return cat.table, nil
}

// Normalize applies the per-table flag rule to f for the entry selfID (0 for
// a row not inserted yet). It must run inside the transaction that saves the
// entry:
//   - a default entry is enabled;
//   - with no other enabled entry in the table, the entry becomes enabled and
//     default (a new row always, an update only if it stays enabled);
//   - a default entry clears item_default on every sibling.
func Normalize(tx *gorm.DB, table string, selfID uint, f *models.Flags) error {
	if f.ItemDefault {
		f.Enabled = true
	}

	var others int64
	q := tx.Table(table).Where("enabled = ?", true)
	if selfID != 0 {
		q = q.Where("id <> ?", selfID)
	}
	if err := q.Count(&others).Error; err != nil {
		return errors.Wrapf(err, "count enabled %s", table)
	}
	if others == 0 && (selfID == 0 || f.Enabled) {
		f.Enabled = true
		f.ItemDefault = true
	}
	if !f.Enabled {
		f.ItemDefault = false
	}
	if !f.ItemDefault {
		return nil
	}

	siblings := tx.Table(table).Where("item_default = ?", true)
	if selfID != 0 {
		siblings = siblings.Where("id <> ?", selfID)
	}
	if err := siblings.Update("item_default", false).Error; err != nil {
		return errors.Wrapf(err, "clear defaults in %s", table)
	}
	return nil
}

// ApplyFlags saves f on row id of table under the Normalize rule.
func ApplyFlags(tx *gorm.DB, table string, id uint, f models.Flags) (models.Flags, error) {
	var n int64
	if err := tx.Table(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return f, errors.Wrapf(err, "load %s %d", table, id)
	}
	if n == 0 {
		return f, errors.Wrapf(apperr.ErrNotFound, "%s %d", table, id)
	}
	if err := Normalize(tx, table, id, &f); err != nil {
		return f, err
	}
	err := tx.Table(table).Where("id = ?", id).Updates(map[string]any{
		"item_default": f.ItemDefault,
		"enabled":      f.Enabled,
		"deprecated":   f.Deprecated,
	}).Error
	return f, errors.Wrapf(err, "update %s %d", table, id)
}

// DefaultID returns the id of the enabled default entry of table, nil if none.
func DefaultID(tx *gorm.DB, table string) (*uint, error) {
	var e models.LookupEntry
	err := tx.Table(table).
		Where("item_default = ? AND enabled = ?", true, true).
		Order("id").
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "default of %s", table)
	}
	return &e.ID, nil
}

// Exists returns ErrNotFound unless id is a row of category c.
func Exists(tx *gorm.DB, c Category, id uint) error {
	table, err := Table(c)
	if err != nil {
		return err
	}
	var n int64
	if err := tx.Table(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return errors.Wrapf(err, "check %s %d", table, id)
	}
	if n == 0 {
		return errors.Wrapf(apperr.ErrNotFound, "%s %d", c, id)
	}
	return nil
}

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Create(ctx context.Context, c Category, name string, f models.Flags) (*models.LookupEntry, error) {
	table, err := Table(c)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Wrap(apperr.ErrInvalidArgument, "name required")
	}

	e := &models.LookupEntry{Name: name, Flags: f}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Table(table).Where("name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(apperr.ErrDuplicateName, "%s %q", c, name)
		}
		if err := Normalize(tx, table, 0, &e.Flags); err != nil {
			return err
		}
		return tx.Table(table).Create(e).Error
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Repo) List(ctx context.Context, c Category) ([]models.LookupEntry, error) {
	table, err := Table(c)
	if err != nil {
		return nil, err
	}
	var out []models.LookupEntry
	err = r.db.WithContext(ctx).Table(table).Order("name, id").Find(&out).Error
	return out, errors.Wrapf(err, "list %s", c)
}

func (r *Repo) Get(ctx context.Context, c Category, id uint) (*models.LookupEntry, error) {
	table, err := Table(c)
	if err != nil {
		return nil, err
	}
	return get(r.db.WithContext(ctx), table, id)
}

func get(tx *gorm.DB, table string, id uint) (*models.LookupEntry, error) {
	var e models.LookupEntry
	err := tx.Table(table).Where("id = ?", id).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "%s %d", table, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s %d", table, id)
	}
	return &e, nil
}

// Default returns the category default, ErrNotFound if there is none.
func (r *Repo) Default(ctx context.Context, c Category) (*models.LookupEntry, error) {
	table, err := Table(c)
	if err != nil {
		return nil, err
	}
	tx := r.db.WithContext(ctx)
	id, err := DefaultID(tx, table)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, errors.Wrapf(apperr.ErrNotFound, "no default in %s", c)
	}
	return get(tx, table, *id)
}

// SetDefault makes id the only default of its category.
func (r *Repo) SetDefault(ctx context.Context, c Category, id uint) (*models.LookupEntry, error) {
	return r.update(ctx, c, id, func(f *models.Flags) {
		f.ItemDefault = true
		f.Enabled = true
		f.Deprecated = false
	})
}

// SetEnabled toggles enabled. Enabling also clears deprecated, disabling drops
// the default flag.
func (r *Repo) SetEnabled(ctx context.Context, c Category, id uint, enabled bool) (*models.LookupEntry, error) {
	return r.update(ctx, c, id, func(f *models.Flags) {
		f.Enabled = enabled
		if enabled {
			f.Deprecated = false
		} else {
			f.ItemDefault = false
		}
	})
}

func (r *Repo) SetDeprecated(ctx context.Context, c Category, id uint) (*models.LookupEntry, error) {
	return r.update(ctx, c, id, func(f *models.Flags) { f.Deprecated = true })
}

func (r *Repo) update(ctx context.Context, c Category, id uint, mutate func(*models.Flags)) (*models.LookupEntry, error) {
	table, err := Table(c)
	if err != nil {
		return nil, err
	}
	var out *models.LookupEntry
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := get(tx, table, id)
		if err != nil {
			return err
		}
		mutate(&e.Flags)
		if e.Flags, err = ApplyFlags(tx, table, id, e.Flags); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// Delete removes an entry; hosts pointing at it keep existing with the
// reference cleared.
func (r *Repo) Delete(ctx context.Context, c Category, id uint) error {
	cat, ok := categories[c]
	if !ok {
		return errors.Wrapf(apperr.ErrUnknownCategory, "%q", string(c))
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := get(tx, cat.table, id); err != nil {
			return err
		}
		if err := tx.Model(&models.Host{}).Where(cat.hostColumn+" = ?", id).Update(cat.hostColumn, nil).Error; err != nil {
			return errors.Wrap(err, "detach hosts")
		}
		return tx.Table(cat.table).Where("id = ?", id).Delete(&models.LookupEntry{}).Error
	})
}
