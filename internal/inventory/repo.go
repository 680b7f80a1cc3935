// Package inventory keeps hosts and Ansible groups and renders them as an
// Ansible dynamic inventory.
package inventory

import (
	"context"
	"strings"

	"hostinv/internal/apperr"
	"hostinv/internal/db"
	"hostinv/internal/inventory/varschema"
	"hostinv/internal/ipam"
	"hostinv/internal/logs"
	"hostinv/internal/lookup"
	"hostinv/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Repo struct {
	db   *gorm.DB
	ipam *ipam.Repo
	log  *logrus.Entry
}

// NewRepo — ipam освобождает адрес при удалении хоста; nil означает ipam.NewRepo(d).
func NewRepo(d *gorm.DB, addrs *ipam.Repo) *Repo {
	if addrs == nil {
		addrs = ipam.NewRepo(d)
	}
	return &Repo{db: d, ipam: addrs, log: logs.WithComponent("inventory")}
}

// ── Groups ─────────────────────────────────────────────

func (r *Repo) CreateGroup(ctx context.Context, name string, vars map[string]any) (*models.AnsibleGroup, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, errors.Wrap(apperr.ErrInvalidArgument, "group name required")
	}
	vars, err := checkVars(vars)
	if err != nil {
		return nil, err
	}
	g := &models.AnsibleGroup{Name: name, GroupVars: vars}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.AnsibleGroup{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(apperr.ErrDuplicateName, "group %q", name)
		}
		err := tx.Create(g).Error
		if db.IsDuplicate(err) {
			return errors.Wrapf(apperr.ErrDuplicateName, "group %q", name)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Repo) ListGroups(ctx context.Context) ([]models.AnsibleGroup, error) {
	var out []models.AnsibleGroup
	err := r.db.WithContext(ctx).Preload("Tags").Order("name").Find(&out).Error
	return out, errors.Wrap(err, "list groups")
}

func (r *Repo) GetGroup(ctx context.Context, id uint) (*models.AnsibleGroup, error) {
	return getGroup(r.db.WithContext(ctx).Preload("Tags"), id)
}

func getGroup(tx *gorm.DB, id uint) (*models.AnsibleGroup, error) {
	var g models.AnsibleGroup
	err := tx.Where("id = ?", id).Take(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "group %d", id)
	}
	return &g, errors.Wrapf(err, "load group %d", id)
}

// UpdateGroupVars заменяет переменные группы целиком.
func (r *Repo) UpdateGroupVars(ctx context.Context, id uint, vars map[string]any) (*models.AnsibleGroup, error) {
	vars, err := checkVars(vars)
	if err != nil {
		return nil, err
	}
	var out *models.AnsibleGroup
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := getGroup(tx, id)
		if err != nil {
			return err
		}
		g.GroupVars = vars
		if err := tx.Model(g).Select("group_vars").Updates(g).Error; err != nil {
			return errors.Wrap(err, "update group vars")
		}
		out = g
		return nil
	})
	return out, err
}

// TagGroup вешает на группу тег (имена тегов в верхнем регистре, тег
// создаётся при первом использовании). Повторная пометка ничего не меняет.
func (r *Repo) TagGroup(ctx context.Context, id uint, tag string) (*models.AnsibleGroup, error) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if tag == "" {
		return nil, errors.Wrap(apperr.ErrInvalidArgument, "tag required")
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := getGroup(tx, id)
		if err != nil {
			return err
		}
		var t models.AnsibleGroupTag
		if err := tx.Where(models.AnsibleGroupTag{Name: tag}).FirstOrCreate(&t).Error; err != nil {
			return errors.Wrapf(err, "tag %q", tag)
		}
		return errors.Wrap(tx.Model(g).Association("Tags").Append(&t), "link tag")
	})
	if err != nil {
		return nil, err
	}
	return r.GetGroup(ctx, id)
}

// UntagGroup снимает тег; отсутствующий тег не ошибка.
func (r *Repo) UntagGroup(ctx context.Context, id uint, tag string) (*models.AnsibleGroup, error) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := getGroup(tx, id)
		if err != nil {
			return err
		}
		var t models.AnsibleGroupTag
		err = tx.Where("name = ?", tag).Take(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return errors.Wrap(tx.Model(g).Association("Tags").Delete(&t), "unlink tag")
	})
	if err != nil {
		return nil, err
	}
	return r.GetGroup(ctx, id)
}

// DeleteGroup удаляет группу; хосты остаются, теряя членство.
func (r *Repo) DeleteGroup(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := getGroup(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Model(g).Association("Tags").Clear(); err != nil {
			return errors.Wrap(err, "unlink tags")
		}
		if err := tx.Exec("DELETE FROM host_groups WHERE ansible_group_id = ?", id).Error; err != nil {
			return errors.Wrap(err, "unlink hosts")
		}
		return tx.Delete(&models.AnsibleGroup{}, id).Error
	})
}

// ── Hosts ─────────────────────────────────────────────

// HostInput — поля создания хоста. Enabled по умолчанию true.
type HostInput struct {
	Name             string         `json:"name"`
	Enabled          *bool          `json:"enabled"`
	ShortDescription string         `json:"short_description"`
	HostVars         map[string]any `json:"host_vars"`
	GroupIDs         []uint         `json:"group_ids"`
	models.HostRefs
}

// HostUpdate — частичное обновление; nil поля не меняются.
type HostUpdate struct {
	Enabled          *bool          `json:"enabled"`
	ShortDescription *string        `json:"short_description"`
	HostVars         map[string]any `json:"host_vars"`
	GroupIDs         *[]uint        `json:"group_ids"`
	models.HostRefs
}

type refSlot struct {
	category  lookup.Category
	ref       **uint
	defaulted bool // пустое значение заполняется default записью справочника
}

func slots(h *models.HostRefs) []refSlot {
	return []refSlot{
		{lookup.HostTypes, &h.HostTypeID, true},
		{lookup.Environments, &h.EnvironmentID, true},
		{lookup.Purposes, &h.PurposeID, true},
		{lookup.HostStatuses, &h.HostStatusID, true},
		{lookup.HostClasses, &h.HostClassID, true},
		{lookup.BusinessUnits, &h.BusinessUnitID, false},
		{lookup.SupportGroups, &h.SupportGroupID, false},
		{lookup.SupportLevels, &h.SupportLevelID, false},
	}
}

// resolveRefs проверяет заданные ссылки и, если fill, подставляет defaults.
func resolveRefs(tx *gorm.DB, refs *models.HostRefs, fill bool) error {
	for _, s := range slots(refs) {
		if *s.ref != nil {
			if err := lookup.Exists(tx, s.category, **s.ref); err != nil {
				return err
			}
			continue
		}
		if !fill || !s.defaulted {
			continue
		}
		table, err := lookup.Table(s.category)
		if err != nil {
			return err
		}
		if *s.ref, err = lookup.DefaultID(tx, table); err != nil {
			return err
		}
	}
	return nil
}

func loadGroups(tx *gorm.DB, ids []uint) ([]models.AnsibleGroup, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var gs []models.AnsibleGroup
	if err := tx.Where("id IN ?", ids).Find(&gs).Error; err != nil {
		return nil, errors.Wrap(err, "load groups")
	}
	seen := make(map[uint]struct{}, len(gs))
	for _, g := range gs {
		seen[g.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			return nil, errors.Wrapf(apperr.ErrNotFound, "group %d", id)
		}
	}
	return gs, nil
}

func (r *Repo) CreateHost(ctx context.Context, in HostInput) (*models.Host, error) {
	name := strings.ToLower(strings.TrimSpace(in.Name))
	if name == "" {
		return nil, errors.Wrap(apperr.ErrInvalidArgument, "host name required")
	}
	vars, err := checkVars(in.HostVars)
	if err != nil {
		return nil, err
	}
	h := &models.Host{
		Name:             name,
		Enabled:          in.Enabled == nil || *in.Enabled,
		ShortDescription: in.ShortDescription,
		HostVars:         vars,
		HostRefs:         in.HostRefs,
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Host{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.Wrapf(apperr.ErrDuplicateName, "host %q", name)
		}
		if err := resolveRefs(tx, &h.HostRefs, true); err != nil {
			return err
		}
		groups, err := loadGroups(tx, in.GroupIDs)
		if err != nil {
			return err
		}
		h.Groups = groups
		if err := tx.Omit("Groups.*").Create(h).Error; err != nil {
			if db.IsDuplicate(err) {
				return errors.Wrapf(apperr.ErrDuplicateName, "host %q", name)
			}
			return errors.Wrap(err, "create host")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.WithField("host", h.Name).Info("host created")
	return r.GetHost(ctx, h.ID)
}

func (r *Repo) GetHost(ctx context.Context, id uint) (*models.Host, error) {
	return getHost(r.db.WithContext(ctx).Preload("Groups"), id)
}

func getHost(tx *gorm.DB, id uint) (*models.Host, error) {
	var h models.Host
	err := tx.Where("id = ?", id).Take(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "host %d", id)
	}
	return &h, errors.Wrapf(err, "load host %d", id)
}

func (r *Repo) ListHosts(ctx context.Context) ([]models.Host, error) {
	var out []models.Host
	err := r.db.WithContext(ctx).Preload("Groups").Order("name").Find(&out).Error
	return out, errors.Wrap(err, "list hosts")
}

func (r *Repo) UpdateHost(ctx context.Context, id uint, in HostUpdate) (*models.Host, error) {
	if in.HostVars != nil {
		vars, err := checkVars(in.HostVars)
		if err != nil {
			return nil, err
		}
		in.HostVars = vars
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := getHost(tx, id)
		if err != nil {
			return err
		}
		if err := resolveRefs(tx, &in.HostRefs, false); err != nil {
			return err
		}

		changes := map[string]any{}
		if in.Enabled != nil {
			changes["enabled"] = *in.Enabled
		}
		if in.ShortDescription != nil {
			changes["short_description"] = *in.ShortDescription
		}
		if in.HostVars != nil {
			h.HostVars = in.HostVars
			if err := tx.Model(h).Select("host_vars").Updates(h).Error; err != nil {
				return errors.Wrap(err, "update host vars")
			}
		}
		cur := slots(&h.HostRefs)
		for i, s := range slots(&in.HostRefs) {
			if *s.ref != nil {
				*cur[i].ref = *s.ref
			}
		}
		changes["host_type_id"] = h.HostTypeID
		changes["environment_id"] = h.EnvironmentID
		changes["purpose_id"] = h.PurposeID
		changes["host_status_id"] = h.HostStatusID
		changes["host_class_id"] = h.HostClassID
		changes["business_unit_id"] = h.BusinessUnitID
		changes["support_group_id"] = h.SupportGroupID
		changes["support_level_id"] = h.SupportLevelID
		if err := tx.Model(&models.Host{}).Where("id = ?", id).Updates(changes).Error; err != nil {
			return errors.Wrap(err, "update host")
		}

		if in.GroupIDs != nil {
			groups, err := loadGroups(tx, *in.GroupIDs)
			if err != nil {
				return err
			}
			assoc := tx.Model(h).Association("Groups")
			if len(groups) == 0 {
				err = assoc.Clear()
			} else {
				err = assoc.Replace(groups)
			}
			if err != nil {
				return errors.Wrap(err, "replace groups")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetHost(ctx, id)
}

// DeleteHost удаляет хост и в той же транзакции освобождает его адрес.
func (r *Repo) DeleteHost(ctx context.Context, id uint) error {
	var released *uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if released, err = r.ipam.ReleaseHostTx(tx, id); err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM host_groups WHERE host_id = ?", id).Error; err != nil {
			return errors.Wrap(err, "unlink groups")
		}
		return tx.Delete(&models.Host{}, id).Error
	})
	if err != nil {
		return err
	}
	entry := r.log.WithField("host_id", id)
	if released != nil {
		entry = entry.WithField("released_address_id", *released)
	}
	entry.Info("host deleted")
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// checkVars — проверка и нормализация переменных хоста или группы.
func checkVars(m map[string]any) (map[string]any, error) {
	out, err := varschema.Normalize(orEmpty(m))
	if err != nil {
		return nil, errors.Wrap(apperr.ErrInvalidArgument, err.Error())
	}
	return out, nil
}
