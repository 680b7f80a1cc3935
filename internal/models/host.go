package models

import "time"

// Host — хост инвентаря. Владеет не более чем одним адресом (AddressID).
type Host struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Enabled          bool           `gorm:"column:enabled;not null" json:"enabled"`
	ShortDescription string         `gorm:"type:varchar(255)" json:"short_description"`
	HostVars         map[string]any `gorm:"column:host_vars;type:text;serializer:json" json:"host_vars"`

	Groups []AnsibleGroup `gorm:"many2many:host_groups" json:"groups,omitempty"`

	VlanID    *uint `gorm:"column:vlan_id;index" json:"vlan_id"`
	AddressID *uint `gorm:"column:address_id;uniqueIndex" json:"address_id"`

	HostRefs

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HostRefs — ссылки хоста на справочники; nil означает "не задано".
type HostRefs struct {
	HostTypeID     *uint `gorm:"index" json:"host_type_id"`
	EnvironmentID  *uint `gorm:"index" json:"environment_id"`
	PurposeID      *uint `gorm:"index" json:"purpose_id"`
	HostStatusID   *uint `gorm:"index" json:"host_status_id"`
	HostClassID    *uint `gorm:"index" json:"host_class_id"`
	BusinessUnitID *uint `gorm:"index" json:"business_unit_id"`
	SupportGroupID *uint `gorm:"index" json:"support_group_id"`
	SupportLevelID *uint `gorm:"index" json:"support_level_id"`
}

// AnsibleGroup names are stored lower-case.
type AnsibleGroup struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	GroupVars map[string]any    `gorm:"column:group_vars;type:text;serializer:json" json:"group_vars"`
	Tags      []AnsibleGroupTag `gorm:"many2many:ansible_group_tag_links" json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnsibleGroupTag names are stored upper-case.
type AnsibleGroupTag struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
}

// All returns every model in migration order.
func All() []any {
	return []any{
		&NetworkLabel{},
		&NetworkAddress{},
		&HostType{},
		&Environment{},
		&Purpose{},
		&HostStatus{},
		&HostClass{},
		&BusinessUnit{},
		&SupportGroup{},
		&SupportLevel{},
		&AnsibleGroupTag{},
		&AnsibleGroup{},
		&Host{},
	}
}
