package models

import "time"

// Flags — общий набор флагов справочников (default/enabled/deprecated).
type Flags struct {
	ItemDefault bool `gorm:"column:item_default;not null" json:"item_default"`
	Enabled     bool `gorm:"column:enabled;not null" json:"enabled"`
	Deprecated  bool `gorm:"column:deprecated;not null" json:"deprecated"`
}

// NetworkLabel is a named CIDR block (a VLAN) whose usable host addresses are
// materialized as NetworkAddress rows.
type NetworkLabel struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Name    string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Network string `gorm:"type:varchar(100);uniqueIndex;not null" json:"network"`
	Flags

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NetworkLabel) TableName() string { return "network_labels" }

// NetworkAddress — один адрес пула. IPAddress уникален во всей системе.
type NetworkAddress struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	IPAddress      string `gorm:"column:ip_address;type:varchar(45);uniqueIndex;not null" json:"ip_address"`
	NetworkLabelID uint   `gorm:"column:network_label_id;index;not null" json:"network_label_id"`

	IsAssigned           bool       `gorm:"column:is_assigned;index;not null" json:"is_assigned"`
	IsReserved           bool       `gorm:"column:is_reserved;index;not null" json:"is_reserved"`
	ReservedBy           *string    `gorm:"column:reserved_by;type:varchar(150)" json:"reserved_by,omitempty"`
	ReservationTimestamp *time.Time `gorm:"column:reservation_timestamp" json:"reservation_timestamp,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NetworkAddress) TableName() string { return "network_addresses" }
