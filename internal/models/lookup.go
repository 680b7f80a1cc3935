package models

import "time"

// LookupEntry is the shared row shape of every lookup table. Concrete types
// below only differ by table name.
type LookupEntry struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(100);not null" json:"name"`
	Flags

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type HostType struct{ LookupEntry }
type Environment struct{ LookupEntry }
type Purpose struct{ LookupEntry }
type HostStatus struct{ LookupEntry }
type HostClass struct{ LookupEntry }
type BusinessUnit struct{ LookupEntry }
type SupportGroup struct{ LookupEntry }
type SupportLevel struct{ LookupEntry }

func (HostType) TableName() string     { return "host_types" }
func (Environment) TableName() string  { return "environments" }
func (Purpose) TableName() string      { return "purposes" }
func (HostStatus) TableName() string   { return "host_statuses" }
func (HostClass) TableName() string    { return "host_classes" }
func (BusinessUnit) TableName() string { return "business_units" }
func (SupportGroup) TableName() string { return "support_groups" }
func (SupportLevel) TableName() string { return "support_levels" }
