package model

import (
	"database/sql/driver"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Permissions is stored as a native text[] on postgres and as the array literal in a text column elsewhere
type Permissions pq.StringArray

// Has reports whether p is in the set
func (p Permissions) Has(permission Permission) bool {
	for _, granted := range p {
		if granted == string(permission) {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer
func (p Permissions) Value() (driver.Value, error) {
	return pq.StringArray(p).Value()
}

// Scan implements sql.Scanner
func (p *Permissions) Scan(src interface{}) error {
	return (*pq.StringArray)(p).Scan(src)
}

// GormDataType implements schema.GormDataTypeInterface
func (Permissions) GormDataType() string {
	return "text[]"
}

// GormDBDataType picks the column type per dialect
func (Permissions) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}
