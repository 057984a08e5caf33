// Package domain contains the course account model.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is one person with (potential) course access. Email is the uniqueness key.
type Account struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	IdentityID        *string      `gorm:"column:identity_id;type:text"`
	Email             string       `gorm:"column:email;type:text;not null;uniqueIndex:ux_accounts_email"`
	Name              string       `gorm:"column:name;type:text;not null;default:''"`
	HasCourseAccess   bool         `gorm:"column:has_course_access;not null;default:false"`
	StripeCustomerID  *string      `gorm:"column:stripe_customer_id;type:text"`
	CoursePurchasedAt *time.Time   `gorm:"column:course_purchased_at"`
	CreatedAt         time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time    `gorm:"column:updated_at;not null"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// NormalizeEmail lowercases and trims an address so lookups and the unique index agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
