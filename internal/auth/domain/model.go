// Package domain contains core types for the identity provider.
package domain

import "time"

// Credential is the login identity for one email address. It is the system
// of record for authentication; course accounts reference it by ID.
type Credential struct {
	ID                 string     `gorm:"primaryKey;type:text"`
	Email              string     `gorm:"column:email;type:text;not null;uniqueIndex:ux_credentials_email"`
	PasswordHash       string     `gorm:"column:password_hash;type:text;not null"`
	DisplayName        string     `gorm:"column:display_name;type:text;not null;default:''"`
	EmailConfirmedAt   *time.Time `gorm:"column:email_confirmed_at"`
	MustChangePassword bool       `gorm:"column:must_change_password;not null;default:false"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null"`
}

// TableName sets the database table name.
func (Credential) TableName() string { return "credentials" }

func (c Credential) Confirmed() bool {
	return c.EmailConfirmedAt != nil
}
