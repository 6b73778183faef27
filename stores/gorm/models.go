package gorm

import "time"

// UserModel is the GORM model for user accounts.
type UserModel struct {
	ID               uint      `gorm:"primaryKey"`
	Username         string    `gorm:"uniqueIndex;size:255"`
	Credential       string    `gorm:"size:512"`
	Admin            bool      `gorm:"default:false"`
	TwoFactorEnabled bool      `gorm:"default:false"`
	TOTPSecret       string    `gorm:"size:128"`
	TempTOTPSecret   string    `gorm:"size:128"`
	PlexToken        string    `gorm:"size:255"`
	PlexProfile      string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

// SetupStateModel is a single-row marker that first-run setup was started but
// not finished. The row's absence means setup is not in progress.
type SetupStateModel struct {
	ID        uint      `gorm:"primaryKey"`
	Stage     string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SetupStateModel) TableName() string {
	return "setup_state"
}

// SettingsModel is the single-row store of operator-chosen auth settings.
type SettingsModel struct {
	ID              uint `gorm:"primaryKey"`
	ProxyAuthBypass bool `gorm:"default:false"`
	LocalBypass     bool `gorm:"default:false"`
	UpdatedAt       time.Time
}

func (SettingsModel) TableName() string {
	return "auth_settings"
}
