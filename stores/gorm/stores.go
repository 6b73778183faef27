package gorm

import (
	"errors"

	"gorm.io/gorm"

	gh "github.com/morrigan/gatehouse"
)

// AutoMigrate runs database migrations for all gatehouse tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&SetupStateModel{},
		&SettingsModel{},
	)
}

// Store implements gh.UserRepository using GORM.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the schema and returns a repository bound to db.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func toRecord(model *UserModel) *gh.UserRecord {
	return &gh.UserRecord{
		Username:         model.Username,
		Credential:       model.Credential,
		Admin:            model.Admin,
		TwoFactorEnabled: model.TwoFactorEnabled,
		TOTPSecret:       model.TOTPSecret,
		TempTOTPSecret:   model.TempTOTPSecret,
		PlexToken:        model.PlexToken,
		PlexProfile:      model.PlexProfile,
		CreatedAt:        model.CreatedAt,
	}
}

func (s *Store) UserExists() (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) GetUserByUsername(username string) (*gh.UserRecord, error) {
	var model UserModel
	if err := s.db.First(&model, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gh.ErrUserNotFound
		}
		return nil, err
	}
	return toRecord(&model), nil
}

func (s *Store) GetFirstUser() (*gh.UserRecord, error) {
	var model UserModel
	if err := s.db.Order("id asc").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gh.ErrUserNotFound
		}
		return nil, err
	}
	return toRecord(&model), nil
}

func (s *Store) CreateUser(user *gh.UserRecord) error {
	model := &UserModel{
		Username:         user.Username,
		Credential:       user.Credential,
		Admin:            user.Admin,
		TwoFactorEnabled: user.TwoFactorEnabled,
		TOTPSecret:       user.TOTPSecret,
		TempTOTPSecret:   user.TempTOTPSecret,
		PlexToken:        user.PlexToken,
		PlexProfile:      user.PlexProfile,
	}
	return s.db.Create(model).Error
}

func (s *Store) UpdateUserPassword(username, credential string) error {
	return s.updateUser(username, map[string]any{"credential": credential})
}

// UpdateUser2FA flips the enabled flag, stores the permanent secret and
// clears the temporary one in a single statement, so a failure leaves the
// record untouched rather than half-enabled.
func (s *Store) UpdateUser2FA(username string, enabled bool, secret string) error {
	return s.updateUser(username, map[string]any{
		"two_factor_enabled": enabled,
		"totp_secret":        secret,
		"temp_totp_secret":   "",
	})
}

func (s *Store) UpdateUserTempSecret(username, secret string) error {
	return s.updateUser(username, map[string]any{"temp_totp_secret": secret})
}

func (s *Store) UpdateUserExternalIdentity(username, token, profile string) error {
	return s.updateUser(username, map[string]any{
		"plex_token":   token,
		"plex_profile": profile,
	})
}

func (s *Store) updateUser(username string, fields map[string]any) error {
	result := s.db.Model(&UserModel{}).Where("username = ?", username).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gh.ErrUserNotFound
	}
	return nil
}

func (s *Store) AuthSettings() (gh.AuthSettings, error) {
	var model SettingsModel
	err := s.db.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return gh.AuthSettings{}, nil
	}
	if err != nil {
		return gh.AuthSettings{}, err
	}
	return gh.AuthSettings{
		ProxyAuthBypass: model.ProxyAuthBypass,
		LocalBypass:     model.LocalBypass,
	}, nil
}

// SaveAuthSettings upserts the single settings row.
func (s *Store) SaveAuthSettings(settings gh.AuthSettings) error {
	var model SettingsModel
	err := s.db.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		model = SettingsModel{
			ProxyAuthBypass: settings.ProxyAuthBypass,
			LocalBypass:     settings.LocalBypass,
		}
		return s.db.Create(&model).Error
	}
	if err != nil {
		return err
	}
	model.ProxyAuthBypass = settings.ProxyAuthBypass
	model.LocalBypass = settings.LocalBypass
	return s.db.Save(&model).Error
}

func (s *Store) IsSetupInProgress() (bool, error) {
	var count int64
	if err := s.db.Model(&SetupStateModel{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkSetupInProgress records that first-run setup has started.
func (s *Store) MarkSetupInProgress(stage string) error {
	return s.db.Create(&SetupStateModel{Stage: stage}).Error
}

func (s *Store) ClearSetupProgress() error {
	return s.db.Where("1 = 1").Delete(&SetupStateModel{}).Error
}
