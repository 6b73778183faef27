package gatehouse_test

import (
	"fmt"
	"sync"

	gh "github.com/morrigan/gatehouse"
)

// fakeRepo is an in-memory UserRepository that counts calls and can be made
// to fail per operation.
type fakeRepo struct {
	mu    sync.Mutex
	users map[string]*gh.UserRecord
	order []string

	settings        gh.AuthSettings
	setupInProgress bool

	failUserExists bool
	failSettings   bool
	failSetup      bool
	failUpdate2FA  bool

	calls map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: make(map[string]*gh.UserRecord),
		calls: make(map[string]int),
	}
}

func (r *fakeRepo) addUser(user *gh.UserRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.Username] = user
	r.order = append(r.order, user.Username)
}

func (r *fakeRepo) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *fakeRepo) record(op string) {
	r.calls[op]++
}

func (r *fakeRepo) UserExists() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("UserExists")
	if r.failUserExists {
		return false, fmt.Errorf("repo down")
	}
	return len(r.users) > 0, nil
}

func (r *fakeRepo) GetUserByUsername(username string) (*gh.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("GetUserByUsername")
	user, ok := r.users[username]
	if !ok {
		return nil, gh.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeRepo) GetFirstUser() (*gh.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("GetFirstUser")
	if len(r.order) == 0 {
		return nil, gh.ErrUserNotFound
	}
	clone := *r.users[r.order[0]]
	return &clone, nil
}

func (r *fakeRepo) CreateUser(user *gh.UserRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("CreateUser")
	if _, ok := r.users[user.Username]; ok {
		return fmt.Errorf("user already exists")
	}
	clone := *user
	r.users[user.Username] = &clone
	r.order = append(r.order, user.Username)
	return nil
}

func (r *fakeRepo) UpdateUserPassword(username, credential string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("UpdateUserPassword")
	user, ok := r.users[username]
	if !ok {
		return gh.ErrUserNotFound
	}
	user.Credential = credential
	return nil
}

func (r *fakeRepo) UpdateUser2FA(username string, enabled bool, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("UpdateUser2FA")
	if r.failUpdate2FA {
		return fmt.Errorf("repo down")
	}
	user, ok := r.users[username]
	if !ok {
		return gh.ErrUserNotFound
	}
	user.TwoFactorEnabled = enabled
	user.TOTPSecret = secret
	user.TempTOTPSecret = ""
	return nil
}

func (r *fakeRepo) UpdateUserTempSecret(username, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("UpdateUserTempSecret")
	user, ok := r.users[username]
	if !ok {
		return gh.ErrUserNotFound
	}
	user.TempTOTPSecret = secret
	return nil
}

func (r *fakeRepo) UpdateUserExternalIdentity(username, token, profile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("UpdateUserExternalIdentity")
	user, ok := r.users[username]
	if !ok {
		return gh.ErrUserNotFound
	}
	user.PlexToken = token
	user.PlexProfile = profile
	return nil
}

func (r *fakeRepo) AuthSettings() (gh.AuthSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("AuthSettings")
	if r.failSettings {
		return gh.AuthSettings{}, fmt.Errorf("repo down")
	}
	return r.settings, nil
}

func (r *fakeRepo) IsSetupInProgress() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("IsSetupInProgress")
	if r.failSetup {
		return false, fmt.Errorf("repo down")
	}
	return r.setupInProgress, nil
}

func (r *fakeRepo) ClearSetupProgress() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ClearSetupProgress")
	r.setupInProgress = false
	return nil
}
