// Package gorm provides a GORM-backed implementation of the gatehouse
// UserRepository, suitable for any database GORM supports. The demo host app
// pairs it with a pure-Go SQLite driver.
package gorm
