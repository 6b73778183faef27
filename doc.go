// Package gatehouse is the authentication, session and request-authorization
// core of a self-hosted web application. It decides, for every inbound
// request, whether the caller may proceed, and maintains the identity and
// session state needed to make that decision cheaply under concurrent load.
//
// # Architecture
//
// Credential verification: passwords are stored in one of three encodings and
// classified by a single function into a closed set (bcrypt, salted digest,
// legacy plaintext). New passwords always use the salted-digest form; a
// successful plaintext login is rehashed in place so storage migrates one way
// without forcing a mass password reset.
//
// TOTP second factor: secrets are provisioned through a temporary slot and
// promoted to permanent only after the user proves they can produce a code.
// Provisioning URIs follow RFC 6238 and are rendered as scannable QR images.
//
// Session registry: an in-process, mutex-guarded map of unguessable tokens
// with sliding expiry. Sessions do not survive a process restart; an upgrade
// or crash forces re-login.
//
// Plex device flow: an alternate identity provider. The server requests a
// short PIN, the user approves it on plex.tv, and the server polls for the
// claim. A per-process client identifier (random UUID) identifies this
// instance to the provider, not the end user.
//
// Authorization engine: every request passes through an ordered set of checks
// (public allow-list, first-run setup state, bypass modes, session validity)
// backed by a short-TTL cache of repository-derived flags.
//
// # Basic Usage
//
// Wire the pieces together and guard your routes:
//
//	repo, _ := gormstore.NewStore(db)
//	sessions := gatehouse.NewSessionRegistry()
//	engine := &gatehouse.Engine{Repo: repo, Sessions: sessions}
//	guard := &gatehouse.Guard{Engine: engine}
//
//	router.Use(guard.Wrap)
//
// Login, logout, two-factor and Plex PIN endpoints are provided by
// AuthHandlers and are expected to be mounted on the engine's public
// allow-list paths.
//
// # Storage
//
// The core reads and writes user records through the UserRepository
// interface. A GORM-backed implementation lives in stores/gorm; apps with
// other persistence layers implement the interface directly.
package gatehouse
