// Package session houses concrete implementations of core.SessionStore.
// The interface itself (and the Session struct) live in the core package so
// higher level packages (agents, runner) never depend on concrete storage.
//
// Backends:
//   - InMemoryStore (this package) for tests and single process deployments
//   - session/redis for shared deployments backed by Redis
//   - session/sqlstore for relational databases through gorm
//
// Every backend passes the contract suite in session/storetest.
package session
