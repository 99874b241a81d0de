// Package directory resolves user ids found on resources and events to email
// addresses through an LDAP directory. Results are cached (Redis, SQLite or
// memory) since the same owners appear on many resources across runs.
package directory
