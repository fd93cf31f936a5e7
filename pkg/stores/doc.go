// Package stores persists simulation run history to a local SQLite
// database so previous what-if reports can be listed and compared
// without re-querying Azure.
package stores
