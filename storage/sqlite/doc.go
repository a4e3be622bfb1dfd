// Package sqlite provides SQLite implementations of the vector and
// relational stores. It uses the pure-Go modernc.org/sqlite driver.
package sqlite
