// Package token persists and resolves the IM session token.
//
// The token is looked up first in the page URL's "token" query parameter and
// then in a Store. Stores are MemoryStore, FileStore and the Postgres-backed
// store in package database.
package token
