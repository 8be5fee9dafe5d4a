// Package testutil offers fluent helpers for building conversations and
// seeding session stores in tests.
package testutil
