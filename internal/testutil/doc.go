// Package testutil contains helper builders and fixtures used across tests
// to reduce boilerplate when constructing sessions, events and run contexts.
// They are not intended for production usage.
package testutil
