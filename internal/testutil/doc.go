// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing sessions, response envelopes and
// scripted capability providers. They are not intended for production usage.
package testutil
