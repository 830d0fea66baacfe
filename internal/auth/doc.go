// Package auth authenticates console operators and authorises their actions.
//
// Accounts are declared in the security.operators section of the config
// file, each with an argon2id password hash and one of two roles:
//
//	operator    read catalog, initiate, continue and abort executions
//	supervisor  everything an operator can do, plus approve and reject
//
// A successful login yields a short-lived HS256 JWT whose subject is the
// username. The API records that username as the actor on every execution
// log entry it causes.
package auth
