// Package tools provides host helpers shared by object kinds.
//
// Ownership boundary:
// - command execution for client configuration scripts
package tools
