// Package middleware provides command middleware for the pphctl CLI.
//
// Middleware allows wrapping command execution with cross-cutting concerns
// like logging, configuration loading, authentication, and output formatting.
package middleware

import (
	"github.com/spf13/cobra"
)

// RunFunc is the function signature for cobra command execution.
type RunFunc func(cmd *cobra.Command, args []string) error

// Middleware wraps a RunFunc with additional behavior.
type Middleware func(next RunFunc) RunFunc

// Chain combines multiple middleware into a single middleware.
// Middleware is applied in the order provided (first middleware wraps outermost).
func Chain(middlewares ...Middleware) Middleware {
	return func(final RunFunc) RunFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Apply applies middleware to a cobra command's RunE function.
func Apply(cmd *cobra.Command, middlewares ...Middleware) {
	if cmd.RunE == nil {
		return
	}

	original := cmd.RunE
	chained := Chain(middlewares...)(original)
	cmd.RunE = chained
}

// ApplyRecursive applies middleware to a command and all its subcommands.
func ApplyRecursive(cmd *cobra.Command, middlewares ...Middleware) {
	Apply(cmd, middlewares...)
	for _, child := range cmd.Commands() {
		ApplyRecursive(child, middlewares...)
	}
}
