// Package config defines the format-agnostic definition model for an
// execution graph, along with the Loader interface for reading it from a
// concrete source format.
//
// The `config.Model` is the single source of truth for the `app` package
// when it assembles a graph. Concrete loader implementations, such as for
// HCL, live in separate packages.
package config
