// Package types provides core types shared across the jobflow engine.
// This package has ZERO dependencies on other jobflow packages to avoid
// circular imports. All other packages should import types from here.
package types
