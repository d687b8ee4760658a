// Package middleware decorates a ports.Store with behavior on the
// persistence path, such as encrypting variables at rest.
package middleware

import "github.com/aretw0/sluice/pkg/ports"

// Middleware allows wrapping a Store to add behavior.
type Middleware func(ports.Store) ports.Store
