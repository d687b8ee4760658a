package registry

// Middleware wraps a handler with cross-cutting behavior such as timing,
// logging or retries. It receives the identifier the handler was
// registered under so the wrapper can label whatever it records.
type Middleware func(name string, next HandlerFunc) HandlerFunc

// Use installs middleware applied to every handler the registry resolves.
// The first middleware installed becomes the outermost wrapper. Use
// affects subsequent Lookup calls, including handlers registered earlier.
func (r *Registry) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

// wrap applies the installed middleware chain. Callers hold at least a
// read lock.
func (r *Registry) wrap(name string, h HandlerFunc) HandlerFunc {
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](name, h)
	}
	return h
}
