// Package server hosts the Fiber front door that places the offline engine
// between browsers and the application origin. It owns the middleware chain
// (panic recovery, request IDs), the catch-all route that hands every
// non-diagnostic request to a ProxyHandler, and the startup lifecycle that
// installs and activates the engine before it claims traffic. Diagnostics live
// under /-/ and are registered by the routes subpackage.
package server
