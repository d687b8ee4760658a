// Package runtime implements the token execution core: deploying
// process definitions, driving tokens through the graph, parking work
// at user tasks and persisting every transition through a ports.Store
// before the matching callbacks fire.
//
// The package is wrapped by the root sluice package; applications are
// not expected to import it directly.
package runtime
