// Package events provides the synchronous event bus shared by the host
// package manager, the interception proxy and the recipe lifecycle engine.
//
// Events are identified by name. The host emits per-package and end-of-run
// events; proxies emit pre-/post- notifications around observed calls; any
// component can listen without the emitter knowing about it.
package events
