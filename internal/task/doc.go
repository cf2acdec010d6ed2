// Package task resolves task references and dispatches them.
//
// A reference is either a *Handle (an in-memory function) or a dotted path
// such as "arius.tasks.heartbeat". Paths resolve against a Table populated at
// startup. The Dispatcher runs a resolved task inline or hands it to the
// background engine, and turns resolution failures into warnings so that a
// stale reference never breaks the caller.
package task
