package speedtest

// Spawner lets the caller own the goroutines the prober starts, for example
// through a supervisor. When nil, the prober uses plain `go`.
type Spawner interface {
	Go(name string, fn func())
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func())

func (f SpawnerFunc) Go(name string, fn func()) { f(name, fn) }
