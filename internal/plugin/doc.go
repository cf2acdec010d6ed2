// Package plugin holds the plugin capability registry.
//
// A plugin declares capability mixins (event, urls, settings, schedule) and
// implements the matching interfaces. The Registry grants a capability only
// when both are present, indexes plugins by slug, and swaps in a complete new
// index on every Reload. Fanout delivers events to plugins holding the event
// capability through the task dispatcher.
package plugin
