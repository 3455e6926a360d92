// Package content loads the static JSON content files (course concepts, FAQ
// entries, product catalog) and matches user text against them.
//
// Loading never fails: a missing or malformed file is logged and yields an
// empty set. Watcher reloads a Library shortly after its files change.
package content
