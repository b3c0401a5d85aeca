// Package watcher watches the config file for changes and triggers a
// reload callback. Corpus change detection is the Manifest/ChangeDetector
// pair's job (mtime comparison against stored FileRecords), not this
// package's — a single config file is all fsnotify needs to watch here.
package watcher
