// Package crawler defines the crawl record model, the error taxonomy, and the
// collaborator interfaces (scraper, record store, notifier, clock) shared by
// the orchestrator, the storage backends, and the HTTP surface.
package crawler
