// Package crawler defines the core types, collaborator interfaces, and error
// taxonomy shared by the traversal, dispatch, and storage subsystems of the
// relevance-guided crawler.
package crawler
