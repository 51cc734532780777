// Package search implements ranked search over content and collections.
//
// A result's relevance is the sum of three components:
//
//	search_rank   ts_rank(search_vector, query, 32), zero without keywords
//	download_rank ln((community*0.002 + 0.005) * downloads + 1), squashed to [0, 0.4)
//	quality_rank  log10(quality + 1) * 0.2
//
// Two engines compute it. PostgresEngine does everything in SQL over the
// search_vector columns; MemoryEngine matches keywords with an in-memory
// bleve index and applies the same formula in Go. Both implement Indexer so
// the importer can keep them current.
//
// Queries mix free text with filters:
//
//	nginx tag:web platform:EL namespace:acme deprecated:false
//
// and the HTTP handlers merge URL parameters (keywords, namespaces, tags,
// platforms, cloud_platforms, content_types, vendor, deprecated, order_by)
// into the parsed query.
package search
