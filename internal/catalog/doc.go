// Package catalog defines the harvester's domain model: search queries over a
// LibSP catalog, the partitions and page tasks derived from them, canonical
// bibliographic records, and the interfaces of the collaborators that fetch
// and persist them. It must not import transports or database drivers.
package catalog
