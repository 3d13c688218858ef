// Package harvest drives institution runs: it bootstraps the institution,
// plans or pages through its query space, feeds page tasks to a bounded pool
// of workers, and reports the run through progress events and a published
// summary. Fleet runs several institutions side by side.
package harvest
