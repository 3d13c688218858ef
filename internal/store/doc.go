// Package store declares the run repository that records harvest run progress
// for the status API. Implementations live in the storage packages; this
// package must not import database drivers.
package store
