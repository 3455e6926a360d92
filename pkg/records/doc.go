// Package records persists what personas produce: write-once JSON records
// (coffee orders, shopping orders, leads), the fraud case file, and an
// optional SQLite index over saved records.
package records
