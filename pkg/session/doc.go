// Package session stores call transcripts as JSONL files, one per session key.
//
// Keys are validated to stay inside the sessions directory and writes to the
// same key are serialized. Cleanup prunes and expires transcripts on a cron
// schedule.
package session
