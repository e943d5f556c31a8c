// Package queue defines the contract between the tubes worker engine and a
// beanstalkd-compatible queue server.
//
// A Client is a single server session. It serves one caller at a time; the
// engine serializes access to it. Protocol replies the engine reacts to are
// returned as the sentinel errors of this package (ErrTimedOut,
// ErrDeadlineSoon, ErrNotFound) or as *ServerError for any other reply. Every
// other error is a transport error and the session must be considered dead.
package queue
