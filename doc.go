// Package tubes implements a beanstalkd worker engine and the RoadRunner plugin
// serving it.
//
// A Worker keeps one session per purpose, a command session per tube and one
// session per watcher. Every tube runs a fixed number of watchers, each
// reserving and running one job at a time. Failing jobs are released with an
// exponential backoff and buried after the configured number of tries.
//
// Handlers receive a ReservedJob. It can be kept alive with Touch, delayed
// explicitly, or used to spawn child jobs and wait for them while the
// parent reservation is touched.
//
// Key components:
//   - Worker: connections, tubes and the enqueue path (Spawn)
//   - Tube/Watcher: reservation loops and retry policy
//   - Job/ReservedJob: job handles, completion polling and in-handler operations
//   - Plugin: the endure entry point with RPC methods Spawn, SpawnBatch, Status, Working
package tubes
