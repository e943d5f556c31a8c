// Package beanstalk implements the queue client over a beanstalkd server
// using github.com/beanstalkd/go-beanstalk.
//
// Context deadlines and cancellation are applied to the underlying network
// connection, an interrupted call leaves the session unusable.
package beanstalk
