// Package sched is the reference scheduler used by the node daemon and the
// benchmark suite.
//
// Ready tasks wait on a priority queue (lowest core priority first, FIFO
// within a priority). Each virtual CPU is a supervised goroutine that pops
// the head of the queue and runs the task body to completion. Preemption is
// cooperative: Remove cancels the body's context.
//
// When a body returns the scheduler calls the exit handler (normally
// task.Manager.Exited) unless the run was superseded by a restart.
package sched
